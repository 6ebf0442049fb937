package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/metrics"
	"github.com/voicerag/backend/internal/persona"
	"github.com/voicerag/backend/internal/rerank"
	"github.com/voicerag/backend/internal/storage/models"
	"github.com/voicerag/backend/internal/storage/sqlite"
	"github.com/voicerag/backend/pkg/logger"
	"github.com/voicerag/backend/pkg/utils"
)

// maxPersonaPrompts bounds the elicitation detour: one initial prompt plus
// one re-prompt, after which the turn falls through to the default persona.
const maxPersonaPrompts = 2

// Index is the vector-index boundary the turn pipeline consumes.
type Index interface {
	Search(ctx context.Context, query string, k int) ([]rerank.Candidate, error)
}

// Generator is the language-model boundary. Failures are surfaced without
// retry; retry policy, if any, belongs to the caller.
type Generator interface {
	GenerateAnswer(ctx context.Context, p persona.Persona, query string, passages []rerank.Candidate) (string, error)
	GenerateSocialPost(ctx context.Context, p persona.Persona, query string, passages []rerank.Candidate) (string, error)
}

// turnContext is the ephemeral per-conversation state. It lives in memory
// only while a turn is in flight or suspended awaiting a persona choice.
type turnContext struct {
	conversationID string
	originalQuery  string
	intent         Intent
	personaName    string
	state          State
	elicitations   int
	history        []string
}

type TurnResult struct {
	ConversationID        string
	ResponseID            string
	AnswerText            string
	Persona               string
	RetrievedDocIDs       []string
	AwaitingPersonaChoice bool
	PersonaPrompt         string
	FeedbackRequested     bool
}

type Manager struct {
	index    Index
	gen      Generator
	store    *sqlite.Client
	reranker *rerank.Reranker
	personas *persona.Registry
	topK     int

	mu        sync.Mutex
	suspended map[string]*turnContext
}

func NewManager(index Index, gen Generator, store *sqlite.Client, reranker *rerank.Reranker, personas *persona.Registry, topK int) *Manager {
	if topK <= 0 {
		topK = 5
	}
	return &Manager{
		index:     index,
		gen:       gen,
		store:     store,
		reranker:  reranker,
		personas:  personas,
		topK:      topK,
		suspended: make(map[string]*turnContext),
	}
}

// HandleTurn drives one user utterance to a delivered answer, or to a
// persona-choice prompt when the requested voice cannot be resolved.
func (m *Manager) HandleTurn(ctx context.Context, conversationID, userText string) (*TurnResult, error) {
	start := time.Now()

	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("empty utterance")
	}
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	if tc := m.takeSuspended(conversationID); tc != nil {
		return m.resumePersonaChoice(ctx, tc, userText)
	}

	tc := &turnContext{
		conversationID: conversationID,
		originalQuery:  userText,
		state:          StateDetectIntent,
		history:        []string{userText},
	}

	intent, name := classifyIntent(userText, m.personas)
	tc.intent = intent
	tc.personaName = name

	logger.Debug("Intent detected",
		zap.String("conversation_id", conversationID),
		zap.String("intent", intent.String()),
		zap.String("persona", name),
	)

	if intent == IntentPersonaStyled && tc.personaName == "" {
		return m.elicitPersona(tc), nil
	}

	if tc.personaName == "" {
		tc.personaName = m.personas.Default().Name
	}

	result, err := m.runPipeline(ctx, tc)
	observeTurn(start, err)
	return result, err
}

// SubmitFeedback records a rating for a completed turn.
func (m *Manager) SubmitFeedback(ctx context.Context, responseID string, satisfaction, relevance int) error {
	if satisfaction < 1 || satisfaction > 5 {
		return fmt.Errorf("%w: satisfaction %d not in 1-5", ErrInvalidRating, satisfaction)
	}
	if relevance < 1 || relevance > 3 {
		return fmt.Errorf("%w: relevance %d not in 1-3", ErrInvalidRating, relevance)
	}

	err := m.store.RecordFeedback(ctx, &models.Feedback{
		ResponseID:   responseID,
		Satisfaction: satisfaction,
		Relevance:    relevance,
	})
	if err != nil {
		return err
	}

	metrics.FeedbackTotal.WithLabelValues(fmt.Sprintf("%d", satisfaction)).Inc()
	return nil
}

// AbandonConversation drops any suspended turn for the conversation.
// Nothing was persisted for a turn that never reached RegisterFeedback.
func (m *Manager) AbandonConversation(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suspended, conversationID)
}

func (m *Manager) takeSuspended(conversationID string) *turnContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.suspended[conversationID]
	if !ok {
		return nil
	}
	delete(m.suspended, conversationID)
	return tc
}

func (m *Manager) elicitPersona(tc *turnContext) *TurnResult {
	tc.state = StateElicitPersona
	tc.elicitations++
	metrics.PersonaElicitations.Inc()

	names := m.personas.Names()
	prompt := fmt.Sprintf(
		"Whose voice would you like the answer in? Available: %s. Reply with a name, or anything else for %s.",
		strings.Join(names, ", "),
		m.personas.Default().Name,
	)

	tc.state = StateAwaitPersonaChoice
	m.mu.Lock()
	m.suspended[tc.conversationID] = tc
	m.mu.Unlock()

	logger.Info("Awaiting persona choice",
		zap.String("conversation_id", tc.conversationID),
		zap.Int("elicitations", tc.elicitations),
	)

	return &TurnResult{
		ConversationID:        tc.conversationID,
		AwaitingPersonaChoice: true,
		PersonaPrompt:         prompt,
	}
}

// resumePersonaChoice interprets the next message strictly as a persona
// selection and continues with the original query, never the reply text.
func (m *Manager) resumePersonaChoice(ctx context.Context, tc *turnContext, reply string) (*TurnResult, error) {
	start := time.Now()
	tc.history = append(tc.history, reply)

	if name, ok := m.personas.Match(reply); ok {
		tc.personaName = name
	} else if tc.elicitations < maxPersonaPrompts {
		return m.elicitPersona(tc), nil
	} else {
		tc.personaName = m.personas.Default().Name
		logger.Info("Persona choice unresolved, using default",
			zap.String("conversation_id", tc.conversationID),
		)
	}

	result, err := m.runPipeline(ctx, tc)
	observeTurn(start, err)
	return result, err
}

// runPipeline executes Retrieve → Generate → RegisterFeedback. Any external
// failure aborts the turn before anything is persisted.
func (m *Manager) runPipeline(ctx context.Context, tc *turnContext) (*TurnResult, error) {
	tc.state = StateRetrieve
	candidates, err := m.index.Search(ctx, tc.originalQuery, m.topK)
	if err != nil {
		return nil, &ExternalError{Stage: StateRetrieve, Err: err}
	}

	ranked := m.reranker.Rerank(ctx, candidates)

	p := m.personas.Resolve(tc.personaName)

	tc.state = StateGenerate
	var answer string
	if tc.intent == IntentSocialPost {
		answer, err = m.gen.GenerateSocialPost(ctx, p, tc.originalQuery, ranked)
	} else {
		answer, err = m.gen.GenerateAnswer(ctx, p, tc.originalQuery, ranked)
	}
	if err != nil {
		return nil, &ExternalError{Stage: StateGenerate, Err: err}
	}

	// An abandoned turn must not leave a response record behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tc.state = StateRegisterFeedback
	docIDs := make([]string, len(ranked))
	for i, c := range ranked {
		docIDs[i] = c.DocumentID
	}

	resp := &models.Response{
		ID:              uuid.New().String(),
		ConversationID:  tc.conversationID,
		QueryText:       tc.originalQuery,
		AnswerText:      answer,
		Persona:         p.Name,
		RetrievedDocIDs: docIDs,
		CreatedAt:       time.Now(),
	}

	if err := m.store.RecordResponse(ctx, resp); err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	feedbackRequested, err := m.store.ShouldPromptForFeedback(ctx, utils.QuerySignature(tc.originalQuery))
	if err != nil {
		logger.Warn("Prompt-suppression lookup failed", zap.Error(err))
		feedbackRequested = true
	}

	tc.state = StateEnd

	logger.Info("Turn completed",
		zap.String("conversation_id", tc.conversationID),
		zap.String("response_id", resp.ID),
		zap.String("persona", p.Name),
		zap.String("intent", tc.intent.String()),
		zap.Int("documents", len(docIDs)),
	)

	return &TurnResult{
		ConversationID:    tc.conversationID,
		ResponseID:        resp.ID,
		AnswerText:        answer,
		Persona:           p.Name,
		RetrievedDocIDs:   docIDs,
		FeedbackRequested: feedbackRequested,
	}, nil
}

func observeTurn(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TurnsTotal.WithLabelValues(status).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
}
