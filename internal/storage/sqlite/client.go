package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/storage/models"
	"github.com/voicerag/backend/pkg/logger"
	"github.com/voicerag/backend/pkg/utils"
)

// Satisfaction ratings at or above positiveMin count as positive signal for
// document aggregates; at or below negativeMax as negative. A 3 contributes
// to neither tally.
const (
	positiveMin = 4
	negativeMax = 2
)

type Options struct {
	// ReplaceOnDuplicate switches the duplicate-feedback policy from
	// rejection to replacement. Replacement reverses the prior rating's
	// aggregate contributions so aggregates stay replayable.
	ReplaceOnDuplicate bool

	// Prompt suppression: skip asking for feedback once a query signature
	// has PromptMinRatings ratings averaging PromptSatisfactionBar or above.
	PromptMinRatings      int
	PromptSatisfactionBar float64
}

type Client struct {
	db   *sql.DB
	opts Options
}

func NewClient(dbPath string, opts Options) (*Client, error) {
	// Busy timeout so concurrent feedback writers queue instead of failing.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL keeps aggregate reads from blocking behind writes.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if opts.PromptMinRatings == 0 {
		opts.PromptMinRatings = 3
	}
	if opts.PromptSatisfactionBar == 0 {
		opts.PromptSatisfactionBar = 4.0
	}

	logger.Info("SQLite feedback store initialized", zap.String("path", dbPath))

	return &Client{db: db, opts: opts}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		response_id TEXT PRIMARY KEY,
		conversation_id TEXT,
		query_text TEXT NOT NULL,
		answer_text TEXT NOT NULL,
		persona TEXT NOT NULL DEFAULT 'default',
		retrieved_doc_ids TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
	CREATE INDEX IF NOT EXISTS idx_responses_persona ON responses(persona);

	CREATE TABLE IF NOT EXISTS feedback (
		response_id TEXT PRIMARY KEY,
		satisfaction INTEGER NOT NULL,
		relevance INTEGER,
		submitted_at INTEGER NOT NULL,
		FOREIGN KEY (response_id) REFERENCES responses(response_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_submitted ON feedback(submitted_at);

	CREATE TABLE IF NOT EXISTS document_feedback (
		document_id TEXT PRIMARY KEY,
		positive_count INTEGER NOT NULL DEFAULT 0,
		negative_count INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_patterns (
		query_hash TEXT PRIMARY KEY,
		query_normalized TEXT NOT NULL,
		avg_satisfaction REAL NOT NULL DEFAULT 0,
		feedback_count INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// RecordResponse writes a response record exactly once.
func (c *Client) RecordResponse(ctx context.Context, resp *models.Response) error {
	docIDs, err := json.Marshal(resp.RetrievedDocIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal document ids: %w", err)
	}

	createdAt := resp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var exists int
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM responses WHERE response_id = ?`, resp.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check response id: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("response %s: %w", resp.ID, ErrDuplicateID)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO responses (response_id, conversation_id, query_text, answer_text, persona, retrieved_doc_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.ID,
		resp.ConversationID,
		resp.QueryText,
		resp.AnswerText,
		resp.Persona,
		string(docIDs),
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}

	logger.Info("Response recorded",
		zap.String("response_id", resp.ID),
		zap.String("persona", resp.Persona),
		zap.Int("documents", len(resp.RetrievedDocIDs)),
	)

	return nil
}

func (c *Client) GetResponse(ctx context.Context, responseID string) (*models.Response, error) {
	var resp models.Response
	var docIDs string
	var createdAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT response_id, conversation_id, query_text, answer_text, persona, retrieved_doc_ids, created_at
		FROM responses WHERE response_id = ?`, responseID).Scan(
		&resp.ID,
		&resp.ConversationID,
		&resp.QueryText,
		&resp.AnswerText,
		&resp.Persona,
		&docIDs,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("response %s: %w", responseID, ErrUnknownResponse)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	if err := json.Unmarshal([]byte(docIDs), &resp.RetrievedDocIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document ids: %w", err)
	}
	resp.CreatedAt = time.Unix(createdAt, 0)

	return &resp, nil
}

// RecordFeedback attaches a rating to a response and, in the same
// transaction, updates the document aggregates for every retrieved document
// and the query-pattern aggregate for the response's normalized query.
func (c *Client) RecordFeedback(ctx context.Context, fb *models.Feedback) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var queryText string
	var docIDsJSON string
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT query_text, retrieved_doc_ids, created_at FROM responses WHERE response_id = ?`,
		fb.ResponseID).Scan(&queryText, &docIDsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("response %s: %w", fb.ResponseID, ErrUnknownResponse)
	}
	if err != nil {
		return fmt.Errorf("failed to load response: %w", err)
	}

	var docIDs []string
	if err := json.Unmarshal([]byte(docIDsJSON), &docIDs); err != nil {
		return fmt.Errorf("failed to unmarshal document ids: %w", err)
	}

	var prior models.Feedback
	err = tx.QueryRowContext(ctx,
		`SELECT satisfaction, relevance FROM feedback WHERE response_id = ?`,
		fb.ResponseID).Scan(&prior.Satisfaction, &prior.Relevance)
	hasPrior := err == nil
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check prior feedback: %w", err)
	}

	if hasPrior {
		if !c.opts.ReplaceOnDuplicate {
			return fmt.Errorf("response %s: %w", fb.ResponseID, ErrDuplicateFeedback)
		}
		if err := c.reverseAggregates(ctx, tx, docIDs, queryText, prior.Satisfaction); err != nil {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
	}

	submittedAt := fb.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	// submitted_at can never precede the response's creation.
	if submittedAt.Unix() < createdAt {
		submittedAt = time.Unix(createdAt, 0)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback (response_id, satisfaction, relevance, submitted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(response_id) DO UPDATE SET
			satisfaction = excluded.satisfaction,
			relevance = excluded.relevance,
			submitted_at = excluded.submitted_at`,
		fb.ResponseID,
		fb.Satisfaction,
		fb.Relevance,
		submittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	if err := c.applyAggregates(ctx, tx, docIDs, queryText, fb.Satisfaction); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}

	logger.Info("Feedback recorded",
		zap.String("response_id", fb.ResponseID),
		zap.Int("satisfaction", fb.Satisfaction),
		zap.Int("relevance", fb.Relevance),
		zap.Bool("replaced", hasPrior),
	)

	return nil
}

// applyAggregates increments the derived tables for one rating. Increments,
// not overwrites: concurrent feedback for overlapping documents composes.
func (c *Client) applyAggregates(ctx context.Context, tx *sql.Tx, docIDs []string, queryText string, satisfaction int) error {
	now := time.Now().Unix()
	pos, neg := classify(satisfaction)

	for _, docID := range docIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_feedback (document_id, positive_count, negative_count, last_updated)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				positive_count = positive_count + ?,
				negative_count = negative_count + ?,
				last_updated = ?`,
			docID, pos, neg, now, pos, neg, now,
		)
		if err != nil {
			return fmt.Errorf("document aggregate %s: %w", docID, err)
		}
	}

	normalized := utils.NormalizeQuery(queryText)
	hash := utils.HashString(normalized)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO query_patterns (query_hash, query_normalized, avg_satisfaction, feedback_count, last_updated)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			avg_satisfaction = (avg_satisfaction * feedback_count + ?) / (feedback_count + 1),
			feedback_count = feedback_count + 1,
			last_updated = ?`,
		hash, normalized, float64(satisfaction), now, float64(satisfaction), now,
	)
	if err != nil {
		return fmt.Errorf("query pattern %s: %w", hash, err)
	}

	return nil
}

// reverseAggregates undoes a prior rating's contributions before a
// replacement is applied, keeping aggregates equal to a full replay.
func (c *Client) reverseAggregates(ctx context.Context, tx *sql.Tx, docIDs []string, queryText string, satisfaction int) error {
	now := time.Now().Unix()
	pos, neg := classify(satisfaction)

	for _, docID := range docIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE document_feedback SET
				positive_count = MAX(positive_count - ?, 0),
				negative_count = MAX(negative_count - ?, 0),
				last_updated = ?
			WHERE document_id = ?`,
			pos, neg, now, docID,
		)
		if err != nil {
			return fmt.Errorf("document aggregate %s: %w", docID, err)
		}
	}

	hash := utils.QuerySignature(queryText)

	_, err := tx.ExecContext(ctx, `
		UPDATE query_patterns SET
			avg_satisfaction = CASE WHEN feedback_count > 1
				THEN (avg_satisfaction * feedback_count - ?) / (feedback_count - 1)
				ELSE 0 END,
			feedback_count = MAX(feedback_count - 1, 0),
			last_updated = ?
		WHERE query_hash = ?`,
		float64(satisfaction), now, hash,
	)
	if err != nil {
		return fmt.Errorf("query pattern %s: %w", hash, err)
	}

	return nil
}

func classify(satisfaction int) (pos, neg int) {
	if satisfaction >= positiveMin {
		return 1, 0
	}
	if satisfaction <= negativeMax {
		return 0, 1
	}
	return 0, 0
}

// GetDocumentBoost returns the feedback aggregate for one document. A
// document with no feedback yields a zero-count aggregate, never an error.
func (c *Client) GetDocumentBoost(ctx context.Context, documentID string) (models.DocumentAggregate, error) {
	agg := models.DocumentAggregate{DocumentID: documentID}

	var lastUpdated int64
	err := c.db.QueryRowContext(ctx, `
		SELECT positive_count, negative_count, last_updated
		FROM document_feedback WHERE document_id = ?`, documentID).Scan(
		&agg.PositiveCount, &agg.NegativeCount, &lastUpdated)
	if err == sql.ErrNoRows {
		return agg, nil
	}
	if err != nil {
		return agg, fmt.Errorf("failed to get document aggregate: %w", err)
	}

	agg.LastUpdated = time.Unix(lastUpdated, 0)
	return agg, nil
}

// GetDocumentBoosts batch-loads aggregates for the reranker. Documents
// absent from the result have no feedback yet.
func (c *Client) GetDocumentBoosts(ctx context.Context, documentIDs []string) (map[string]models.DocumentAggregate, error) {
	aggs := make(map[string]models.DocumentAggregate, len(documentIDs))
	if len(documentIDs) == 0 {
		return aggs, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(documentIDs)), ",")
	args := make([]interface{}, len(documentIDs))
	for i, id := range documentIDs {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT document_id, positive_count, negative_count, last_updated
		FROM document_feedback WHERE document_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get document aggregates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agg models.DocumentAggregate
		var lastUpdated int64
		if err := rows.Scan(&agg.DocumentID, &agg.PositiveCount, &agg.NegativeCount, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		agg.LastUpdated = time.Unix(lastUpdated, 0)
		aggs[agg.DocumentID] = agg
	}

	return aggs, rows.Err()
}

// ShouldPromptForFeedback implements the don't-over-ask heuristic: once a
// query signature has enough ratings averaging high satisfaction, stop
// prompting for it.
func (c *Client) ShouldPromptForFeedback(ctx context.Context, querySignature string) (bool, error) {
	var avg float64
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT avg_satisfaction, feedback_count FROM query_patterns WHERE query_hash = ?`,
		querySignature).Scan(&avg, &count)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to get query pattern: %w", err)
	}

	if count >= c.opts.PromptMinRatings && avg >= c.opts.PromptSatisfactionBar {
		return false, nil
	}
	return true, nil
}

// WeekStats rolls the ledger up for one [start, end) window.
func (c *Client) WeekStats(ctx context.Context, start, end time.Time) (models.WeekStats, error) {
	var stats models.WeekStats

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses WHERE created_at >= ? AND created_at < ?`,
		start.Unix(), end.Unix()).Scan(&stats.ResponseCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count responses: %w", err)
	}

	var avg sql.NullFloat64
	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			AVG(satisfaction),
			COUNT(CASE WHEN satisfaction >= ? THEN 1 END),
			COUNT(CASE WHEN satisfaction <= ? THEN 1 END)
		FROM feedback WHERE submitted_at >= ? AND submitted_at < ?`,
		positiveMin, negativeMax, start.Unix(), end.Unix()).Scan(
		&stats.FeedbackCount, &avg, &stats.SuccessCount, &stats.FailureCount)
	if err != nil {
		return stats, fmt.Errorf("failed to roll up feedback: %w", err)
	}
	if avg.Valid {
		stats.AvgSatisfaction = avg.Float64
	}

	return stats, nil
}

// PersonaStats partitions the rollup by the persona of the rated response.
func (c *Client) PersonaStats(ctx context.Context) ([]models.PersonaStats, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.persona,
			COUNT(DISTINCT r.response_id),
			COUNT(f.response_id),
			COALESCE(AVG(f.satisfaction), 0),
			COUNT(CASE WHEN f.satisfaction >= ? THEN 1 END),
			COUNT(CASE WHEN f.satisfaction <= ? THEN 1 END)
		FROM responses r
		LEFT JOIN feedback f ON f.response_id = r.response_id
		GROUP BY r.persona
		ORDER BY r.persona`,
		positiveMin, negativeMax)
	if err != nil {
		return nil, fmt.Errorf("failed to roll up personas: %w", err)
	}
	defer rows.Close()

	var stats []models.PersonaStats
	for rows.Next() {
		var s models.PersonaStats
		if err := rows.Scan(&s.Persona, &s.ResponseCount, &s.FeedbackCount,
			&s.AvgSatisfaction, &s.SuccessCount, &s.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan persona row: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (c *Client) FeedbackStats(ctx context.Context) (models.FeedbackStats, error) {
	var stats models.FeedbackStats
	var avgSat, avgRel sql.NullFloat64

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(satisfaction), AVG(relevance) FROM feedback`).Scan(
		&stats.TotalFeedback, &avgSat, &avgRel)
	if err != nil {
		return stats, fmt.Errorf("failed to get feedback stats: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_patterns`).Scan(&stats.UniqueQueries)
	if err != nil {
		return stats, fmt.Errorf("failed to count query patterns: %w", err)
	}

	if avgSat.Valid {
		stats.AvgSatisfaction = avgSat.Float64
	}
	if avgRel.Valid {
		stats.AvgRelevance = avgRel.Float64
	}

	return stats, nil
}

// LowPerformingDocs lists documents whose negative ratio crosses the given
// threshold with at least minFeedback ratings behind it.
func (c *Client) LowPerformingDocs(ctx context.Context, minFeedback int, ratio float64) ([]models.LowPerformingDoc, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT document_id, positive_count, negative_count
		FROM document_feedback
		WHERE positive_count + negative_count >= ?
		ORDER BY document_id`, minFeedback)
	if err != nil {
		return nil, fmt.Errorf("failed to list document aggregates: %w", err)
	}
	defer rows.Close()

	var docs []models.LowPerformingDoc
	for rows.Next() {
		var agg models.DocumentAggregate
		if err := rows.Scan(&agg.DocumentID, &agg.PositiveCount, &agg.NegativeCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		if agg.NegativeRatio() >= ratio {
			docs = append(docs, models.LowPerformingDoc{
				DocumentID:    agg.DocumentID,
				NegativeRatio: agg.NegativeRatio(),
				FeedbackCount: agg.Total(),
			})
		}
	}

	return docs, rows.Err()
}
