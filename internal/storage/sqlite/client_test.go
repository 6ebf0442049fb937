package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicerag/backend/internal/storage/models"
	"github.com/voicerag/backend/pkg/utils"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"), opts)
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())

	t.Cleanup(func() { c.Close() })
	return c
}

func recordResponse(t *testing.T, c *Client, id, query string, docIDs ...string) {
	t.Helper()

	err := c.RecordResponse(context.Background(), &models.Response{
		ID:              id,
		ConversationID:  "conv-1",
		QueryText:       query,
		AnswerText:      "an answer",
		Persona:         "default",
		RetrievedDocIDs: docIDs,
	})
	require.NoError(t, err)
}

func TestRecordResponseRejectsDuplicateID(t *testing.T) {
	c := newTestClient(t, Options{})

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a")

	err := c.RecordResponse(context.Background(), &models.Response{
		ID:              "resp-1",
		ConversationID:  "conv-2",
		QueryText:       "another query",
		RetrievedDocIDs: []string{"doc-b"},
	})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetResponseRoundTrip(t *testing.T) {
	c := newTestClient(t, Options{})

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a", "doc-b")

	resp, err := c.GetResponse(context.Background(), "resp-1")
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "how do refunds work", resp.QueryText)
	assert.Equal(t, []string{"doc-a", "doc-b"}, resp.RetrievedDocIDs)
}

func TestGetResponseUnknown(t *testing.T) {
	c := newTestClient(t, Options{})

	_, err := c.GetResponse(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownResponse)
}

func TestRecordFeedbackUnknownResponse(t *testing.T) {
	c := newTestClient(t, Options{})

	err := c.RecordFeedback(context.Background(), &models.Feedback{
		ResponseID:   "missing",
		Satisfaction: 4,
		Relevance:    2,
	})
	assert.ErrorIs(t, err, ErrUnknownResponse)
}

func TestRecordFeedbackUpdatesAggregates(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a", "doc-b")

	err := c.RecordFeedback(ctx, &models.Feedback{
		ResponseID:   "resp-1",
		Satisfaction: 5,
		Relevance:    3,
	})
	require.NoError(t, err)

	for _, id := range []string{"doc-a", "doc-b"} {
		agg, err := c.GetDocumentBoost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, agg.PositiveCount, id)
		assert.Equal(t, 0, agg.NegativeCount, id)
	}
}

func TestRecordFeedbackNeutralRatingCountsNeither(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a")

	err := c.RecordFeedback(ctx, &models.Feedback{
		ResponseID:   "resp-1",
		Satisfaction: 3,
		Relevance:    2,
	})
	require.NoError(t, err)

	agg, err := c.GetDocumentBoost(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, agg.PositiveCount)
	assert.Equal(t, 0, agg.NegativeCount)
}

func TestRecordFeedbackRejectsDuplicateByDefault(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a")

	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 5, Relevance: 3,
	}))

	err := c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 1, Relevance: 1,
	})
	assert.ErrorIs(t, err, ErrDuplicateFeedback)

	// The rejected rating must not have touched the aggregates.
	agg, err := c.GetDocumentBoost(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.PositiveCount)
	assert.Equal(t, 0, agg.NegativeCount)
}

func TestRecordFeedbackReplacementReversesAggregates(t *testing.T) {
	c := newTestClient(t, Options{ReplaceOnDuplicate: true})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "how do refunds work", "doc-a")

	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 5, Relevance: 3,
	}))
	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 1, Relevance: 1,
	}))

	agg, err := c.GetDocumentBoost(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, agg.PositiveCount)
	assert.Equal(t, 1, agg.NegativeCount)
}

func TestGetDocumentBoostZeroFeedbackIsEmptyAggregate(t *testing.T) {
	c := newTestClient(t, Options{})

	agg, err := c.GetDocumentBoost(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, 0, agg.PositiveCount)
	assert.Equal(t, 0, agg.NegativeCount)
	assert.Equal(t, 0, agg.Total())
}

func TestGetDocumentBoostsBatch(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "query one", "doc-a")
	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 5, Relevance: 3,
	}))

	aggs, err := c.GetDocumentBoosts(ctx, []string{"doc-a", "doc-b"})
	require.NoError(t, err)
	assert.Equal(t, 1, aggs["doc-a"].PositiveCount)
	_, hasB := aggs["doc-b"]
	assert.False(t, hasB)
}

func TestShouldPromptForFeedbackSuppression(t *testing.T) {
	c := newTestClient(t, Options{PromptMinRatings: 3, PromptSatisfactionBar: 4.0})
	ctx := context.Background()

	query := "How Do Refunds Work"
	sig := utils.QuerySignature(query)

	// Below the rating count floor the prompt always shows.
	prompt, err := c.ShouldPromptForFeedback(ctx, sig)
	require.NoError(t, err)
	assert.True(t, prompt)

	for i, id := range []string{"resp-1", "resp-2", "resp-3"} {
		recordResponse(t, c, id, query, "doc-a")
		require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
			ResponseID: id, Satisfaction: 5 - i%2, Relevance: 3,
		}))
	}

	prompt, err = c.ShouldPromptForFeedback(ctx, sig)
	require.NoError(t, err)
	assert.False(t, prompt, "consistently satisfied query should stop prompting")
}

func TestShouldPromptForFeedbackLowSatisfactionKeepsPrompting(t *testing.T) {
	c := newTestClient(t, Options{PromptMinRatings: 3, PromptSatisfactionBar: 4.0})
	ctx := context.Background()

	query := "confusing topic"
	for _, id := range []string{"resp-1", "resp-2", "resp-3"} {
		recordResponse(t, c, id, query, "doc-a")
		require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
			ResponseID: id, Satisfaction: 2, Relevance: 1,
		}))
	}

	prompt, err := c.ShouldPromptForFeedback(ctx, utils.QuerySignature(query))
	require.NoError(t, err)
	assert.True(t, prompt)
}

func TestWeekStats(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	recordResponse(t, c, "resp-1", "query one", "doc-a")
	recordResponse(t, c, "resp-2", "query two", "doc-b")

	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 5, Relevance: 3,
	}))
	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-2", Satisfaction: 1, Relevance: 1,
	}))

	now := time.Now()
	stats, err := c.WeekStats(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ResponseCount)
	assert.Equal(t, 2, stats.FeedbackCount)
	assert.InDelta(t, 3.0, stats.AvgSatisfaction, 1e-9)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)

	empty, err := c.WeekStats(ctx, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.ResponseCount)
	assert.Equal(t, 0, empty.FeedbackCount)
}

func TestPersonaStats(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.RecordResponse(ctx, &models.Response{
		ID: "resp-1", ConversationID: "conv-1", QueryText: "q", AnswerText: "a",
		Persona: "maya", RetrievedDocIDs: []string{"doc-a"},
	}))
	require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
		ResponseID: "resp-1", Satisfaction: 5, Relevance: 3,
	}))

	stats, err := c.PersonaStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "maya", stats[0].Persona)
	assert.Equal(t, 1, stats[0].SuccessCount)
}

func TestLowPerformingDocs(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"resp-1", "resp-2", "resp-3"} {
		recordResponse(t, c, id, "bad doc query "+id, "doc-bad")
		require.NoError(t, c.RecordFeedback(ctx, &models.Feedback{
			ResponseID: id, Satisfaction: 1, Relevance: 1,
		}))
	}

	docs, err := c.LowPerformingDocs(ctx, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-bad", docs[0].DocumentID)
}

func TestConcurrentFeedbackOnDisjointResponses(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()

	const n = 8
	for i := 0; i < n; i++ {
		recordResponse(t, c, responseID(i), "shared query", "doc-shared")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.RecordFeedback(ctx, &models.Feedback{
				ResponseID: responseID(i), Satisfaction: 5, Relevance: 3,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "feedback %d", i)
	}

	agg, err := c.GetDocumentBoost(ctx, "doc-shared")
	require.NoError(t, err)
	assert.Equal(t, n, agg.PositiveCount)
}

func responseID(i int) string {
	return "resp-" + string(rune('a'+i))
}
