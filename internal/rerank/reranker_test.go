package rerank

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicerag/backend/internal/storage/models"
)

type stubSource struct {
	aggs map[string]models.DocumentAggregate
	err  error
}

func (s *stubSource) GetDocumentBoosts(_ context.Context, ids []string) (map[string]models.DocumentAggregate, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]models.DocumentAggregate)
	for _, id := range ids {
		if agg, ok := s.aggs[id]; ok {
			out[id] = agg
		}
	}
	return out, nil
}

func defaultPolicy() LinearPolicy {
	return LinearPolicy{
		Weight:        0.3,
		MinBoost:      0.5,
		MaxBoost:      1.5,
		DemotionRatio: 0.75,
	}
}

func TestLinearPolicyZeroFeedbackIsNeutral(t *testing.T) {
	boost := defaultPolicy().Boost(models.DocumentAggregate{DocumentID: "doc-1"})
	assert.Equal(t, 1.0, boost)
}

func TestLinearPolicyPositiveFeedbackBoosts(t *testing.T) {
	boost := defaultPolicy().Boost(models.DocumentAggregate{
		DocumentID:    "doc-1",
		PositiveCount: 4,
	})
	assert.InDelta(t, 1.3, boost, 1e-9)
}

func TestLinearPolicyNegativeFeedbackDemotes(t *testing.T) {
	boost := defaultPolicy().Boost(models.DocumentAggregate{
		DocumentID:    "doc-1",
		PositiveCount: 1,
		NegativeCount: 1,
	})
	assert.Equal(t, 1.0, boost)

	boost = defaultPolicy().Boost(models.DocumentAggregate{
		DocumentID:    "doc-1",
		PositiveCount: 1,
		NegativeCount: 2,
	})
	assert.Less(t, boost, 1.0)
}

func TestLinearPolicyDemotionRatioPinsToFloor(t *testing.T) {
	boost := defaultPolicy().Boost(models.DocumentAggregate{
		DocumentID:    "doc-1",
		PositiveCount: 1,
		NegativeCount: 3,
	})
	assert.Equal(t, 0.5, boost)
}

func TestLinearPolicyClamps(t *testing.T) {
	p := LinearPolicy{Weight: 2.0, MinBoost: 0.5, MaxBoost: 1.5, DemotionRatio: 0.99}

	high := p.Boost(models.DocumentAggregate{PositiveCount: 10})
	assert.Equal(t, 1.5, high)

	low := p.Boost(models.DocumentAggregate{PositiveCount: 1, NegativeCount: 9})
	assert.Equal(t, 0.5, low)
}

func TestRerankReordersOnFeedback(t *testing.T) {
	source := &stubSource{aggs: map[string]models.DocumentAggregate{
		"doc-a": {DocumentID: "doc-a", NegativeCount: 5},
		"doc-b": {DocumentID: "doc-b", PositiveCount: 5},
	}}
	r := NewReranker(source, defaultPolicy())

	ranked := r.Rerank(context.Background(), []Candidate{
		{DocumentID: "doc-a", Score: 0.9},
		{DocumentID: "doc-b", Score: 0.8},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "doc-b", ranked[0].DocumentID)
	assert.Equal(t, "doc-a", ranked[1].DocumentID)
}

func TestRerankNeutralKeepsSimilarityOrder(t *testing.T) {
	r := NewReranker(&stubSource{}, defaultPolicy())

	in := []Candidate{
		{DocumentID: "doc-a", Score: 0.9},
		{DocumentID: "doc-b", Score: 0.8},
		{DocumentID: "doc-c", Score: 0.7},
	}

	ranked := r.Rerank(context.Background(), in)

	require.Len(t, ranked, 3)
	for i, c := range in {
		assert.Equal(t, c.DocumentID, ranked[i].DocumentID)
	}
}

func TestRerankBoostLookupFailureDegradesToNeutral(t *testing.T) {
	r := NewReranker(&stubSource{err: errors.New("store down")}, defaultPolicy())

	in := []Candidate{
		{DocumentID: "doc-a", Score: 0.9},
		{DocumentID: "doc-b", Score: 0.8},
	}

	ranked := r.Rerank(context.Background(), in)

	require.Len(t, ranked, 2)
	assert.Equal(t, "doc-a", ranked[0].DocumentID)
	assert.Equal(t, "doc-b", ranked[1].DocumentID)
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewReranker(&stubSource{}, defaultPolicy())
	assert.Nil(t, r.Rerank(context.Background(), nil))
}

func TestRerankIsAlwaysAPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(20)
		candidates := make([]Candidate, n)
		aggs := make(map[string]models.DocumentAggregate)

		for i := range candidates {
			id := fmt.Sprintf("doc-%d", i)
			candidates[i] = Candidate{DocumentID: id, Score: rng.Float64()}
			if rng.Intn(2) == 0 {
				aggs[id] = models.DocumentAggregate{
					DocumentID:    id,
					PositiveCount: rng.Intn(10),
					NegativeCount: rng.Intn(10),
				}
			}
		}

		r := NewReranker(&stubSource{aggs: aggs}, defaultPolicy())
		ranked := r.Rerank(context.Background(), candidates)

		require.Len(t, ranked, n)

		want := make([]string, n)
		got := make([]string, n)
		for i := range candidates {
			want[i] = candidates[i].DocumentID
			got[i] = ranked[i].DocumentID
		}
		sort.Strings(want)
		sort.Strings(got)
		assert.Equal(t, want, got)
	}
}

func TestRerankIsDeterministic(t *testing.T) {
	source := &stubSource{aggs: map[string]models.DocumentAggregate{
		"doc-a": {DocumentID: "doc-a", PositiveCount: 2, NegativeCount: 1},
	}}
	r := NewReranker(source, defaultPolicy())

	in := []Candidate{
		{DocumentID: "doc-c", Score: 0.5},
		{DocumentID: "doc-a", Score: 0.5},
		{DocumentID: "doc-b", Score: 0.5},
	}

	first := r.Rerank(context.Background(), in)
	for i := 0; i < 5; i++ {
		again := r.Rerank(context.Background(), in)
		assert.Equal(t, first, again)
	}
}
