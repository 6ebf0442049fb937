package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/metrics"
	"github.com/voicerag/backend/internal/storage/models"
	"github.com/voicerag/backend/pkg/logger"
)

// Candidate is one passage returned by similarity search, before feedback
// weighting.
type Candidate struct {
	DocumentID string
	Score      float64
	Passage    string
}

// BoostSource supplies per-document feedback aggregates. *sqlite.Client
// satisfies it.
type BoostSource interface {
	GetDocumentBoosts(ctx context.Context, documentIDs []string) (map[string]models.DocumentAggregate, error)
}

// BoostPolicy maps a document's feedback aggregate to a multiplicative
// factor. The shape of the mapping is tunable; implementations must return
// exactly 1.0 for a zero-feedback aggregate and must be monotonic in
// positive minus negative count.
type BoostPolicy interface {
	Boost(agg models.DocumentAggregate) float64
}

// LinearPolicy boosts by the net feedback fraction: 1 + Weight*(pos-neg)/total,
// clamped to [MinBoost, MaxBoost]. A document whose negative ratio reaches
// DemotionRatio is pinned to the clamp floor.
type LinearPolicy struct {
	Weight        float64
	MinBoost      float64
	MaxBoost      float64
	DemotionRatio float64
}

func (p LinearPolicy) Boost(agg models.DocumentAggregate) float64 {
	total := agg.Total()
	if total == 0 {
		return 1.0
	}

	if p.DemotionRatio > 0 && agg.NegativeRatio() >= p.DemotionRatio {
		return p.MinBoost
	}

	net := float64(agg.PositiveCount - agg.NegativeCount)
	boost := 1.0 + p.Weight*net/float64(total)

	if boost < p.MinBoost {
		boost = p.MinBoost
	}
	if boost > p.MaxBoost {
		boost = p.MaxBoost
	}
	return boost
}

type Reranker struct {
	source BoostSource
	policy BoostPolicy
}

func NewReranker(source BoostSource, policy BoostPolicy) *Reranker {
	return &Reranker{
		source: source,
		policy: policy,
	}
}

type scored struct {
	candidate Candidate
	origRank  int
	final     float64
}

// Rerank reorders candidates by similarity × feedback boost. The result is
// always a permutation of the input: demoted documents sink, they are never
// dropped. Ties break by original similarity rank, then document id, so the
// ordering is deterministic for a given candidate set and store state.
func (r *Reranker) Rerank(ctx context.Context, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DocumentID
	}

	aggs, err := r.source.GetDocumentBoosts(ctx, ids)
	if err != nil {
		// A missing aggregate is neutral, not fatal: ranking must still
		// produce an answer.
		logger.Warn("Boost lookup failed, reranking on similarity alone", zap.Error(err))
		aggs = nil
	}

	entries := make([]scored, len(candidates))
	for i, c := range candidates {
		agg, ok := aggs[c.DocumentID]
		if !ok {
			agg = models.DocumentAggregate{DocumentID: c.DocumentID}
		}
		boost := r.policy.Boost(agg)
		metrics.RerankBoost.Observe(boost)
		entries[i] = scored{
			candidate: c,
			origRank:  i,
			final:     c.Score * boost,
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].final != entries[j].final {
			return entries[i].final > entries[j].final
		}
		if entries[i].origRank != entries[j].origRank {
			return entries[i].origRank < entries[j].origRank
		}
		return entries[i].candidate.DocumentID < entries[j].candidate.DocumentID
	})

	ranked := make([]Candidate, len(entries))
	for i, e := range entries {
		ranked[i] = e.candidate
	}

	logger.Debug("Candidates reranked",
		zap.Int("count", len(ranked)),
		zap.String("top", ranked[0].DocumentID),
	)

	return ranked
}
