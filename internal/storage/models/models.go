package models

import "time"

// Response is one generated answer. Written exactly once when generation
// succeeds, never mutated afterward.
type Response struct {
	ID              string
	ConversationID  string
	QueryText       string
	AnswerText      string
	Persona         string
	RetrievedDocIDs []string
	CreatedAt       time.Time
}

// Feedback is the at-most-one rating attached to a response.
type Feedback struct {
	ResponseID   string
	Satisfaction int
	Relevance    int
	SubmittedAt  time.Time
}

// DocumentAggregate is the derived per-document feedback tally. It is a
// cache over the feedback ledger and must stay reconstructible by replay.
type DocumentAggregate struct {
	DocumentID    string
	PositiveCount int
	NegativeCount int
	LastUpdated   time.Time
}

func (a DocumentAggregate) Total() int {
	return a.PositiveCount + a.NegativeCount
}

func (a DocumentAggregate) NegativeRatio() float64 {
	total := a.Total()
	if total == 0 {
		return 0
	}
	return float64(a.NegativeCount) / float64(total)
}

// QueryPattern tracks how often a normalized query signature has been seen
// and its running average satisfaction.
type QueryPattern struct {
	QueryHash       string
	QueryNormalized string
	AvgSatisfaction float64
	FeedbackCount   int
	LastUpdated     time.Time
}

// WeekStats is the raw per-week rollup the KPI engine reads.
type WeekStats struct {
	ResponseCount   int
	FeedbackCount   int
	AvgSatisfaction float64
	SuccessCount    int
	FailureCount    int
}

// PersonaStats is the same rollup partitioned by persona.
type PersonaStats struct {
	Persona         string
	ResponseCount   int
	FeedbackCount   int
	AvgSatisfaction float64
	SuccessCount    int
	FailureCount    int
}

type FeedbackStats struct {
	TotalFeedback   int
	AvgSatisfaction float64
	AvgRelevance    float64
	UniqueQueries   int
}

type LowPerformingDoc struct {
	DocumentID    string
	NegativeRatio float64
	FeedbackCount int
}
