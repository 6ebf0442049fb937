package kpi

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/storage/models"
	"github.com/voicerag/backend/pkg/logger"
)

// Store is the read side of the feedback ledger. *sqlite.Client satisfies it.
type Store interface {
	WeekStats(ctx context.Context, start, end time.Time) (models.WeekStats, error)
	PersonaStats(ctx context.Context) ([]models.PersonaStats, error)
	FeedbackStats(ctx context.Context) (models.FeedbackStats, error)
	LowPerformingDocs(ctx context.Context, minFeedback int, ratio float64) ([]models.LowPerformingDoc, error)
}

type WeekSummary struct {
	WeekStart       time.Time
	WeekEnd         time.Time
	ResponseCount   int
	FeedbackCount   int
	AvgSatisfaction float64
	SuccessRate     float64
	FailureRate     float64
}

type PersonaSummary struct {
	ResponseCount   int
	FeedbackCount   int
	AvgSatisfaction float64
	SuccessRate     float64
	FailureRate     float64
}

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Grade thresholds: the pair (average satisfaction, success rate) must meet
// both bounds of a band.
const (
	gradeASatisfaction = 4.0
	gradeASuccess      = 0.75
	gradeBSatisfaction = 3.5
	gradeBSuccess      = 0.60
	gradeCSatisfaction = 3.0
	gradeCSuccess      = 0.45
	gradeDSatisfaction = 2.5
	gradeDSuccess      = 0.30
)

type AlertKind string

const (
	AlertLowSuccessRate  AlertKind = "low_success_rate"
	AlertHighFailureRate AlertKind = "high_failure_rate"
)

type TrendDirection string

const (
	TrendImproving        TrendDirection = "improving"
	TrendDeclining        TrendDirection = "declining"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

type Trend struct {
	Direction            TrendDirection
	SatisfactionDeltaPct float64
	SuccessRateDeltaPct  float64
}

type Report struct {
	GeneratedAt time.Time
	Weeks       []WeekSummary
	Trend       Trend
	Grade       Grade
	Alerts      []AlertKind
	Personas    map[string]PersonaSummary
	Insights    []string
}

type Engine struct {
	store          Store
	successFloor   float64
	failureCeiling float64
	now            func() time.Time
}

func NewEngine(store Store, successFloor, failureCeiling float64) *Engine {
	return &Engine{
		store:          store,
		successFloor:   successFloor,
		failureCeiling: failureCeiling,
		now:            time.Now,
	}
}

// WeeklySummary returns per-week metrics for the trailing nWeeks windows,
// oldest first. Weeks with zero feedback report defined-but-empty metrics.
func (e *Engine) WeeklySummary(ctx context.Context, nWeeks int) ([]WeekSummary, error) {
	if nWeeks <= 0 {
		nWeeks = 4
	}

	now := e.now()
	summaries := make([]WeekSummary, 0, nWeeks)

	for w := nWeeks - 1; w >= 0; w-- {
		start := now.AddDate(0, 0, -7*(w+1))
		end := now.AddDate(0, 0, -7*w)

		stats, err := e.store.WeekStats(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to roll up week %s: %w", start.Format("2006-01-02"), err)
		}

		summaries = append(summaries, summarize(start, end, stats))
	}

	logger.Debug("Weekly summary computed", zap.Int("weeks", len(summaries)))
	return summaries, nil
}

func summarize(start, end time.Time, stats models.WeekStats) WeekSummary {
	s := WeekSummary{
		WeekStart:       start,
		WeekEnd:         end,
		ResponseCount:   stats.ResponseCount,
		FeedbackCount:   stats.FeedbackCount,
		AvgSatisfaction: stats.AvgSatisfaction,
	}
	if stats.FeedbackCount > 0 {
		s.SuccessRate = float64(stats.SuccessCount) / float64(stats.FeedbackCount)
		s.FailureRate = float64(stats.FailureCount) / float64(stats.FeedbackCount)
	}
	return s
}

// ComputeTrend compares the current week against the previous one, as
// signed percentage deltas.
func (e *Engine) ComputeTrend(current, previous WeekSummary) Trend {
	if current.FeedbackCount == 0 || previous.FeedbackCount == 0 {
		return Trend{Direction: TrendInsufficientData}
	}

	t := Trend{
		SatisfactionDeltaPct: pctDelta(current.AvgSatisfaction, previous.AvgSatisfaction),
		SuccessRateDeltaPct:  pctDelta(current.SuccessRate, previous.SuccessRate),
	}

	switch {
	case t.SatisfactionDeltaPct > 0:
		t.Direction = TrendImproving
	case t.SatisfactionDeltaPct < 0:
		t.Direction = TrendDeclining
	default:
		t.Direction = TrendStable
	}

	return t
}

func pctDelta(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// GradeSummary maps a week's metrics to a letter grade using the fixed
// threshold bands above.
func (e *Engine) GradeSummary(s WeekSummary) Grade {
	switch {
	case s.AvgSatisfaction >= gradeASatisfaction && s.SuccessRate >= gradeASuccess:
		return GradeA
	case s.AvgSatisfaction >= gradeBSatisfaction && s.SuccessRate >= gradeBSuccess:
		return GradeB
	case s.AvgSatisfaction >= gradeCSatisfaction && s.SuccessRate >= gradeCSuccess:
		return GradeC
	case s.AvgSatisfaction >= gradeDSatisfaction && s.SuccessRate >= gradeDSuccess:
		return GradeD
	default:
		return GradeF
	}
}

// Alerts raises conditions that held for the two most recent weeks. A
// single-week dip never alerts; small samples are too noisy.
func (e *Engine) Alerts(summaries []WeekSummary) []AlertKind {
	if len(summaries) < 2 {
		return nil
	}

	last := summaries[len(summaries)-1]
	prev := summaries[len(summaries)-2]

	if last.FeedbackCount == 0 || prev.FeedbackCount == 0 {
		return nil
	}

	var alerts []AlertKind
	if last.SuccessRate < e.successFloor && prev.SuccessRate < e.successFloor {
		alerts = append(alerts, AlertLowSuccessRate)
	}
	if last.FailureRate > e.failureCeiling && prev.FailureRate > e.failureCeiling {
		alerts = append(alerts, AlertHighFailureRate)
	}

	return alerts
}

// PerPersonaBreakdown computes the same metrics after partitioning responses
// by persona.
func (e *Engine) PerPersonaBreakdown(ctx context.Context) (map[string]PersonaSummary, error) {
	stats, err := e.store.PersonaStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get persona stats: %w", err)
	}

	breakdown := make(map[string]PersonaSummary, len(stats))
	for _, s := range stats {
		summary := PersonaSummary{
			ResponseCount:   s.ResponseCount,
			FeedbackCount:   s.FeedbackCount,
			AvgSatisfaction: s.AvgSatisfaction,
		}
		if s.FeedbackCount > 0 {
			summary.SuccessRate = float64(s.SuccessCount) / float64(s.FeedbackCount)
			summary.FailureRate = float64(s.FailureCount) / float64(s.FeedbackCount)
		}
		breakdown[s.Persona] = summary
	}

	return breakdown, nil
}

// Insights produces short actionable observations from the rollups.
func (e *Engine) Insights(summaries []WeekSummary) []string {
	var insights []string

	var totalFeedback int
	var satisfactions []float64
	for _, s := range summaries {
		totalFeedback += s.FeedbackCount
		if s.FeedbackCount > 0 {
			satisfactions = append(satisfactions, s.AvgSatisfaction)
		}
	}

	if totalFeedback < 20 {
		insights = append(insights, "Limited feedback data; encourage more user participation")
	}

	if len(summaries) > 0 {
		last := summaries[len(summaries)-1]
		if last.FeedbackCount > 0 {
			if last.SuccessRate > 0.70 {
				insights = append(insights, "High success rate indicates strong user satisfaction")
			} else if last.SuccessRate < 0.40 {
				insights = append(insights, "Low success rate; focus on response quality")
			}
		}
	}

	if len(satisfactions) >= 3 {
		if stddev(satisfactions) > 0.5 {
			insights = append(insights, "High variability in weekly satisfaction; focus on consistency")
		} else {
			insights = append(insights, "Consistent satisfaction across weeks")
		}
	}

	return insights
}

func stddev(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance)
}

// BuildReport assembles the full structured report for admin tooling.
func (e *Engine) BuildReport(ctx context.Context, nWeeks int) (*Report, error) {
	weeks, err := e.WeeklySummary(ctx, nWeeks)
	if err != nil {
		return nil, err
	}

	personas, err := e.PerPersonaBreakdown(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: e.now(),
		Weeks:       weeks,
		Grade:       e.GradeSummary(overall(weeks)),
		Alerts:      e.Alerts(weeks),
		Personas:    personas,
		Insights:    e.Insights(weeks),
	}

	if len(weeks) >= 2 {
		report.Trend = e.ComputeTrend(weeks[len(weeks)-1], weeks[len(weeks)-2])
	} else {
		report.Trend = Trend{Direction: TrendInsufficientData}
	}

	logger.Info("KPI report built",
		zap.Int("weeks", len(weeks)),
		zap.String("grade", string(report.Grade)),
		zap.Int("alerts", len(report.Alerts)),
	)

	return report, nil
}

// overall folds weekly summaries into one summary weighted by feedback
// volume, for the report-level grade.
func overall(weeks []WeekSummary) WeekSummary {
	var total WeekSummary
	var satSum, successSum, failureSum float64

	for _, w := range weeks {
		total.ResponseCount += w.ResponseCount
		total.FeedbackCount += w.FeedbackCount
		satSum += w.AvgSatisfaction * float64(w.FeedbackCount)
		successSum += w.SuccessRate * float64(w.FeedbackCount)
		failureSum += w.FailureRate * float64(w.FeedbackCount)
	}

	if total.FeedbackCount > 0 {
		total.AvgSatisfaction = satSum / float64(total.FeedbackCount)
		total.SuccessRate = successSum / float64(total.FeedbackCount)
		total.FailureRate = failureSum / float64(total.FeedbackCount)
	}

	return total
}

// ImprovementSuggestions derives admin-facing suggestions from overall
// stats and low-performing documents.
func (e *Engine) ImprovementSuggestions(ctx context.Context) ([]string, error) {
	stats, err := e.store.FeedbackStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback stats: %w", err)
	}

	var suggestions []string
	if stats.TotalFeedback > 0 {
		if stats.AvgSatisfaction < 3.0 {
			suggestions = append(suggestions, "Low satisfaction detected; review response quality")
		} else if stats.AvgSatisfaction < 4.0 {
			suggestions = append(suggestions, "Room for improvement in response satisfaction")
		}
		if stats.AvgRelevance > 0 && stats.AvgRelevance < 2.0 {
			suggestions = append(suggestions, "Document relevance issues; review retrieval strategy")
		}
	}

	lowDocs, err := e.store.LowPerformingDocs(ctx, 3, 0.5)
	if err != nil {
		return nil, fmt.Errorf("failed to list low-performing documents: %w", err)
	}
	if len(lowDocs) > 0 {
		suggestions = append(suggestions, fmt.Sprintf("%d documents consistently rated as irrelevant", len(lowDocs)))
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, "System performing well based on user feedback")
	}

	return suggestions, nil
}

// FormatReport renders the structured report as plain text.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "KPI Report\n==========\nGenerated: %s\nGrade: %s\nTrend: %s (satisfaction %+.1f%%, success rate %+.1f%%)\n\n",
		r.GeneratedAt.Format("2006-01-02 15:04:05"),
		r.Grade,
		r.Trend.Direction,
		r.Trend.SatisfactionDeltaPct,
		r.Trend.SuccessRateDeltaPct,
	)

	b.WriteString("Weekly Breakdown\n")
	for _, w := range r.Weeks {
		fmt.Fprintf(&b, "- %s to %s: %d responses, %d ratings, avg satisfaction %.2f, success %.0f%%, failure %.0f%%\n",
			w.WeekStart.Format("2006-01-02"),
			w.WeekEnd.Format("2006-01-02"),
			w.ResponseCount,
			w.FeedbackCount,
			w.AvgSatisfaction,
			w.SuccessRate*100,
			w.FailureRate*100,
		)
	}

	if len(r.Personas) > 0 {
		b.WriteString("\nPersona Breakdown\n")
		for name, p := range r.Personas {
			fmt.Fprintf(&b, "- %s: %d responses, %d ratings, avg satisfaction %.2f, success %.0f%%\n",
				name, p.ResponseCount, p.FeedbackCount, p.AvgSatisfaction, p.SuccessRate*100)
		}
	}

	if len(r.Alerts) > 0 {
		b.WriteString("\nAlerts\n")
		for _, a := range r.Alerts {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	if len(r.Insights) > 0 {
		b.WriteString("\nInsights\n")
		for _, i := range r.Insights {
			fmt.Fprintf(&b, "- %s\n", i)
		}
	}

	return b.String()
}
