package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/kpi"
	"github.com/voicerag/backend/pkg/logger"
)

type KPIHandler struct {
	engine *kpi.Engine
}

func NewKPIHandler(engine *kpi.Engine) *KPIHandler {
	return &KPIHandler{
		engine: engine,
	}
}

func (h *KPIHandler) GetReport(c *fiber.Ctx) error {
	weeks := c.QueryInt("weeks", 4)

	report, err := h.engine.BuildReport(c.Context(), weeks)
	if err != nil {
		logger.Error("Failed to build KPI report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build report",
		})
	}

	if c.Query("format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(kpi.FormatReport(report))
	}

	weekly := make([]fiber.Map, 0, len(report.Weeks))
	for _, w := range report.Weeks {
		weekly = append(weekly, fiber.Map{
			"week_start":       w.WeekStart,
			"week_end":         w.WeekEnd,
			"response_count":   w.ResponseCount,
			"feedback_count":   w.FeedbackCount,
			"avg_satisfaction": w.AvgSatisfaction,
			"success_rate":     w.SuccessRate,
			"failure_rate":     w.FailureRate,
		})
	}

	return c.JSON(fiber.Map{
		"generated_at": report.GeneratedAt,
		"grade":        report.Grade,
		"trend": fiber.Map{
			"direction":              report.Trend.Direction,
			"satisfaction_delta_pct": report.Trend.SatisfactionDeltaPct,
			"success_rate_delta_pct": report.Trend.SuccessRateDeltaPct,
		},
		"alerts":   report.Alerts,
		"weeks":    weekly,
		"personas": report.Personas,
		"insights": report.Insights,
	})
}

func (h *KPIHandler) GetPersonaBreakdown(c *fiber.Ctx) error {
	breakdown, err := h.engine.PerPersonaBreakdown(c.Context())
	if err != nil {
		logger.Error("Failed to get persona breakdown", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get persona breakdown",
		})
	}

	return c.JSON(fiber.Map{
		"personas": breakdown,
	})
}

func (h *KPIHandler) GetSuggestions(c *fiber.Ctx) error {
	suggestions, err := h.engine.ImprovementSuggestions(c.Context())
	if err != nil {
		logger.Error("Failed to get suggestions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get suggestions",
		})
	}

	return c.JSON(fiber.Map{
		"suggestions": suggestions,
	})
}
