package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/conversation"
	"github.com/voicerag/backend/internal/storage/sqlite"
	"github.com/voicerag/backend/pkg/logger"
)

type FeedbackHandler struct {
	manager *conversation.Manager
	store   *sqlite.Client
}

func NewFeedbackHandler(manager *conversation.Manager, store *sqlite.Client) *FeedbackHandler {
	return &FeedbackHandler{
		manager: manager,
		store:   store,
	}
}

func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		ResponseID   string `json:"response_id"`
		Satisfaction int    `json:"satisfaction"`
		Relevance    int    `json:"relevance"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ResponseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "response_id is required",
		})
	}

	err := h.manager.SubmitFeedback(c.Context(), req.ResponseID, req.Satisfaction, req.Relevance)
	if err != nil {
		switch {
		case errors.Is(err, sqlite.ErrUnknownResponse):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown response_id",
			})
		case errors.Is(err, sqlite.ErrDuplicateFeedback):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Feedback already recorded for this response",
			})
		case errors.Is(err, conversation.ErrInvalidRating):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.JSON(fiber.Map{
		"status": "recorded",
	})
}

func (h *FeedbackHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.FeedbackStats(c.Context())
	if err != nil {
		logger.Error("Failed to get feedback stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get feedback stats",
		})
	}

	return c.JSON(fiber.Map{
		"total_feedback":   stats.TotalFeedback,
		"avg_satisfaction": stats.AvgSatisfaction,
		"avg_relevance":    stats.AvgRelevance,
		"unique_queries":   stats.UniqueQueries,
	})
}
