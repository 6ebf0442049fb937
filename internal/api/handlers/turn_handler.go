package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/conversation"
	"github.com/voicerag/backend/pkg/logger"
)

type TurnHandler struct {
	manager *conversation.Manager
}

func NewTurnHandler(manager *conversation.Manager) *TurnHandler {
	return &TurnHandler{
		manager: manager,
	}
}

func (h *TurnHandler) HandleTurn(c *fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Text           string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Text is required",
		})
	}

	result, err := h.manager.HandleTurn(c.Context(), req.ConversationID, req.Text)
	if err != nil {
		var extErr *conversation.ExternalError
		if errors.As(err, &extErr) {
			logger.Error("Turn failed at external stage",
				zap.String("stage", extErr.Stage.String()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Upstream dependency failed",
				"stage": extErr.Stage.String(),
			})
		}

		logger.Error("Failed to process turn", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process turn",
		})
	}

	if result.AwaitingPersonaChoice {
		return c.JSON(fiber.Map{
			"conversation_id":         result.ConversationID,
			"awaiting_persona_choice": true,
			"prompt":                  result.PersonaPrompt,
		})
	}

	return c.JSON(fiber.Map{
		"conversation_id":    result.ConversationID,
		"response_id":        result.ResponseID,
		"answer":             result.AnswerText,
		"persona":            result.Persona,
		"sources":            result.RetrievedDocIDs,
		"feedback_requested": result.FeedbackRequested,
	})
}
