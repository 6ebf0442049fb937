package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/conversation"
	"github.com/voicerag/backend/pkg/logger"
)

type WebSocketHandler struct {
	manager *conversation.Manager
}

func NewWebSocketHandler(manager *conversation.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
	}
}

// HandleConnection runs a full conversation over one socket. The client
// sends "turn" and "feedback" messages; persona elicitation prompts come
// back as "persona_prompt" and are answered with another "turn".
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	conversationID := ""

	defer func() {
		if conversationID != "" {
			h.manager.AbandonConversation(conversationID)
		}
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type         string `json:"type"`
			Text         string `json:"text"`
			ResponseID   string `json:"response_id"`
			Satisfaction int    `json:"satisfaction"`
			Relevance    int    `json:"relevance"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		switch msg.Type {
		case "turn":
			conversationID = h.handleTurn(c, conversationID, msg.Text)
		case "feedback":
			h.handleFeedback(c, msg.ResponseID, msg.Satisfaction, msg.Relevance)
		}
	}
}

func (h *WebSocketHandler) handleTurn(c *websocket.Conn, conversationID, text string) string {
	result, err := h.manager.HandleTurn(context.Background(), conversationID, text)
	if err != nil {
		var extErr *conversation.ExternalError
		if errors.As(err, &extErr) {
			h.sendError(c, "Upstream dependency failed, please retry")
		} else {
			h.sendError(c, "Failed to process turn")
		}
		logger.Error("WebSocket turn failed", zap.Error(err))
		return conversationID
	}

	if result.AwaitingPersonaChoice {
		c.WriteJSON(map[string]interface{}{
			"type":            "persona_prompt",
			"conversation_id": result.ConversationID,
			"prompt":          result.PersonaPrompt,
		})
		return result.ConversationID
	}

	h.streamAnswer(c, result.AnswerText)

	c.WriteJSON(map[string]interface{}{
		"type":               "complete",
		"conversation_id":    result.ConversationID,
		"response_id":        result.ResponseID,
		"persona":            result.Persona,
		"sources":            result.RetrievedDocIDs,
		"feedback_requested": result.FeedbackRequested,
	})

	return result.ConversationID
}

func (h *WebSocketHandler) handleFeedback(c *websocket.Conn, responseID string, satisfaction, relevance int) {
	err := h.manager.SubmitFeedback(context.Background(), responseID, satisfaction, relevance)
	if err != nil {
		logger.Error("WebSocket feedback failed", zap.Error(err))
		h.sendError(c, "Failed to record feedback")
		return
	}

	c.WriteJSON(map[string]interface{}{
		"type":        "feedback_recorded",
		"response_id": responseID,
	})
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, answer string) {
	words := splitIntoWords(answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		err := c.WriteJSON(map[string]interface{}{
			"type":    "chunk",
			"content": chunk,
		})
		if err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
