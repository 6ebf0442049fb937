package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/vector/milvus"
	"github.com/voicerag/backend/pkg/logger"
)

// Indexer seeds the corpus. *milvus.Client satisfies it.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []milvus.Document) error
}

type DocumentHandler struct {
	indexer Indexer
}

func NewDocumentHandler(indexer Indexer) *DocumentHandler {
	return &DocumentHandler{
		indexer: indexer,
	}
}

// UploadDocuments accepts a batch of pre-chunked passages and makes them
// retrievable. Chunking happens upstream; this is the seeding surface only.
func (h *DocumentHandler) UploadDocuments(c *fiber.Ctx) error {
	var req struct {
		Documents []struct {
			ID     string `json:"id"`
			Text   string `json:"text"`
			Title  string `json:"title"`
			Source string `json:"source"`
		} `json:"documents"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Documents) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one document is required",
		})
	}

	docs := make([]milvus.Document, len(req.Documents))
	for i, d := range req.Documents {
		if d.ID == "" || d.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Every document needs an id and text",
			})
		}
		docs[i] = milvus.Document{
			ID:     d.ID,
			Text:   d.Text,
			Title:  d.Title,
			Source: d.Source,
		}
	}

	if err := h.indexer.IndexDocuments(c.Context(), docs); err != nil {
		logger.Error("Failed to index documents", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to index documents",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "indexed",
		"indexed": len(docs),
	})
}
