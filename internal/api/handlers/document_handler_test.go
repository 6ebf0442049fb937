package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicerag/backend/internal/vector/milvus"
)

type stubIndexer struct {
	docs []milvus.Document
	err  error
}

func (s *stubIndexer) IndexDocuments(_ context.Context, docs []milvus.Document) error {
	s.docs = append(s.docs, docs...)
	return s.err
}

func documentApp(indexer *stubIndexer) *fiber.App {
	app := fiber.New()
	app.Post("/api/v1/documents", NewDocumentHandler(indexer).UploadDocuments)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestUploadDocumentsIndexesBatch(t *testing.T) {
	indexer := &stubIndexer{}
	app := documentApp(indexer)

	resp := postJSON(t, app, "/api/v1/documents", `{
		"documents": [
			{"id": "doc-a", "text": "passage a", "title": "A", "source": "handbook"},
			{"id": "doc-b", "text": "passage b"}
		]
	}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, indexer.docs, 2)
	assert.Equal(t, "doc-a", indexer.docs[0].ID)
	assert.Equal(t, "handbook", indexer.docs[0].Source)
}

func TestUploadDocumentsRejectsEmptyBatch(t *testing.T) {
	indexer := &stubIndexer{}
	app := documentApp(indexer)

	resp := postJSON(t, app, "/api/v1/documents", `{"documents": []}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, indexer.docs)
}

func TestUploadDocumentsRequiresIDAndText(t *testing.T) {
	indexer := &stubIndexer{}
	app := documentApp(indexer)

	resp := postJSON(t, app, "/api/v1/documents", `{
		"documents": [{"id": "doc-a"}]
	}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, indexer.docs)
}

func TestUploadDocumentsIndexerFailure(t *testing.T) {
	indexer := &stubIndexer{err: errors.New("vector db unavailable")}
	app := documentApp(indexer)

	resp := postJSON(t, app, "/api/v1/documents", `{
		"documents": [{"id": "doc-a", "text": "passage a"}]
	}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
