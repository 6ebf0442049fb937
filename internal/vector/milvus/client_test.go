package milvus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	getKeys    []string
	invalidate int
}

func (c *recordingCache) GetEmbedding(_ context.Context, _ string) ([]float32, bool, error) {
	return nil, false, nil
}

func (c *recordingCache) SetEmbedding(_ context.Context, _ string, _ []float32, _ time.Duration) error {
	return nil
}

func (c *recordingCache) GetCandidates(_ context.Context, querySig string, _ interface{}) (bool, error) {
	c.getKeys = append(c.getKeys, querySig)
	return false, nil
}

func (c *recordingCache) SetCandidates(_ context.Context, _ string, _ interface{}, _ time.Duration) error {
	return nil
}

func (c *recordingCache) InvalidateRetrievalCache(_ context.Context) error {
	c.invalidate++
	return nil
}

type failingEmbedder struct{}

func (failingEmbedder) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

type singleEmbedder struct {
	calls int
}

func (e *singleEmbedder) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return []float32{0.1, 0.2}, nil
}

type batchEmbedder struct {
	singleEmbedder
	batchCalls int
}

func (e *batchEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestCandidateCacheKeyIncludesDepth(t *testing.T) {
	k3 := candidateCacheKey("how do refunds work?", 3)
	k5 := candidateCacheKey("how do refunds work?", 5)

	assert.NotEqual(t, k3, k5)
	assert.Contains(t, k3, ":k3")
	assert.Contains(t, k5, ":k5")

	// Same normalized query and depth share a key.
	assert.Equal(t, k3, candidateCacheKey("  How   do refunds WORK? ", 3))
}

func TestSearchCacheLookupIsDepthScoped(t *testing.T) {
	cache := &recordingCache{}
	m := &Client{cache: cache, embedder: failingEmbedder{}}

	_, err := m.Search(context.Background(), "how do refunds work?", 3)
	require.Error(t, err)
	_, err = m.Search(context.Background(), "how do refunds work?", 5)
	require.Error(t, err)

	require.Len(t, cache.getKeys, 2)
	assert.NotEqual(t, cache.getKeys[0], cache.getKeys[1])
}

func TestEmbedTextsPrefersBatch(t *testing.T) {
	be := &batchEmbedder{}
	m := &Client{embedder: be}

	embeddings, err := m.embedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Len(t, embeddings, 3)
	assert.Equal(t, 1, be.batchCalls)
	assert.Equal(t, 0, be.calls)
}

func TestEmbedTextsFallsBackToSingleCalls(t *testing.T) {
	se := &singleEmbedder{}
	m := &Client{embedder: se}

	embeddings, err := m.embedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Len(t, embeddings, 2)
	assert.Equal(t, 2, se.calls)
}

func TestIndexDocumentsEmbedFailureAborts(t *testing.T) {
	cache := &recordingCache{}
	m := &Client{cache: cache, embedder: failingEmbedder{}}

	err := m.IndexDocuments(context.Background(), []Document{
		{ID: "doc-a", Text: "passage a"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, cache.invalidate, "nothing indexed means nothing to invalidate")
}

func TestIndexDocumentsEmptyBatchIsANoOp(t *testing.T) {
	m := &Client{}
	require.NoError(t, m.IndexDocuments(context.Background(), nil))
}
