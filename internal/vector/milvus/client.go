package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/metrics"
	"github.com/voicerag/backend/internal/rerank"
	"github.com/voicerag/backend/pkg/logger"
	"github.com/voicerag/backend/pkg/utils"
)

const (
	embeddingCacheTTL = 24 * time.Hour
	retrievalCacheTTL = 5 * time.Minute
)

// Embedder turns text into a query vector. *llm.Client satisfies it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can batch round trips.
// *llm.Client satisfies it.
type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache is the optional embedding and candidate cache. *redis.Client
// satisfies it; a nil Cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
	GetCandidates(ctx context.Context, querySig string, candidates interface{}) (bool, error)
	SetCandidates(ctx context.Context, querySig string, candidates interface{}, ttl time.Duration) error
	InvalidateRetrievalCache(ctx context.Context) error
}

type Client struct {
	client         client.Client
	embedder       Embedder
	cache          Cache
	collectionName string
	vectorDim      int
}

type Document struct {
	ID        string
	Embedding []float32
	Text      string
	Title     string
	Source    string
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int, embedder Embedder, cache Cache) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		embedder:       embedder,
		cache:          cache,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document passage embeddings",
		Fields: []*entity.Field{
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "title",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "source",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Inner product so a larger score is a closer match.
	idx, _ := entity.NewIndexIvfFlat(entity.IP, 1024)
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	texts := make([]string, len(docs))
	titles := make([]string, len(docs))
	sources := make([]string, len(docs))

	for i, doc := range docs {
		ids[i] = doc.ID
		embeddings[i] = doc.Embedding
		texts[i] = doc.Text
		titles[i] = doc.Title
		sources[i] = doc.Source
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("document_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("source", sources),
	)

	if err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Documents inserted into vector DB", zap.Int("count", len(docs)))

	return nil
}

// Search embeds the query and returns the k nearest passages as rerank
// candidates, highest similarity first.
func (m *Client) Search(ctx context.Context, query string, k int) ([]rerank.Candidate, error) {
	querySig := candidateCacheKey(query, k)

	if m.cache != nil {
		var cached []rerank.Candidate
		hit, err := m.cache.GetCandidates(ctx, querySig, &cached)
		if err != nil {
			logger.Warn("Retrieval cache lookup failed", zap.Error(err))
		} else if hit && len(cached) > 0 {
			return cached, nil
		}
	}

	embedding, err := m.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"document_id", "text"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	candidates := make([]rerank.Candidate, 0, k)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("document_id")
		textCol := sr.Fields.GetColumn("text")

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			text, _ := textCol.Get(i)

			candidates = append(candidates, rerank.Candidate{
				DocumentID: id.(string),
				Score:      float64(sr.Scores[i]),
				Passage:    text.(string),
			})
		}
	}

	metrics.VectorResultsCount.Observe(float64(len(candidates)))

	logger.Info("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(candidates)),
	)

	if m.cache != nil && len(candidates) > 0 {
		if err := m.cache.SetCandidates(ctx, querySig, candidates, retrievalCacheTTL); err != nil {
			logger.Warn("Failed to cache retrieval candidates", zap.Error(err))
		}
	}

	return candidates, nil
}

// candidateCacheKey folds k into the key: a cached list for one depth must
// never serve a request for another.
func candidateCacheKey(query string, k int) string {
	return fmt.Sprintf("%s:k%d", utils.QuerySignature(query), k)
}

// IndexDocuments embeds passages that arrive without a vector, inserts the
// batch, and drops cached candidate lists so the new passages become
// retrievable immediately.
func (m *Client) IndexDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var missing []int
	var texts []string
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, doc.Text)
		}
	}

	if len(missing) > 0 {
		embeddings, err := m.embedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed documents: %w", err)
		}
		for j, i := range missing {
			docs[i].Embedding = embeddings[j]
		}
	}

	if err := m.Insert(ctx, docs); err != nil {
		return err
	}

	if m.cache != nil {
		if err := m.cache.InvalidateRetrievalCache(ctx); err != nil {
			logger.Warn("Failed to invalidate retrieval cache", zap.Error(err))
		}
	}

	return nil
}

func (m *Client) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if be, ok := m.embedder.(BatchEmbedder); ok {
		return be.GenerateBatchEmbeddings(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := m.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

func (m *Client) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	textHash := utils.HashString(query)

	if m.cache != nil {
		embedding, hit, err := m.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		} else if hit {
			metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
			return embedding, nil
		}
		metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
	}

	embedding, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.SetEmbedding(ctx, textHash, embedding, embeddingCacheTTL); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}
