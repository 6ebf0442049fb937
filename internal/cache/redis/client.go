package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voicerag/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// SetCandidates caches raw retrieval candidates keyed by query signature.
// Only pre-boost results are cached; feedback boosts are applied on read,
// so a cached list never pins stale rankings.
func (c *Client) SetCandidates(ctx context.Context, querySig string, candidates interface{}, ttl time.Duration) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("retrieval:%s", querySig), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set retrieval cache: %w", err)
	}

	logger.Debug("Retrieval candidates cached", zap.String("query_sig", querySig), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetCandidates(ctx context.Context, querySig string, candidates interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("retrieval:%s", querySig)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get retrieval cache: %w", err)
	}

	err = json.Unmarshal(data, candidates)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}

	logger.Debug("Retrieval cache hit", zap.String("query_sig", querySig))
	return true, nil
}

// InvalidateRetrievalCache drops all cached candidate lists, for use after
// corpus updates.
func (c *Client) InvalidateRetrievalCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "retrieval:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Retrieval cache invalidated")
	return nil
}
