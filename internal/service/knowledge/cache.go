package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/redis/go-redis/v9"
)

const embeddingCacheTTL = 30 * 24 * time.Hour

// CachedEmbedder stores vectors in Redis keyed by model and text digest.
type CachedEmbedder struct {
	next  embedding.Embedder
	rc    redis.UniversalClient
	model string
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with a Redis cache.
func NewCachedEmbedder(next embedding.Embedder, rc redis.UniversalClient, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, rc: rc, model: model}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// EmbedStrings serves hits from Redis and embeds only the misses.
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float64, len(texts))
	cached, err := c.rc.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger().Warnw("embedding cache read fail", "err", err)
		cached = nil
	}

	var missing []int
	for i := range texts {
		if i < len(cached) {
			if raw, ok := cached[i].(string); ok {
				var vec []float64
				if json.Unmarshal([]byte(raw), &vec) == nil && len(vec) > 0 {
					vectors[i] = vec
					continue
				}
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	missTexts := make([]string, len(missing))
	for j, i := range missing {
		missTexts[j] = texts[i]
	}
	fresh, err := c.next.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(fresh), len(missing))
	}

	pipe := c.rc.Pipeline()
	for j, i := range missing {
		vectors[i] = fresh[j]
		b, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], b, embeddingCacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger().Warnw("embedding cache write fail", "err", err)
	}

	logger().Debugw("embedded texts", "hits", len(texts)-len(missing), "misses", len(missing))
	return vectors, nil
}
