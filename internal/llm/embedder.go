package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/sashabaranov/go-openai"
)

// EmbedderConfig configures the OpenAI embeddings endpoint.
type EmbedderConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
}

// OpenAIEmbedder implements embedding.Embedder over the embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	batchSize int
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a batched embedder.
func NewOpenAIEmbedder(cfg EmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		batchSize: batch,
	}
}

// EmbedStrings embeds texts in order, batching requests.
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(resp.Data), end-start)
		}

		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, item := range data {
			vec := make([]float64, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float64(v)
			}
			vectors = append(vectors, vec)
		}
	}
	return vectors, nil
}
