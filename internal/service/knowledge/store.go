package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

var ErrNoEmbedder = errors.New("knowledge store has no embedder")

// Store keeps embedded chunks in memory and ranks them by cosine similarity.
type Store struct {
	embedder embedding.Embedder
	topK     int
	minScore float64

	mu   sync.RWMutex
	docs []*schema.Document
}

var (
	_ indexer.Indexer     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore(embedder embedding.Embedder, topK int, minScore float64) *Store {
	if topK <= 0 {
		topK = 4
	}
	return &Store{embedder: embedder, topK: topK, minScore: minScore}
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Store embeds and indexes docs.
func (s *Store) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	options := indexer.GetCommonOptions(&indexer.Options{Embedding: s.embedder}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := options.Embedding.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		stored := &schema.Document{ID: doc.ID, Content: doc.Content, MetaData: copyMeta(doc.MetaData)}
		if stored.ID == "" {
			stored.ID = fmt.Sprintf("chunk-%d", len(s.docs))
		}
		stored.WithDenseVector(vectors[i])
		s.docs = append(s.docs, stored)
		ids[i] = stored.ID
	}
	return ids, nil
}

// Retrieve returns the chunks nearest to query, best first.
func (s *Store) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := s.topK
	minScore := s.minScore
	options := retriever.GetCommonOptions(&retriever.Options{
		TopK:           &topK,
		ScoreThreshold: &minScore,
		Embedding:      s.embedder,
	}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	if s.Len() == 0 {
		return nil, nil
	}

	vectors, err := options.Embedding.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d want 1", len(vectors))
	}
	queryVec := vectors[0]

	s.mu.RLock()
	scored := make([]*schema.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		score := cosine(queryVec, doc.DenseVector())
		if options.ScoreThreshold != nil && score < *options.ScoreThreshold {
			continue
		}
		hit := &schema.Document{ID: doc.ID, Content: doc.Content, MetaData: copyMeta(doc.MetaData)}
		scored = append(scored, hit.WithScore(score))
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score() > scored[j].Score() })
	if options.TopK != nil && *options.TopK > 0 && len(scored) > *options.TopK {
		scored = scored[:*options.TopK]
	}
	return scored, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
