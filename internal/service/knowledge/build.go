package knowledge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Build extracts the document at path, splits it and indexes every chunk.
func Build(ctx context.Context, path string, splitter *Splitter, idx indexer.Indexer) (int, error) {
	text, err := ExtractText(path)
	if err != nil {
		return 0, fmt.Errorf("failed to extract %s: %w", path, err)
	}

	chunks := splitter.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks", path)
	}

	source := filepath.Base(path)
	docs := make([]*schema.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = &schema.Document{
			ID:       fmt.Sprintf("%s#%d", source, i),
			Content:  chunk,
			MetaData: map[string]any{"source": source, "chunk": i},
		}
	}

	if _, err := idx.Store(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", path, err)
	}

	logger().Infow("knowledge index built", "source", source, "chunks", len(docs))
	return len(docs), nil
}

func logger() *zap.SugaredLogger {
	return zap.S()
}
