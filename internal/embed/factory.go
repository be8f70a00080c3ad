package embed

import (
	"context"
	"fmt"

	"github.com/lballaty/myragdb/internal/config"
	ragerr "github.com/lballaty/myragdb/internal/errors"
)

// New creates the embedder named by the embeddings config.
func New(ctx context.Context, cfg config.EmbeddingsConfig, batchSize int) (Embedder, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticEmbedder(), nil

	case "ollama":
		return NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  batchSize,
		})

	default:
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("use \"static\" or \"ollama\"")
	}
}
