package embedding

import (
	"fmt"
	"path/filepath"

	"github.com/haloview/tvbrain/internal/config"
)

// ONNXConfig configures the on-device MiniLM embedder.
type ONNXConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// VocabPath is the path to the WordPiece vocab.txt file. Empty
	// defaults to vocab.txt beside the model.
	VocabPath string

	// LibraryPath is the path to libonnxruntime.so. Empty uses the
	// onnxruntime default search path.
	LibraryPath string

	// Dimension is the embedding vector size (default 384 for all-MiniLM-L6-v2).
	Dimension int
}

// onnxFactory is installed by the onnx build tag. Without the tag the
// provider is unavailable.
var onnxFactory func(ONNXConfig) (Embedder, error)

// NewFromConfig constructs the configured embedding provider, wrapped in
// the ristretto cache when a cache size is set.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Provider {
	case "", "local":
		inner = NewLocal(cfg.Dimension)
	case "openai":
		inner = NewOpenAI(cfg.APIKey, cfg.Model)
	case "onnx":
		if onnxFactory == nil {
			return nil, fmt.Errorf("embedding provider %q requires a binary built with the onnx tag", cfg.Provider)
		}
		inner, err = onnxFactory(ONNXConfig{
			ModelPath: cfg.ModelPath,
			VocabPath: filepath.Join(filepath.Dir(cfg.ModelPath), "vocab.txt"),
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("create onnx embedder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCached(inner, cfg.CacheSize)
	}
	return inner, nil
}
