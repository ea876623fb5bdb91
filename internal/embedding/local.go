package embedding

import (
	"context"
	"hash/fnv"
	"math/rand"

	"github.com/haloview/tvbrain/internal/vector"
)

// Compile-time interface check
var _ Embedder = (*Local)(nil)

// Local is the on-device fallback embedder. It produces deterministic,
// L2-normalized pseudo-embeddings seeded from the input text, so identical
// inputs always map to identical vectors and the engine stays functional
// with no model file and no network.
type Local struct {
	dimension int
}

// NewLocal creates a deterministic local embedder of the given width.
func NewLocal(dimension int) *Local {
	return &Local{dimension: dimension}
}

// Embed generates a deterministic normalized vector for the text.
func (l *Local) Embed(_ context.Context, content string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(content))
	seed := int64(h.Sum64())

	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, l.dimension)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}

	return vector.Normalize(v), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (l *Local) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i, c := range contents {
		v, err := l.Embed(ctx, c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelName returns the embedder identifier.
func (l *Local) ModelName() string {
	return "local-deterministic"
}
