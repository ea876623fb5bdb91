// Package vector provides nearest-neighbor search over stored pattern
// embeddings, backed by chromem-go, a pure Go embedded vector database.
package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID    string
	Score float32
}

// Index is the nearest-neighbor search contract used by the orchestrator
// and observation pipeline.
type Index interface {
	Add(ctx context.Context, id string, embedding []float32, metadata map[string]string) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Remove(ctx context.Context, ids ...string) error
	Count() int
}

// ChromemIndex wraps a single chromem collection holding pattern embeddings.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
	mu  sync.RWMutex
}

// NewChromemIndex creates an in-memory index with one collection.
func NewChromemIndex() (*ChromemIndex, error) {
	db := chromem.NewDB()

	// Embeddings are always supplied by the caller, so no embedding func
	// or custom distance func is registered.
	col, err := db.CreateCollection("patterns", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemIndex{db: db, col: col}, nil
}

// Add stores or replaces an embedding under the given id.
func (ix *ChromemIndex) Add(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: embedding,
		Metadata:  metadata,
	}

	if err := ix.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns the k nearest stored embeddings by cosine similarity.
// Fewer than k hits are returned when the collection is smaller than k.
func (ix *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// chromem requires nResults <= collection size
	count := ix.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := ix.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.ID, Score: r.Similarity}
	}
	return hits, nil
}

// Remove deletes the given ids from the index. Unknown ids are ignored.
func (ix *ChromemIndex) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (ix *ChromemIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.col.Count()
}
