package vector

import (
	"context"
	"testing"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestChromemIndex_AddAndSearch(t *testing.T) {
	ix, err := NewChromemIndex()
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}
	ctx := context.Background()

	if err := ix.Add(ctx, "p1", unitVec(8, 0), nil); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if err := ix.Add(ctx, "p2", unitVec(8, 1), nil); err != nil {
		t.Fatalf("add p2: %v", err)
	}
	if ix.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", ix.Count())
	}

	hits, err := ix.Search(ctx, unitVec(8, 0), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].ID != "p1" {
		t.Errorf("nearest = %q, want p1", hits[0].ID)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("similarity = %f, want ~1.0", hits[0].Score)
	}
}

func TestChromemIndex_SearchEmpty(t *testing.T) {
	ix, err := NewChromemIndex()
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	hits, err := ix.Search(context.Background(), unitVec(8, 0), 5)
	if err != nil {
		t.Fatalf("search on empty index: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty index, want 0", len(hits))
	}
}

func TestChromemIndex_KClampedToSize(t *testing.T) {
	ix, err := NewChromemIndex()
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}
	ctx := context.Background()

	if err := ix.Add(ctx, "only", unitVec(8, 3), nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Asking for more results than stored documents must not fail.
	hits, err := ix.Search(ctx, unitVec(8, 3), 50)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestChromemIndex_Remove(t *testing.T) {
	ix, err := NewChromemIndex()
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}
	ctx := context.Background()

	if err := ix.Add(ctx, "gone", unitVec(8, 2), nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Remove(ctx, "gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ix.Count() != 0 {
		t.Errorf("Count() after remove = %d, want 0", ix.Count())
	}
}
