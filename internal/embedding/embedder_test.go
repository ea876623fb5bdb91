package embedding

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/haloview/tvbrain/internal/types"
)

func TestLocal_Deterministic(t *testing.T) {
	e := NewLocal(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "content=movie-1 genre=action")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "content=movie-1 genre=action")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if len(a) != 384 {
		t.Fatalf("embedding length = %d, want 384", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestLocal_Normalized(t *testing.T) {
	e := NewLocal(384)

	v, err := e.Embed(context.Background(), "some context text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 0.01 {
		t.Errorf("embedding norm = %f, want ~1.0", math.Sqrt(sum))
	}
}

func TestLocal_DistinctInputsDiffer(t *testing.T) {
	e := NewLocal(384)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "genre=action")
	b, _ := e.Embed(ctx, "genre=documentary")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced identical embeddings")
	}
}

// countingEmbedder wraps Local and counts inner calls.
type countingEmbedder struct {
	*Local
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	c.calls++
	return c.Local.Embed(ctx, content)
}

func TestCached_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{Local: NewLocal(16)}
	cached, err := NewCached(inner, 100)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "repeated"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	cached.Wait()

	for i := 0; i < 5; i++ {
		if _, err := cached.Embed(ctx, "repeated"); err != nil {
			t.Fatalf("embed: %v", err)
		}
	}

	if inner.calls != 1 {
		t.Errorf("inner embedder called %d times, want 1", inner.calls)
	}
}

func TestContextText(t *testing.T) {
	vc := types.ViewContext{
		UserID:              "u1",
		TimeOfDay:           20,
		DayOfWeek:           5,
		CurrentGenre:        "action",
		PreviousContent:     []string{"movie-1", "movie-2"},
		SessionDurationMins: 30,
	}

	text := ContextText(vc)
	for _, want := range []string{"user=u1", "time=20:00", "dow=5", "genre=action", "prev=movie-1,movie-2", "session=30m"} {
		if !strings.Contains(text, want) {
			t.Errorf("ContextText missing %q: %s", want, text)
		}
	}
}

func TestEventText(t *testing.T) {
	e := types.ViewingEvent{
		ContentID:       "movie-1",
		ContentType:     "movie",
		Genre:           "drama",
		WatchPercentage: 0.85,
		EngagementScore: 0.7,
	}

	text := EventText(e)
	for _, want := range []string{"content=movie-1", "type=movie", "genre=drama", "watch=0.85", "engagement=0.70"} {
		if !strings.Contains(text, want) {
			t.Errorf("EventText missing %q: %s", want, text)
		}
	}
}
