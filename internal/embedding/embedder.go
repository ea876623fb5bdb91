package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/haloview/tvbrain/internal/types"
)

// Embedder defines the interface contract for embedding generation services.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}

// ContextText renders a view context into the canonical text fed to the
// embedder. Recommendation and observation must agree on this rendering so
// queries land near the patterns learned from events.
func ContextText(vc types.ViewContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "user=%s time=%02d:00 dow=%d", vc.UserID, vc.TimeOfDay, vc.DayOfWeek)
	if vc.CurrentGenre != "" {
		fmt.Fprintf(&b, " genre=%s", vc.CurrentGenre)
	}
	if len(vc.PreviousContent) > 0 {
		fmt.Fprintf(&b, " prev=%s", strings.Join(vc.PreviousContent, ","))
	}
	fmt.Fprintf(&b, " session=%dm", vc.SessionDurationMins)
	return b.String()
}

// EventText renders a viewing event into the canonical embedding text.
func EventText(e types.ViewingEvent) string {
	return fmt.Sprintf("content=%s type=%s genre=%s watch=%.2f engagement=%.2f",
		e.ContentID, e.ContentType, e.Genre, e.WatchPercentage, e.EngagementScore)
}
