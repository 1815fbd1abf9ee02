package models

import (
	"context"
	"time"
)

type runContextKey struct{}

// RunContext carries batch run details through context so backends can
// stamp refresh transactions with the run that produced them without
// changing the CreditStore interface.
type RunContext struct {
	RunId     string     // uuid of the batch run
	Trigger   RunTrigger // scheduled or manual
	StartedAt time.Time
}

// WithRunContext attaches batch run data to a context.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// GetRunContext retrieves batch run data from context, or nil if absent.
func GetRunContext(ctx context.Context) *RunContext {
	rc, _ := ctx.Value(runContextKey{}).(*RunContext)
	return rc
}
