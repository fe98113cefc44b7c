package walker

import (
	"context"
)

// QueueRunner executes one suite's batch plan to completion.
//
// General contract
//   - Stages run strictly in order. A stage does not start before the
//     previous stage has fully completed.
//   - All units of a group stage are started together; the stage completes
//     only when every unit has returned. No ordering between them is implied.
//   - An error returned by a unit, or a panic raised in it, is delivered to
//     cfg.OnException. It does not abort sibling units nor later stages.
//   - Run returns only after every scheduled unit has returned. The returned
//     error is reserved for failures of the runner itself (for example a
//     cancelled context it chose to surface); unit errors go to OnException.
//   - Units must be able to reach cfg.UserContext via UserContext(ctx).
//
// Implementations may bound the concurrency of a group or apply per-unit
// timeouts, as long as the ordering and completion rules above hold.
type QueueRunner interface {
	Run(ctx context.Context, cfg QueueConfig) error
}

// QueueConfig is everything the walker hands to the runner for one suite
// activation.
type QueueConfig struct {
	// OnException receives uncaught unit errors. Never nil.
	OnException func(err error)
	// Plan is the ordered list of stages to run.
	Plan Plan
	// UserContext is the suite's shared user context for this activation.
	UserContext any
}

type userContextKey struct{}

// WithUserContext returns a copy of ctx carrying uc.
func WithUserContext(ctx context.Context, uc any) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserContext returns the user context stored by WithUserContext, or nil.
func UserContext(ctx context.Context) any {
	return ctx.Value(userContextKey{})
}
