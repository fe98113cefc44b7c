// Package queue provides the goroutine-backed walker.QueueRunner used by
// suitetree runs.
//
// Stages run one after another. A group stage fans its units out on a
// bounded pool and waits for all of them. Errors and panics of individual
// units are sent to the suite's exception sink and never stop the plan:
// every unit of every stage is attempted, even after the context has been
// cancelled, so each node still gets to report its own completion.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	walker "github.com/hanpama/suitetree/internal/walker"
)

// ErrTimeout is reported when a hook runs past the configured timeout.
var ErrTimeout = errors.New("queue: timeout exceeded")

// Runner implements walker.QueueRunner.
type Runner struct {
	opt Options
}

type Options struct {
	// MaxConcurrency bounds how many units of one group stage run at once.
	// Values below 1 mean 1.
	MaxConcurrency int
	// Timeout bounds each before-all and after-all hook that carries no
	// timeout of its own. 0 disables it. Leaves and child suites are not
	// bounded here; leaves enforce their own timeout.
	//
	// The deadline cancels the hook's context, but the stage still waits
	// for the hook to return: later stages never overlap a running hook. A
	// hook that ignores its context holds its suite until it returns, and
	// is reported with ErrTimeout then.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Option func(*Options)

func WithMaxConcurrency(n int) Option    { return func(o *Options) { o.MaxConcurrency = n } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithLogger(l *slog.Logger) Option   { return func(o *Options) { o.Logger = l } }

func New(opts ...Option) *Runner {
	op := Options{MaxConcurrency: 5}
	for _, f := range opts {
		f(&op)
	}
	if op.MaxConcurrency < 1 {
		op.MaxConcurrency = 1
	}
	if op.Logger == nil {
		op.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{opt: op}
}

// Run executes cfg.Plan. It always returns nil once every unit returned.
func (r *Runner) Run(ctx context.Context, cfg walker.QueueConfig) error {
	ctx = walker.WithUserContext(ctx, cfg.UserContext)
	sink := cfg.OnException
	if sink == nil {
		sink = func(error) {}
	}
	for i, st := range cfg.Plan {
		if !st.Group {
			for _, u := range st.Units {
				r.report(sink, r.runUnit(ctx, u))
			}
			continue
		}
		r.opt.Logger.Debug("group stage", "stage", i, "units", len(st.Units))
		p := pool.NewWithResults[error]().WithMaxGoroutines(r.opt.MaxConcurrency)
		for _, u := range st.Units {
			u := u
			p.Go(func() error { return r.runUnit(ctx, u) })
		}
		for _, err := range p.Wait() {
			r.report(sink, err)
		}
	}
	return nil
}

func (r *Runner) report(sink func(error), err error) {
	if err == nil {
		return
	}
	r.opt.Logger.Debug("unit error", "error", err)
	sink(err)
}

func (r *Runner) runUnit(ctx context.Context, u walker.Unit) error {
	parent := ctx
	timeout := u.Timeout
	if timeout == 0 {
		timeout = r.opt.Timeout
	}
	timed := timeout > 0 && (u.Kind == walker.UnitBeforeAll || u.Kind == walker.UnitAfterAll)
	if timed {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = u.Fn(ctx) })
	if rec := pc.Recovered(); rec != nil {
		return fmt.Errorf("%s: %w", u.Name, rec.AsError())
	}
	if timed && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not finish within %s", ErrTimeout, u.Name, timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", u.Name, err)
	}
	return nil
}
