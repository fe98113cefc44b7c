// Package runner executes suite plans: it wires the queue runner and the
// walker together, tags each run with an id and publishes run events.
package runner

import (
	"context"
	"log/slog"
	"time"

	config "github.com/hanpama/suitetree/internal/config"
	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	logging "github.com/hanpama/suitetree/internal/logging"
	queue "github.com/hanpama/suitetree/internal/queue"
	runid "github.com/hanpama/suitetree/internal/runid"
	suite "github.com/hanpama/suitetree/internal/suite"
	tree "github.com/hanpama/suitetree/internal/tree"
	walker "github.com/hanpama/suitetree/internal/walker"
)

// Runner runs plans with the settings it was created with. A single Plan
// must not be run by two goroutines at once.
type Runner struct {
	queue  walker.QueueRunner
	logger *slog.Logger
}

type Option func(*Runner)

// WithLogger overrides the logger. Default is logging.New("runner").
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithQueueRunner replaces the queue runner built from the configuration.
func WithQueueRunner(q walker.QueueRunner) Option { return func(r *Runner) { r.queue = q } }

func New(cfg *config.Config, opts ...Option) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runner{logger: logging.New("runner")}
	for _, f := range opts {
		f(r)
	}
	if r.queue == nil {
		r.queue = queue.New(
			queue.WithMaxConcurrency(cfg.MaxConcurrency),
			queue.WithTimeout(cfg.Timeout),
			queue.WithLogger(r.logger.With(slog.String("component", "queue"))),
		)
	}
	return r
}

// Run walks p and returns its report. The run id already in ctx is reused;
// otherwise a new one is assigned. The returned error is only set for a
// malformed tree, in which case nothing was executed.
func (r *Runner) Run(ctx context.Context, p *suite.Plan) (*suite.Report, error) {
	id, ok := runid.FromContext(ctx)
	if !ok {
		ctx, id = runid.NewContext(ctx)
	}
	log := r.logger.With(slog.String("run_id", id), slog.String("plan", p.Name))

	w := r.walker(ctx, p)
	if _, err := w.Describe(p.Root); err != nil {
		log.Error("invalid plan", "error", err)
		return nil, err
	}

	p.Reset()
	log.Info("run started", "specs", len(tree.Leaves(p.Root)), "focus", p.RunnableIDs)
	eventbus.Publish(ctx, events.RunStart{Name: p.Name, RunnableIDs: p.RunnableIDs})
	start := time.Now()

	if err := w.Run(ctx, p.Root); err != nil {
		log.Error("run aborted", "error", err)
		return nil, err
	}

	rep := p.Report(time.Since(start))
	rep.RunID = id
	eventbus.Publish(ctx, events.RunFinish{
		Name:     p.Name,
		Passed:   rep.Passed,
		Failed:   rep.Failed,
		Skipped:  rep.Skipped,
		Excluded: rep.Excluded,
		Errors:   rep.SuiteErrors,
		Duration: rep.Duration,
	})
	log.Info("run finished",
		"passed", rep.Passed,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"excluded", rep.Excluded,
		"suite_errors", rep.SuiteErrors,
		"duration", rep.Duration,
	)
	return rep, nil
}

// Describe returns the batch plan of every suite of p without running it.
func (r *Runner) Describe(p *suite.Plan) ([]walker.SuitePlan, error) {
	return r.walker(context.Background(), p).Describe(p.Root)
}

func (r *Runner) walker(ctx context.Context, p *suite.Plan) *walker.Walker {
	return walker.New(r.queue,
		walker.WithRunnableIDs(p.RunnableIDs...),
		walker.WithNodeStart(func(s *tree.Suite) { p.StartSuite(ctx, s) }),
		walker.WithNodeComplete(func(s *tree.Suite) { p.CompleteSuite(ctx, s) }),
	)
}
