package suite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sourcegraph/conc/panics"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	tree "github.com/hanpama/suitetree/internal/tree"
	walker "github.com/hanpama/suitetree/internal/walker"
)

// ErrSpecTimeout is the failure recorded for a spec that ran past its
// timeout.
var ErrSpecTimeout = errors.New("spec timed out")

// ErrUnknownID is returned by Plan.Focus for an id that is not in the tree.
var ErrUnknownID = errors.New("suite: unknown node id")

type suiteNode struct {
	node    *tree.Suite
	parent  *suiteNode
	result  *SuiteResult
	skip    bool
	timeout time.Duration

	// initial seeds the root activation; vars is the current activation's
	// user context.
	initial *Vars
	vars    *Vars
	started time.Time
	// ctx is the context of the current activation, used to publish
	// exceptions.
	ctx context.Context
}

func (s *suiteNode) sharedUserContext() any {
	if s.parent == nil {
		s.vars = s.initial.Clone()
	} else {
		s.vars = s.parent.vars.Clone()
	}
	return s.vars
}

func (s *suiteNode) onException(err error) {
	s.result.addError(err)
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	eventbus.Publish(ctx, events.Exception{NodeID: s.node.NodeID, Err: err})
}

func (s *suiteNode) hook(body Body) tree.Hook {
	return func(ctx context.Context) error {
		vars, _ := walker.UserContext(ctx).(*Vars)
		if vars == nil {
			vars = s.vars
		}
		return body(ctx, vars)
	}
}

type specNode struct {
	leaf    *tree.Leaf
	parent  *suiteNode
	body    Body
	timeout time.Duration
	result  *SpecResult
}

// execute is the leaf's Execute. It always returns nil; the outcome is
// recorded on the spec result.
func (sp *specNode) execute(ctx context.Context, enabled bool) error {
	r := sp.result
	eventbus.Publish(ctx, events.SpecStart{ID: r.ID, SuiteID: sp.parent.node.NodeID, FullName: r.FullName})
	start := time.Now()

	var runErr error
	switch {
	case !enabled:
		r.Status = StatusExcluded
	case sp.leaf.Disabled:
		r.Status = StatusSkipped
	default:
		runErr = sp.run(ctx)
		if runErr != nil {
			r.Status = StatusFailed
			r.Error = runErr.Error()
		} else {
			r.Status = StatusPassed
		}
	}
	r.Duration = time.Since(start)

	eventbus.Publish(ctx, events.SpecFinish{
		ID:       r.ID,
		SuiteID:  sp.parent.node.NodeID,
		FullName: r.FullName,
		Status:   string(r.Status),
		Err:      runErr,
		Duration: r.Duration,
	})
	return nil
}

// run calls the body. Past the timeout the spec fails right away, even if
// the body ignores its context; the body is left to return on its own.
func (sp *specNode) run(ctx context.Context) error {
	vars := sp.parent.vars.Clone()
	if sp.timeout <= 0 {
		return sp.call(ctx, vars)
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, sp.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sp.call(ctx, vars) }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if parent.Err() != nil {
			err = <-done
		}
	}
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrSpecTimeout, sp.timeout)
	}
	return err
}

func (sp *specNode) call(ctx context.Context, vars *Vars) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = sp.body(ctx, vars) })
	if rec := pc.Recovered(); rec != nil {
		return rec.AsError()
	}
	return err
}

// Plan is a built tree ready to be walked, together with the results its
// nodes write into. A Plan can be run repeatedly; Reset clears the results.
type Plan struct {
	Name        string
	Root        *tree.Suite
	RunnableIDs []string
	Result      *SuiteResult

	suites map[string]*suiteNode
	specs  []*specNode
}

// Focus adds ids to the run filter.
func (p *Plan) Focus(ids ...string) error {
	for _, id := range ids {
		if tree.Find(p.Root, id) == nil {
			return fmt.Errorf("%w: %q", ErrUnknownID, id)
		}
		if !slices.Contains(p.RunnableIDs, id) {
			p.RunnableIDs = append(p.RunnableIDs, id)
		}
	}
	return nil
}

// Reset returns every result to its pending state.
func (p *Plan) Reset() {
	for _, s := range p.suites {
		s.result.mu.Lock()
		s.result.Errors = nil
		s.result.Duration = 0
		s.result.mu.Unlock()
	}
	for _, sp := range p.specs {
		sp.result.Status = StatusPending
		sp.result.Error = ""
		sp.result.Duration = 0
	}
}

// StartSuite records the start of a suite activation and publishes
// SuiteStart. It is meant to be the walker's node-start callback.
func (p *Plan) StartSuite(ctx context.Context, s *tree.Suite) {
	n, ok := p.suites[s.NodeID]
	if !ok {
		return
	}
	n.started = time.Now()
	n.ctx = ctx
	eventbus.Publish(ctx, events.SuiteStart{ID: s.NodeID, ParentID: parentID(n), FullName: n.result.FullName})
}

// CompleteSuite records the end of a suite activation and publishes
// SuiteFinish. It is meant to be the walker's node-complete callback.
func (p *Plan) CompleteSuite(ctx context.Context, s *tree.Suite) {
	n, ok := p.suites[s.NodeID]
	if !ok {
		return
	}
	n.result.mu.Lock()
	n.result.Duration = time.Since(n.started)
	errs := make([]error, len(n.result.Errors))
	for i, msg := range n.result.Errors {
		errs[i] = errors.New(msg)
	}
	n.result.mu.Unlock()
	eventbus.Publish(ctx, events.SuiteFinish{
		ID:       s.NodeID,
		ParentID: parentID(n),
		FullName: n.result.FullName,
		Errors:   errs,
		Duration: n.result.Duration,
	})
}

// Report aggregates the current results.
func (p *Plan) Report(d time.Duration) *Report {
	return newReport(p.Name, p.Result, d)
}

func parentID(n *suiteNode) string {
	if n.parent == nil {
		return ""
	}
	return n.parent.node.NodeID
}
