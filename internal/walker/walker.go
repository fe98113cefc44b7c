package walker

import (
	"context"
	"errors"
	"fmt"

	tree "github.com/hanpama/suitetree/internal/tree"
)

var (
	// ErrUnknownNode is returned for a node that is neither *tree.Leaf nor
	// *tree.Suite.
	ErrUnknownNode = errors.New("walker: unknown node type")
	// ErrNilExecute is returned for a leaf without an Execute function.
	ErrNilExecute = errors.New("walker: leaf has no Execute")
	// ErrNoRunner is returned by Run when the walker has no QueueRunner.
	ErrNoRunner = errors.New("walker: no queue runner")
)

// Walker runs test trees through a QueueRunner.
type Walker struct {
	runner       QueueRunner
	runnable     map[string]struct{}
	nodeStart    func(s *tree.Suite)
	nodeComplete func(s *tree.Suite)
}

type Option func(*Walker)

// WithRunnableIDs sets the run filter. Nodes listed here, and everything
// below them, are enabled.
func WithRunnableIDs(ids ...string) Option {
	return func(w *Walker) {
		for _, id := range ids {
			w.runnable[id] = struct{}{}
		}
	}
}

// WithNodeStart registers a callback fired once per suite activation before
// any of its units start.
func WithNodeStart(fn func(s *tree.Suite)) Option {
	return func(w *Walker) { w.nodeStart = fn }
}

// WithNodeComplete registers a callback fired once per suite activation
// after every unit of its plan, hooks included, has returned.
func WithNodeComplete(fn func(s *tree.Suite)) Option {
	return func(w *Walker) { w.nodeComplete = fn }
}

func New(runner QueueRunner, opts ...Option) *Walker {
	w := &Walker{
		runner:       runner,
		runnable:     make(map[string]struct{}),
		nodeStart:    func(*tree.Suite) {},
		nodeComplete: func(*tree.Suite) {},
	}
	for _, f := range opts {
		f(w)
	}
	return w
}

// Run walks root and returns once the whole tree has settled. Structural
// errors are returned before anything executes. Errors raised by hooks and
// leaves are routed to OnException and are not returned here; a leaf root
// is the exception, its Execute error is returned as is.
func (w *Walker) Run(ctx context.Context, root tree.Node) error {
	if w.runner == nil {
		return ErrNoRunner
	}
	r, err := w.begin(root)
	if err != nil {
		return err
	}
	unit, err := r.handlerFor(root, false)
	if err != nil {
		return err
	}
	return unit.Fn(ctx)
}

// SuitePlan is the batch plan one suite would run with.
type SuitePlan struct {
	Suite   *tree.Suite
	Depth   int
	Enabled bool
	Plan    Plan
}

// Describe computes the plan of every suite under root, in pre-order,
// without running anything.
func (w *Walker) Describe(root tree.Node) ([]SuitePlan, error) {
	r, err := w.begin(root)
	if err != nil {
		return nil, err
	}
	var out []SuitePlan
	var visit func(n tree.Node, parentEnabled bool, depth int) error
	visit = func(n tree.Node, parentEnabled bool, depth int) error {
		s, ok := n.(*tree.Suite)
		if !ok {
			return nil
		}
		enabled := r.isEnabled(s, parentEnabled)
		plan, err := r.planFor(s, enabled)
		if err != nil {
			return err
		}
		out = append(out, SuitePlan{Suite: s, Depth: depth, Enabled: enabled, Plan: plan})
		for _, c := range s.Children {
			if err := visit(c, enabled, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root, false, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// walk holds the state of one traversal.
type walk struct {
	*Walker
	runnable map[string]struct{}
}

func (w *Walker) begin(root tree.Node) (*walk, error) {
	if err := tree.Validate(root); err != nil {
		return nil, err
	}
	runnable := w.runnable
	if len(runnable) == 0 {
		// No explicit selection: select the root.
		runnable = map[string]struct{}{root.ID(): {}}
	}
	return &walk{Walker: w, runnable: runnable}, nil
}

func (r *walk) isEnabled(n tree.Node, parentEnabled bool) bool {
	if parentEnabled {
		return true
	}
	_, ok := r.runnable[n.ID()]
	return ok
}

func (r *walk) handlerFor(n tree.Node, parentEnabled bool) (Unit, error) {
	enabled := r.isEnabled(n, parentEnabled)
	switch n := n.(type) {
	case *tree.Leaf:
		return leafHandler(n, enabled)
	case *tree.Suite:
		return r.suiteHandler(n, enabled)
	default:
		return Unit{}, fmt.Errorf("%w: %T", ErrUnknownNode, n)
	}
}

func leafHandler(l *tree.Leaf, enabled bool) (Unit, error) {
	if l.Execute == nil {
		return Unit{}, fmt.Errorf("%w: %q", ErrNilExecute, l.NodeID)
	}
	return Unit{
		Name:    l.NodeID,
		Kind:    UnitLeaf,
		Enabled: enabled,
		Fn: func(ctx context.Context) error {
			return l.Execute(ctx, enabled)
		},
	}, nil
}

func (r *walk) suiteHandler(s *tree.Suite, enabled bool) (Unit, error) {
	plan, err := r.planFor(s, enabled)
	if err != nil {
		return Unit{}, err
	}
	onException := s.OnException
	if onException == nil {
		onException = func(error) {}
	}
	return Unit{
		Name:    s.NodeID,
		Kind:    UnitSuite,
		Enabled: enabled,
		Fn: func(ctx context.Context) error {
			r.nodeStart(s)
			var uc any
			if s.SharedUserContext != nil {
				uc = s.SharedUserContext()
			}
			err := r.runner.Run(ctx, QueueConfig{
				OnException: onException,
				Plan:        plan,
				UserContext: uc,
			})
			r.nodeComplete(s)
			return err
		},
	}, nil
}

// planFor partitions the children of s into stages and brackets them with
// the suite's hooks.
func (r *walk) planFor(s *tree.Suite, enabled bool) (Plan, error) {
	var concurrent, serial []Unit
	for _, c := range s.Children {
		u, err := r.handlerFor(c, enabled)
		if err != nil {
			return nil, fmt.Errorf("suite %q: %w", s.NodeID, err)
		}
		if c.Concurrent() {
			concurrent = append(concurrent, u)
		} else {
			serial = append(serial, u)
		}
	}

	children := make(Plan, 0, len(serial)+1)
	if len(concurrent) > 0 {
		children = append(children, Group(concurrent...))
	}
	for _, u := range serial {
		children = append(children, Single(u))
	}

	if !tree.HasEnabledLeaf(s) {
		return children, nil
	}

	plan := make(Plan, 0, len(s.BeforeAll)+len(children)+len(s.AfterAll))
	for i, h := range s.BeforeAll {
		plan = append(plan, Single(hookUnit(s, UnitBeforeAll, i, h, enabled)))
	}
	plan = append(plan, children...)
	for i, h := range s.AfterAll {
		plan = append(plan, Single(hookUnit(s, UnitAfterAll, i, h, enabled)))
	}
	return plan, nil
}

func hookUnit(s *tree.Suite, kind UnitKind, i int, h tree.Hook, enabled bool) Unit {
	return Unit{
		Name:    fmt.Sprintf("%s/%s[%d]", s.NodeID, kind, i),
		Kind:    kind,
		Enabled: enabled,
		Timeout: s.HookTimeout,
		Fn:      h,
	}
}
