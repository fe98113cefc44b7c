package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tree "github.com/hanpama/suitetree/internal/tree"
	walker "github.com/hanpama/suitetree/internal/walker"
)

type sink struct {
	mu   sync.Mutex
	errs []error
}

func (s *sink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *sink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func unit(name string, kind walker.UnitKind, fn func(ctx context.Context) error) walker.Unit {
	return walker.Unit{Name: name, Kind: kind, Fn: fn}
}

func logUnit(log *walker.EventLog, name string) walker.Unit {
	return unit(name, walker.UnitLeaf, func(ctx context.Context) error {
		log.Add(name)
		return nil
	})
}

func TestRun_StagesInOrder(t *testing.T) {
	log := &walker.EventLog{}
	s := &sink{}
	plan := walker.Plan{
		walker.Single(logUnit(log, "first")),
		walker.Group(logUnit(log, "g")),
		walker.Single(logUnit(log, "second")),
		walker.Single(logUnit(log, "third")),
	}

	err := New().Run(context.Background(), walker.QueueConfig{OnException: s.add, Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "g", "second", "third"}, log.Events())
	require.Empty(t, s.all())
}

func TestRun_GroupUnitsStartTogether(t *testing.T) {
	s := &sink{}
	var started sync.WaitGroup
	started.Add(3)
	barrier := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("group units did not overlap")
		}
	}
	plan := walker.Plan{walker.Group(
		unit("a", walker.UnitLeaf, barrier),
		unit("b", walker.UnitLeaf, barrier),
		unit("c", walker.UnitLeaf, barrier),
	)}

	err := New(WithMaxConcurrency(3)).Run(context.Background(), walker.QueueConfig{OnException: s.add, Plan: plan})
	require.NoError(t, err)
	require.Empty(t, s.all())
}

func TestRun_MaxConcurrency_Bounds(t *testing.T) {
	s := &sink{}
	var inFlight, peak atomic.Int32
	work := func(ctx context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	var units []walker.Unit
	for i := 0; i < 8; i++ {
		units = append(units, unit("u", walker.UnitLeaf, work))
	}

	err := New(WithMaxConcurrency(2)).Run(context.Background(), walker.QueueConfig{OnException: s.add, Plan: walker.Plan{walker.Group(units...)}})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Empty(t, s.all())
}

func TestRun_ErrorsAndPanics_GoToSink(t *testing.T) {
	log := &walker.EventLog{}
	s := &sink{}
	boom := errors.New("boom")
	plan := walker.Plan{
		walker.Single(unit("fails", walker.UnitBeforeAll, func(ctx context.Context) error { return boom })),
		walker.Group(
			unit("panics", walker.UnitLeaf, func(ctx context.Context) error { panic("kaboom") }),
			logUnit(log, "sibling"),
		),
		walker.Single(logUnit(log, "later")),
	}

	err := New().Run(context.Background(), walker.QueueConfig{OnException: s.add, Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"sibling", "later"}, log.Events())

	errs := s.all()
	require.Len(t, errs, 2)
	require.ErrorIs(t, errs[0], boom)
	require.Contains(t, errs[0].Error(), "fails")
	require.Contains(t, errs[1].Error(), "panics")
	require.Contains(t, errs[1].Error(), "kaboom")
}

func TestRun_HookTimeout(t *testing.T) {
	s := &sink{}
	slowHook := unit("slow", walker.UnitAfterAll, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	slowLeaf := unit("leaf", walker.UnitLeaf, func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})

	err := New(WithTimeout(10*time.Millisecond)).Run(context.Background(), walker.QueueConfig{
		OnException: s.add,
		Plan:        walker.Plan{walker.Single(slowLeaf), walker.Single(slowHook)},
	})
	require.NoError(t, err)
	errs := s.all()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrTimeout)
	require.Contains(t, errs[0].Error(), "slow")
}

func TestRun_HookTimeout_UnitOverridesDefault(t *testing.T) {
	s := &sink{}
	wait := func(d time.Duration) func(context.Context) error {
		return func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
			return nil
		}
	}
	patient := unit("patient", walker.UnitBeforeAll, wait(50*time.Millisecond))
	patient.Timeout = time.Second
	strict := unit("strict", walker.UnitAfterAll, wait(time.Second))
	strict.Timeout = 10 * time.Millisecond

	err := New(WithTimeout(20*time.Millisecond)).Run(context.Background(), walker.QueueConfig{
		OnException: s.add,
		Plan:        walker.Plan{walker.Single(patient), walker.Single(strict)},
	})
	require.NoError(t, err)
	errs := s.all()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrTimeout)
	require.Contains(t, errs[0].Error(), "strict did not finish within 10ms")
}

func TestRun_UserContext(t *testing.T) {
	s := &sink{}
	var got any
	plan := walker.Plan{walker.Single(unit("h", walker.UnitBeforeAll, func(ctx context.Context) error {
		got = walker.UserContext(ctx)
		return nil
	}))}

	err := New().Run(context.Background(), walker.QueueConfig{OnException: s.add, Plan: plan, UserContext: "shared"})
	require.NoError(t, err)
	require.Equal(t, "shared", got)
}

func TestRun_CancelledContext_AttemptsEveryUnit(t *testing.T) {
	log := &walker.EventLog{}
	s := &sink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := walker.Plan{
		walker.Single(logUnit(log, "a")),
		walker.Group(logUnit(log, "b")),
		walker.Single(unit("c", walker.UnitLeaf, func(ctx context.Context) error { return ctx.Err() })),
	}

	err := New().Run(ctx, walker.QueueConfig{OnException: s.add, Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, log.Events())
	errs := s.all()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestWalker_WithRunner_ConcurrentSiblings(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var running, peak atomic.Int32
	leaf := func(id string, concurrent bool) *tree.Leaf {
		return &tree.Leaf{
			NodeID:           id,
			MarkedConcurrent: concurrent,
			Execute: func(ctx context.Context, enabled bool) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			},
		}
	}
	root := &tree.Suite{
		NodeID: "root",
		Children: []tree.Node{
			leaf("c1", true),
			leaf("s1", false),
			leaf("c2", true),
			leaf("s2", false),
		},
		BeforeAll: []tree.Hook{func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "before")
			mu.Unlock()
			return nil
		}},
		AfterAll: []tree.Hook{func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "after")
			mu.Unlock()
			return nil
		}},
	}
	var starts, completes atomic.Int32
	w := walker.New(New(WithMaxConcurrency(4)),
		walker.WithNodeStart(func(*tree.Suite) { starts.Add(1) }),
		walker.WithNodeComplete(func(*tree.Suite) { completes.Add(1) }),
	)

	require.NoError(t, w.Run(context.Background(), root))
	require.Equal(t, int32(1), starts.Load())
	require.Equal(t, int32(1), completes.Load())
	require.Equal(t, int32(2), peak.Load())
	require.Len(t, order, 6)
	require.Equal(t, "before", order[0])
	require.ElementsMatch(t, []string{"c1", "c2"}, order[1:3])
	require.Equal(t, []string{"s1", "s2", "after"}, order[3:])
}
