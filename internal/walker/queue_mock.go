package walker

import (
	"context"
	"fmt"
	"sync"
)

// QueueCall records one QueueRunner.Run invocation.
type QueueCall struct {
	// Plan is the rendered plan, see Plan.String.
	Plan        string
	UserContext any
}

// MockQueueRunner implements QueueRunner by running every unit in plan
// order on the calling goroutine. Group units run one after another in the
// order they were placed in the group. Unit errors and panics go to
// OnException.
type MockQueueRunner struct {
	mu    sync.Mutex
	calls []QueueCall
	err   error
}

func NewMockQueueRunner() *MockQueueRunner { return &MockQueueRunner{} }

// FailWith makes every subsequent Run return err after running its plan.
func (m *MockQueueRunner) FailWith(err error) { m.err = err }

func (m *MockQueueRunner) Run(ctx context.Context, cfg QueueConfig) error {
	m.mu.Lock()
	m.calls = append(m.calls, QueueCall{Plan: cfg.Plan.String(), UserContext: cfg.UserContext})
	m.mu.Unlock()

	ctx = WithUserContext(ctx, cfg.UserContext)
	for _, st := range cfg.Plan {
		for _, u := range st.Units {
			if err := runUnit(ctx, u); err != nil {
				cfg.OnException(err)
			}
		}
	}
	return m.err
}

func runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", u.Name, r)
		}
	}()
	return u.Fn(ctx)
}

// GetCalls returns the recorded calls in invocation order.
func (m *MockQueueRunner) GetCalls() []QueueCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueueCall(nil), m.calls...)
}

// EventLog is a concurrency-safe ordered list of strings used by tests to
// record what ran and in which order.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *EventLog) Add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
