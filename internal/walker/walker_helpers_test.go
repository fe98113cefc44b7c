package walker

import (
	"context"

	tree "github.com/hanpama/suitetree/internal/tree"
)

// recordingLeaf returns a leaf that logs "exec <id> enabled=<bool>" and
// returns err.
func recordingLeaf(log *EventLog, id string, err error) *tree.Leaf {
	return &tree.Leaf{
		NodeID: id,
		Execute: func(ctx context.Context, enabled bool) error {
			log.Add("exec %s enabled=%v", id, enabled)
			return err
		},
	}
}

func concurrentLeaf(log *EventLog, id string) *tree.Leaf {
	l := recordingLeaf(log, id, nil)
	l.MarkedConcurrent = true
	return l
}

func disabledLeaf(log *EventLog, id string) *tree.Leaf {
	l := recordingLeaf(log, id, nil)
	l.Disabled = true
	return l
}

func recordingHook(log *EventLog, name string, err error) tree.Hook {
	return func(ctx context.Context) error {
		log.Add("hook %s", name)
		return err
	}
}

// recordingSuite returns a suite whose exceptions are logged as
// "exception <id>: <err>".
func recordingSuite(log *EventLog, id string, children ...tree.Node) *tree.Suite {
	return &tree.Suite{
		NodeID:   id,
		Children: children,
		OnException: func(err error) {
			log.Add("exception %s: %v", id, err)
		},
	}
}

// newRecordingWalker returns a walker whose suite callbacks write
// "start <id>" and "complete <id>" into log.
func newRecordingWalker(log *EventLog, rt QueueRunner, opts ...Option) *Walker {
	opts = append([]Option{
		WithNodeStart(func(s *tree.Suite) { log.Add("start %s", s.NodeID) }),
		WithNodeComplete(func(s *tree.Suite) { log.Add("complete %s", s.NodeID) }),
	}, opts...)
	return New(rt, opts...)
}

// describePlans returns the rendered plan per suite id.
func describePlans(w *Walker, root tree.Node) (map[string]string, error) {
	plans, err := w.Describe(root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(plans))
	for _, p := range plans {
		out[p.Suite.NodeID] = p.Plan.String()
	}
	return out, nil
}
