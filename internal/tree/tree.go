package tree

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNilNode is reported for a nil entry anywhere in the tree.
	ErrNilNode = errors.New("tree: nil node")
	// ErrEmptyID is reported for a node without an identifier.
	ErrEmptyID = errors.New("tree: empty node id")
	// ErrDuplicateID is reported when two nodes share an identifier.
	ErrDuplicateID = errors.New("tree: duplicate node id")
)

// Node is a test tree node. It is either a *Leaf or a *Suite; no other
// implementations exist.
type Node interface {
	// ID returns the stable identifier used for selective runs.
	ID() string
	// Concurrent reports whether the parent may run this node together
	// with its other concurrent siblings.
	Concurrent() bool

	isNode()
}

// Hook is a before-all or after-all procedure owned by a Suite.
type Hook func(ctx context.Context) error

// Leaf is a node without children, typically a single spec.
type Leaf struct {
	NodeID           string
	MarkedConcurrent bool
	// Disabled marks a leaf that is excluded on its own (skipped, pending).
	// It still executes so it can report itself.
	Disabled bool

	// Execute runs the leaf body. It must return in every case; when
	// enabled is false it records a skip instead of running the body.
	// Errors it returns are routed to the parent suite's OnException.
	Execute func(ctx context.Context, enabled bool) error
}

func (l *Leaf) ID() string       { return l.NodeID }
func (l *Leaf) Concurrent() bool { return l.MarkedConcurrent }
func (*Leaf) isNode()            {}

// Suite is a composite node. A Suite with no children is still a Suite.
type Suite struct {
	NodeID           string
	MarkedConcurrent bool
	Children         []Node
	BeforeAll        []Hook
	AfterAll         []Hook
	// HookTimeout bounds each of the suite's hooks. 0 leaves the bound to
	// the queue runner.
	HookTimeout      time.Duration

	// OnException receives uncaught errors raised while the suite's
	// subtree is running.
	OnException func(err error)
	// SharedUserContext returns the context value visible to this suite's
	// hooks. It is called once per activation.
	SharedUserContext func() any
}

func (s *Suite) ID() string       { return s.NodeID }
func (s *Suite) Concurrent() bool { return s.MarkedConcurrent }
func (*Suite) isNode()            {}

// Walk visits root and its descendants in pre-order. Returning false from
// fn skips the children of the visited node.
func Walk(root Node, fn func(n Node, depth int) bool) {
	walk(root, 0, fn)
}

func walk(n Node, depth int, fn func(Node, int) bool) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	if s, ok := n.(*Suite); ok {
		for _, c := range s.Children {
			walk(c, depth+1, fn)
		}
	}
}

// Find returns the node with the given id, or nil.
func Find(root Node, id string) Node {
	var found Node
	Walk(root, func(n Node, _ int) bool {
		if found != nil {
			return false
		}
		if n.ID() == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Leaves returns every leaf under root in declaration order.
func Leaves(root Node) []*Leaf {
	var out []*Leaf
	Walk(root, func(n Node, _ int) bool {
		if l, ok := n.(*Leaf); ok {
			out = append(out, l)
		}
		return true
	})
	return out
}

// HasEnabledLeaf reports whether any leaf under n is not Disabled. The run
// filter plays no part in the answer. A suite without children has none.
func HasEnabledLeaf(n Node) bool {
	switch n := n.(type) {
	case *Leaf:
		return !n.Disabled
	case *Suite:
		for _, c := range n.Children {
			if HasEnabledLeaf(c) {
				return true
			}
		}
	}
	return false
}

// Validate checks the structural invariants of a tree: no nil nodes, no
// empty ids and no duplicate ids.
func Validate(root Node) error {
	if isNil(root) {
		return ErrNilNode
	}
	seen := make(map[string]struct{})
	return validate(root, seen)
}

func validate(n Node, seen map[string]struct{}) error {
	id := n.ID()
	if id == "" {
		return ErrEmptyID
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	seen[id] = struct{}{}
	s, ok := n.(*Suite)
	if !ok {
		return nil
	}
	for i, c := range s.Children {
		if isNil(c) {
			return fmt.Errorf("%w: child %d of %q", ErrNilNode, i, id)
		}
		if err := validate(c, seen); err != nil {
			return err
		}
	}
	return nil
}

func isNil(n Node) bool {
	switch n := n.(type) {
	case nil:
		return true
	case *Leaf:
		return n == nil
	case *Suite:
		return n == nil
	}
	return false
}
