// Package suite builds executable test trees in a describe/it style. The
// nodes it produces are plain tree.Leaf and tree.Suite values whose Execute,
// OnException and SharedUserContext functions record results into a Result
// tree and publish spec events on the event bus.
package suite

import (
	"context"
	"fmt"
	"strings"
	"time"

	tree "github.com/hanpama/suitetree/internal/tree"
)

// Body is a spec body or a hook. vars is the shared user context visible at
// that point of the tree.
type Body func(ctx context.Context, vars *Vars) error

type options struct {
	id         string
	focus      bool
	skip       bool
	concurrent bool
	timeout    time.Duration
}

type Option func(*options)

// Focus adds the node to the run filter.
func Focus() Option { return func(o *options) { o.focus = true } }

// Skip disables a spec, or every spec declared inside a suite.
func Skip() Option { return func(o *options) { o.skip = true } }

// Concurrent lets the node run together with its concurrent siblings.
func Concurrent() Option { return func(o *options) { o.concurrent = true } }

// Timeout overrides the timeout of a spec, or of every spec and hook
// declared inside a suite.
func Timeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// ID sets an explicit node id instead of the generated one.
func ID(id string) Option { return func(o *options) { o.id = id } }

// Builder declares a tree. Its methods are not safe for concurrent use.
type Builder struct {
	name     string
	root     *suiteNode
	cur      *suiteNode
	vars     map[string]string
	timeout  time.Duration
	suiteSeq int
	specSeq  int
	focused  []string
	specs    []*specNode
	suites   []*suiteNode
}

// New starts a tree whose root suite is called name.
func New(name string) *Builder {
	b := &Builder{name: name, vars: map[string]string{}}
	b.root = b.newSuite(nil, name, options{})
	b.cur = b.root
	return b
}

// SetTimeout sets the default timeout of specs and hooks. 0 means no
// timeout; hooks are then bounded by the queue runner alone.
func (b *Builder) SetTimeout(d time.Duration) { b.timeout = d }

// Setenv seeds the root suite's Vars.
func (b *Builder) Setenv(key, value string) { b.vars[key] = value }

// Describe declares a child suite of the current suite; fn declares its
// content.
func (b *Builder) Describe(name string, fn func(b *Builder), opts ...Option) {
	o := applyOptions(opts)
	s := b.newSuite(b.cur, name, o)
	b.cur.node.Children = append(b.cur.node.Children, s.node)
	b.cur.result.Suites = append(b.cur.result.Suites, s.result)

	prev := b.cur
	b.cur = s
	if fn != nil {
		fn(b)
	}
	b.cur = prev
}

// It declares a spec in the current suite.
func (b *Builder) It(name string, body Body, opts ...Option) {
	o := applyOptions(opts)
	b.specSeq++
	id := o.id
	if id == "" {
		id = fmt.Sprintf("spec%d", b.specSeq)
	}
	timeout := o.timeout
	if timeout == 0 {
		timeout = b.cur.timeout
	}
	if timeout == 0 {
		timeout = b.timeout
	}
	sp := &specNode{
		parent:  b.cur,
		body:    body,
		timeout: timeout,
		result: &SpecResult{
			ID:       id,
			Name:     name,
			FullName: joinName(b.cur.result.FullName, name, b.cur == b.root),
			Status:   StatusPending,
		},
	}
	sp.leaf = &tree.Leaf{
		NodeID:           id,
		MarkedConcurrent: o.concurrent,
		Disabled:         o.skip || b.cur.skip || body == nil,
		Execute:          sp.execute,
	}
	if o.focus {
		b.focused = append(b.focused, id)
	}
	b.cur.node.Children = append(b.cur.node.Children, sp.leaf)
	b.cur.result.Specs = append(b.cur.result.Specs, sp.result)
	b.specs = append(b.specs, sp)
}

// BeforeAll adds a before-all hook to the current suite.
func (b *Builder) BeforeAll(body Body) {
	b.cur.node.BeforeAll = append(b.cur.node.BeforeAll, b.cur.hook(body))
}

// AfterAll adds an after-all hook to the current suite.
func (b *Builder) AfterAll(body Body) {
	b.cur.node.AfterAll = append(b.cur.node.AfterAll, b.cur.hook(body))
}

// Build validates the declared tree and returns it as a Plan.
func (b *Builder) Build() (*Plan, error) {
	if err := tree.Validate(b.root.node); err != nil {
		return nil, err
	}
	b.root.initial = NewVars(b.vars)
	suites := make(map[string]*suiteNode, len(b.suites))
	for _, s := range b.suites {
		suites[s.node.NodeID] = s
		s.node.HookTimeout = s.timeout
		if s.node.HookTimeout == 0 {
			s.node.HookTimeout = b.timeout
		}
	}
	return &Plan{
		Name:        b.name,
		Root:        b.root.node,
		RunnableIDs: append([]string(nil), b.focused...),
		Result:      b.root.result,
		suites:      suites,
		specs:       append([]*specNode(nil), b.specs...),
	}, nil
}

func (b *Builder) newSuite(parent *suiteNode, name string, o options) *suiteNode {
	b.suiteSeq++
	id := o.id
	if id == "" {
		id = fmt.Sprintf("suite%d", b.suiteSeq)
	}
	fullName := name
	skip := o.skip
	timeout := o.timeout
	if parent != nil {
		fullName = joinName(parent.result.FullName, name, parent.parent == nil)
		skip = skip || parent.skip
		if timeout == 0 {
			timeout = parent.timeout
		}
	}
	s := &suiteNode{
		parent:  parent,
		skip:    skip,
		timeout: timeout,
		result:  &SuiteResult{ID: id, Name: name, FullName: fullName},
	}
	s.node = &tree.Suite{
		NodeID:            id,
		MarkedConcurrent:  o.concurrent,
		OnException:       s.onException,
		SharedUserContext: s.sharedUserContext,
	}
	if o.focus {
		b.focused = append(b.focused, id)
	}
	b.suites = append(b.suites, s)
	return s
}

// joinName builds a full name; children of the root do not repeat the
// root's name.
func joinName(parent, name string, parentIsRoot bool) string {
	if parentIsRoot || parent == "" {
		return name
	}
	return strings.TrimSpace(parent + " " + name)
}

func applyOptions(opts []Option) options {
	var o options
	for _, f := range opts {
		f(&o)
	}
	return o
}
