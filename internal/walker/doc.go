// Package walker implements the execution-order engine for a tree of test
// nodes: it decides which nodes are enabled, how the children of every suite
// are batched (concurrently or serially), and where before-all and after-all
// hooks fire relative to those children. All actual execution is delegated
// to an injected QueueRunner and to each leaf's Execute function.
//
// # Overview
//
// The walker is invoked once on the root of a tree.Node tree. For every node
// it builds a Unit: a named function that runs the node to completion. Leaf
// units call the leaf's Execute directly. Suite units build a Plan from the
// suite's children and hand it to the QueueRunner, waiting for the whole
// plan to settle before reporting the suite complete. Child units are built
// through the same dispatcher, so the recursion happens inside the units the
// QueueRunner invokes.
//
// # Enablement
//
// A node is enabled when its parent is enabled or its id is listed in the
// run filter (WithRunnableIDs). The root starts with a disabled parent, so
// only explicitly selected subtrees are enabled. An empty run filter selects
// the root, which enables everything.
//
// Enablement says nothing about a leaf's own Disabled flag: a disabled leaf
// in an enabled subtree is executed with enabled=true and is expected to
// report itself as skipped. Leaves outside every enabled subtree are still
// executed, with enabled=false, so every node reports completion.
//
// # Batch plans
//
// A Plan is an ordered list of stages. A stage is either a single unit that
// runs alone, or a group of units that start together; a stage completes
// when all of its units have completed. For a suite the plan is:
//
//	[beforeAll...] [group(concurrent children)] [serial child]... [afterAll...]
//
// Concurrent children are collected into one leading group regardless of
// their position among their siblings; serial children keep declaration
// order. The group stage is omitted when no child is concurrent. Hook stages
// are only added when at least one leaf under the suite is not Disabled; the
// run filter is ignored for this check, and a suite without children has no
// such leaf.
//
// # QueueRunner contract
//
// See queue.go. The walker never starts goroutines itself. The only point
// where a suite unit waits is its call to QueueRunner.Run.
//
// # Errors
//
// Structural problems (an invalid tree, an unknown node type, a leaf without
// Execute) are returned immediately and abort the walk. Errors raised by
// hooks and leaves are the QueueRunner's to deliver to the suite's
// OnException; the walker does not stop on them.
package walker
