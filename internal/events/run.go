package events

import "time"

// RunStart is emitted before the walker starts on a tree.
// Context carries the run ID.
type RunStart struct {
	Name        string
	RunnableIDs []string
}

// RunFinish is emitted after the whole tree has settled.
type RunFinish struct {
	Name     string
	Passed   int
	Failed   int
	Skipped  int
	Excluded int
	Errors   int
	Duration time.Duration
}

// SuiteStart is emitted when a suite activation begins, before any of its
// hooks or children run.
type SuiteStart struct {
	ID       string
	ParentID string
	FullName string
}

// SuiteFinish is emitted after every hook and child of a suite returned.
type SuiteFinish struct {
	ID       string
	ParentID string
	FullName string
	Errors   []error
	Duration time.Duration
}

// SpecStart is emitted before a spec body runs. Skipped and excluded specs
// emit it too.
type SpecStart struct {
	ID       string
	SuiteID  string
	FullName string
}

// SpecFinish is emitted once per spec with its final status.
type SpecFinish struct {
	ID       string
	SuiteID  string
	FullName string
	Status   string
	Err      error
	Duration time.Duration
}

// Exception is emitted when an error escapes a hook or a spec and is
// attributed to a suite.
type Exception struct {
	NodeID string
	Err    error
}
