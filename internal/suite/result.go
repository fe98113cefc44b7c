package suite

import (
	"sync"
	"time"
)

// Status is the final state of a spec.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusExcluded Status = "excluded"
)

// SpecResult is written by the spec that owns it.
type SpecResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	FullName string        `json:"fullName"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SuiteResult mirrors one suite of the tree.
type SuiteResult struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	FullName string         `json:"fullName"`
	Errors   []string       `json:"errors,omitempty"`
	Duration time.Duration  `json:"duration"`
	Specs    []*SpecResult  `json:"specs,omitempty"`
	Suites   []*SuiteResult `json:"suites,omitempty"`

	mu sync.Mutex
}

func (r *SuiteResult) addError(err error) {
	r.mu.Lock()
	r.Errors = append(r.Errors, err.Error())
	r.mu.Unlock()
}

// Failure is one failed spec or one suite error.
type Failure struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Message  string `json:"message"`
}

// Report aggregates a finished run.
type Report struct {
	RunID       string        `json:"runId,omitempty"`
	Name        string        `json:"name"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Excluded    int           `json:"excluded"`
	SuiteErrors int           `json:"suiteErrors"`
	Duration    time.Duration `json:"duration"`
	Failures    []Failure     `json:"failures,omitempty"`
	Root        *SuiteResult  `json:"root"`
}

// OK reports whether no spec failed and no suite recorded an error.
func (r *Report) OK() bool { return r.Failed == 0 && r.SuiteErrors == 0 }

// Total is the number of specs in the run.
func (r *Report) Total() int { return r.Passed + r.Failed + r.Skipped + r.Excluded }

func newReport(name string, root *SuiteResult, d time.Duration) *Report {
	rep := &Report{Name: name, Root: root, Duration: d}
	var visit func(s *SuiteResult)
	visit = func(s *SuiteResult) {
		for _, msg := range s.Errors {
			rep.SuiteErrors++
			rep.Failures = append(rep.Failures, Failure{ID: s.ID, FullName: s.FullName, Message: msg})
		}
		for _, sp := range s.Specs {
			switch sp.Status {
			case StatusPassed:
				rep.Passed++
			case StatusFailed:
				rep.Failed++
				rep.Failures = append(rep.Failures, Failure{ID: sp.ID, FullName: sp.FullName, Message: sp.Error})
			case StatusSkipped:
				rep.Skipped++
			case StatusExcluded:
				rep.Excluded++
			}
		}
		for _, c := range s.Suites {
			visit(c)
		}
	}
	visit(root)
	return rep
}
