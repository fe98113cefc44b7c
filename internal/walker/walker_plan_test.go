package walker

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	tree "github.com/hanpama/suitetree/internal/tree"
)

// Pattern: Plan comparison
func TestPlan_ConcurrentChildren_CollapseIntoLeadingGroup(t *testing.T) {
	log := &EventLog{}
	root := recordingSuite(log, "root",
		concurrentLeaf(log, "A"),
		recordingLeaf(log, "B", nil),
		concurrentLeaf(log, "C"),
		recordingLeaf(log, "D", nil),
	)
	w := New(NewMockQueueRunner())

	got, err := describePlans(w, root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[string]string{"root": "group{A C} single{B} single{D}"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Plan comparison
func TestPlan_Hooks_BracketChildren(t *testing.T) {
	log := &EventLog{}
	root := recordingSuite(log, "root",
		recordingLeaf(log, "x", nil),
		concurrentLeaf(log, "y"),
	)
	root.BeforeAll = []tree.Hook{recordingHook(log, "h1", nil), recordingHook(log, "h2", nil)}
	root.AfterAll = []tree.Hook{recordingHook(log, "h3", nil)}
	w := New(NewMockQueueRunner())

	plans, err := w.Describe(root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected one suite plan, got %d", len(plans))
	}
	want := [][]string{
		{"root/beforeAll[0]"},
		{"root/beforeAll[1]"},
		{"y"},
		{"x"},
		{"root/afterAll[0]"},
	}
	if diff := cmp.Diff(want, plans[0].Plan.Names()); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	kinds := []UnitKind{}
	for _, st := range plans[0].Plan {
		kinds = append(kinds, st.Units[0].Kind)
	}
	wantKinds := []UnitKind{UnitBeforeAll, UnitBeforeAll, UnitLeaf, UnitLeaf, UnitAfterAll}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
	if plans[0].Plan[2].Group != true || plans[0].Plan[0].Group || plans[0].Plan[4].Group {
		t.Fatalf("unexpected group flags: %s", plans[0].Plan)
	}
}

// Pattern: Plan comparison
func TestPlan_AllLeavesDisabled_OmitsHooks(t *testing.T) {
	log := &EventLog{}
	inner := recordingSuite(log, "inner", disabledLeaf(log, "b"))
	inner.BeforeAll = []tree.Hook{recordingHook(log, "inner-before", nil)}
	root := recordingSuite(log, "root", disabledLeaf(log, "a"), inner)
	root.BeforeAll = []tree.Hook{recordingHook(log, "before", nil)}
	root.AfterAll = []tree.Hook{recordingHook(log, "after", nil)}
	w := New(NewMockQueueRunner())

	got, err := describePlans(w, root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[string]string{
		"root":  "single{a} single{inner}",
		"inner": "single{b}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Plan comparison
func TestPlan_EmptySuite_OmitsHooks(t *testing.T) {
	log := &EventLog{}
	empty := recordingSuite(log, "empty")
	empty.BeforeAll = []tree.Hook{recordingHook(log, "before", nil)}
	empty.AfterAll = []tree.Hook{recordingHook(log, "after", nil)}
	root := recordingSuite(log, "root", recordingLeaf(log, "a", nil), empty)
	w := New(NewMockQueueRunner())

	got, err := describePlans(w, root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[string]string{
		"root":  "single{a} single{empty}",
		"empty": "",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}

	rt := NewMockQueueRunner()
	if err := newRecordingWalker(log, rt).Run(context.Background(), root); err != nil {
		t.Fatalf("run: %v", err)
	}
	wantEvents := []string{
		"start root",
		"exec a enabled=true",
		"start empty",
		"complete empty",
		"complete root",
	}
	if diff := cmp.Diff(wantEvents, log.Events()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Plan comparison
func TestPlan_DegenerateShapes(t *testing.T) {
	log := &EventLog{}
	onlyConcurrent := recordingSuite(log, "conc", concurrentLeaf(log, "c1"), concurrentLeaf(log, "c2"))
	onlySerial := recordingSuite(log, "serial", recordingLeaf(log, "s1", nil), recordingLeaf(log, "s2", nil))
	nested := recordingSuite(log, "nested", onlySerial)
	nested.MarkedConcurrent = true
	root := recordingSuite(log, "root", onlyConcurrent, nested)
	w := New(NewMockQueueRunner())

	got, err := describePlans(w, root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[string]string{
		"root":   "group{nested} single{conc}",
		"conc":   "group{c1 c2}",
		"nested": "single{serial}",
		"serial": "single{s1} single{s2}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Plan comparison
func TestPlan_HookCheck_IgnoresRunFilter(t *testing.T) {
	log := &EventLog{}
	other := recordingSuite(log, "other", recordingLeaf(log, "o", nil))
	other.BeforeAll = []tree.Hook{recordingHook(log, "other-before", nil)}
	root := recordingSuite(log, "root", recordingLeaf(log, "focus", nil), other)
	w := New(NewMockQueueRunner(), WithRunnableIDs("focus"))

	plans, err := w.Describe(root)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	type row struct {
		ID      string
		Depth   int
		Enabled bool
		Plan    string
	}
	var got []row
	for _, p := range plans {
		got = append(got, row{p.Suite.NodeID, p.Depth, p.Enabled, p.Plan.String()})
	}
	want := []row{
		{"root", 0, false, "single{focus} single{other}"},
		{"other", 1, false, "single{other/beforeAll[0]} single{o}"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plans mismatch (-want +got):\n%s", diff)
	}
	if u := plans[0].Plan[0].Units[0]; !u.Enabled {
		t.Fatalf("expected focused unit to be enabled")
	}
	if u := plans[0].Plan[1].Units[0]; u.Enabled {
		t.Fatalf("expected unselected suite unit to be disabled")
	}
}

func TestPlan_String_Empty(t *testing.T) {
	if got := (Plan{}).String(); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := UnitKind(9).String(); got != "UnitKind(9)" {
		t.Fatalf("unexpected kind string %q", got)
	}
}
