// Package report renders suite reports for terminals and machines.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	suite "github.com/hanpama/suitetree/internal/suite"
	walker "github.com/hanpama/suitetree/internal/walker"
)

type palette struct {
	pass, fail, skip, dim func(a ...any) string
}

func newPalette(colorize bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		pass: mk(color.FgGreen),
		fail: mk(color.FgRed, color.Bold),
		skip: mk(color.FgYellow),
		dim:  mk(color.Faint),
	}
}

func (p palette) mark(s suite.Status) string {
	switch s {
	case suite.StatusPassed:
		return p.pass("✓")
	case suite.StatusFailed:
		return p.fail("✗")
	case suite.StatusSkipped:
		return p.skip("-")
	default:
		return p.dim("·")
	}
}

func (p palette) status(s suite.Status) string {
	switch s {
	case suite.StatusPassed:
		return p.pass(string(s))
	case suite.StatusFailed:
		return p.fail(string(s))
	case suite.StatusSkipped:
		return p.skip(string(s))
	default:
		return p.dim(string(s))
	}
}

// Progress prints one line per finished spec and per suite exception.
type Progress struct {
	mu           sync.Mutex
	w            io.Writer
	colors       palette
	showExcluded bool
}

// NewProgress returns a Progress writing to w. Excluded specs are not
// printed unless ShowExcluded is called.
func NewProgress(w io.Writer, colorize bool) *Progress {
	return &Progress{w: w, colors: newPalette(colorize)}
}

// ShowExcluded makes excluded specs print as well.
func (p *Progress) ShowExcluded() *Progress {
	p.showExcluded = true
	return p
}

// Attach subscribes p to the global bus.
func (p *Progress) Attach() (detach func()) {
	un1 := eventbus.Subscribe(p.specFinished)
	un2 := eventbus.Subscribe(p.exception)
	return func() {
		un1()
		un2()
	}
}

func (p *Progress) specFinished(_ context.Context, e events.SpecFinish) {
	st := suite.Status(e.Status)
	if st == suite.StatusExcluded && !p.showExcluded {
		return
	}
	line := fmt.Sprintf("%s %s", p.colors.mark(st), e.FullName)
	if st == suite.StatusPassed || st == suite.StatusFailed {
		line += " " + p.colors.dim("("+formatDuration(e.Duration)+")")
	}
	if e.Err != nil {
		line += "\n    " + p.colors.fail(indent(e.Err.Error(), "    "))
	}
	p.println(line)
}

func (p *Progress) exception(_ context.Context, e events.Exception) {
	p.println(fmt.Sprintf("%s %s %s", p.colors.fail("!"), e.NodeID, p.colors.fail(indent(e.Err.Error(), "    "))))
}

func (p *Progress) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

// Summary writes a table of every suite and spec of rep, followed by the
// totals.
func Summary(w io.Writer, rep *suite.Report, colorize bool) {
	colors := newPalette(colorize)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s (%s)", rep.Name, formatDuration(rep.Duration)))
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Name", "Status", "Duration", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	var visit func(s *suite.SuiteResult, depth int)
	visit = func(s *suite.SuiteResult, depth int) {
		pad := strings.Repeat("  ", depth)
		if depth > 0 {
			status := ""
			if len(s.Errors) > 0 {
				status = colors.fail("error")
			}
			t.AppendRow(table.Row{pad + s.Name, status, formatDuration(s.Duration), strings.Join(s.Errors, "\n")})
		}
		for _, sp := range s.Specs {
			t.AppendRow(table.Row{pad + "  " + sp.Name, colors.status(sp.Status), formatDuration(sp.Duration), sp.Error})
		}
		for _, c := range s.Suites {
			visit(c, depth+1)
		}
	}
	if rep.Root != nil {
		visit(rep.Root, 0)
	}
	t.AppendFooter(table.Row{
		"Total",
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d excluded", rep.Passed, rep.Failed, rep.Skipped, rep.Excluded),
		"",
		fmt.Sprintf("%d suite errors", rep.SuiteErrors),
	})
	t.Render()
}

// JSON writes rep as indented JSON.
func JSON(w io.Writer, rep *suite.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Plans writes the batch plan of every suite, indented by depth. Disabled
// suites are marked.
func Plans(w io.Writer, plans []walker.SuitePlan) {
	for _, sp := range plans {
		state := "enabled"
		if !sp.Enabled {
			state = "disabled"
		}
		plan := sp.Plan.String()
		if plan == "" {
			plan = "(empty)"
		}
		fmt.Fprintf(w, "%s%s [%s] %s\n", strings.Repeat("  ", sp.Depth), sp.Suite.NodeID, state, plan)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
