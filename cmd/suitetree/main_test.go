package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
)

const passing = `
name: demo
before_all:
  - echo "READY=yes" >> "$SUITETREE_ENV"
children:
  - name: ready
    run: test "$READY" = yes
  - name: db
    id: db
    children:
      - name: a
        concurrent: true
        run: "true"
      - name: b
        concurrent: true
        run: "true"
`

const failing = `
name: demo
children:
  - name: ok
    run: "true"
  - name: broken
    run: echo nope; exit 1
`

func writeManifest(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() { eventbus.Use(nil) })
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Passing(t *testing.T) {
	path := writeManifest(t, passing)
	code, out, _ := runCLI(t, "run", path, "--no-color")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, "✓ ready")
	require.Contains(t, out, "✓ db a")
	require.Contains(t, out, "3 passed, 0 failed")
}

func TestRun_FailingExitsOne(t *testing.T) {
	path := writeManifest(t, failing)
	code, out, _ := runCLI(t, "run", path, "--no-color")
	require.Equal(t, exitFailed, code)
	require.Contains(t, out, "✗ broken")
	require.Contains(t, out, "nope")
}

func TestRun_JSONWithFocus(t *testing.T) {
	path := writeManifest(t, passing)
	code, out, _ := runCLI(t, "run", path, "--json", "--focus", "db", "--concurrency", "1")
	require.Equal(t, exitOK, code)

	var rep struct {
		Passed   int    `json:"passed"`
		Excluded int    `json:"excluded"`
		RunID    string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Equal(t, 2, rep.Passed)
	require.Equal(t, 1, rep.Excluded)
	require.NotEmpty(t, rep.RunID)
}

func TestRun_Errors(t *testing.T) {
	path := writeManifest(t, passing)

	code, _, errOut := runCLI(t, "run", path, "--focus", "missing")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "unknown node id")

	code, _, errOut = runCLI(t, "run", filepath.Join(t.TempDir(), "none.yaml"))
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "read manifest")

	code, _, _ = runCLI(t, "run")
	require.Equal(t, exitError, code)

	code, _, errOut = runCLI(t, "run", path, "--concurrency", "0")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "max_concurrency")
}

func TestRun_BuildFlags(t *testing.T) {
	path := writeManifest(t, `
name: flags
children:
  - name: env
    run: echo "target=$TARGET"
  - name: other
    id: other
    run: "true"
`)
	code, out, errOut := runCLI(t, "run", path, "--no-color",
		"--env", "TARGET=staging", "--shell", "sh", "--verbose",
		"--focus", "spec1", "--show-excluded")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, "✓ env")
	require.Contains(t, out, "· other")
	require.Contains(t, errOut, "target=staging")

	code, _, errOut = runCLI(t, "run", path, "--env", "novalue")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "expected KEY=VALUE")
}

func TestPlan(t *testing.T) {
	path := writeManifest(t, passing)
	code, out, _ := runCLI(t, "plan", path, "--focus", "db")
	require.Equal(t, exitOK, code)
	want := "suite1 [disabled] single{suite1/beforeAll[0]} single{spec1} single{db}\n" +
		"  db [enabled] group{spec2 spec3}\n"
	require.Equal(t, want, out)
}

func TestConfigFile(t *testing.T) {
	path := writeManifest(t, passing)
	require.NoError(t, os.WriteFile("suitetree.yaml", []byte("output:\n  format: json\n"), 0o644))
	code, out, _ := runCLI(t, "run", path)
	require.Equal(t, exitOK, code)
	require.True(t, json.Valid([]byte(out)))

	code, _, errOut := runCLI(t, "run", path, "--config", "missing.yaml")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "load config")
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	require.Equal(t, exitOK, code)
	require.Equal(t, "suitetree dev\n", out)
}
