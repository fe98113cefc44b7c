package manifest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	suite "github.com/hanpama/suitetree/internal/suite"
)

// EnvFileVar names the variable holding the path of the file a hook can
// write KEY=VALUE lines into. Those lines are exported to the rest of the
// suite.
const EnvFileVar = "SUITETREE_ENV"

// outputTail bounds how much command output is kept in a failure message.
const outputTail = 4 << 10

type buildOptions struct {
	shell   string
	timeout time.Duration
	env     map[string]string
	output  io.Writer
}

type BuildOption func(*buildOptions)

// WithShell sets the shell commands run with. Default "sh".
func WithShell(path string) BuildOption { return func(o *buildOptions) { o.shell = path } }

// WithDefaultTimeout sets the spec timeout used when the manifest sets none.
func WithDefaultTimeout(d time.Duration) BuildOption {
	return func(o *buildOptions) { o.timeout = d }
}

// WithEnv adds variables to the root suite. Manifest env wins on conflict.
func WithEnv(env map[string]string) BuildOption {
	return func(o *buildOptions) {
		for k, v := range env {
			o.env[k] = v
		}
	}
}

// WithOutput copies the output of every command to w.
func WithOutput(w io.Writer) BuildOption { return func(o *buildOptions) { o.output = w } }

// Build turns the manifest into a runnable plan.
func (m *Manifest) Build(opts ...BuildOption) (*suite.Plan, error) {
	o := buildOptions{shell: "sh", env: map[string]string{}}
	for _, f := range opts {
		f(&o)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	x := &executor{shell: o.shell, dir: m.Dir, output: o.output}

	name := m.Name
	if name == "" {
		name = "manifest"
	}
	b := suite.New(name)
	timeout, _ := parseTimeout(m.Timeout)
	if timeout == 0 {
		timeout = o.timeout
	}
	b.SetTimeout(timeout)
	for k, v := range o.env {
		b.Setenv(k, v)
	}
	for k, v := range m.Env {
		b.Setenv(k, v)
	}
	declare(b, x, m.BeforeAll, m.AfterAll, m.Children)
	return b.Build()
}

func declare(b *suite.Builder, x *executor, before, after []string, children []Item) {
	for _, cmd := range before {
		b.BeforeAll(x.hook(cmd))
	}
	for _, cmd := range after {
		b.AfterAll(x.hook(cmd))
	}
	for _, it := range children {
		it := it
		opts := itemOptions(it)
		if it.IsSuite() {
			b.Describe(it.Name, func(b *suite.Builder) {
				declare(b, x, it.BeforeAll, it.AfterAll, it.Children)
			}, opts...)
			continue
		}
		b.It(it.Name, x.spec(it.Run), opts...)
	}
}

func itemOptions(it Item) []suite.Option {
	var opts []suite.Option
	if it.ID != "" {
		opts = append(opts, suite.ID(it.ID))
	}
	if it.Concurrent {
		opts = append(opts, suite.Concurrent())
	}
	if it.Skip {
		opts = append(opts, suite.Skip())
	}
	if it.Focus {
		opts = append(opts, suite.Focus())
	}
	if d, _ := parseTimeout(it.Timeout); d > 0 {
		opts = append(opts, suite.Timeout(d))
	}
	return opts
}

// executor runs manifest commands through a shell.
type executor struct {
	shell  string
	dir    string
	output io.Writer
}

func (x *executor) spec(script string) suite.Body {
	return func(ctx context.Context, vars *suite.Vars) error {
		return x.run(ctx, script, vars, "")
	}
}

// hook runs script with an env file and copies what it wrote into vars.
func (x *executor) hook(script string) suite.Body {
	return func(ctx context.Context, vars *suite.Vars) error {
		f, err := os.CreateTemp("", "suitetree-env-*")
		if err != nil {
			return fmt.Errorf("create env file: %w", err)
		}
		path := f.Name()
		f.Close()
		defer os.Remove(path)

		if err := x.run(ctx, script, vars, path); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		exported, err := ParseEnv(data)
		if err != nil {
			return err
		}
		for k, v := range exported {
			vars.Set(k, v)
		}
		return nil
	}
}

func (x *executor) run(ctx context.Context, script string, vars *suite.Vars, envFile string) error {
	cmd := exec.CommandContext(ctx, x.shell, "-c", script)
	cmd.Dir = x.dir
	cmd.WaitDelay = time.Second
	env := append(os.Environ(), vars.Environ()...)
	if envFile != "" {
		env = append(env, EnvFileVar+"="+envFile)
	}
	cmd.Env = env

	var out bytes.Buffer
	var w io.Writer = &out
	if x.output != nil {
		w = io.MultiWriter(&out, x.output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tail := lastBytes(out.Bytes(), outputTail); len(tail) > 0 {
			return fmt.Errorf("%w\n%s", err, tail)
		}
		return err
	}
	return nil
}

// ParseEnv reads KEY=VALUE lines. Blank lines and lines starting with # are
// ignored; an optional "export " prefix is accepted.
func ParseEnv(data []byte) (map[string]string, error) {
	out := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: env file line %d: expected KEY=VALUE", ErrInvalid, line)
		}
		out[k] = unquote(strings.TrimSpace(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func lastBytes(b []byte, n int) string {
	b = bytes.TrimRight(b, "\n")
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
