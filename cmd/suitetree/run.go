package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	logging "github.com/hanpama/suitetree/internal/logging"
	manifest "github.com/hanpama/suitetree/internal/manifest"
	report "github.com/hanpama/suitetree/internal/report"
	runner "github.com/hanpama/suitetree/internal/runner"
	suite "github.com/hanpama/suitetree/internal/suite"
)

type planFlags struct {
	focus []string
	shell string
	env   []string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.focus, "focus", nil, "run only this node id and everything below it (repeatable)")
	cmd.Flags().StringVar(&f.shell, "shell", "sh", "shell that runs every command with -c")
	cmd.Flags().StringArrayVar(&f.env, "env", nil, "KEY=VALUE added to the root suite; manifest env wins (repeatable)")
}

func (f *planFlags) buildOptions() ([]manifest.BuildOption, error) {
	env := make(map[string]string, len(f.env))
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--env %q: expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return []manifest.BuildOption{manifest.WithShell(f.shell), manifest.WithEnv(env)}, nil
}

// load reads the manifest at path and applies the plan flags.
func (a *app) load(path string, f *planFlags, extra ...manifest.BuildOption) (*suite.Plan, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	opts, err := f.buildOptions()
	if err != nil {
		return nil, err
	}
	opts = append([]manifest.BuildOption{manifest.WithDefaultTimeout(a.cfg.Timeout)}, opts...)
	plan, err := m.Build(append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	if err := plan.Focus(f.focus...); err != nil {
		return nil, err
	}
	return plan, nil
}

func newRunCmd(a *app) *cobra.Command {
	var pf planFlags
	var (
		asJSON       bool
		verbose      bool
		showExcluded bool
		concurrency  int
	)
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a manifest and print its report",
		Long: `Run every enabled spec of a manifest.

Concurrent siblings run together, the rest run one by one in declaration
order, and each suite's before_all and after_all commands bracket its
children. The exit code is 1 when a spec failed or a suite reported an
error.`,
		Example: `  suitetree run plan.yaml
  suitetree run plan.yaml --focus db --concurrency 8
  suitetree run plan.yaml --json > report.json
  suitetree run plan.yaml --env BASE_URL=http://localhost:9000 --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("concurrency") {
				a.cfg.MaxConcurrency = concurrency
			}
			if flags.Changed("timeout") {
				a.cfg.Timeout, _ = flags.GetDuration("timeout")
			}
			if asJSON {
				a.cfg.Output.Format = "json"
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			var extra []manifest.BuildOption
			if verbose {
				extra = append(extra, manifest.WithOutput(a.stderr))
			}
			plan, err := a.load(args[0], &pf, extra...)
			if err != nil {
				return err
			}
			shutdown, err := a.setup()
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			text := a.cfg.Output.Format == "text"
			if text {
				progress := report.NewProgress(a.stdout, a.colorize())
				if showExcluded {
					progress.ShowExcluded()
				}
				defer progress.Attach()()
			}

			r := runner.New(a.cfg, runner.WithLogger(logging.New("runner")))
			rep, err := r.Run(cmd.Context(), plan)
			if err != nil {
				return err
			}
			if text {
				fmt.Fprintln(a.stdout)
				report.Summary(a.stdout, rep, a.colorize())
			} else if err := report.JSON(a.stdout, rep); err != nil {
				return err
			}
			if !rep.OK() {
				return errFailed
			}
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "copy command output to stderr")
	cmd.Flags().BoolVar(&showExcluded, "show-excluded", false, "list specs left out by --focus in the progress output")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent siblings per group (overrides max_concurrency)")
	cmd.Flags().Duration("timeout", 0, "default timeout per hook and spec (overrides timeout)")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var pf planFlags
	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Print the batch plan of every suite without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.load(args[0], &pf)
			if err != nil {
				return err
			}
			plans, err := runner.New(a.cfg).Describe(plan)
			if err != nil {
				return err
			}
			report.Plans(a.stdout, plans)
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}
