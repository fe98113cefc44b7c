package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	config "github.com/hanpama/suitetree/internal/config"
	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	logging "github.com/hanpama/suitetree/internal/logging"
	otel "github.com/hanpama/suitetree/internal/otel"
)

var version = "dev"

// errFailed signals a completed run with failures. The report has already
// been printed.
var errFailed = errors.New("run failed")

const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFailed):
		return exitFailed
	default:
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		fmt.Fprintf(stderr, "%s %v\n", red("error:"), err)
		return exitError
	}
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	stdout, stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string
	noColor    bool

	cfg *config.Config
}

func (a *app) colorize() bool {
	return a.cfg.Output.Color && !a.noColor && !color.NoColor
}

// setup installs the event bus and tracing. The returned func flushes
// traces.
func (a *app) setup() (func(context.Context) error, error) {
	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(a.cfg.Otel.Endpoint, a.cfg.Otel.Service)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return shutdown, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "suitetree",
		Short:         "Run trees of suites and specs with ordered hooks and bounded concurrency",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = a.logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = a.logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := logging.ParseLevel(cfg.Log.Level)
			logging.Init(level, cfg.Log.Format, a.stderr)
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "suitetree %s\n", version)
		},
	}
}
