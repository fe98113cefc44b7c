package main

import (
	"context"

	"github.com/spf13/cobra"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	logging "github.com/hanpama/suitetree/internal/logging"
	manifest "github.com/hanpama/suitetree/internal/manifest"
	runid "github.com/hanpama/suitetree/internal/runid"
	runner "github.com/hanpama/suitetree/internal/runner"
	server "github.com/hanpama/suitetree/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		token  string
		pretty bool
		cors   []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /run, which runs a posted manifest and returns its JSON report",
		Long: `Serve POST /run, which runs a posted manifest and returns its JSON report.

Posted manifests run arbitrary shell commands. The server listens on the
loopback interface by default, rejects browser requests from origins not
listed with --cors and, when --token is set, requires it as a bearer token.`,
		Example: `  suitetree serve --addr 127.0.0.1:9000 --token "$TOKEN"
  curl --data-binary @plan.yaml -H 'Content-Type: application/yaml' \
    -H "Authorization: Bearer $TOKEN" 'localhost:9000/run?focus=db'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("token") {
				a.cfg.Server.Token = token
			}
			shutdown, err := a.setup()
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			log := logging.New("server")
			defer eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
				id, _ := runid.FromContext(ctx)
				log.Info("request", "run_id", id, "route", e.Route, "status", e.Status, "duration", e.Duration)
			})()

			opts := []server.Option{
				server.WithTimeout(a.cfg.Server.Timeout),
				server.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
				server.WithBuildOptions(manifest.WithDefaultTimeout(a.cfg.Timeout)),
				server.WithToken(a.cfg.Server.Token),
			}
			if pretty {
				opts = append(opts, server.WithPretty())
			}
			if len(cors) > 0 {
				opts = append(opts, server.WithCORS(cors...))
			}
			h := server.New(runner.New(a.cfg, runner.WithLogger(logging.New("runner"))), opts...)

			if a.cfg.Server.Token == "" {
				log.Warn("no token set, any local process can run commands", "addr", a.cfg.Server.Addr)
			}
			log.Info("listening", "addr", a.cfg.Server.Addr)
			return server.ListenAndServe(cmd.Context(), a.cfg.Server.Addr, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token required on /run (overrides server.token)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON responses")
	cmd.Flags().StringArrayVar(&cors, "cors", nil, "allowed CORS origin, * for any (repeatable)")
	return cmd
}
