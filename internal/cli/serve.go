package cli

import (
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/autopilot/internal/control"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/transport/socketio"
)

// ServeCmd returns the serve command.
func ServeCmd(opts *Options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its HTTP control surface and event relay",
		Long: `Serve runs the orchestration engine in the foreground.

The control surface (POST /executions, /executions/{id}/start|pause|resume|cancel,
GET /executions/{id} and /executions/{id}/metrics) and the socket.io event relay
(/socket.io/) share one listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger(cfg)
			ctx := logging.WithLogger(cmd.Context(), logger)

			rt, err := newRuntime(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			relay := socketio.NewRelay(rt.bus, logger)
			mux := http.NewServeMux()
			mux.Handle(socketio.Path, relay.Handler())
			mux.Handle("/", control.NewHandler(rt.engine, logger))
			srv := control.NewServer(cfg.Server.Addr, mux, logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(ctx) })
			g.Go(func() error { return relay.Run(ctx) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")

	return cmd
}
