// Package serve implements the bridge server command.
package serve

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/bridge"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// NewCommand creates the serve command using app context.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"bridge"},
		GroupID: "core",
		Short:   "Run a session and expose it to browsers over HTTP and WebSocket",
		Long: `Serve runs a session and a local bridge for a browser dashboard.

Endpoints:
  GET /api/health              - bridge liveness
  GET /api/connectivity        - push channel state
  GET /api/snapshots           - every stored snapshot
  GET /api/snapshots/:class    - one class
  GET /ws                      - snapshot and connectivity stream

New websocket clients receive the current connectivity and every stored
snapshot before live updates.`,
		Example: `  # Listen on the configured bridge address
  opsync serve

  # Listen on all interfaces
  opsync serve --addr 0.0.0.0:8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config().BridgeAddr
			}
			return run(cmd.Context(), app, addr)
		},
	}

	cmd.Flags().String("addr", "", "bridge listen address (default from config, 127.0.0.1:8090)")

	return cmd
}

func run(ctx context.Context, app appcontext.Interface, addr string) error {
	client, err := app.Client()
	if err != nil {
		return err
	}

	srv := bridge.New(client, app.Logger())

	for _, class := range telemetry.AllClasses() {
		if _, err := client.Subscribe(class, srv.Publish); err != nil {
			return err
		}
	}
	client.OnConnectivityChanged(srv.PublishState)

	if err := client.Start(ctx); err != nil {
		return err
	}

	return srv.Run(ctx, addr)
}
