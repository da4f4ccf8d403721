// Package status implements the status command.
package status

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// NewCommand creates the status command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "core",
		Short:   "Check whether the push channel comes up",
		Long: `Status starts a session, waits for the push channel to open or for the
wait period to pass, and prints the resulting connectivity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), app, cmd.OutOrStdout(), wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the push channel")

	return cmd
}

func run(ctx context.Context, app appcontext.Interface, w io.Writer, wait time.Duration) error {
	client, err := app.Client()
	if err != nil {
		return err
	}

	opened := make(chan struct{})
	var once sync.Once
	client.OnConnectivityChanged(func(s telemetry.ConnectionState) {
		if s.Phase == telemetry.Open {
			once.Do(func() { close(opened) })
		}
	})

	if !app.Config().PushDisabled {
		if err := client.Start(ctx); err != nil {
			return err
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-opened:
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	return output.NewFormatter(app.OutputFormat()).Format(w, output.NewConnectivityView(client.ConnectionState()))
}
