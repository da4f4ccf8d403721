// Package watch implements the watch command.
package watch

import (
	"context"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/config"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/store"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// NewCommand creates the watch command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:     "watch [class...]",
		GroupID: "core",
		Short:   "Stream accepted snapshots until interrupted",
		Long: `Watch runs a session and prints every snapshot the session accepts,
from either the push channel or polling. With no classes every class is
watched.`,
		Example: `  opsync watch
  opsync watch alerts incidents -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app, cmd.OutOrStdout(), args)
		},
	}
}

func run(ctx context.Context, app appcontext.Interface, w io.Writer, args []string) error {
	logger := app.Logger()

	if len(args) > 0 {
		classes, err := config.ParseClasses(args)
		if err != nil {
			return err
		}
		// only poll what is watched; the client is built after this
		app.Config().Classes = classes
	}
	classes := app.Config().Classes
	if len(classes) == 0 {
		classes = telemetry.AllClasses()
	}

	client, err := app.Client()
	if err != nil {
		return err
	}

	formatter := output.NewFormatter(app.OutputFormat())
	var mu sync.Mutex
	emit := func(s telemetry.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if err := formatter.Format(w, output.NewSnapshotView(s)); err != nil {
			logger.Warn().Err(err).Str("class", s.Class.String()).Msg("Failed to print snapshot")
		}
	}

	handles := make([]store.Handle, 0, len(classes))
	for _, class := range classes {
		h, err := client.Subscribe(class, emit)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	defer func() {
		for _, h := range handles {
			client.Unsubscribe(h)
		}
	}()

	client.OnConnectivityChanged(func(s telemetry.ConnectionState) {
		logger.Info().
			Str("connectivity", string(s.Connectivity())).
			Str("phase", string(s.Phase)).
			Int("attempt", s.Attempt).
			Msg("Push channel state changed")
	})

	if err := client.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Debug().Msg("Watch stopped")
	return nil
}
