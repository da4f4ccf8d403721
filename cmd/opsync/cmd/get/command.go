// Package get implements the one-shot get command.
package get

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// NewCommand creates the get command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	validArgs := make([]string, 0, len(telemetry.AllClasses()))
	for _, class := range telemetry.AllClasses() {
		validArgs = append(validArgs, class.String())
	}

	return &cobra.Command{
		Use:     "get <class>",
		GroupID: "core",
		Short:   "Poll one class once and print it",
		Long: `Get polls a single class over REST, reconciles it and prints the
resulting snapshot. The push channel is not opened.

Classes: metrics, alerts, incidents, runbooks, skills, stats`,
		Example: `  opsync get alerts
  opsync get metrics -o yaml`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: validArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app, cmd.OutOrStdout(), args[0])
		},
	}
}

func run(ctx context.Context, app appcontext.Interface, w io.Writer, name string) error {
	class, err := telemetry.ParseEntityClass(name)
	if err != nil {
		return err
	}

	client, err := app.Client()
	if err != nil {
		return err
	}

	if err := client.Refresh(ctx, class); err != nil {
		return errors.WrapResource("fetch", "snapshot", class.String(), err)
	}

	snap, ok := client.Get(class)
	if !ok {
		// the poll came back but did not validate
		return errors.NewNotFoundError("snapshot", class.String())
	}

	app.Logger().Debug().
		Str("class", class.String()).
		Int("bytes", len(snap.Payload)).
		Msg("Fetched snapshot")

	return output.NewFormatter(app.OutputFormat()).Format(w, output.NewSnapshotView(snap))
}
