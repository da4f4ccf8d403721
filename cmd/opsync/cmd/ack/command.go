// Package ack implements the alert acknowledge command.
package ack

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/cmd/opsync/cmd/cmdutil"
	"github.com/agentstation/opsync/internal/appcontext"
)

// NewCommand creates the ack command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:     "ack <alert-id>",
		GroupID: "actions",
		Short:   "Acknowledge an alert",
		Long: `Ack acknowledges an alert on the console backend and re-polls the
alerts class so the local copy reflects the change.`,
		Example: `  opsync ack alert-123`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			result, err := client.AcknowledgeAlert(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.PrintResult(cmd.OutOrStdout(), app.OutputFormat(), opsync.ActionAcknowledgeAlert, args[0], result)
		},
	}
}
