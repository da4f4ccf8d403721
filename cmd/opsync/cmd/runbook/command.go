// Package runbook implements the runbook commands.
package runbook

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/cmd/opsync/cmd/cmdutil"
	"github.com/agentstation/opsync/internal/appcontext"
)

// NewCommand creates the runbook command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runbook",
		GroupID: "actions",
		Short:   "Run remediation runbooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(NewExecCommand(app))

	return cmd
}

// NewExecCommand creates the runbook exec subcommand.
func NewExecCommand(app appcontext.Interface) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "exec <runbook-id>",
		Short: "Execute a runbook",
		Long: `Exec starts a runbook on the console backend, then re-polls runbooks
and incidents.`,
		Example: `  opsync runbook exec rb-restart-pod
  opsync runbook exec rb-scale --param replicas=3 --param dry_run=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := cmdutil.ParseParams(params)
			if err != nil {
				return err
			}
			client, err := app.Client()
			if err != nil {
				return err
			}
			result, err := client.ExecuteRunbook(cmd.Context(), args[0], parsed)
			if err != nil {
				return err
			}
			return cmdutil.PrintResult(cmd.OutOrStdout(), app.OutputFormat(), opsync.ActionExecuteRunbook, args[0], result)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "runbook parameter as key=value (repeatable)")

	return cmd
}
