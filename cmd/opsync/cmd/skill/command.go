// Package skill implements the skill commands.
package skill

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/cmd/opsync/cmd/cmdutil"
	"github.com/agentstation/opsync/internal/appcontext"
)

// NewCommand creates the skill command with app dependencies.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "skill",
		GroupID: "actions",
		Short:   "Execute, reload and configure operator skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newExecCommand(app))
	cmd.AddCommand(newReloadCommand(app))
	cmd.AddCommand(newConfigCommand(app))

	return cmd
}

func newExecCommand(app appcontext.Interface) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:     "exec <skill-name>",
		Short:   "Execute a skill",
		Example: `  opsync skill exec sre_alert_handler --param alert_id=alert-123`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := cmdutil.ParseParams(params)
			if err != nil {
				return err
			}
			client, err := app.Client()
			if err != nil {
				return err
			}
			result, err := client.ExecuteSkill(cmd.Context(), args[0], parsed)
			if err != nil {
				return err
			}
			return cmdutil.PrintResult(cmd.OutOrStdout(), app.OutputFormat(), opsync.ActionExecuteSkill, args[0], result)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "skill parameter as key=value (repeatable)")

	return cmd
}

func newReloadCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <skill-name>",
		Short: "Reload a skill from disk on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			result, err := client.ReloadSkill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.PrintResult(cmd.OutOrStdout(), app.OutputFormat(), opsync.ActionReloadSkill, args[0], result)
		},
	}
}

func newConfigCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:     "config <skill-name> <key=value>...",
		Short:   "Replace a skill's configuration",
		Example: `  opsync skill config sre_alert_handler threshold=90 notify=true`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdutil.ParseParams(args[1:])
			if err != nil {
				return err
			}
			client, err := app.Client()
			if err != nil {
				return err
			}
			result, err := client.UpdateSkillConfig(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			return cmdutil.PrintResult(cmd.OutOrStdout(), app.OutputFormat(), opsync.ActionUpdateSkillConfig, args[0], result)
		},
	}
}
