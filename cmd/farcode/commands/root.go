package commands

import (
	"github.com/MEKXH/farcode/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "farcode",
		Short: "Farcode - a guarded coding agent",
		Long: `Farcode is a coding agent whose every shell command and file access is
checked against a local policy and, when needed, approved by you.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, cmd.Name() == "chat")
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewChatCmd(),
		NewPolicyCmd(),
		NewToolsCmd(),
		NewMCPCmd(),
		NewAuditCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}
