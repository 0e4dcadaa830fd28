package commands

import (
	"fmt"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/command"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show policy, MCP configuration and guard metrics",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()

	res := (&command.StatusCommand{}).Execute(commandContext(cmd), "", command.Env{
		Config:   cfg,
		Policy:   application.Policy,
		WorkDir:  application.Cwd,
		StateDir: application.StateDir,
	})
	fmt.Print(res.Content)
	return nil
}
