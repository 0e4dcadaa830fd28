package commands

import (
	"fmt"
	"time"

	"github.com/MEKXH/farcode/internal/audit"
	"github.com/MEKXH/farcode/internal/config"
	"github.com/spf13/cobra"
)

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent guard decisions",
		RunE:  runAudit,
	}
	cmd.Flags().Int("limit", 20, "Number of events to show")
	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	limit := 20
	if cmd != nil {
		limit, _ = cmd.Flags().GetInt("limit")
	}
	path := audit.NewWriter(config.StateDir()).Path()
	events, err := audit.ReadEvents(path, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No audit events yet.")
		return nil
	}
	for _, ev := range events {
		subject := ev.Tool
		if ev.Command != "" {
			subject = ev.Command
		}
		line := fmt.Sprintf("%s  %-9s %-16s %s", ev.Time.Local().Format(time.DateTime), ev.Type, ev.Result, subject)
		if ev.Reason != "" {
			line += "  [" + ev.Reason + "]"
		}
		fmt.Println(line)
	}
	return nil
}
