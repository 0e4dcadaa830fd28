package commands

import (
	"fmt"
	"strings"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/config"
	"github.com/spf13/cobra"
)

func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect MCP servers",
	}
	cmd.AddCommand(newMCPListCmd())
	return cmd
}

func newMCPListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers and their health",
		RunE:  runMCPList,
	}
	cmd.Flags().Bool("no-connect", false, "Only show the configuration, do not launch servers")
	return cmd
}

func runMCPList(cmd *cobra.Command, args []string) error {
	cfg, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()

	path := config.SettingsPath(cfg)
	servers, err := config.LoadMCPServers(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	fmt.Printf("Settings: %s\n", path)
	if len(servers) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	noConnect := false
	if cmd != nil {
		noConnect, _ = cmd.Flags().GetBool("no-connect")
	}
	if noConnect {
		for _, s := range servers {
			state := "enabled"
			if !config.IsMCPServerEnabled(s) {
				state = "disabled"
			}
			fmt.Printf("  %s: %s (%s)\n", s.Name, serverCommand(s), state)
		}
		return nil
	}

	if _, err := application.Bridge.Tools(commandContext(cmd)); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	statuses := application.Bridge.Statuses()
	fmt.Println("MCP servers:")
	for _, st := range statuses {
		switch {
		case st.Connected:
			fmt.Printf("  %s: %s (%d tools)\n", st.Name, allowStyle.Render("healthy"), st.ToolCount)
		case st.Degraded:
			fmt.Printf("  %s: %s (%s)\n", st.Name, denyStyle.Render("degraded"), st.Message)
		default:
			fmt.Printf("  %s: disabled\n", st.Name)
		}
	}
	return nil
}

func serverCommand(s config.MCPServerConfig) string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}
