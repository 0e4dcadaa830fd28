package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/spf13/cobra"
)

const settingsTemplate = `{
  "mcpServers": {}
}
`

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Farcode configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()

	dirs := []string{
		config.ConfigDir(),
		config.StateDir(),
		filepath.Join(config.StateDir(), "sessions"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	settingsPath := filepath.Join(config.ConfigDir(), "settings.json")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, []byte(settingsTemplate), 0644); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
	}

	fmt.Printf("Farcode initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("MCP settings: %s\n", settingsPath)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to add an API key or export OPEN_ROUTER_API_KEY\n", configPath)
	fmt.Printf("2. Review the shell policy with 'farcode policy show'\n")
	fmt.Printf("3. Run 'farcode chat' in your project\n")

	return nil
}
