package commands

import (
	"fmt"

	"github.com/MEKXH/farcode/internal/app"
	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/config"
)

// loadApp loads the config and builds the guard. A config or policy error
// stops the command before anything runs.
func loadApp(prompter approval.Prompter) (*config.Config, *app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	application, err := app.New(cfg, app.Options{Prompter: prompter})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start: %w", err)
	}
	return cfg, application, nil
}
