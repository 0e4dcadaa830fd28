package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MEKXH/farcode/internal/agent"
	"github.com/MEKXH/farcode/internal/app"
	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/command"
	"github.com/MEKXH/farcode/internal/provider"
	"github.com/MEKXH/farcode/internal/render"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	newChatModel    = provider.NewChatModel
)

func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with Farcode",
		RunE:  runChat,
	}
	cmd.Flags().String("resume", "", "Resume a saved session by id")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	resumeID := ""
	if cmd != nil {
		ctx = cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		resumeID, _ = cmd.Flags().GetString("resume")
	}

	interactive := stdinIsTerminal()
	lines := approval.NewLineSource(os.Stdin)
	var prompter approval.Prompter = approval.DenyPrompter{}
	if interactive {
		prompter = approval.NewTerminalPrompter(lines, os.Stdout)
	}

	cfg, application, err := loadApp(prompter)
	if err != nil {
		return err
	}
	defer application.Close()

	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		chatModel = nil
	}

	var conv *app.Conversation
	if resumeID != "" {
		conv, err = application.ResumeSession(ctx, resumeID)
	} else {
		conv, err = application.NewSession(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer func() {
		if err := application.CloseSession(conv); err != nil {
			slog.Warn("save session failed", "session_id", conv.Session.ID, "error", err)
			return
		}
		if len(conv.Session.GetHistory(0)) > 0 {
			fmt.Printf("Session saved: %s (resume with --resume %s)\n", conv.Session.ID, conv.Session.ID)
		}
	}()

	loop := agent.NewLoop(chatModel, conv.Tools, agent.NewContextBuilder(application.Cwd, application.Policy), agent.Options{
		MaxIterations: cfg.Agent.MaxToolIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		Metrics:       application.Metrics,
	})
	loop.OnToolStart = func(name, args string) {
		fmt.Printf("  > %s\n", name)
	}

	renderer, err := render.NewRenderer(terminalWidth(), !interactive)
	if err != nil {
		slog.Warn("markdown renderer unavailable", "error", err)
		renderer = nil
	}

	if len(args) > 0 {
		return chatOnce(ctx, loop, chatModel, conv, renderer, strings.Join(args, " "))
	}

	if cfg.MCP.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := application.Bridge.Watch(watchCtx, application.SettingsPath()); err != nil {
			slog.Warn("watch mcp settings failed", "error", err)
		}
	}

	cmds := command.Defaults()
	env := command.Env{
		Session:      conv.Session,
		Tools:        conv.Tools,
		Config:       cfg,
		Policy:       application.Policy,
		Metrics:      application.Metrics,
		WorkDir:      application.Cwd,
		StateDir:     application.StateDir,
		MCPStatuses:  application.Bridge.Statuses,
		ListCommands: cmds.List,
	}

	fmt.Println("Farcode ready. Type /help for commands, 'exit' to quit.")
	if chatModel == nil {
		fmt.Println("No model configured: only slash commands are available.")
	}
	if !interactive {
		fmt.Println("Input is not a terminal: tool approvals will be denied.")
	}

	for {
		fmt.Print("\n> ")
		line, err := lines.Next(ctx)
		if err != nil {
			if !errors.Is(err, approval.ErrInputClosed) && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Println()
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if command.IsExitWord(input) {
			return nil
		}
		if c, cmdArgs, ok := cmds.Lookup(input); ok {
			res := c.Execute(ctx, cmdArgs, env)
			fmt.Println(renderer.Markdown(res.Content))
			if res.Exit {
				return nil
			}
			continue
		}
		if strings.HasPrefix(input, "/") {
			fmt.Printf("Unknown command %s. Type /help for the list.\n", strings.Fields(input)[0])
			continue
		}
		if chatModel == nil {
			fmt.Println("No model configured. Set an API key and restart.")
			continue
		}

		resp, err := loop.Process(ctx, conv.Session, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(renderer.Answer(resp))
	}
}

func chatOnce(ctx context.Context, loop *agent.Loop, chatModel model.ChatModel, conv *app.Conversation, renderer *render.Renderer, message string) error {
	if chatModel == nil {
		fmt.Println("No model configured. Set an API key with 'farcode init' or the provider's environment variable.")
		return nil
	}
	resp, err := loop.Process(ctx, conv.Session, message)
	if err != nil {
		return err
	}
	fmt.Println(renderer.Answer(resp))
	return nil
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 100
	}
	return width
}
