package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/shell"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var errCommandDenied = errors.New("command denied by policy")

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8E4EC6"))
	allowStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E8B57"))
	denyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D9534F"))
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and exercise the shell policy",
	}

	cmd.AddCommand(
		newPolicyShowCmd(),
		newPolicyCheckCmd(),
		newPolicyRunCmd(),
	)

	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective policy",
		RunE:  runPolicyShow,
	}
}

func newPolicyCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Validate a command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPolicyCheck,
	}
	cmd.Flags().String("dir", "", "Working directory for relative paths")
	return cmd
}

func newPolicyRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Validate and run a command in the sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPolicyRun,
	}
	cmd.Flags().String("dir", "", "Working directory for relative paths")
	return cmd
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	cfg, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()
	p := application.Policy

	fmt.Println(sectionStyle.Render("Shell policy"))
	fmt.Printf("  Allowed roots:    %s\n", strings.Join(p.AllowedRoots(), ", "))
	fmt.Printf("  Allowed commands: %s\n", strings.Join(p.AllowedCommands(), ", "))
	fmt.Printf("  Denied commands:  %s\n", strings.Join(p.DeniedCommands(), ", "))
	protected := p.ProtectedPaths()
	if len(protected) == 0 {
		fmt.Printf("  Protected paths:  (none)\n")
	} else {
		fmt.Printf("  Protected paths:  %s\n", strings.Join(protected, ", "))
	}
	fmt.Printf("  Timeout:          %s\n", p.Timeout())
	fmt.Printf("  Max output:       %d bytes per stream\n", p.MaxOutputBytes())
	if file := strings.TrimSpace(cfg.Shell.PolicyFile); file != "" {
		fmt.Printf("  Policy file:      %s\n", file)
	}

	fmt.Println()
	fmt.Println(sectionStyle.Render("Approval"))
	fmt.Printf("  Mode:             %s\n", cfg.Approval.Mode)
	if len(cfg.Approval.AutoApprove) > 0 {
		fmt.Printf("  Auto-approve:     %s\n", strings.Join(cfg.Approval.AutoApprove, ", "))
	}
	if cfg.Approval.PromptTimeout > 0 {
		fmt.Printf("  Prompt timeout:   %s\n", cfg.PromptTimeout())
	}
	return nil
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	_, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()

	raw := strings.Join(args, " ")
	inv, cwd, verdict, err := application.Shell.Check(commandContext(cmd), raw, flagString(cmd, "dir"))
	if err != nil {
		fmt.Printf("%s %s\n", denyStyle.Render("DENY"), reasonLabel(verdict))
		fmt.Printf("  %v\n", err)
		return errCommandDenied
	}
	fmt.Printf("%s %s\n", allowStyle.Render("ALLOW"), shell.Join(inv))
	fmt.Printf("  cwd: %s\n", cwd)
	return nil
}

func runPolicyRun(cmd *cobra.Command, args []string) error {
	_, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()

	out, err := application.Shell.Run(commandContext(cmd), strings.Join(args, " "), flagString(cmd, "dir"))
	if err != nil {
		var denial *shell.DenialError
		if errors.As(err, &denial) {
			fmt.Printf("%s %s\n", denyStyle.Render("DENY"), reasonLabel(denial.Verdict))
			fmt.Printf("  %s\n", denial.Message)
			return errCommandDenied
		}
		return err
	}
	fmt.Print(out)
	if out != "" && !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return nil
}

func reasonLabel(v shell.Verdict) string {
	if v.Reason == shell.ReasonNone {
		return ""
	}
	return "(" + string(v.Reason) + ")"
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}
