package commands

import (
	"fmt"
	"strings"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/spf13/cobra"
)

func NewToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools a chat session would get",
		RunE:  runTools,
	}
}

func runTools(cmd *cobra.Command, args []string) error {
	_, application, err := loadApp(approval.DenyPrompter{})
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := commandContext(cmd)
	conv, err := application.NewSession(ctx)
	if err != nil {
		return err
	}
	infos, err := conv.Tools.ToolInfos(ctx)
	if err != nil {
		return err
	}

	fmt.Println(sectionStyle.Render("Tools"))
	for _, info := range infos {
		desc := strings.TrimSpace(strings.SplitN(info.Desc, "\n", 2)[0])
		fmt.Printf("  %-28s %s\n", info.Name, desc)
	}
	return nil
}
