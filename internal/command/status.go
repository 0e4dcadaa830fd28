package command

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/metrics"
)

// StatusCommand implements /status and shows the guard's current state.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show policy, MCP and guard status" }

func (c *StatusCommand) Execute(_ context.Context, _ string, env Env) Result {
	var sb strings.Builder
	sb.WriteString("**Farcode Status**\n\n")

	if env.Config != nil {
		sb.WriteString(fmt.Sprintf("- **Provider:** `%s`\n", env.Config.Agent.Provider))
		if env.Config.Agent.Model != "" {
			sb.WriteString(fmt.Sprintf("- **Model:** `%s`\n", env.Config.Agent.Model))
		}
		sb.WriteString(fmt.Sprintf("- **Approval mode:** `%s`\n", env.Config.Approval.Mode))
	}
	if env.WorkDir != "" {
		sb.WriteString(fmt.Sprintf("- **Working dir:** `%s`\n", env.WorkDir))
	}
	if env.Session != nil {
		sb.WriteString(fmt.Sprintf("- **Session:** `%s`\n", env.Session.ID))
	}

	if env.Policy != nil {
		sb.WriteString("\n**Policy:**\n\n")
		sb.WriteString(fmt.Sprintf("- Roots: %s\n", strings.Join(env.Policy.AllowedRoots(), ", ")))
		sb.WriteString(fmt.Sprintf("- Allowed commands: %d, denied: %d\n",
			len(env.Policy.AllowedCommands()), len(env.Policy.DeniedCommands())))
		sb.WriteString(fmt.Sprintf("- Timeout: %s, output limit: %d bytes\n",
			env.Policy.Timeout(), env.Policy.MaxOutputBytes()))
		if protected := env.Policy.ProtectedPaths(); len(protected) > 0 {
			sb.WriteString(fmt.Sprintf("- Protected: %s\n", strings.Join(protected, ", ")))
		}
	}

	if env.MCPStatuses != nil {
		statuses := env.MCPStatuses()
		sb.WriteString("\n**MCP servers:**\n\n")
		if len(statuses) == 0 {
			sb.WriteString("- none\n")
		}
		for _, st := range statuses {
			state := "connected"
			if st.Degraded {
				state = "degraded: " + st.Message
			} else if !st.Connected {
				state = "not connected"
			}
			sb.WriteString(fmt.Sprintf("- %s (%d tools): %s\n", st.Name, st.ToolCount, state))
		}
	}

	sb.WriteString("\n**Guard metrics:**\n\n")
	snap := metrics.Snapshot{}
	if env.Metrics != nil {
		snap = env.Metrics.Snapshot()
	}
	if !snap.HasData() && env.StateDir != "" {
		snap, _ = metrics.ReadSnapshot(env.StateDir)
	}
	if snap.HasData() {
		sb.WriteString(fmt.Sprintf("- Updated: `%s`\n", snap.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("- Verdicts: %d allowed, %d denied (%.1f%%)\n",
			snap.Verdicts.Allowed, snap.Verdicts.Denied, snap.Verdicts.DenialRatio()*100))
		for _, reason := range sortedCounterKeys(snap.Verdicts.ByReason) {
			sb.WriteString(fmt.Sprintf("  - %s: %d\n", reason, snap.Verdicts.ByReason[reason]))
		}
		sb.WriteString(fmt.Sprintf("- Approvals: %d\n", snap.Approvals.Total))
		for _, outcome := range sortedCounterKeys(snap.Approvals.ByOutcome) {
			sb.WriteString(fmt.Sprintf("  - %s: %d\n", outcome, snap.Approvals.ByOutcome[outcome]))
		}
		sb.WriteString(fmt.Sprintf("- Tools: %d calls, err=%.1f%%, timeout=%.1f%%, p95=%dms\n",
			snap.Tool.Total,
			snap.Tool.ErrorRatio()*100,
			snap.Tool.TimeoutRatio()*100,
			snap.Tool.P95ProxyLatencyMs,
		))
	} else {
		sb.WriteString("- No data yet\n")
	}

	configStatus := ""
	if _, err := os.Stat(config.ConfigPath()); err != nil {
		configStatus = " (not found)"
	}
	sb.WriteString(fmt.Sprintf("\n- **Config:** `%s`%s\n", config.ConfigPath(), configStatus))

	return Result{Content: sb.String()}
}

func sortedCounterKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
