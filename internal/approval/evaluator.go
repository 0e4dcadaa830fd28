package approval

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Action is the gate's pre-prompt decision for a tool.
type Action string

const (
	ActionAutoApprove Action = "auto_approve"
	ActionAskHuman    Action = "ask_human"
	ActionDeny        Action = "deny"
)

// Mode controls evaluator behavior.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeRelaxed Mode = "relaxed"
)

// EvaluatorConfig contains the settings the evaluator needs.
type EvaluatorConfig struct {
	Mode        Mode
	AutoApprove []string
}

// Decision is the deterministic evaluator result.
type Decision struct {
	Action Action
	Reason string
}

// Evaluator performs pure pre-prompt decisions.
type Evaluator struct {
	mode        Mode
	autoApprove []string
}

// NewEvaluator builds a side-effect free evaluator. AutoApprove entries may
// be glob patterns such as "mcp.docs.*".
func NewEvaluator(cfg EvaluatorConfig) Evaluator {
	patterns := make([]string, 0, len(cfg.AutoApprove))
	for _, name := range cfg.AutoApprove {
		normalized := normalizeToolName(name)
		if normalized == "" {
			continue
		}
		patterns = append(patterns, normalized)
	}

	return Evaluator{
		mode:        normalizeMode(cfg.Mode),
		autoApprove: patterns,
	}
}

// Evaluate decides whether a tool needs a human.
func (e Evaluator) Evaluate(toolName string) Decision {
	name := normalizeToolName(toolName)

	switch e.mode {
	case ModeStrict:
		return Decision{Action: ActionAskHuman}
	case ModeRelaxed:
		for _, pattern := range e.autoApprove {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return Decision{Action: ActionAutoApprove, Reason: "auto_approve: " + pattern}
			}
		}
		return Decision{Action: ActionAskHuman}
	default:
		return Decision{Action: ActionDeny, Reason: "unknown approval mode"}
	}
}

func normalizeMode(mode Mode) Mode {
	normalized := Mode(strings.ToLower(strings.TrimSpace(string(mode))))
	if normalized == "" {
		return ModeStrict
	}
	return normalized
}
