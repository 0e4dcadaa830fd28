package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MEKXH/farcode/internal/session"
	"github.com/MEKXH/farcode/internal/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// slowTool is a mock tool that sleeps.
type slowTool struct {
	delay time.Duration
}

func (t *slowTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "slow_tool",
		Desc: "A slow tool",
	}, nil
}

func (t *slowTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	time.Sleep(t.delay)
	return "done", nil
}

// parallelMockModel returns multiple tool calls.
type parallelMockModel struct {
	callCount int
	toolCount int
	lastInput []*schema.Message
}

func (m *parallelMockModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.callCount++
	m.lastInput = input
	if m.callCount == 1 {
		toolCalls := make([]schema.ToolCall, m.toolCount)
		for i := 0; i < m.toolCount; i++ {
			toolCalls[i] = schema.ToolCall{
				ID: fmt.Sprintf("call_%d", i),
				Function: schema.FunctionCall{
					Name:      "slow_tool",
					Arguments: "{}",
				},
			}
		}
		return &schema.Message{
			Role:      schema.Assistant,
			Content:   "",
			ToolCalls: toolCalls,
		}, nil
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: "Final response",
	}, nil
}

func (m *parallelMockModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *parallelMockModel) BindTools(toolInfos []*schema.ToolInfo) error {
	return nil
}

func TestLoop_ParallelToolExecution(t *testing.T) {
	delay := 100 * time.Millisecond
	toolCount := 3

	mockModel := &parallelMockModel{toolCount: toolCount}
	registry := tools.NewRegistry()
	if err := registry.Register(&slowTool{delay: delay}); err != nil {
		t.Fatalf("failed to register slow tool: %v", err)
	}

	tmpDir := t.TempDir()
	loop := NewLoop(mockModel, registry, NewContextBuilder(tmpDir, nil), Options{MaxIterations: 10})
	sess := session.NewManager("").Create()

	start := time.Now()
	out, err := loop.Process(context.Background(), sess, "trigger tools")
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	duration := time.Since(start)

	if out != "Final response" {
		t.Fatalf("unexpected answer: %q", out)
	}
	if expected := delay * 2; duration >= expected {
		t.Errorf("expected execution time < %v, got %v", expected, duration)
	}

	// system + user + assistant(tool calls) + one tool message per call
	if got, want := len(mockModel.lastInput), 3+toolCount; got != want {
		t.Fatalf("expected %d messages on second turn, got %d", want, got)
	}
	for i, msg := range mockModel.lastInput[3:] {
		if msg.Role != schema.Tool {
			t.Fatalf("message %d role = %s, want tool", i, msg.Role)
		}
		if msg.ToolCallID != fmt.Sprintf("call_%d", i) {
			t.Fatalf("tool results out of order: %d has %s", i, msg.ToolCallID)
		}
	}
}
