package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MEKXH/farcode/internal/metrics"
	"github.com/MEKXH/farcode/internal/session"
	"github.com/MEKXH/farcode/internal/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

const (
	defaultMaxIterations = 20
	defaultHistoryLimit  = 50
)

// Options tunes a Loop.
type Options struct {
	MaxIterations int
	HistoryLimit  int
	Metrics       *metrics.Recorder
}

// Loop drives one model through tool calls until it answers.
type Loop struct {
	model         model.ChatModel
	tools         *tools.Registry
	context       *ContextBuilder
	runtimeMetric *metrics.Recorder
	maxIterations int
	historyLimit  int

	OnToolStart  func(name, args string)
	OnToolFinish func(name, result string, err error)
}

// NewLoop creates a new agent loop over a session's tool registry.
func NewLoop(chatModel model.ChatModel, registry *tools.Registry, cb *ContextBuilder, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Loop{
		model:         chatModel,
		tools:         registry,
		context:       cb,
		runtimeMetric: opts.Metrics,
		maxIterations: opts.MaxIterations,
		historyLimit:  opts.HistoryLimit,
	}
}

// Tools returns the tool registry.
func (l *Loop) Tools() *tools.Registry {
	return l.tools
}

func (l *Loop) bindTools(ctx context.Context) error {
	if l.model == nil {
		return nil
	}
	toolInfos, err := l.tools.ToolInfos(ctx)
	if err != nil {
		return err
	}
	return l.model.BindTools(toolInfos)
}

// Process runs one user turn in sess and returns the assistant's answer.
func (l *Loop) Process(ctx context.Context, sess *session.Session, content string) (string, error) {
	if l.model == nil {
		return "", errors.New("no model configured")
	}
	if err := l.bindTools(ctx); err != nil {
		return "", fmt.Errorf("bind tools: %w", err)
	}

	requestID := uuid.NewString()
	slog.Info("processing message", "request_id", requestID, "session_id", sess.ID)

	messages := l.context.BuildMessages(sess.GetHistory(l.historyLimit), content)

	var finalContent string
	exhausted := true

	for i := 0; i < l.maxIterations; i++ {
		resp, err := l.model.Generate(ctx, messages)
		if err != nil {
			return "", err
		}

		// Always capture the latest content from the LLM response,
		// even when tool calls are present.
		if resp.Content != "" {
			finalContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			exhausted = false
			break
		}

		messages = append(messages, resp)
		messages = append(messages, l.runToolCalls(ctx, requestID, sess.ID, resp.ToolCalls)...)
	}

	if exhausted {
		slog.Warn("tool iteration limit reached", "request_id", requestID, "limit", l.maxIterations)
		if finalContent == "" {
			finalContent = fmt.Sprintf("Stopped after %d tool iterations without a final answer.", l.maxIterations)
		}
	}
	if finalContent == "" {
		finalContent = "Processing complete."
	}

	sess.AddMessage("user", content)
	sess.AddMessage("assistant", finalContent)

	return finalContent, nil
}

// runToolCalls executes the calls of one response concurrently and returns
// the tool messages in call order.
func (l *Loop) runToolCalls(ctx context.Context, requestID, sessionID string, calls []schema.ToolCall) []*schema.Message {
	results := make([]*schema.Message, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc schema.ToolCall) {
			defer wg.Done()
			toolStart := time.Now()
			slog.Debug("executing tool", "request_id", requestID, "name", tc.Function.Name)

			if l.OnToolStart != nil {
				l.OnToolStart(tc.Function.Name, tc.Function.Arguments)
			}

			toolCtx := tools.WithInvocationContext(ctx, tools.InvocationContext{
				RequestID: requestID,
				SessionID: sessionID,
				CallID:    tc.ID,
			})

			result, err := l.tools.Execute(toolCtx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				result = "Error: " + err.Error()
			}

			if err == nil && (tc.Function.Name == "write_file" || tc.Function.Name == "edit_file") {
				l.context.InvalidateCache(pathArgument(tc.Function.Arguments))
			}

			toolDuration := time.Since(toolStart)
			logAttrs := []any{
				"request_id", requestID,
				"session_id", sessionID,
				"tool", tc.Function.Name,
				"tool_duration", toolDuration.String(),
				"duration_ms", toolDuration.Milliseconds(),
				"success", err == nil,
			}
			var denied *tools.DeniedError
			if errors.As(err, &denied) {
				logAttrs = append(logAttrs, "denied", true)
			}
			if l.runtimeMetric != nil {
				snapshot, metricErr := l.runtimeMetric.RecordToolExecution(toolDuration, result, err)
				if metricErr != nil {
					slog.Warn("record guard metrics failed", "scope", "tool", "error", metricErr)
				}
				logAttrs = append(logAttrs,
					"tool_total", snapshot.Tool.Total,
					"tool_error_ratio", snapshot.Tool.ErrorRatio(),
					"tool_timeout_ratio", snapshot.Tool.TimeoutRatio(),
					"tool_latency_p95_proxy_ms", snapshot.Tool.P95ProxyLatencyMs,
				)
			}
			slog.Info("tool execution finished", logAttrs...)

			if l.OnToolFinish != nil {
				l.OnToolFinish(tc.Function.Name, result, err)
			}

			results[i] = &schema.Message{
				Role:       schema.Tool,
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			}
		}(i, tc)
	}

	wg.Wait()
	return results
}

func pathArgument(argsJSON string) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return ""
	}
	return args.Path
}
