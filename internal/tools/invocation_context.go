package tools

import (
	"context"
	"log/slog"
	"strings"
)

type invocationContextKey struct{}

// InvocationContext identifies one tool call: the user turn it belongs to,
// the chat session and the model's call id. Guards and hooks read it to
// correlate audit records.
type InvocationContext struct {
	RequestID string
	SessionID string
	CallID    string
}

// WithInvocationContext attaches meta to ctx.
func WithInvocationContext(ctx context.Context, meta InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, meta)
}

// InvocationFromContext returns the metadata attached to ctx, or the zero
// value when none is.
func InvocationFromContext(ctx context.Context) InvocationContext {
	meta, _ := ctx.Value(invocationContextKey{}).(InvocationContext)
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	meta.SessionID = strings.TrimSpace(meta.SessionID)
	meta.CallID = strings.TrimSpace(meta.CallID)
	return meta
}

// LogValue renders the non-empty ids as a slog group.
func (m InvocationContext) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 3)
	if m.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", m.RequestID))
	}
	if m.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", m.SessionID))
	}
	if m.CallID != "" {
		attrs = append(attrs, slog.String("call_id", m.CallID))
	}
	return slog.GroupValue(attrs...)
}
