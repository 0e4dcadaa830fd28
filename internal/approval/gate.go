package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event reports a ticket state change to observers such as the audit log.
type Event struct {
	TicketID  string
	SessionID string
	ToolName  string
	State     State
	Scope     Scope
	Auto      bool
	Reason    string
}

// GateOptions configures a Gate.
type GateOptions struct {
	Mode        Mode
	AutoApprove []string
	// PromptTimeout bounds how long a human may take. Zero waits forever.
	PromptTimeout time.Duration
	// Observer receives every decided ticket.
	Observer func(Event)
}

// Gate intercepts tool invocations and asks for approval when the session
// has not already granted it. One prompt is on screen at a time.
type Gate struct {
	evaluator     Evaluator
	prompter      Prompter
	promptTimeout time.Duration
	observer      func(Event)
	now           func() time.Time

	slot chan struct{}

	mu       sync.Mutex
	awaiting string
}

// NewGate builds a gate around a prompter.
func NewGate(prompter Prompter, opts GateOptions) *Gate {
	return &Gate{
		evaluator:     NewEvaluator(EvaluatorConfig{Mode: opts.Mode, AutoApprove: opts.AutoApprove}),
		prompter:      prompter,
		promptTimeout: opts.PromptTimeout,
		observer:      opts.Observer,
		now:           time.Now,
		slot:          make(chan struct{}, 1),
	}
}

// Awaiting returns the tool currently waiting for a human, if any.
func (g *Gate) Awaiting() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.awaiting
}

func (g *Gate) setAwaiting(tool string) {
	g.mu.Lock()
	g.awaiting = tool
	g.mu.Unlock()
}

// RequestApproval decides whether req may run in sess. The returned ticket is
// either Approved or Denied; every failure path denies.
func (g *Gate) RequestApproval(ctx context.Context, req Request, sess *Session) (*Ticket, error) {
	if sess == nil {
		return nil, errors.New("approval session is required")
	}
	ticket := newTicket(uuid.NewString(), req, g.now())

	if sess.IsApproved(req.ToolName) {
		return g.finish(ticket, sess, ticket.approve(true, &Record{ToolName: req.ToolName, Scope: ScopeForSession}))
	}

	decision := g.evaluator.Evaluate(req.ToolName)
	switch decision.Action {
	case ActionAutoApprove:
		return g.finish(ticket, sess, ticket.approve(true, nil))
	case ActionDeny:
		return g.finish(ticket, sess, ticket.deny(decision.Reason))
	}

	if err := ticket.transition(StateAwaitingHuman); err != nil {
		return nil, err
	}

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return g.finish(ticket, sess, ticket.deny("cancelled before prompt"))
	}
	defer func() { <-g.slot }()

	// Another call may have granted session approval while this one waited.
	if sess.IsApproved(req.ToolName) {
		return g.finish(ticket, sess, ticket.approve(false, &Record{ToolName: req.ToolName, Scope: ScopeForSession}))
	}

	choice, err := g.prompt(ctx, ticket)
	if err != nil {
		slog.Warn("approval prompt failed", "tool", req.ToolName, "ticket", ticket.ID, "error", err)
		return g.finish(ticket, sess, ticket.deny(denyReason(err)))
	}

	switch choice {
	case ChoiceApproveOnce:
		return g.finish(ticket, sess, ticket.approve(false, &Record{ToolName: req.ToolName, Scope: ScopeOnceOnly}))
	case ChoiceApproveForSession:
		sess.Approve(req.ToolName)
		return g.finish(ticket, sess, ticket.approve(false, &Record{ToolName: req.ToolName, Scope: ScopeForSession}))
	case ChoiceDeny:
		return g.finish(ticket, sess, ticket.deny("denied by user"))
	default:
		return g.finish(ticket, sess, ticket.deny(fmt.Sprintf("unknown choice %q", choice)))
	}
}

func (g *Gate) prompt(ctx context.Context, ticket *Ticket) (Choice, error) {
	promptCtx := ctx
	if g.promptTimeout > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, g.promptTimeout)
		defer cancel()
	}

	g.setAwaiting(ticket.Request.ToolName)
	defer g.setAwaiting("")

	if g.prompter == nil {
		return ChoiceDeny, errors.New("no prompter configured")
	}
	choice, err := g.prompter.Prompt(promptCtx, PromptRequest{
		TicketID: ticket.ID,
		ToolName: ticket.Request.ToolName,
		ArgsJSON: ticket.Request.ArgsJSON,
		Summary:  ticket.Request.Summary,
	})
	if err != nil {
		return ChoiceDeny, err
	}
	if promptCtx.Err() != nil {
		return ChoiceDeny, promptCtx.Err()
	}
	return choice, nil
}

func denyReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for approval"
	case errors.Is(err, context.Canceled):
		return "approval cancelled"
	case errors.Is(err, ErrInputClosed):
		return "approval input closed"
	default:
		return "approval prompt failed: " + err.Error()
	}
}

func (g *Gate) finish(ticket *Ticket, sess *Session, err error) (*Ticket, error) {
	if err != nil {
		return nil, err
	}
	if g.observer != nil {
		event := Event{
			TicketID:  ticket.ID,
			SessionID: sess.ID(),
			ToolName:  ticket.Request.ToolName,
			State:     ticket.State(),
			Reason:    ticket.Reason(),
			Auto:      slices.Contains(ticket.History(), StateAutoApproved),
		}
		if rec := ticket.Record(); rec != nil {
			event.Scope = rec.Scope
		}
		g.observer(event)
	}
	return ticket, nil
}
