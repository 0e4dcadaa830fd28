package approval

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrApprovalDenied is returned for any invocation that did not get approval.
var ErrApprovalDenied = errors.New("approval denied")

// Scope is how long an approval lasts.
type Scope string

const (
	ScopeOnceOnly   Scope = "once"
	ScopeForSession Scope = "session"
)

// Choice is a human decision.
type Choice string

const (
	ChoiceApproveOnce       Choice = "approve_once"
	ChoiceApproveForSession Choice = "approve_session"
	ChoiceDeny              Choice = "deny"
)

// State is a ticket lifecycle state.
type State string

const (
	StateRequested     State = "requested"
	StateAutoApproved  State = "auto_approved"
	StateAwaitingHuman State = "awaiting_human"
	StateApproved      State = "approved"
	StateDenied        State = "denied"
	StateExecuted      State = "executed"
	StateSkipped       State = "skipped"
)

var validTransitions = map[State][]State{
	StateRequested:     {StateAutoApproved, StateAwaitingHuman, StateDenied},
	StateAutoApproved:  {StateApproved},
	StateAwaitingHuman: {StateApproved, StateDenied},
	StateApproved:      {StateExecuted, StateSkipped},
	StateDenied:        {StateSkipped},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(validTransitions[s], next)
}

// Request describes one tool invocation awaiting a decision.
type Request struct {
	ToolName string
	ArgsJSON string
	// Summary is a human readable rendering of the arguments.
	Summary string
}

// Record is what the gate remembers about a granted approval.
type Record struct {
	ToolName string
	Scope    Scope
}

// Ticket tracks one request through the approval state machine.
type Ticket struct {
	ID        string
	Request   Request
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	history []State
	record  *Record
	reason  string
}

func newTicket(id string, req Request, now time.Time) *Ticket {
	return &Ticket{
		ID:        id,
		Request:   req,
		CreatedAt: now,
		state:     StateRequested,
		history:   []State{StateRequested},
	}
}

// State returns the current state.
func (t *Ticket) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns every state the ticket passed through.
func (t *Ticket) History() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

// Record returns the approval record, or nil if the ticket was not approved
// by a human.
func (t *Ticket) Record() *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record == nil {
		return nil
	}
	r := *t.record
	return &r
}

// Reason explains a denial.
func (t *Ticket) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Approved reports whether the tool may run.
func (t *Ticket) Approved() bool {
	switch t.State() {
	case StateApproved, StateExecuted:
		return true
	default:
		return false
	}
}

func (t *Ticket) transition(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.CanTransitionTo(next) {
		return fmt.Errorf("invalid ticket transition %s -> %s", t.state, next)
	}
	t.state = next
	t.history = append(t.history, next)
	return nil
}

func (t *Ticket) approve(auto bool, record *Record) error {
	if auto {
		if err := t.transition(StateAutoApproved); err != nil {
			return err
		}
	}
	if err := t.transition(StateApproved); err != nil {
		return err
	}
	t.mu.Lock()
	t.record = record
	t.mu.Unlock()
	return nil
}

func (t *Ticket) deny(reason string) error {
	if err := t.transition(StateDenied); err != nil {
		return err
	}
	t.mu.Lock()
	t.reason = strings.TrimSpace(reason)
	t.mu.Unlock()
	return nil
}

// Finish closes the ticket. An approved ticket becomes executed when the
// tool ran and skipped otherwise; a denied ticket is always skipped.
func (t *Ticket) Finish(executed bool) error {
	switch t.State() {
	case StateApproved:
		if executed {
			return t.transition(StateExecuted)
		}
		return t.transition(StateSkipped)
	case StateDenied:
		return t.transition(StateSkipped)
	default:
		return fmt.Errorf("ticket %s cannot finish from state %s", t.ID, t.State())
	}
}

// Err returns nil for approved tickets and a wrapped ErrApprovalDenied
// otherwise.
func (t *Ticket) Err() error {
	if t.Approved() {
		return nil
	}
	reason := t.Reason()
	if reason == "" {
		return fmt.Errorf("%w: %s", ErrApprovalDenied, t.Request.ToolName)
	}
	return fmt.Errorf("%w: %s (%s)", ErrApprovalDenied, t.Request.ToolName, reason)
}

// Observation is the structured refusal handed back to the agent.
func (t *Ticket) Observation() string {
	if t.Approved() {
		return ""
	}
	msg := fmt.Sprintf("Tool execution denied: the user did not approve '%s'.", t.Request.ToolName)
	if reason := t.Reason(); reason != "" {
		msg += " Reason: " + reason + "."
	}
	return msg + " Do not retry the same call; ask the user how to proceed."
}
