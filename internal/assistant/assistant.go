// Package assistant defines the conversational-AI backend the attendant
// drives: threads, messages, runs and tool calls.
package assistant

import (
	"context"
	"time"
)

// RunStatus is the backend-reported state of a Run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether no further transitions will happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Run is one assistant processing cycle over a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // set when Status is RunRequiresAction
	LastError string
}

// ToolCall is a function invocation requested by the assistant mid-run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolOutput answers a ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// ToolSpec describes a callable function to the backend.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Message is a thread message.
type Message struct {
	ID        string
	Role      string // "user" or "assistant"
	RunID     string
	Text      string
	CreatedAt time.Time
}

// Backend is the assistant service. Implementations retry transient
// transport errors at most once; callers never retry.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AddMessage(ctx context.Context, threadID, role, content string) error
	StartRun(ctx context.Context, threadID string, tools []ToolSpec) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}
