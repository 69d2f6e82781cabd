// Package attendant drives customer conversations with the assistant
// backend: one run per thread at a time, bursts coalesced into one turn,
// tool calls executed on the assistant's behalf.
package attendant

import (
	"context"
	"time"
)

// Gateway is the messaging platform customers talk to us through.
type Gateway interface {
	// SendText delivers a text message to recipient.
	SendText(ctx context.Context, recipient, text string) error

	// SendImage delivers an image by URL with an optional caption.
	SendImage(ctx context.Context, recipient, imageURL, caption string) error
}

// InboundMessage is a customer message normalized from the gateway webhook.
type InboundMessage struct {
	CustomerID string    // phone number, digits only
	UserName   string    // push name, may be empty
	Text       string    // message text or image caption
	ImageURL   string    // set for image messages
	MessageID  string    // gateway message id, used to drop duplicates
	Timestamp  time.Time // when the customer sent it
}

// ReplyStatus describes how a turn ended.
type ReplyStatus string

const (
	// StatusCompleted means the assistant produced a reply.
	StatusCompleted ReplyStatus = "completed"
	// StatusQueued means another run was active; the message waits in the
	// debounce queue and Text holds the wait acknowledgement.
	StatusQueued ReplyStatus = "queued"
	// StatusFailed means the turn failed; Text holds the apology.
	StatusFailed ReplyStatus = "failed"
	// StatusReset means the conversation was reset.
	StatusReset ReplyStatus = "reset"
)

// Reply is the outcome of a turn.
type Reply struct {
	Text     string
	Status   ReplyStatus
	ThreadID string
	RunID    string
}
