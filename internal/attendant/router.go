package attendant

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lojaortopedic/atendente/internal/kvstore"
)

const (
	// DefaultResetCommand starts a fresh conversation.
	DefaultResetCommand = "#reset"
	// DefaultResetMessage confirms a reset to the customer.
	DefaultResetMessage = "Conversa reiniciada. Como posso ajudar?"

	seenTTL = 10 * time.Minute
)

// Router classifies inbound customer messages: duplicates and empty
// messages are dropped, the reset command tears the conversation down, and
// everything else goes to the orchestrator.
type Router struct {
	orch         *Orchestrator
	gateway      Gateway
	store        kvstore.Store
	resetCommand string
	resetMessage string
	out          io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Orchestrator *Orchestrator
	Gateway      Gateway
	Store        kvstore.Store // optional; enables duplicate delivery filtering
	ResetCommand string        // defaults to DefaultResetCommand
	ResetMessage string
	Out          io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("attendant: router: orchestrator is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("attendant: router: gateway is required")
	}
	r := &Router{
		orch:         opts.Orchestrator,
		gateway:      opts.Gateway,
		store:        opts.Store,
		resetCommand: opts.ResetCommand,
		resetMessage: opts.ResetMessage,
		out:          opts.Out,
	}
	if r.resetCommand == "" {
		r.resetCommand = DefaultResetCommand
	}
	if r.resetMessage == "" {
		r.resetMessage = DefaultResetMessage
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	return r, nil
}

// Handle classifies and routes a single inbound message. Turns run in the
// background; a reset blocks until the new thread exists.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if msg.CustomerID == "" || (text == "" && msg.ImageURL == "") {
		fmt.Fprintf(r.out, "attendant: router: → ignore (empty)\n")
		return
	}
	fmt.Fprintf(r.out, "attendant: router: recv [customer=%s msg=%s] %q\n",
		msg.CustomerID, msg.MessageID, truncate(text, 80))

	if r.duplicate(ctx, msg.MessageID) {
		fmt.Fprintf(r.out, "attendant: router: → ignore (duplicate %s)\n", msg.MessageID)
		return
	}

	if r.isReset(text) {
		fmt.Fprintf(r.out, "attendant: router: → reset\n")
		r.handleReset(ctx, msg.CustomerID)
		return
	}

	fmt.Fprintf(r.out, "attendant: router: → orchestrator\n")
	r.orch.HandleInbound(ctx, msg)
}

func (r *Router) isReset(text string) bool {
	return strings.EqualFold(text, r.resetCommand)
}

// duplicate reports whether the gateway already delivered this message id.
func (r *Router) duplicate(ctx context.Context, messageID string) bool {
	if r.store == nil || messageID == "" {
		return false
	}
	fresh, err := r.store.SetNX(ctx, kvstore.InboundSeenKey(messageID), "1", seenTTL)
	if err != nil {
		log.Printf("attendant: router: dedup %s: %v", messageID, err)
		return false
	}
	return !fresh
}

func (r *Router) handleReset(ctx context.Context, customerID string) {
	text := r.resetMessage
	if _, err := r.orch.Reset(ctx, customerID); err != nil {
		log.Printf("attendant: router: reset %s: %v", customerID, err)
		text = r.orch.apologyMessage
	}
	if err := r.gateway.SendText(ctx, customerID, text); err != nil {
		log.Printf("attendant: router: send reset reply: %v", err)
	}
}
