// Package notify delivers operational notices to the finance team.
//
// A Notice is channel-agnostic. Each Notifier renders it for its own
// transport: Slack attachments, Discord embeds or a plain WhatsApp text.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Color constants for notice severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Kind identifies what triggered a notice.
type Kind string

const (
	KindTaxation     Kind = "taxation"
	KindEscalation   Kind = "escalation"
	KindPaymentProof Kind = "payment_proof"
	KindSummary      Kind = "summary"
)

// Field is a labelled value rendered alongside the notice body.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notice is a single message for the finance team.
type Notice struct {
	Kind     Kind
	Title    string
	Body     string
	Severity string // success, info, warning, error
	Fields   []Field
	ImageURL string
}

// Color returns the sidebar color for the notice severity.
func (n Notice) Color() string {
	return SeverityColor(n.Severity)
}

// Notifier delivers notices to one destination.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// SeverityColor maps a severity string to a sidebar color.
func SeverityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// PlainText renders a notice for transports without rich formatting.
// WhatsApp treats *text* as bold.
func PlainText(n Notice) string {
	var b strings.Builder
	if n.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", n.Title)
	}
	if n.Body != "" {
		b.WriteString(n.Body)
		b.WriteString("\n")
	}
	if len(n.Fields) > 0 {
		b.WriteString("\n")
		for _, f := range n.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
		}
	}
	if n.ImageURL != "" {
		fmt.Fprintf(&b, "\n%s\n", n.ImageURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Multi fans a notice out to every notifier. Delivery succeeds when at
// least one notifier accepts the notice; individual failures are logged.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	if len(m) == 0 {
		return fmt.Errorf("notify: no notifiers configured")
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for _, target := range m {
		wg.Add(1)
		go func(target Notifier) {
			defer wg.Done()
			if err := target.Notify(ctx, n); err != nil {
				log.Printf("notify: %T: %v", target, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	if len(errs) == len(m) {
		return fmt.Errorf("notify: all notifiers failed: %w", errors.Join(errs...))
	}
	return nil
}

// Writer prints notices as plain text. It is the fallback when no chat
// transport is configured.
type Writer struct {
	Out io.Writer
	mu  sync.Mutex
}

// Notify implements Notifier.
func (w *Writer) Notify(_ context.Context, n Notice) error {
	out := w.Out
	if out == nil {
		out = os.Stdout
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(out, "[%s] %s\n", n.Kind, PlainText(n))
	return err
}
