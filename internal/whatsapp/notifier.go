package whatsapp

import (
	"context"
	"fmt"

	"github.com/lojaortopedic/atendente/internal/notify"
)

// sender is the subset of Client a Notifier needs.
type sender interface {
	SendText(ctx context.Context, recipient, text string) error
	SendImage(ctx context.Context, recipient, imageURL, caption string) error
}

// Notifier forwards finance notices to a WhatsApp number.
type Notifier struct {
	client sender
	number string
}

// NewNotifier creates a Notifier that delivers to number.
func NewNotifier(client sender, number string) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("whatsapp: notifier: client is required")
	}
	if NormalizePhone(number) == "" {
		return nil, fmt.Errorf("whatsapp: notifier: number is required")
	}
	return &Notifier{client: client, number: number}, nil
}

// Notify implements notify.Notifier. A notice with an image is sent as the
// image captioned with the notice title, followed by the full text.
func (n *Notifier) Notify(ctx context.Context, notice notify.Notice) error {
	if notice.ImageURL != "" {
		if err := n.client.SendImage(ctx, n.number, notice.ImageURL, notice.Title); err != nil {
			return fmt.Errorf("whatsapp: notify: %w", err)
		}
		notice.ImageURL = ""
	}
	if err := n.client.SendText(ctx, n.number, notify.PlainText(notice)); err != nil {
		return fmt.Errorf("whatsapp: notify: %w", err)
	}
	return nil
}
