// Package slack posts finance notices to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/lojaortopedic/atendente/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the fallback wait when Slack omits Retry-After.
	baseBackoff = time.Second
)

// slackClient abstracts the Slack Web API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts notices as message attachments.
type Notifier struct {
	client      slackClient
	channelID   string
	baseBackoff time.Duration
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}

	n := &Notifier{
		client:      opts.Client,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
	}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, notice notify.Notice) error {
	options := buildMessageOptions(notice)
	err := n.retryOnRateLimit(ctx, func() error {
		_, _, postErr := n.client.PostMessageContext(ctx, n.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions converts a notice to Slack message options. The
// title doubles as the notification fallback text.
func buildMessageOptions(notice notify.Notice) []slackapi.MsgOption {
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(notice.Title, false),
		slackapi.MsgOptionAttachments(noticeToAttachment(notice)),
	}
}

func noticeToAttachment(notice notify.Notice) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    notice.Title,
		Text:     notice.Body,
		Color:    notice.Color(),
		Fallback: notice.Title,
		ImageURL: notice.ImageURL,
	}

	for _, f := range notice.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}

	return att
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors,
// honouring Retry-After when present.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		}
		log.Printf("slack: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
