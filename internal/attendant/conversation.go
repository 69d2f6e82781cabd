package attendant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lojaortopedic/atendente/internal/kvstore"
)

// Default configuration values for ChatLog.
const (
	DefaultChatTTL        = 30 * 24 * time.Hour
	DefaultHistoryEntries = 50
)

// ChatEntry is one message in a customer's chat log.
type ChatEntry struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"` // "user" or "assistant"
	Text     string    `json:"text"`
	ThreadID string    `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
}

// ChatLog keeps a per-customer transcript in the key-value store for
// support staff. The assistant thread remains the source of truth for the
// conversation itself; the log is best effort.
type ChatLog struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// ChatLogOpts holds parameters for creating a ChatLog.
type ChatLogOpts struct {
	Store kvstore.Store
	TTL   time.Duration // defaults to DefaultChatTTL
}

// NewChatLog creates a ChatLog.
func NewChatLog(opts ChatLogOpts) (*ChatLog, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("attendant: chat log: store is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultChatTTL
	}
	return &ChatLog{store: opts.Store, ttl: ttl, now: time.Now}, nil
}

// Append records a message. Failures are logged, not returned.
func (c *ChatLog) Append(ctx context.Context, customerID, threadID, role, text string) {
	data, err := json.Marshal(ChatEntry{
		ID:       uuid.NewString(),
		Role:     role,
		Text:     text,
		ThreadID: threadID,
		At:       c.now().UTC(),
	})
	if err != nil {
		log.Printf("attendant: chat log: encode: %v", err)
		return
	}
	if err := c.store.RPush(ctx, kvstore.ChatKey(customerID), c.ttl, string(data)); err != nil {
		log.Printf("attendant: chat log: append %s: %v", customerID, err)
	}
}

// History returns up to limit of the most recent entries, oldest first.
// Undecodable entries are skipped.
func (c *ChatLog) History(ctx context.Context, customerID string, limit int) ([]ChatEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryEntries
	}
	raw, err := c.store.LRange(ctx, kvstore.ChatKey(customerID), int64(-limit), -1)
	if err != nil {
		return nil, fmt.Errorf("attendant: chat log: history %s: %w", customerID, err)
	}
	out := make([]ChatEntry, 0, len(raw))
	for _, r := range raw {
		var e ChatEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear deletes the customer's log.
func (c *ChatLog) Clear(ctx context.Context, customerID string) error {
	if err := c.store.Del(ctx, kvstore.ChatKey(customerID)); err != nil {
		return fmt.Errorf("attendant: chat log: clear %s: %w", customerID, err)
	}
	return nil
}
