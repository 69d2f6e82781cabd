package attendant

import (
	"context"
	"sync"
	"time"
)

// SentMessage is one message recorded by MockGateway.
type SentMessage struct {
	Recipient string
	Text      string
	ImageURL  string
	Caption   string
}

// MockGateway implements Gateway for testing and the offline console. It
// records every message it is asked to send.
type MockGateway struct {
	mu     sync.Mutex
	sent   []SentMessage
	notify chan struct{}

	// Err, when set, is returned by every send and nothing is recorded.
	Err error
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{notify: make(chan struct{}, 1)}
}

// SendText records a text message.
func (m *MockGateway) SendText(_ context.Context, recipient, text string) error {
	return m.record(SentMessage{Recipient: recipient, Text: text})
}

// SendImage records an image message.
func (m *MockGateway) SendImage(_ context.Context, recipient, imageURL, caption string) error {
	return m.record(SentMessage{Recipient: recipient, ImageURL: imageURL, Caption: caption})
}

func (m *MockGateway) record(msg SentMessage) error {
	m.mu.Lock()
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// --- Test helpers ---

// AllSent returns a copy of every recorded message.
func (m *MockGateway) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the texts sent to recipient, in order.
func (m *MockGateway) SentTo(recipient string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.Recipient == recipient && s.Text != "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// SentCount returns the number of recorded messages.
func (m *MockGateway) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// LastSent returns the most recent message, or false if none was sent.
func (m *MockGateway) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// WaitForCount blocks until at least n messages were recorded or timeout
// elapses, and reports whether the count was reached.
func (m *MockGateway) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.SentCount() >= n {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline:
			return m.SentCount() >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
}
