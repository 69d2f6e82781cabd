package attendant

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockGateway_Records(t *testing.T) {
	m := NewMockGateway()
	ctx := context.Background()

	m.SendText(ctx, "5511000000001", "Oi")
	m.SendImage(ctx, "5511000000001", "https://x/p.jpg", "comprovante")
	m.SendText(ctx, "5511000000002", "Olá")

	if m.SentCount() != 3 {
		t.Errorf("SentCount = %d, want 3", m.SentCount())
	}
	if got := m.SentTo("5511000000001"); len(got) != 1 || got[0] != "Oi" {
		t.Errorf("SentTo = %q, want [Oi]", got)
	}
	last, ok := m.LastSent()
	if !ok || last.Recipient != "5511000000002" {
		t.Errorf("LastSent = %+v, %v", last, ok)
	}
	if all := m.AllSent(); all[1].ImageURL != "https://x/p.jpg" || all[1].Caption != "comprovante" {
		t.Errorf("image message = %+v", all[1])
	}
}

func TestMockGateway_Err(t *testing.T) {
	m := NewMockGateway()
	m.Err = errors.New("offline")

	if err := m.SendText(context.Background(), "5511000000001", "Oi"); err == nil {
		t.Error("expected error")
	}
	if m.SentCount() != 0 {
		t.Errorf("SentCount = %d, want 0", m.SentCount())
	}
	if _, ok := m.LastSent(); ok {
		t.Error("LastSent reported a message")
	}
}

func TestMockGateway_WaitForCount(t *testing.T) {
	m := NewMockGateway()
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.SendText(context.Background(), "5511000000001", "Oi")
	}()
	if !m.WaitForCount(1, time.Second) {
		t.Error("WaitForCount timed out")
	}
	if m.WaitForCount(2, 30*time.Millisecond) {
		t.Error("WaitForCount(2) = true with one message")
	}
}
