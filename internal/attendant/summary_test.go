package attendant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

func newTestSummary(t *testing.T, infos ...tracking.Info) (*Summary, *notify.Recorder) {
	t.Helper()
	provider := tracking.NewMockProvider()
	for _, info := range infos {
		provider.Set(info)
	}
	client, err := tracking.NewClient(tracking.ClientOpts{
		Provider:  provider,
		Cache:     openTestStore(t),
		Sanitizer: tracking.NewSanitizer([]string{"taxa", "customs"}, nil, ""),
	})
	if err != nil {
		t.Fatalf("tracking.NewClient: %v", err)
	}
	rec := notify.NewRecorder()
	s, err := NewSummary(SummaryOpts{Source: client, Notifier: rec, Out: &syncBuffer{}})
	if err != nil {
		t.Fatalf("NewSummary: %v", err)
	}
	return s, rec
}

func TestNewSummary_Validation(t *testing.T) {
	client, _ := tracking.NewClient(tracking.ClientOpts{Provider: tracking.NewMockProvider(), Cache: openTestStore(t)})
	rec := notify.NewRecorder()
	tests := []struct {
		name string
		opts SummaryOpts
		want string
	}{
		{"no source", SummaryOpts{Notifier: rec}, "source is required"},
		{"no notifier", SummaryOpts{Source: client}, "notifier is required"},
		{"bad cron", SummaryOpts{Source: client, Notifier: rec, Cron: "todo dia"}, "invalid cron"},
		{"bad timezone", SummaryOpts{Source: client, Notifier: rec, Timezone: "Mars/Olympus"}, "summary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSummary(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}

	s, err := NewSummary(SummaryOpts{Source: client, Notifier: rec, Timezone: "America/Sao_Paulo"})
	if err != nil {
		t.Fatalf("NewSummary: %v", err)
	}
	if s.cron != DefaultSummaryCron {
		t.Errorf("cron = %q, want %q", s.cron, DefaultSummaryCron)
	}
}

func TestSummary_Send(t *testing.T) {
	s, rec := newTestSummary(t,
		tracking.Info{Code: "BR111111111BR", Status: tracking.StatusInTransit, LatestEvent: "Aguardando pagamento de taxa"},
		tracking.Info{Code: "BR222222222BR", Status: tracking.StatusExpired, LatestEvent: "Objeto não localizado"},
		tracking.Info{Code: "BR333333333BR", Status: tracking.StatusDelivered, LatestEvent: "Objeto entregue"},
	)

	sent, err := s.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !sent {
		t.Fatal("Send = false, want true")
	}
	if rec.Count() != 1 {
		t.Fatalf("notices = %d, want 1", rec.Count())
	}
	n := rec.Last()
	if n.Kind != notify.KindSummary {
		t.Errorf("Kind = %q, want %q", n.Kind, notify.KindSummary)
	}
	if n.Severity != "warning" {
		t.Errorf("Severity = %q, want warning with customs holds", n.Severity)
	}
	if !strings.Contains(n.Body, "BR111111111BR") || !strings.Contains(n.Body, "BR222222222BR") {
		t.Errorf("Body = %q, want both flagged packages", n.Body)
	}
	if strings.Contains(n.Body, "BR333333333BR") {
		t.Errorf("Body = %q, delivered package should not be listed", n.Body)
	}
}

func TestSummary_SendEmpty(t *testing.T) {
	s, rec := newTestSummary(t,
		tracking.Info{Code: "BR333333333BR", Status: tracking.StatusDelivered, LatestEvent: "Objeto entregue"},
	)

	sent, err := s.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent {
		t.Error("Send = true for an empty digest")
	}
	if rec.Count() != 0 {
		t.Errorf("notices = %d, want 0", rec.Count())
	}
}

func TestSummary_SendNotifyError(t *testing.T) {
	s, rec := newTestSummary(t,
		tracking.Info{Code: "BR111111111BR", Status: tracking.StatusInTransit, LatestEvent: "customs hold"},
	)
	rec.SetErr(errors.New("slack down"))

	sent, err := s.Send(context.Background())
	if err == nil || !strings.Contains(err.Error(), "slack down") {
		t.Errorf("err = %v, want notify error", err)
	}
	if sent {
		t.Error("Send = true on notify failure")
	}
}

func TestSummary_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestSummary(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextCronDuration(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 19:30 in São Paulo is 22:30 UTC.
	now := time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		loc  *time.Location
		want time.Duration
	}{
		{"later today", "0 20 * * *", sp, 30 * time.Minute},
		{"tomorrow", "0 19 * * *", sp, 23*time.Hour + 30*time.Minute},
		{"every minute", "* * * * *", time.UTC, time.Minute},
		{"invalid", "not a cron expr", sp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextCronDuration(tt.expr, tt.loc, now); got != tt.want {
				t.Errorf("nextCronDuration(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestValidateCron(t *testing.T) {
	if err := ValidateCron(DefaultSummaryCron); err != nil {
		t.Errorf("ValidateCron(%q): %v", DefaultSummaryCron, err)
	}
	if err := ValidateCron("0 20 * *"); err == nil {
		t.Error("expected error for four fields")
	}
}
