package attendant

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/lojaortopedic/atendente/internal/metrics"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

// DefaultSummaryCron sends the customs summary at 20:00 every day.
const DefaultSummaryCron = "0 20 * * *"

// PackageSource lists the packages being tracked.
type PackageSource interface {
	Packages(ctx context.Context) ([]tracking.Info, error)
	Sanitizer() *tracking.Sanitizer
}

// Summary builds the daily digest of tracked packages held in customs or
// otherwise stuck, and sends it to the finance team.
type Summary struct {
	source   PackageSource
	notifier notify.Notifier
	cron     string
	loc      *time.Location
	out      io.Writer
}

// SummaryOpts holds parameters for creating a Summary.
type SummaryOpts struct {
	Source   PackageSource
	Notifier notify.Notifier
	Cron     string // defaults to DefaultSummaryCron
	Timezone string // IANA name; defaults to the local zone
	Out      io.Writer
}

// NewSummary creates a Summary.
func NewSummary(opts SummaryOpts) (*Summary, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("attendant: summary: source is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("attendant: summary: notifier is required")
	}
	expr := opts.Cron
	if expr == "" {
		expr = DefaultSummaryCron
	}
	if err := ValidateCron(expr); err != nil {
		return nil, fmt.Errorf("attendant: summary: invalid cron %q: %w", expr, err)
	}
	loc := time.Local
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("attendant: summary: %w", err)
		}
		loc = l
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Summary{source: opts.Source, notifier: opts.Notifier, cron: expr, loc: loc, out: out}, nil
}

// Build lists tracked packages and classifies them.
func (s *Summary) Build(ctx context.Context) (tracking.Digest, error) {
	infos, err := s.source.Packages(ctx)
	if err != nil {
		return tracking.Digest{}, fmt.Errorf("attendant: summary: %w", err)
	}
	return tracking.BuildDigest(infos, s.source.Sanitizer()), nil
}

// Send builds the digest and notifies the finance team. An empty digest
// is not sent; Send then reports false.
func (s *Summary) Send(ctx context.Context) (bool, error) {
	d, err := s.Build(ctx)
	if err != nil {
		return false, err
	}
	if d.Empty() {
		fmt.Fprintf(s.out, "attendant: summary: nothing to report\n")
		return false, nil
	}

	severity := "info"
	if len(d.Customs) > 0 {
		severity = "warning"
	}
	err = s.notifier.Notify(ctx, notify.Notice{
		Kind:     notify.KindSummary,
		Title:    "Resumo diário de pacotes",
		Body:     d.Format(),
		Severity: severity,
		Fields: []notify.Field{
			{Name: "Taxas pendentes", Value: fmt.Sprint(len(d.Customs)), Short: true},
			{Name: "Em alerta", Value: fmt.Sprint(len(d.Alerts)), Short: true},
			{Name: "Com problemas", Value: fmt.Sprint(len(d.Problems)), Short: true},
		},
	})
	metrics.Notifications.WithLabelValues(string(notify.KindSummary), metrics.Outcome(err)).Inc()
	if err != nil {
		return false, fmt.Errorf("attendant: summary: notify: %w", err)
	}
	fmt.Fprintf(s.out, "attendant: summary: sent (%d packages)\n", d.Total())
	return true, nil
}

// Run fires Send on the cron schedule until ctx is cancelled.
func (s *Summary) Run(ctx context.Context) {
	d := nextCronDuration(s.cron, s.loc, time.Now())
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := s.Send(ctx); err != nil {
				log.Printf("%v", err)
			}
			if d := nextCronDuration(s.cron, s.loc, time.Now()); d > 0 {
				timer.Reset(d)
			}
		}
	}
}
