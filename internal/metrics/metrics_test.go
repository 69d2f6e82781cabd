package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcome(t *testing.T) {
	if got := Outcome(nil); got != "ok" {
		t.Errorf("Outcome(nil) = %q, want ok", got)
	}
	if got := Outcome(errors.New("x")); got != "error" {
		t.Errorf("Outcome(err) = %q, want error", got)
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(Turns.WithLabelValues("completed"))
	Turns.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(Turns.WithLabelValues("completed")); got != before+1 {
		t.Errorf("turns_total{completed} = %v, want %v", got, before+1)
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	TrackingCache.WithLabelValues("hit").Inc()
	LockContention.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"atendente_tracking_cache_total",
		"atendente_run_lock_contention_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
