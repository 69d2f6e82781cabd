// Package retry wraps calls to external services in bounded exponential
// backoff.
package retry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // randomization factor, 0 disables
	Name        string  // used in retry log lines
}

// Default is 4 attempts waiting 1s, 2s, 4s between them, capped at 5s.
var Default = Policy{
	MaxAttempts: 4,
	Initial:     time.Second,
	Max:         5 * time.Second,
	Multiplier:  2,
}

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	if b.InitialInterval <= 0 {
		b.InitialInterval = Default.Initial
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = Default.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = Default.Multiplier
	}
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls op until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, p.backoff(ctx), func(err error, wait time.Duration) {
		if p.Name != "" {
			log.Printf("retry: %s: attempt %d failed, retrying in %s: %v", p.Name, attempt, wait, err)
		}
	})
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// StatusError is an unexpected HTTP response status from an external API.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Code, e.Body)
}

// Classify wraps a StatusError as Permanent unless the status is worth
// retrying (429 and 5xx).
func Classify(err *StatusError) error {
	if Retryable(err.Code) {
		return err
	}
	return Permanent(err)
}

// Retryable reports whether an HTTP status code indicates a transient failure.
func Retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
