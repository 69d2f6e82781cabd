package assistant

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/lojaortopedic/atendente/internal/retry"
)

// transportPolicy allows exactly one retry. Retrying at the orchestration
// layer as well would risk starting duplicate runs.
var transportPolicy = retry.Policy{
	MaxAttempts: 2,
	Initial:     500 * time.Millisecond,
	Max:         500 * time.Millisecond,
	Multiplier:  1,
	Name:        "assistant http",
}

// RetryTransport retries a request once when the transport fails or the
// server answers 429, 502, 503 or 504.
type RetryTransport struct {
	base   http.RoundTripper
	policy retry.Policy
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{base: base, policy: transportPolicy}
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}

	var resp *http.Response
	attempt := 0
	err := retry.Do(req.Context(), t.policy, func(ctx context.Context) error {
		attempt++
		r := req
		if attempt > 1 {
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return retry.Permanent(err)
				}
				r.Body = body
			}
		}
		res, err := t.base.RoundTrip(r)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if attempt < t.policy.MaxAttempts && transientStatus(res.StatusCode) {
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			return &retry.StatusError{Service: "assistant", Code: res.StatusCode}
		}
		resp = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
