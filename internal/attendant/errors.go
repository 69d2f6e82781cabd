package attendant

import (
	"errors"
	"fmt"

	"github.com/lojaortopedic/atendente/internal/assistant"
)

var (
	// ErrRunTimeout is returned when a run does not finish within the poll
	// budget. The run is cancelled at the backend on a best-effort basis.
	ErrRunTimeout = errors.New("attendant: run timed out")

	// ErrMalformedResponse is returned when a run completes without an
	// assistant message carrying text.
	ErrMalformedResponse = errors.New("attendant: completed run has no assistant text")

	// ErrTurnCancelled is returned when a turn is interrupted by a reset.
	ErrTurnCancelled = errors.New("attendant: turn cancelled")
)

// RunError reports a run that ended in a terminal state other than
// completed.
type RunError struct {
	RunID  string
	Status assistant.RunStatus
	Detail string // backend-provided error, may be empty
}

func (e *RunError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("attendant: run %s ended %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("attendant: run %s ended %s: %s", e.RunID, e.Status, e.Detail)
}

// outcome maps a turn error to the metrics label.
func outcome(err error) string {
	var runErr *RunError
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrRunTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrTurnCancelled):
		return "cancelled"
	case errors.As(err, &runErr):
		return "failed"
	default:
		return "error"
	}
}
