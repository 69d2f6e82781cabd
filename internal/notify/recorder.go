package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory Notifier for tests and dry runs.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice

	// Err, when set, is returned from every Notify call and the notice
	// is not recorded.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.notices = append(r.notices, n)
	return nil
}

// SetErr changes the error returned by Notify.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// Count returns the number of recorded notices.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

// Last returns the most recent notice, or nil.
func (r *Recorder) Last() *Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return nil
	}
	n := r.notices[len(r.notices)-1]
	return &n
}

// All returns a copy of every recorded notice.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// ByKind returns the recorded notices of one kind.
func (r *Recorder) ByKind(k Kind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}
