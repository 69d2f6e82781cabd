package attendant

import (
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is how long a thread must stay quiet before its queued
// messages are flushed.
const DefaultDebounce = 8 * time.Second

// Debouncer holds pending customer messages per thread, in process memory.
// Every Enqueue re-arms the thread's timer; when it fires the flush
// callback is invoked with the thread id. Whether the queue is actually
// drained at that point is up to the callback.
//
// State is local to one process. Two instances receiving messages for the
// same thread do not see each other's queues.
type Debouncer struct {
	delay time.Duration
	flush func(threadID string)

	mu      sync.Mutex
	queues  map[string][]string
	timers  map[string]*time.Timer
	gen     map[string]uint64 // armed timer generation, only while a timer is pending
	seq     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer that calls flush on its own goroutine
// once a thread has been quiet for delay.
func NewDebouncer(delay time.Duration, flush func(threadID string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:  delay,
		flush:  flush,
		queues: make(map[string][]string),
		timers: make(map[string]*time.Timer),
		gen:    make(map[string]uint64),
	}
}

// Enqueue appends msg to the thread's queue, restarts its timer and returns
// the new queue length.
func (d *Debouncer) Enqueue(threadID, msg string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queues[threadID] = append(d.queues[threadID], msg)
	if d.stopped {
		return len(d.queues[threadID])
	}

	d.arm(threadID)
	return len(d.queues[threadID])
}

// arm must be called with d.mu held.
func (d *Debouncer) arm(threadID string) {
	if t, ok := d.timers[threadID]; ok {
		t.Stop()
	}
	d.seq++
	gen := d.seq
	d.gen[threadID] = gen
	d.timers[threadID] = time.AfterFunc(d.delay, func() { d.fire(threadID, gen) })
}

func (d *Debouncer) fire(threadID string, gen uint64) {
	d.mu.Lock()
	if d.stopped || d.gen[threadID] != gen {
		// Re-armed or stopped after this timer was scheduled.
		d.mu.Unlock()
		return
	}
	delete(d.timers, threadID)
	delete(d.gen, threadID)
	d.mu.Unlock()

	if d.flush != nil {
		d.flush(threadID)
	}
}

// Drain removes and returns the thread's queued messages in arrival order
// and cancels its timer.
func (d *Debouncer) Drain(threadID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.queues[threadID]
	delete(d.queues, threadID)
	d.stopTimer(threadID)
	return msgs
}

// Len returns the number of queued messages for threadID.
func (d *Debouncer) Len(threadID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[threadID])
}

// Pending reports whether the thread's timer is still running.
func (d *Debouncer) Pending(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[threadID]
	return ok
}

// Clear drops the thread's queue and timer.
func (d *Debouncer) Clear(threadID string) {
	d.Drain(threadID)
}

// Stop cancels every timer. Queued messages are kept but no further
// flushes happen.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id := range d.timers {
		d.stopTimer(id)
	}
}

// stopTimer must be called with d.mu held.
func (d *Debouncer) stopTimer(threadID string) {
	if t, ok := d.timers[threadID]; ok {
		t.Stop()
		delete(d.timers, threadID)
	}
	delete(d.gen, threadID)
}

// Coalesce joins queued messages into one turn, in arrival order.
func Coalesce(msgs []string) string {
	return strings.Join(msgs, "\n")
}
