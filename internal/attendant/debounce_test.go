package attendant

import (
	"reflect"
	"testing"
	"time"
)

func TestDebouncer_RearmsOnEnqueue(t *testing.T) {
	fired := make(chan string, 4)
	d := NewDebouncer(60*time.Millisecond, func(threadID string) { fired <- threadID })
	defer d.Stop()

	if n := d.Enqueue("thread_1", "Oi"); n != 1 {
		t.Errorf("Enqueue = %d, want 1", n)
	}
	time.Sleep(30 * time.Millisecond)
	if n := d.Enqueue("thread_1", "tudo bem?"); n != 2 {
		t.Errorf("Enqueue = %d, want 2", n)
	}
	time.Sleep(40 * time.Millisecond)

	select {
	case <-fired:
		t.Fatal("flushed before the thread was quiet for the full delay")
	default:
	}

	select {
	case id := <-fired:
		if id != "thread_1" {
			t.Errorf("flushed %q, want thread_1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("flush never fired")
	}

	got := d.Drain("thread_1")
	want := []string{"Oi", "tudo bem?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Drain = %q, want %q", got, want)
	}

	select {
	case <-fired:
		t.Error("flush fired twice for one burst")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_ThreadsIndependent(t *testing.T) {
	fired := make(chan string, 4)
	d := NewDebouncer(20*time.Millisecond, func(threadID string) { fired <- threadID })
	defer d.Stop()

	d.Enqueue("thread_a", "1")
	d.Enqueue("thread_b", "2")

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-fired:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for flushes")
		}
	}
	if !seen["thread_a"] || !seen["thread_b"] {
		t.Errorf("flushed = %v, want both threads", seen)
	}
}

func TestDebouncer_DrainCancelsTimer(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(threadID string) { fired <- threadID })
	defer d.Stop()

	d.Enqueue("thread_1", "a")
	if !d.Pending("thread_1") {
		t.Error("Pending = false after Enqueue")
	}
	d.Drain("thread_1")
	if d.Pending("thread_1") {
		t.Error("Pending = true after Drain")
	}
	if d.Len("thread_1") != 0 {
		t.Errorf("Len = %d after Drain, want 0", d.Len("thread_1"))
	}

	select {
	case <-fired:
		t.Error("flush fired after Drain")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncer_Clear(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(threadID string) { fired <- threadID })
	defer d.Stop()

	d.Enqueue("thread_1", "a")
	d.Enqueue("thread_1", "b")
	d.Clear("thread_1")

	if d.Len("thread_1") != 0 {
		t.Errorf("Len = %d after Clear, want 0", d.Len("thread_1"))
	}
	select {
	case <-fired:
		t.Error("flush fired after Clear")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncer_StopKeepsMessages(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(threadID string) { fired <- threadID })

	d.Enqueue("thread_1", "a")
	d.Stop()
	d.Enqueue("thread_1", "b")

	select {
	case <-fired:
		t.Error("flush fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}
	if d.Len("thread_1") != 2 {
		t.Errorf("Len = %d, want 2", d.Len("thread_1"))
	}
}

func TestDebouncer_ForgetsIdleThreads(t *testing.T) {
	fired := make(chan string, 8)
	d := NewDebouncer(10*time.Millisecond, func(threadID string) { fired <- threadID })
	defer d.Stop()

	threads := []string{"thread_a", "thread_b", "thread_c"}
	for _, id := range threads {
		d.Enqueue(id, "x")
	}
	for range threads {
		select {
		case id := <-fired:
			d.Drain(id)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for flushes")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queues) != 0 || len(d.timers) != 0 || len(d.gen) != 0 {
		t.Errorf("queues = %d timers = %d gen = %d, want all 0", len(d.queues), len(d.timers), len(d.gen))
	}
}

func TestDebouncer_StaleFireAfterDrainIgnored(t *testing.T) {
	fired := make(chan string, 2)
	d := NewDebouncer(time.Hour, func(threadID string) { fired <- threadID })
	defer d.Stop()

	d.Enqueue("thread_1", "a")
	d.mu.Lock()
	stale := d.gen["thread_1"]
	d.mu.Unlock()

	d.Drain("thread_1")
	d.Enqueue("thread_1", "b")
	d.fire("thread_1", stale)

	select {
	case <-fired:
		t.Error("timer from a drained batch flushed the new one")
	case <-time.After(30 * time.Millisecond):
	}
	if !d.Pending("thread_1") {
		t.Error("Pending = false, want the new timer still armed")
	}
}

func TestNewDebouncer_DefaultDelay(t *testing.T) {
	d := NewDebouncer(0, nil)
	if d.delay != DefaultDebounce {
		t.Errorf("delay = %v, want %v", d.delay, DefaultDebounce)
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		msgs []string
		want string
	}{
		{nil, ""},
		{[]string{"Oi"}, "Oi"},
		{[]string{"Oi", "tudo bem?"}, "Oi\ntudo bem?"},
		{[]string{"a", "b", "c"}, "a\nb\nc"},
	}
	for _, tt := range tests {
		if got := Coalesce(tt.msgs); got != tt.want {
			t.Errorf("Coalesce(%q) = %q, want %q", tt.msgs, got, tt.want)
		}
	}
}
