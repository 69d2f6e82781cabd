package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeStep is one state a fake run reports. GetRun advances past a step on
// the next poll unless it requires action, in which case SubmitToolOutputs
// advances it. The final step repeats forever.
type FakeStep struct {
	Status    RunStatus
	ToolCalls []ToolCall
	LastError string

	// Reply is appended as the assistant message when a completed step is
	// reached. ReplyFunc, when set, builds it from the tool outputs submitted
	// so far. Leaving both empty produces a completed run with no text.
	Reply     string
	ReplyFunc func(input string, outputs []ToolOutput) string
}

// Fake implements Backend in memory for tests and the offline console. It
// records every call so tests can assert on what the orchestrator sent.
type Fake struct {
	// Script returns the steps of a new run given the latest user message
	// on the thread. The default echoes the message back.
	Script func(threadID, input string) []FakeStep

	// Errors injects failures by method name ("StartRun", "GetRun", ...).
	Errors map[string]error

	mu        sync.Mutex
	seq       int
	threads   map[string][]Message // oldest first
	runs      map[string]*fakeRun
	deleted   []string
	cancelled []string
	started   int
}

type fakeRun struct {
	threadID string
	input    string
	steps    []FakeStep
	idx      int
	outputs  []ToolOutput
	replied  bool
	status   RunStatus
}

// NewFake returns an empty Fake backend.
func NewFake() *Fake {
	return &Fake{
		threads: make(map[string][]Message),
		runs:    make(map[string]*fakeRun),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) fail(method string) error {
	if f.Errors == nil {
		return nil
	}
	return f.Errors[method]
}

func (f *Fake) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateThread"); err != nil {
		return "", err
	}
	id := f.nextID("thread")
	f.threads[id] = nil
	return id, nil
}

func (f *Fake) DeleteThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteThread"); err != nil {
		return err
	}
	delete(f.threads, threadID)
	f.deleted = append(f.deleted, threadID)
	return nil
}

func (f *Fake) AddMessage(ctx context.Context, threadID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddMessage"); err != nil {
		return err
	}
	if _, ok := f.threads[threadID]; !ok {
		return fmt.Errorf("fake: thread %s not found", threadID)
	}
	f.threads[threadID] = append(f.threads[threadID], Message{
		ID:        f.nextID("msg"),
		Role:      role,
		Text:      content,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *Fake) StartRun(ctx context.Context, threadID string, tools []ToolSpec) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("StartRun"); err != nil {
		return Run{}, err
	}
	msgs, ok := f.threads[threadID]
	if !ok {
		return Run{}, fmt.Errorf("fake: thread %s not found", threadID)
	}
	input := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			input = msgs[i].Text
			break
		}
	}
	var steps []FakeStep
	if f.Script != nil {
		steps = f.Script(threadID, input)
	}
	if len(steps) == 0 {
		steps = []FakeStep{{Status: RunCompleted, Reply: "eco: " + input}}
	}
	id := f.nextID("run")
	f.runs[id] = &fakeRun{threadID: threadID, input: input, steps: steps, status: RunQueued}
	f.started++
	return Run{ID: id, ThreadID: threadID, Status: RunQueued}, nil
}

// current reports the run's state and advances it by one poll.
func (f *Fake) current(id string, r *fakeRun) Run {
	if r.status == RunCancelled {
		return Run{ID: id, ThreadID: r.threadID, Status: RunCancelled}
	}
	step := r.steps[r.idx]
	if step.Status == RunCompleted && !r.replied {
		r.replied = true
		text := step.Reply
		if step.ReplyFunc != nil {
			text = step.ReplyFunc(r.input, r.outputs)
		}
		if text != "" {
			f.threads[r.threadID] = append(f.threads[r.threadID], Message{
				ID:        f.nextID("msg"),
				Role:      "assistant",
				RunID:     id,
				Text:      text,
				CreatedAt: time.Now(),
			})
		}
	}
	run := Run{ID: id, ThreadID: r.threadID, Status: step.Status, ToolCalls: step.ToolCalls, LastError: step.LastError}
	r.status = step.Status
	if step.Status != RunRequiresAction && r.idx < len(r.steps)-1 {
		r.idx++
	}
	return run
}

func (f *Fake) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetRun"); err != nil {
		return Run{}, err
	}
	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return Run{}, fmt.Errorf("fake: run %s not found", runID)
	}
	return f.current(runID, r), nil
}

func (f *Fake) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SubmitToolOutputs"); err != nil {
		return Run{}, err
	}
	r, ok := f.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("fake: run %s not found", runID)
	}
	if r.steps[r.idx].Status != RunRequiresAction {
		return Run{}, fmt.Errorf("fake: run %s is not waiting for tool outputs", runID)
	}
	want := len(r.steps[r.idx].ToolCalls)
	if len(outputs) != want {
		return Run{}, fmt.Errorf("fake: run %s expects %d tool outputs, got %d", runID, want, len(outputs))
	}
	r.outputs = append(r.outputs, outputs...)
	if r.idx < len(r.steps)-1 {
		r.idx++
	}
	r.status = RunQueued
	return Run{ID: runID, ThreadID: threadID, Status: RunQueued}, nil
}

func (f *Fake) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	if err := f.fail("CancelRun"); err != nil {
		return err
	}
	if r, ok := f.runs[runID]; ok {
		r.status = RunCancelled
	}
	return nil
}

func (f *Fake) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListMessages"); err != nil {
		return nil, err
	}
	msgs := f.threads[threadID]
	out := make([]Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Test helpers ---

// UserMessages returns the user messages added to a thread, oldest first.
func (f *Fake) UserMessages(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.threads[threadID] {
		if m.Role == "user" {
			out = append(out, m.Text)
		}
	}
	return out
}

// RunsStarted returns how many runs have been started.
func (f *Fake) RunsStarted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Outputs returns the tool outputs submitted for a run.
func (f *Fake) Outputs(runID string) []ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		return append([]ToolOutput(nil), r.outputs...)
	}
	return nil
}

// AllOutputs returns every tool output submitted on any run.
func (f *Fake) AllOutputs() []ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ToolOutput
	for _, r := range f.runs {
		out = append(out, r.outputs...)
	}
	return out
}

// Cancelled returns the ids of runs CancelRun was called for.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// Deleted returns the ids of deleted threads.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// HasThread reports whether a thread exists.
func (f *Fake) HasThread(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.threads[threadID]
	return ok
}

// ToolCallStep is shorthand for a requires_action step.
func ToolCallStep(calls ...ToolCall) FakeStep {
	return FakeStep{Status: RunRequiresAction, ToolCalls: calls}
}

// JoinOutputs is a ReplyFunc that concatenates tool outputs.
func JoinOutputs(input string, outputs []ToolOutput) string {
	parts := make([]string, len(outputs))
	for i, o := range outputs {
		parts[i] = o.Output
	}
	return strings.Join(parts, "\n")
}
