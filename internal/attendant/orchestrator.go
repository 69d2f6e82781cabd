package attendant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lojaortopedic/atendente/internal/assistant"
	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/metrics"
	"github.com/lojaortopedic/atendente/internal/tools"
)

// Default configuration values for Orchestrator.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxPolls        = 60
	DefaultRunTimeout      = 90 * time.Second
	DefaultThreadTTL       = 30 * 24 * time.Hour
	DefaultToolConcurrency = 4

	DefaultWaitMessage    = "Só um momento, ainda estou verificando sua mensagem anterior."
	DefaultApologyMessage = "Desculpe, tive um problema ao processar sua mensagem. Pode tentar novamente em instantes?"

	// cleanupTimeout bounds lock release and run cancellation, which run
	// on a fresh context after the turn's own context may be done.
	cleanupTimeout = 10 * time.Second
	replyLookback  = 10
)

// Orchestrator drives conversation turns: it maps customers to assistant
// threads, allows one run per thread, polls runs to completion and answers
// their tool calls.
type Orchestrator struct {
	backend   assistant.Backend
	store     kvstore.Store
	registry  *tools.Registry
	gateway   Gateway
	lock      *RunLock
	queue     *Debouncer
	chat      *ChatLog
	out       io.Writer
	debounced bool

	pollInterval    time.Duration
	maxPolls        int
	runTimeout      time.Duration
	threadTTL       time.Duration
	toolConcurrency int
	waitMessage     string
	apologyMessage  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closing bool
	owners  map[string]string             // thread id -> customer id, while messages are queued
	active  map[string]context.CancelFunc // thread id -> running turn
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	Backend  assistant.Backend
	Store    kvstore.Store
	Registry *tools.Registry
	Gateway  Gateway  // delivers replies of deferred turns; optional for ProcessTurn-only use
	Lock     *RunLock // defaults to a RunLock over Store
	ChatLog  *ChatLog // optional

	PollInterval    time.Duration
	MaxPolls        int
	RunTimeout      time.Duration
	ThreadTTL       time.Duration
	Debounce        time.Duration // negative disables debouncing in HandleInbound
	ToolConcurrency int
	WaitMessage     string
	ApologyMessage  string
	Out             io.Writer // defaults to os.Stdout
}

// NewOrchestrator creates an Orchestrator. Call Close to stop pending
// timers and wait for deferred turns.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("attendant: backend is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("attendant: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("attendant: registry is required")
	}
	lock := opts.Lock
	if lock == nil {
		var err error
		if lock, err = NewRunLock(RunLockOpts{Store: opts.Store}); err != nil {
			return nil, err
		}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	o := &Orchestrator{
		backend:         opts.Backend,
		store:           opts.Store,
		registry:        opts.Registry,
		gateway:         opts.Gateway,
		lock:            lock,
		chat:            opts.ChatLog,
		out:             out,
		debounced:       opts.Debounce >= 0,
		pollInterval:    orDuration(opts.PollInterval, DefaultPollInterval),
		maxPolls:        opts.MaxPolls,
		runTimeout:      orDuration(opts.RunTimeout, DefaultRunTimeout),
		threadTTL:       orDuration(opts.ThreadTTL, DefaultThreadTTL),
		toolConcurrency: opts.ToolConcurrency,
		waitMessage:     opts.WaitMessage,
		apologyMessage:  opts.ApologyMessage,
		owners:          make(map[string]string),
		active:          make(map[string]context.CancelFunc),
	}
	if o.maxPolls <= 0 {
		o.maxPolls = DefaultMaxPolls
	}
	if o.toolConcurrency <= 0 {
		o.toolConcurrency = DefaultToolConcurrency
	}
	if o.waitMessage == "" {
		o.waitMessage = DefaultWaitMessage
	}
	if o.apologyMessage == "" {
		o.apologyMessage = DefaultApologyMessage
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.queue = NewDebouncer(opts.Debounce, o.flush)
	return o, nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Close stops debounce timers, cancels deferred turns and waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.queue.Stop()
	o.cancel()
	o.wg.Wait()
}

// track registers a background turn with the wait group. It reports false
// once Close has started.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return false
	}
	o.wg.Add(1)
	return true
}

// Queue exposes the debounce queue.
func (o *Orchestrator) Queue() *Debouncer { return o.queue }

// Lock exposes the run lock manager.
func (o *Orchestrator) Lock() *RunLock { return o.lock }

// ProcessTurn runs one assistant turn for the customer. If the thread is
// busy the message is queued and the wait acknowledgement returned at once;
// it is processed after the running turn releases the lock. On failure the
// returned Reply carries the apology text along with the error.
func (o *Orchestrator) ProcessTurn(ctx context.Context, customerID, message string) (Reply, error) {
	threadID, err := o.resolveThread(ctx, customerID)
	if err != nil {
		metrics.Turns.WithLabelValues("error").Inc()
		return Reply{Text: o.apologyMessage, Status: StatusFailed}, err
	}

	if !o.acquire(ctx, threadID) {
		n := o.enqueue(threadID, customerID, message)
		metrics.Turns.WithLabelValues("queued").Inc()
		fmt.Fprintf(o.out, "attendant: thread %s busy, queued message (%d pending)\n", threadID, n)
		reply := Reply{Status: StatusQueued, ThreadID: threadID}
		if n == 1 {
			reply.Text = o.waitMessage
		}
		return reply, nil
	}
	return o.runTurn(ctx, customerID, threadID, message)
}

// HandleInbound routes a customer message through the debounce queue, so
// a burst sent while the thread is free becomes a single turn. It returns
// once the message is queued; turns run on their own goroutines and their
// replies are delivered through the Gateway. With debouncing disabled the
// message starts a turn at once when the thread is free.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg InboundMessage) {
	text := MessageText(msg)
	if text == "" {
		return
	}
	threadID, err := o.resolveThread(ctx, msg.CustomerID)
	if err != nil {
		log.Printf("attendant: resolve thread for %s: %v", msg.CustomerID, err)
		metrics.Turns.WithLabelValues("error").Inc()
		o.deliver(ctx, msg.CustomerID, Reply{Text: o.apologyMessage, Status: StatusFailed})
		return
	}

	if !o.debounced {
		if !o.acquire(ctx, threadID) {
			if n := o.enqueue(threadID, msg.CustomerID, text); n == 1 {
				o.deliver(ctx, msg.CustomerID, Reply{Text: o.waitMessage, Status: StatusQueued, ThreadID: threadID})
			}
			metrics.Turns.WithLabelValues("queued").Inc()
			return
		}
		if !o.track() {
			o.release(threadID)
			return
		}
		go func() {
			defer o.wg.Done()
			reply, err := o.runTurn(o.ctx, msg.CustomerID, threadID, text)
			if err != nil && !errors.Is(err, ErrTurnCancelled) {
				log.Printf("attendant: turn for %s: %v", msg.CustomerID, err)
			}
			o.deliver(o.ctx, msg.CustomerID, reply)
		}()
		return
	}

	if n := o.enqueue(threadID, msg.CustomerID, text); n != 1 {
		return
	}
	busy, err := o.lock.IsLocked(ctx, threadID)
	if err != nil {
		log.Printf("attendant: %v", err)
		return
	}
	if busy {
		metrics.LockContention.Inc()
		o.deliver(ctx, msg.CustomerID, Reply{Text: o.waitMessage, Status: StatusQueued, ThreadID: threadID})
	}
}

// MessageText flattens an inbound message into the text handed to the
// assistant. Images are passed by reference.
func MessageText(msg InboundMessage) string {
	text := strings.TrimSpace(msg.Text)
	if msg.ImageURL == "" {
		return text
	}
	ref := "[imagem recebida] " + msg.ImageURL
	if text == "" {
		return ref
	}
	return ref + "\n" + text
}

// flush is the debounce callback. It runs the thread's queued messages as
// one turn if the thread is free. Otherwise the fired batch is not re-armed:
// the messages stay queued until the running turn drains them on release or
// the next Enqueue restarts the timer.
func (o *Orchestrator) flush(threadID string) {
	if !o.track() {
		return
	}
	defer o.wg.Done()
	ctx := o.ctx
	if ctx.Err() != nil {
		return
	}

	if !o.acquire(ctx, threadID) {
		fmt.Fprintf(o.out, "attendant: thread %s busy, deferring %d message(s)\n", threadID, o.queue.Len(threadID))
		return
	}
	o.mu.Lock()
	customerID := o.owners[threadID]
	msgs := o.queue.Drain(threadID)
	o.mu.Unlock()
	if len(msgs) == 0 || customerID == "" {
		o.release(threadID)
		o.forgetIdle(threadID)
		return
	}

	metrics.DebounceFlushes.Inc()
	metrics.DebounceMessages.Add(float64(len(msgs)))
	reply, err := o.runTurn(ctx, customerID, threadID, Coalesce(msgs))
	if err != nil && !errors.Is(err, ErrTurnCancelled) {
		log.Printf("attendant: deferred turn for %s: %v", customerID, err)
	}
	o.deliver(ctx, customerID, reply)
}

// acquire takes the run lock. A store failure is logged and the turn
// proceeds without mutual exclusion.
func (o *Orchestrator) acquire(ctx context.Context, threadID string) bool {
	ok, err := o.lock.TryAcquire(ctx, threadID)
	if err != nil {
		log.Printf("attendant: %v; proceeding without lock", err)
		return true
	}
	if !ok {
		metrics.LockContention.Inc()
	}
	return ok
}

func (o *Orchestrator) release(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := o.lock.Release(ctx, threadID); err != nil {
		log.Printf("attendant: %v", err)
	}
}

// runTurn drives one run with the lock held. The lock is released and the
// queue drained on every return path.
func (o *Orchestrator) runTurn(ctx context.Context, customerID, threadID, text string) (reply Reply, err error) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	o.mu.Lock()
	o.active[threadID] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, threadID)
		o.mu.Unlock()
		o.release(threadID)
		o.drainAfterRelease(threadID)
		o.forgetIdle(threadID)

		metrics.Turns.WithLabelValues(outcome(err)).Inc()
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	fmt.Fprintf(o.out, "attendant: turn start [customer=%s thread=%s] %q\n", customerID, threadID, truncate(text, 80))
	if o.chat != nil {
		o.chat.Append(ctx, customerID, threadID, "user", text)
	}

	answer, runID, err := o.drive(runCtx, customerID, threadID, text)
	if err != nil {
		if errors.Is(runCtx.Err(), context.Canceled) && ctx.Err() == nil {
			err = ErrTurnCancelled
			fmt.Fprintf(o.out, "attendant: turn cancelled [thread=%s]\n", threadID)
			return Reply{Status: StatusReset, ThreadID: threadID, RunID: runID}, err
		}
		if errors.Is(err, ErrMalformedResponse) {
			log.Printf("attendant: MALFORMED backend response on thread %s run %s", threadID, runID)
		}
		fmt.Fprintf(o.out, "attendant: turn failed [thread=%s run=%s]: %v\n", threadID, runID, err)
		return Reply{Text: o.apologyMessage, Status: StatusFailed, ThreadID: threadID, RunID: runID}, err
	}

	if o.chat != nil {
		o.chat.Append(ctx, customerID, threadID, "assistant", answer)
	}
	fmt.Fprintf(o.out, "attendant: turn done [thread=%s run=%s] in %s\n", threadID, runID, time.Since(start).Round(time.Millisecond))
	return Reply{Text: answer, Status: StatusCompleted, ThreadID: threadID, RunID: runID}, nil
}

// drainAfterRelease schedules a flush when messages arrived during the turn.
func (o *Orchestrator) drainAfterRelease(threadID string) {
	if o.queue.Len(threadID) == 0 || o.ctx.Err() != nil {
		return
	}
	go o.flush(threadID)
}

// drive appends the message, starts a run and polls it to completion,
// answering tool calls along the way.
func (o *Orchestrator) drive(ctx context.Context, customerID, threadID, text string) (string, string, error) {
	if err := o.backend.AddMessage(ctx, threadID, "user", text); err != nil {
		return "", "", o.ctxErr(ctx, fmt.Errorf("attendant: add message: %w", err))
	}
	run, err := o.backend.StartRun(ctx, threadID, o.registry.Specs())
	if err != nil {
		return "", "", o.ctxErr(ctx, fmt.Errorf("attendant: start run: %w", err))
	}
	if err := o.lock.SetRunID(ctx, threadID, run.ID); err != nil {
		log.Printf("attendant: %v", err)
	}

	tc := tools.ThreadContext{ThreadID: threadID, CustomerID: customerID}
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	state := run
	polls := 0
	for {
		switch state.Status {
		case assistant.RunCompleted:
			answer, err := o.latestReply(ctx, threadID, run.ID)
			return answer, run.ID, err

		case assistant.RunRequiresAction:
			outputs := o.runTools(ctx, tc, state.ToolCalls)
			next, err := o.backend.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
			if err != nil {
				return "", run.ID, o.ctxErr(ctx, fmt.Errorf("attendant: submit tool outputs: %w", err))
			}
			state = next
			continue

		case assistant.RunFailed, assistant.RunCancelled, assistant.RunExpired, assistant.RunIncomplete:
			return "", run.ID, &RunError{RunID: run.ID, Status: state.Status, Detail: state.LastError}
		}

		if polls >= o.maxPolls {
			o.cancelRun(threadID, run.ID)
			return "", run.ID, fmt.Errorf("%w after %d polls (last status %s)", ErrRunTimeout, polls, state.Status)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				o.cancelRun(threadID, run.ID)
				return "", run.ID, fmt.Errorf("%w after %s (last status %s)", ErrRunTimeout, o.runTimeout, state.Status)
			}
			return "", run.ID, ctx.Err()
		case <-ticker.C:
		}

		polls++
		state, err = o.backend.GetRun(ctx, threadID, run.ID)
		if err != nil {
			err = o.ctxErr(ctx, fmt.Errorf("attendant: poll run: %w", err))
			if errors.Is(err, ErrRunTimeout) {
				o.cancelRun(threadID, run.ID)
			}
			return "", run.ID, err
		}
	}
}

// ctxErr replaces err with the turn context's error when that is the cause.
func (o *Orchestrator) ctxErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrRunTimeout, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

// runTools executes a requires_action batch concurrently and returns the
// outputs in call order. Each output is independent: one failing tool does
// not affect the others.
func (o *Orchestrator) runTools(ctx context.Context, tc tools.ThreadContext, calls []assistant.ToolCall) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, len(calls))
	var g errgroup.Group
	g.SetLimit(o.toolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			fmt.Fprintf(o.out, "attendant: tool %s [thread=%s]\n", call.Name, tc.ThreadID)
			outputs[i] = assistant.ToolOutput{
				ToolCallID: call.ID,
				Output:     o.registry.Execute(ctx, call, tc),
			}
			return nil
		})
	}
	g.Wait()
	return outputs
}

// latestReply returns the text of the newest assistant message of the run.
func (o *Orchestrator) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := o.backend.ListMessages(ctx, threadID, replyLookback)
	if err != nil {
		return "", o.ctxErr(ctx, fmt.Errorf("attendant: list messages: %w", err))
	}
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		if m.RunID != "" && m.RunID != runID {
			break
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			return text, nil
		}
		break
	}
	return "", fmt.Errorf("%w (thread %s, run %s)", ErrMalformedResponse, threadID, runID)
}

func (o *Orchestrator) cancelRun(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := o.backend.CancelRun(ctx, threadID, runID); err != nil {
		log.Printf("attendant: cancel run %s: %v", runID, err)
	}
}

// resolveThread returns the customer's thread, creating it on first
// contact. The mapping TTL is refreshed on every access. Store failures are
// treated as a miss.
func (o *Orchestrator) resolveThread(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("attendant: customer id is required")
	}
	key := kvstore.ThreadKey(customerID)
	threadID, err := o.store.Get(ctx, key)
	if err == nil && threadID != "" {
		if err := o.store.Set(ctx, key, threadID, o.threadTTL); err != nil {
			log.Printf("attendant: refresh thread ttl for %s: %v", customerID, err)
		}
		return threadID, nil
	}
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		log.Printf("attendant: read thread for %s: %v", customerID, err)
	}
	return o.createThread(ctx, customerID)
}

func (o *Orchestrator) createThread(ctx context.Context, customerID string) (string, error) {
	threadID, err := o.backend.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("attendant: create thread: %w", err)
	}
	key := kvstore.ThreadKey(customerID)
	ok, err := o.store.SetNX(ctx, key, threadID, o.threadTTL)
	if err != nil {
		log.Printf("attendant: save thread for %s: %v", customerID, err)
		return threadID, nil
	}
	if !ok {
		// Another turn created one first; keep theirs.
		existing, gerr := o.store.Get(ctx, key)
		if gerr == nil && existing != "" {
			if derr := o.backend.DeleteThread(ctx, threadID); derr != nil {
				log.Printf("attendant: delete duplicate thread %s: %v", threadID, derr)
			}
			return existing, nil
		}
		if err := o.store.Set(ctx, key, threadID, o.threadTTL); err != nil {
			log.Printf("attendant: save thread for %s: %v", customerID, err)
		}
	}
	fmt.Fprintf(o.out, "attendant: new thread %s for %s\n", threadID, customerID)
	return threadID, nil
}

// Reset tears down the customer's conversation and starts a new thread. The
// in-flight run, if any, is cancelled at the backend on a best-effort basis;
// local state is cleared regardless.
func (o *Orchestrator) Reset(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("attendant: customer id is required")
	}
	key := kvstore.ThreadKey(customerID)
	oldThread, err := o.store.Get(ctx, key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		log.Printf("attendant: reset: read thread for %s: %v", customerID, err)
	}

	if oldThread != "" {
		holder, herr := o.lock.Holder(ctx, oldThread)
		o.mu.Lock()
		if cancel, ok := o.active[oldThread]; ok {
			cancel()
		}
		delete(o.owners, oldThread)
		o.mu.Unlock()

		if herr == nil && holder.HasRun() {
			if err := o.backend.CancelRun(ctx, oldThread, holder.RunID); err != nil {
				log.Printf("attendant: reset: cancel run %s: %v", holder.RunID, err)
			}
		}

		o.queue.Clear(oldThread)
		if err := o.lock.Release(ctx, oldThread); err != nil {
			log.Printf("attendant: reset: %v", err)
		}
		for _, pattern := range kvstore.ThreadStatePatterns(oldThread) {
			if _, err := o.store.DelPattern(ctx, pattern); err != nil {
				log.Printf("attendant: reset: delete %s: %v", pattern, err)
			}
		}
		if err := o.backend.DeleteThread(ctx, oldThread); err != nil {
			log.Printf("attendant: reset: delete thread %s: %v", oldThread, err)
		}
	}
	if err := o.store.Del(ctx, key); err != nil {
		log.Printf("attendant: reset: delete thread mapping for %s: %v", customerID, err)
	}
	if o.chat != nil {
		if err := o.chat.Clear(ctx, customerID); err != nil {
			log.Printf("attendant: reset: %v", err)
		}
	}

	threadID, err := o.createThread(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("attendant: reset: %w", err)
	}
	fmt.Fprintf(o.out, "attendant: reset %s [old=%s new=%s]\n", customerID, oldThread, threadID)
	return threadID, nil
}

func (o *Orchestrator) deliver(ctx context.Context, customerID string, reply Reply) {
	if o.gateway == nil || reply.Text == "" {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := o.gateway.SendText(ctx, customerID, reply.Text); err != nil {
		log.Printf("attendant: deliver to %s: %v", customerID, err)
	}
}

// enqueue records the thread's owner and queues text. The owner stays known
// until the queue is empty again.
func (o *Orchestrator) enqueue(threadID, customerID, text string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners[threadID] = customerID
	return o.queue.Enqueue(threadID, text)
}

// forgetIdle drops the owner of a thread with nothing queued.
func (o *Orchestrator) forgetIdle(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue.Len(threadID) == 0 {
		delete(o.owners, threadID)
	}
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
