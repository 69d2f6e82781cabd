package attendant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// ErrInboxFull is returned by Submit when the inbound buffer is full.
var ErrInboxFull = errors.New("attendant: inbox full")

const (
	defaultInboxSize   = 256
	customerQueueSize  = 32
	customerIdleExpiry = 30 * time.Second
)

// Daemon is the long-running attendant process. It pumps inbound messages
// to the Router, one customer at a time in arrival order, and runs the
// daily summary scheduler.
type Daemon struct {
	router  *Router
	orch    *Orchestrator
	summary *Summary
	inbound chan InboundMessage
	out     io.Writer

	mu      sync.Mutex
	workers map[string]chan InboundMessage
	wg      sync.WaitGroup
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Orchestrator *Orchestrator
	Router       *Router
	Summary      *Summary  // optional; enables the daily summary
	Buffer       int       // inbound buffer; defaults to 256
	Out          io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("attendant: daemon: orchestrator is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("attendant: daemon: router is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	size := opts.Buffer
	if size <= 0 {
		size = defaultInboxSize
	}
	if opts.Summary == nil {
		fmt.Fprintf(out, "attendant: no summary configured; daily summary disabled\n")
	}
	return &Daemon{
		router:  opts.Router,
		orch:    opts.Orchestrator,
		summary: opts.Summary,
		inbound: make(chan InboundMessage, size),
		out:     out,
		workers: make(map[string]chan InboundMessage),
	}, nil
}

// Submit queues an inbound message without blocking.
func (d *Daemon) Submit(msg InboundMessage) error {
	select {
	case d.inbound <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// Orchestrator returns the orchestrator the daemon drives.
func (d *Daemon) Orchestrator() *Orchestrator { return d.orch }

// Run pumps inbound messages until ctx is cancelled. On shutdown it waits
// for in-flight handlers and closes the orchestrator.
func (d *Daemon) Run(ctx context.Context) error {
	if d.summary != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.summary.Run(ctx)
		}()
	}

	fmt.Fprintf(d.out, "Atendente online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Atendente shutting down...\n")
			d.wg.Wait()
			d.orch.Close()
			fmt.Fprintf(d.out, "Atendente stopped\n")
			return nil

		case msg := <-d.inbound:
			d.dispatch(ctx, msg)
		}
	}
}

// dispatch hands msg to the customer's worker, starting one if needed.
func (d *Daemon) dispatch(ctx context.Context, msg InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[msg.CustomerID]
	if !ok {
		w = make(chan InboundMessage, customerQueueSize)
		d.workers[msg.CustomerID] = w
		d.wg.Add(1)
		go d.work(ctx, msg.CustomerID, w)
	}
	select {
	case w <- msg:
	default:
		log.Printf("attendant: daemon: queue full for %s, dropping %s", msg.CustomerID, msg.MessageID)
	}
}

func (d *Daemon) work(ctx context.Context, customerID string, w chan InboundMessage) {
	defer d.wg.Done()
	idle := time.NewTimer(customerIdleExpiry)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w:
			d.router.Handle(ctx, msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(customerIdleExpiry)
		case <-idle.C:
			d.mu.Lock()
			if len(w) == 0 {
				delete(d.workers, customerID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(customerIdleExpiry)
		}
	}
}
