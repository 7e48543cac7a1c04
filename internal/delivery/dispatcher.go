package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/platform/metrics"
	"scrobble-orchestrator/internal/play"
)

// DispatcherOptions sizes a Dispatcher.
type DispatcherOptions struct {
	// QueueSize bounds the listens waiting for delivery (default 128).
	QueueSize int
	// SubmitTimeout bounds one client submission (default 15s).
	SubmitTimeout time.Duration
}

// Dispatcher delivers finalized listens to every client from a single
// worker. A listen is recorded in the ledger, then each (listen, client)
// pair is claimed before submission; a pair already claimed is skipped, so
// a listen is never delivered twice to the same client. Failed submissions
// are recorded and not retried.
type Dispatcher struct {
	ledger  Ledger
	clients []Client
	opts    DispatcherOptions
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan play.Listen
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher starts a dispatcher. Metrics may be nil.
func NewDispatcher(ledger Ledger, clients []Client, opts DispatcherOptions, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 15 * time.Second
	}
	d := &Dispatcher{
		ledger:  ledger,
		clients: clients,
		opts:    opts,
		log:     logger.Component(log, "dispatcher"),
		metrics: m,
		queue:   make(chan play.Listen, opts.QueueSize),
	}
	d.wg.Add(1)
	go d.work()
	return d
}

// Clients returns the identities of the configured clients.
func (d *Dispatcher) Clients() []Identity {
	out := make([]Identity, len(d.clients))
	for i, c := range d.clients {
		out[i] = c.Identity()
	}
	return out
}

// Emit queues l for delivery. It waits for room when the queue is full.
// Listens emitted after Close are delivered inline.
func (d *Dispatcher) Emit(l play.Listen) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.Deliver(context.Background(), l)
		return
	}
	select {
	case d.queue <- l:
	default:
		d.log.Warn("delivery queue full, waiting", slog.String("listen_id", l.ID))
		d.queue <- l
	}
	d.mu.RUnlock()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for l := range d.queue {
		d.Deliver(context.Background(), l)
	}
}

// Deliver records l and hands it to every client that has not received it.
func (d *Dispatcher) Deliver(ctx context.Context, l play.Listen) {
	if err := d.ledger.Record(ctx, l); err != nil {
		d.log.Error("record listen failed", slog.String("listen_id", l.ID), slog.String("error", err.Error()))
	}
	for _, c := range d.clients {
		d.deliverTo(ctx, c, l)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, c Client, l play.Listen) {
	name := c.Identity().Name
	log := d.log.With(slog.String("client", name), slog.String("listen_id", l.ID))

	claimed, err := d.ledger.Claim(ctx, l.ID, name)
	if err != nil {
		// unclaimed pairs are never submitted
		log.Error("claim delivery failed", slog.String("error", err.Error()))
		d.count(name, ResultFailed)
		return
	}
	if !claimed {
		log.Debug("listen already delivered")
		d.count(name, ResultSkipped)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, d.opts.SubmitTimeout)
	err = c.Submit(sctx, l)
	cancel()

	result, detail := ResultOK, ""
	if err != nil {
		result, detail = ResultFailed, err.Error()
		log.Warn("listen delivery failed", slog.String("error", detail))
	} else {
		log.Debug("listen delivered")
	}
	if err := d.ledger.MarkResult(ctx, l.ID, name, result, detail); err != nil {
		log.Error("mark delivery failed", slog.String("error", err.Error()))
	}
	d.count(name, result)
}

func (d *Dispatcher) count(client, result string) {
	if d.metrics != nil {
		d.metrics.IncDelivery(client, result)
	}
}

// Close stops the queue and waits for pending listens to be delivered.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
