package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/platform/metrics"
	"scrobble-orchestrator/internal/play"
)

// BackpressurePolicy decides what Submit does when a shard queue is full.
type BackpressurePolicy string

const (
	// PolicyBlock waits for room or for the caller's context to end.
	PolicyBlock BackpressurePolicy = "block"
	// PolicyDropOldest evicts the oldest queued event of the shard.
	PolicyDropOldest BackpressurePolicy = "drop_oldest"
	// PolicyReject fails with ErrQueueFull.
	PolicyReject BackpressurePolicy = "reject"
)

// ParseBackpressurePolicy validates s.
func ParseBackpressurePolicy(s string) (BackpressurePolicy, error) {
	switch p := BackpressurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyBlock, PolicyDropOldest, PolicyReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown backpressure policy %q", s)
}

var (
	// ErrQueueFull is returned by Submit under PolicyReject.
	ErrQueueFull = errors.New("ingest queue full")

	// ErrPipelineClosed is returned by Submit after Close.
	ErrPipelineClosed = errors.New("ingest pipeline closed")
)

// Ingester consumes events; *Engine implements it.
type Ingester interface {
	Ingest(ev play.Event) Result
}

// PipelineOptions sizes a Pipeline.
type PipelineOptions struct {
	Workers   int
	QueueSize int
	Policy    BackpressurePolicy
	// OnResult, when set, is called by the worker after each event.
	OnResult func(ev play.Event, res Result)
}

// Pipeline is the asynchronous ingestion boundary. Events are sharded by
// platform id over bounded queues, each drained by one worker, so updates for
// one platform stay ordered while different platforms run in parallel.
type Pipeline struct {
	ingester Ingester
	opts     PipelineOptions
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
	shards []chan play.Event
	wg     sync.WaitGroup
}

// NewPipeline starts a pipeline feeding ingester.
func NewPipeline(ingester Ingester, opts PipelineOptions, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Policy == "" {
		opts.Policy = PolicyBlock
	}
	p := &Pipeline{
		ingester: ingester,
		opts:     opts,
		log:      logger.Component(log, "pipeline"),
		metrics:  m,
		done:     make(chan struct{}),
		shards:   make([]chan play.Event, opts.Workers),
	}
	for i := range p.shards {
		ch := make(chan play.Event, opts.QueueSize)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.work(ch)
	}
	return p
}

func (p *Pipeline) work(ch <-chan play.Event) {
	defer p.wg.Done()
	for ev := range ch {
		res := p.ingester.Ingest(ev)
		if p.opts.OnResult != nil {
			p.opts.OnResult(ev, res)
		}
	}
}

func (p *Pipeline) shardFor(id play.PlatformID) chan play.Event {
	return p.shards[xxhash.Sum64String(string(id))%uint64(len(p.shards))]
}

// Submit queues ev according to the backpressure policy.
func (p *Pipeline) Submit(ctx context.Context, ev play.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	ch := p.shardFor(ev.PlatformID())

	switch p.opts.Policy {
	case PolicyReject:
		select {
		case ch <- ev:
			return nil
		default:
			p.dropped(ev, "rejected")
			return ErrQueueFull
		}

	case PolicyDropOldest:
		for {
			select {
			case ch <- ev:
				return nil
			default:
			}
			select {
			case old := <-ch:
				p.dropped(old, "evicted")
			default:
			}
		}

	default:
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPipelineClosed
		}
	}
}

func (p *Pipeline) dropped(ev play.Event, how string) {
	if p.metrics != nil {
		p.metrics.IncQueueDropped()
	}
	p.log.Warn("ingest queue full, event dropped",
		slog.String("platform_id", string(ev.PlatformID())),
		slog.String("policy", string(p.opts.Policy)),
		slog.String("drop", how))
}

// Close stops accepting events, lets the workers finish the queued ones and
// waits for them.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		for _, ch := range p.shards {
			close(ch)
		}
		p.mu.Unlock()
		p.wg.Wait()
	})
}
