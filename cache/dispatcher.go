package cache

import (
	"context"
	"gallery/logging"
	"gallery/metrics"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink stores tag invalidations. Implementations must be safe for concurrent use.
type Sink interface {
	Invalidate(ctx context.Context, tags []string) error
}

type DispatcherConfig struct {
	Async     bool
	QueueSize int
	Logger    *zap.Logger
}

type delivery struct {
	kind string
	tags []string
}

// Dispatcher plans every event synchronously and hands the tags to the sink,
// either inline or through a single background worker.
type Dispatcher struct {
	sink   Sink
	log    *zap.Logger
	queue  chan delivery
	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex
}

func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		sink: sink,
		log:  logging.OrNop(cfg.Logger),
	}
	if cfg.Async {
		size := cfg.QueueSize
		if size <= 0 {
			size = 256
		}
		d.queue = make(chan delivery, size)
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Fire plans e and delivers its tags. The planned tags are returned even if delivery fails.
func (d *Dispatcher) Fire(ctx context.Context, e Event) []string {
	tags := Plan(e)
	if len(tags) == 0 {
		return tags
	}
	metrics.CacheTagsInvalidated.WithLabelValues(e.Kind()).Add(float64(len(tags)))

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.queue != nil && !d.closed {
		select {
		case d.queue <- delivery{kind: e.Kind(), tags: tags}:
			return tags
		default:
			// Queue is full, deliver inline rather than lose the invalidation
		}
	}
	d.deliver(ctx, delivery{kind: e.Kind(), tags: tags})
	return tags
}

func (d *Dispatcher) deliver(ctx context.Context, item delivery) {
	if err := d.sink.Invalidate(ctx, item.tags); err != nil {
		metrics.CacheDeliveryErrors.Inc()
		d.log.Warn("cache invalidation failed",
			zap.String("event", item.kind),
			zap.Strings("tags", item.tags),
			zap.Error(err))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.deliver(ctx, item)
		cancel()
	}
}

// Close drains queued deliveries and stops the worker
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed || d.queue == nil {
		d.closed = true
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Invalidator is what mutating components need from a Dispatcher
type Invalidator interface {
	Fire(ctx context.Context, e Event) []string
}

// Nop drops every event after planning it
type Nop struct{}

func (Nop) Fire(_ context.Context, e Event) []string {
	return Plan(e)
}
