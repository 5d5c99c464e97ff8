package event

import (
	"context"
	"log/slog"
	"sync"
)

// Subscriber receives domain events. Handlers run on a per-subscriber
// goroutine, so a slow subscriber delays only its own queue.
type Subscriber interface {
	HandleJobModified(ctx context.Context, e JobModified)
	HandleJobExpired(ctx context.Context, e JobExpired)
}

const defaultQueueSize = 256

type envelope struct {
	modified *JobModified
	expired  *JobExpired
}

// Bus is the in-process publish/subscribe fan-out. Publish copies the
// event into every subscriber's queue and returns; it never runs handler
// code on the caller's goroutine, keeping side effects off the commit path.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues []chan envelope
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates an empty bus. Subscribers must be registered before the
// first Publish.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers sub and starts its delivery goroutine.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	q := make(chan envelope, defaultQueueSize)
	b.queues = append(b.queues, q)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for env := range q {
			// Deliveries use a background context: the publishing request
			// is long gone by the time a handler runs.
			ctx := context.Background()
			switch {
			case env.modified != nil:
				sub.HandleJobModified(ctx, *env.modified)
			case env.expired != nil:
				sub.HandleJobExpired(ctx, *env.expired)
			}
		}
	}()
}

// PublishJobModified fans e out to every subscriber. Callers must invoke
// this only after their transaction has committed.
func (b *Bus) PublishJobModified(e JobModified) {
	b.logger.Debug("Publishing JobModified",
		slog.String("job_id", e.JobID),
		slog.String("type", string(e.Type)),
	)
	b.publish(envelope{modified: &e})
}

// PublishJobExpired fans e out to every subscriber.
func (b *Bus) PublishJobExpired(e JobExpired) {
	b.logger.Debug("Publishing JobExpired",
		slog.String("job_id", e.JobID),
	)
	b.publish(envelope{expired: &e})
}

// publish copies env into every queue without ever blocking: a subscriber
// that has fallen a full queue behind loses the event instead of
// backpressuring publishers (and with them the request path). Derived
// views are healed by the maintenance sweeps, so a dropped event degrades
// freshness, not correctness.
func (b *Bus) publish(env envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, q := range b.queues {
		select {
		case q <- env:
		default:
			b.logger.Warn("Subscriber queue full, dropping event")
		}
	}
}

// Close stops delivery after draining every queue. Used on shutdown and by
// tests that need deterministic delivery.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
