package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const (
	defaultQueueSize = 1024
	defaultTimeout   = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Every subscription has its own queue and worker, so a
// subscriber sees events in the order they were published and a slow subscriber doesn't delay
// the others.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	all     []*subscription
	stopped bool
	wg      sync.WaitGroup
}

type subscription struct {
	name  string
	h     Handler
	queue chan delivery
}

type delivery struct {
	ctx context.Context
	e   Event
	// barrier is closed instead of handling e when set.
	barrier chan struct{}
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.SubscribeMany([]string{name}, h)
}

// SubscribeMany subscribes h to several events with a single queue, so h sees them in the order
// they were published regardless of name.
func (b *Bus) SubscribeMany(names []string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || len(names) == 0 {
		return
	}

	s := &subscription{
		name:  strings.Join(names, ","),
		h:     h,
		queue: make(chan delivery, defaultQueueSize),
	}
	for _, name := range names {
		b.subs[name] = append(b.subs[name], s)
	}
	b.all = append(b.all, s)

	b.wg.Add(1)
	go b.run(s)
}

// Publish an event. It blocks only when a subscriber's queue is full.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	for _, s := range b.subs[e.Name()] {
		s.queue <- delivery{ctx: context.WithoutCancel(ctx), e: e}
	}
}

// Drain waits until every event published before the call has been handled.
func (b *Bus) Drain() {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	barriers := make([]chan struct{}, 0, len(b.all))
	for _, s := range b.all {
		c := make(chan struct{})
		s.queue <- delivery{barrier: c}
		barriers = append(barriers, c)
	}
	b.mu.RUnlock()

	for _, c := range barriers {
		<-c
	}
}

// Stop waits for all queued events to be handled, then stops the workers. Publishing after
// Stop is a no-op.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, s := range b.all {
		close(s.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run(s *subscription) {
	defer b.wg.Done()

	for d := range s.queue {
		if d.barrier != nil {
			close(d.barrier)
			continue
		}
		b.dispatch(s, d)
	}
}

func (b *Bus) dispatch(s *subscription, d delivery) {
	ctx, cancel := context.WithTimeout(d.ctx, defaultTimeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", d.e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := s.h(ctx, d.e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", d.e.Name(),
			"subscription", s.name,
			"error", err,
		)
	}
}
