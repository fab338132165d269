package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/livequiz/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type subscriber struct {
		names []string
		// many subscribes to all names through one queue
		many bool
	}

	tests := map[string]struct {
		published   []string
		subscribers map[string]subscriber
		want        map[string][]string
	}{
		"subscriber receives only its event": {
			published:   []string{"answer", "roster"},
			subscribers: map[string]subscriber{"scores": {names: []string{"answer"}}},
			want:        map[string][]string{"scores": {"answer"}},
		},

		"subscriber receives every publish": {
			published:   []string{"answer", "answer"},
			subscribers: map[string]subscriber{"scores": {names: []string{"answer"}}},
			want:        map[string][]string{"scores": {"answer", "answer"}},
		},

		"event reaches every subscriber": {
			published: []string{"question"},
			subscribers: map[string]subscriber{
				"console": {names: []string{"question"}},
				"metrics": {names: []string{"question"}},
				"history": {names: []string{"question"}},
			},
			want: map[string][]string{
				"console": {"question"},
				"metrics": {"question"},
				"history": {"question"},
			},
		},

		"mixed events and subscribers": {
			published: []string{"answer", "roster", "answer", "results"},
			subscribers: map[string]subscriber{
				"scores":  {names: []string{"answer"}},
				"console": {names: []string{"answer", "roster"}},
				"history": {names: []string{"results", "roster"}, many: true},
			},
			want: map[string][]string{
				"scores":  {"answer", "answer"},
				"console": {"answer", "answer", "roster"},
				"history": {"roster", "results"},
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			got := make(map[string][]string)

			b := event.NewBus()
			for sub, s := range tt.subscribers {
				h := func(ctx context.Context, e event.Event) error {
					mu.Lock()
					got[sub] = append(got[sub], e.Name())
					mu.Unlock()
					return nil
				}
				if s.many {
					b.SubscribeMany(s.names, h)
					continue
				}
				for _, n := range s.names {
					b.Subscribe(n, h)
				}
			}

			for _, n := range tt.published {
				b.Publish(context.Background(), eventWithName(n))
			}
			b.Stop()

			for sub, want := range tt.want {
				assert.ElementsMatch(t, want, got[sub], sub)
			}
		})
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := event.NewBus()
	defer b.Stop()

	var got []int
	b.Subscribe("tick", func(ctx context.Context, e event.Event) error {
		got = append(got, int(e.(tick)))
		return nil
	})

	want := make([]int, 0, 500)
	for i := 0; i < 500; i++ {
		b.Publish(context.Background(), tick(i))
		want = append(want, i)
	}
	b.Drain()

	assert.Equal(t, want, got)
}

func TestBus_SubscribeManyKeepsOrderAcrossNames(t *testing.T) {
	b := event.NewBus()
	defer b.Stop()

	var got []string
	b.SubscribeMany([]string{"e1", "e2"}, func(ctx context.Context, e event.Event) error {
		got = append(got, e.Name())
		return nil
	})

	for _, name := range []string{"e2", "e1", "e3", "e2", "e1"} {
		b.Publish(context.Background(), eventWithName(name))
	}
	b.Drain()

	assert.Equal(t, []string{"e2", "e1", "e2", "e1"}, got)
}

func TestBus_HandlerPanicDoesNotStopSubscription(t *testing.T) {
	b := event.NewBus()

	var calls int
	b.Subscribe("e1", func(ctx context.Context, e event.Event) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	})

	b.Publish(context.Background(), eventWithName("e1"))
	b.Publish(context.Background(), eventWithName("e1"))
	b.Stop()

	assert.Equal(t, 2, calls)

	// publishing after stop is a no-op
	b.Publish(context.Background(), eventWithName("e1"))
	assert.Equal(t, 2, calls)
}

type tick int

func (tick) Name() string { return "tick" }

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}
