package room

import (
	"sync"

	"github.com/victornm/livequiz/internal/domain"
)

// registry maps player names to their handlers and keeps join order. Callers must not do network
// I/O while holding mu.
type registry struct {
	mu     sync.Mutex
	byName map[string]*handler
	order  []*handler
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]*handler)}
}

// add registers h unless its name is taken.
func (r *registry) add(h *handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.player.Name()
	if _, ok := r.byName[name]; ok {
		return false
	}
	r.byName[name] = h
	r.order = append(r.order, h)
	return true
}

// remove unregisters h. It is a no-op, returning false, if the name now belongs to another
// handler or was already removed.
func (r *registry) remove(h *handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.player.Name()
	if r.byName[name] != h {
		return false
	}
	delete(r.byName, name)
	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the handlers in join order.
func (r *registry) snapshot() []*handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*handler(nil), r.order...)
}

func (r *registry) players() []*domain.Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := make([]*domain.Player, 0, len(r.order))
	for _, h := range r.order {
		ps = append(ps, h.player)
	}
	return ps
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}
