package fanout

import (
	"context"
	"sync"
)

// Hub is an in-process subscriber registry. It is a Sink, so subscribers see
// exactly what the dispatcher delivers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Batch
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Batch)}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe returns a channel with the given buffer and a cancel func that
// unregisters and closes it. Slow subscribers miss batches.
func (h *Hub) Subscribe(buffer int) (<-chan Batch, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Batch, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Deliver(_ context.Context, b Batch) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
	return nil
}
