package detection

import (
	"sync"
	"sync/atomic"

	"github.com/user/ouiprox/internal/model"
)

// Hub fans detection events out to live subscribers.
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan model.DetectionEvent]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan model.DetectionEvent]struct{})}
}

// Publish sends e to every subscriber.
func (h *Hub) Publish(e model.DetectionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(bufSize int) (<-chan model.DetectionEvent, func()) {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan model.DetectionEvent, bufSize)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}
