package incident

import (
	"sync"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// hub fans appended incidents out to subscribers.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan models.Incident
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan models.Incident)}
}

func (h *hub) subscribe(buffer int) (<-chan models.Incident, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.Incident, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks; a full subscriber misses this incident.
func (h *hub) publish(inc models.Incident) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- inc:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
