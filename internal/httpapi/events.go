package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/contentmirror/internal/collector"
)

const (
	defaultSubscriberBuffer = 32
	eventWriteTimeout       = 5 * time.Second
)

// Hub fans run events out to websocket subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	buffer int

	mu          sync.Mutex
	subscribers map[chan collector.Event]struct{}
	dropped     uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subscribers: map[chan collector.Event]struct{}{}}
}

func (h *Hub) Publish(ev collector.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped counts events lost to slow subscribers since the hub was created.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() (<-chan collector.Event, func()) {
	ch := make(chan collector.Event, h.buffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logf("events: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream closed")

	events, unsubscribe := s.cfg.Events.subscribe()
	defer unsubscribe()

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev collector.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
