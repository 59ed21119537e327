package ws

import (
	"sync"

	"github.com/cwrk-planet/command-relay/internal/metrics"
)

type Conn interface {
	Send(v any) error
	Close() error
	RoomCode() string
}

// Hub tracks open push connections per room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomCode()]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[c.RoomCode()] = rs
	}
	rs[c] = struct{}{}
	metrics.WSConnections.Inc()
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomCode()]
	if !ok {
		return
	}
	if _, ok := rs[c]; !ok {
		return
	}
	delete(rs, c)
	if len(rs) == 0 {
		delete(h.rooms, c.RoomCode())
	}
	metrics.WSConnections.Dec()
}

// Count returns the number of connections listening on code.
func (h *Hub) Count(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// CloseAll закрывает все соединения; вызывается при остановке сервера.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0)
	for _, rs := range h.rooms {
		for c := range rs {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
