package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"factory-wgserver/pkg/model"
)

// EventHub fans reconciliation pass records out to subscribed admin UIs.
type EventHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[*websocket.Conn]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: map[*websocket.Conn]struct{}{},
	}
}

// HandleEvents upgrades a subscriber connection.
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("event subscriber connected remote=%s", r.RemoteAddr)
	go h.readLoop(c)
}

// Broadcast pushes a pass record to every subscriber; dead connections
// are dropped on write failure.
func (h *EventHub) Broadcast(rec model.PassRecord) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.WriteJSON(rec); err != nil {
			h.drop(c)
		}
	}
}

func (h *EventHub) readLoop(c *websocket.Conn) {
	defer h.drop(c)
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func (h *EventHub) drop(c *websocket.Conn) {
	_ = c.Close()
	h.mu.Lock()
	if _, ok := h.subs[c]; ok {
		delete(h.subs, c)
		log.Printf("event subscriber disconnected")
	}
	h.mu.Unlock()
}
