// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
	"github.com/relabs-tech/ar_walk/internal/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the page is served from the device itself
	},
}

const writeWait = 2 * time.Second

// WSMessage is sent by the page.
type WSMessage struct {
	Action  string `json:"action"` // qr, scan, stop
	Payload string `json:"payload,omitempty"`
}

// WSResponse is pushed to the page.
type WSResponse struct {
	Type     string           `json:"type"` // snapshot, alert, position, error
	Snapshot *motion.Snapshot `json:"snapshot,omitempty"`
	Alert    *notify.Alert    `json:"alert,omitempty"`
	Position *location.Fix    `json:"position,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Hub keeps the connected pages and pushes camera pose, alerts and
// position to all of them.
type Hub struct {
	handle func(WSMessage) error

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub returns a hub that passes page actions to handle.
func NewHub(handle func(WSMessage) error) *Hub {
	return &Hub{handle: handle, clients: make(map[*wsClient]struct{})}
}

// ServeHTTP upgrades the request and serves one page until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("web: page connected (%d open)", n)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}
		if h.handle == nil {
			continue
		}
		if err := h.handle(msg); err != nil {
			c.send(WSResponse{Type: "error", Message: err.Error()})
		}
	}
}

// Broadcast pushes msg to every connected page, dropping pages that fail.
func (h *Hub) Broadcast(msg WSResponse) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			log.Printf("web: dropping page: %v", err)
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
}

// Send implements notify.Sink.
func (h *Hub) Send(a notify.Alert) error {
	h.Broadcast(WSResponse{Type: "alert", Alert: &a})
	return nil
}

// ClientCount is the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
