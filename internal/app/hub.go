// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tooling connects from arbitrary origins
	},
}

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Hub fans rendered frames out to websocket clients. A slow client loses
// frames instead of stalling the render loop.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan pipeline.FrameResult
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "ws_hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues res for every client; full client buffers drop it.
func (h *Hub) Broadcast(res pipeline.FrameResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- res:
		default:
		}
	}
}

// Sink adapts the hub to a render-loop sink.
func (h *Hub) Sink() pipeline.Sink { return h.Broadcast }

// ServeHTTP upgrades the request and streams frames as JSON until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", "err", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan pipeline.FrameResult, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		// drain control frames; any read error means the client left
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case res := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(res); err != nil {
				h.log.Debug("websocket write error", "err", err)
				return
			}
		}
	}
}
