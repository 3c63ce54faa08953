package server

import (
	"context"

	"github.com/gorilla/websocket"

	"coop-door-controller/internal/logging"
)

type directMessage struct {
	client *websocket.Conn
	msg    Message
}

// Hub manages WebSocket clients. Every write to a client goes through
// Run, so a connection never has two concurrent writers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	direct     chan directMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	log        *logging.Logger
}

// NewHub creates a new Hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 32),
		direct:     make(chan directMessage, 32),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
	}
}

// Run starts the hub's event loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("websocket client connected", "remote", client.RemoteAddr().String(), "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Info("websocket client disconnected", "remote", client.RemoteAddr().String(), "clients", len(h.clients))
			}
		case d := <-h.direct:
			if _, ok := h.clients[d.client]; !ok {
				continue
			}
			if err := d.client.WriteJSON(d.msg); err != nil {
				h.log.Warn("websocket write failed", "error", err)
				d.client.Close()
				delete(h.clients, d.client)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					h.log.Warn("broadcast failed", "error", err)
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Send writes a message to one registered client.
func (h *Hub) Send(client *websocket.Conn, msg Message) {
	select {
	case h.direct <- directMessage{client: client, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) add(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
