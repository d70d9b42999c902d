// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Message types pushed to connected clients.
const (
	MessageTypeScoreUpdate = "score_update"
	MessageTypeAlert       = "alert"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// Message is the envelope for every websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts score and alert
// events to them. Lifecycle events take priority over broadcasts so client
// state is consistent before a message fans out.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until ctx is cancelled, then closes every
// client. Designed for suture supervision; a restart leaves no orphaned
// connections.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Shutdown first, lifecycle second, broadcasts last. Go's select
		// picks randomly among ready channels, so the priority has to be
		// explicit.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients fans one message out in client-ID order. A client
// whose send buffer is full is dropped; a stalled reader must not back up
// the hub.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// ScoreUpdateData is the payload of a score_update message.
type ScoreUpdateData struct {
	EntityID string  `json:"entity_id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
	RunAt    string  `json:"run_at"`
}

// BroadcastScoreUpdate pushes one fresh score to every client. Non-blocking;
// a full broadcast buffer drops the message.
func (h *Hub) BroadcastScoreUpdate(entity *models.Entity, score *models.Score) {
	data := ScoreUpdateData{
		EntityID: entity.ID.String(),
		Title:    entity.Title,
		Category: entity.Category,
		Score:    score.Value,
		Strategy: score.Strategy,
		RunAt:    score.RunAt.UTC().Format(time.RFC3339),
	}
	h.enqueue(Message{Type: MessageTypeScoreUpdate, Data: data})
}

// BroadcastAlert pushes a triggered alert event to every client.
func (h *Hub) BroadcastAlert(event *models.AlertEvent) {
	h.enqueue(Message{Type: MessageTypeAlert, Data: event})
}

func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", message.Type).
			Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
