// Package websocket pushes journal events to connected status API clients as
// they are recorded.
package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages for every client.
	Broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	done  chan bool
	count atomic.Int32
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan bool),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			log.Info().Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.count.Store(int32(len(h.clients)))
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Publish queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (h *Hub) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("action", msg.Action).Msg("Error encoding websocket message")
		return
	}
	select {
	case h.Broadcast <- data:
	default:
		log.Warn().Str("action", msg.Action).Msg("Websocket broadcast queue full, message dropped")
	}
}

// feed journals through next and mirrors every event to the hub.
type feed struct {
	next journal.Recorder
	hub  *Hub
	now  func() time.Time
}

// NewRecorder wraps next so recorded events are also pushed to hub's clients.
func NewRecorder(next journal.Recorder, hub *Hub) journal.Recorder {
	if next == nil {
		next = journal.Nop{}
	}
	return &feed{next: next, hub: hub, now: time.Now}
}

func (f *feed) Record(ctx context.Context, eventType, level, message string) error {
	err := f.next.Record(ctx, eventType, level, message)
	f.hub.Publish(NewEventMessage(models.Event{
		Type:      eventType,
		Level:     level,
		Message:   message,
		CreatedAt: f.now().UTC(),
	}))
	return err
}
