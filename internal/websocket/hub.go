package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages, filtered per client by type
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// envelope is decoded first to route a message
type envelope struct {
	Type string `json:"type"`
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	m := metrics.Get()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			m.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("agent_id", client.agentID).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				m.RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			var env envelope
			if err := json.Unmarshal(message, &env); err != nil {
				// Not JSON, broadcast as-is to all clients
				h.broadcastRaw(message)
				continue
			}

			switch env.Type {
			case types.EventAgentSummaries:
				var msg types.SummariesMessage
				if err := json.Unmarshal(message, &msg); err != nil {
					h.logger.Error().Err(err).Msg("failed to decode summaries message")
					continue
				}
				h.broadcastSummaries(&msg, message)

			case types.EventAssignmentCreated, types.EventAssignmentMoved,
				types.EventAssignmentRemoved, types.EventDistributionCompleted:
				var event types.AssignmentEvent
				if err := json.Unmarshal(message, &event); err != nil {
					h.logger.Error().Err(err).Msg("failed to decode assignment event")
					continue
				}
				h.broadcastEvent(&event, message)

			default:
				h.broadcastRaw(message)
			}
		}
	}
}

// Broadcast queues a message for delivery to the connected clients
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastRaw sends a raw message to all clients without filtering
func (h *Hub) broadcastRaw(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.deliver(client, message)
	}
}

// broadcastEvent sends an assignment event to privileged clients and to the
// agents it concerns
func (h *Hub) broadcastEvent(event *types.AssignmentEvent, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.CanSeeEvent(event) {
			h.deliver(client, raw)
		}
	}
}

// broadcastSummaries sends every summary to privileged clients and each
// agent only its own row
func (h *Hub) broadcastSummaries(msg *types.SummariesMessage, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		filtered := client.FilterSummaries(msg)
		if filtered == nil {
			continue
		}
		if filtered == msg {
			h.deliver(client, raw)
			continue
		}

		data, err := json.Marshal(filtered)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal filtered summaries")
			continue
		}
		h.deliver(client, data)
	}
}

// deliver must be called with h.mu held for writing
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
		metrics.Get().RecordWebSocketMessage()
	default:
		// Client's send buffer is full, close and remove it
		close(client.send)
		delete(h.clients, client)
		metrics.Get().RecordWebSocketError()
		metrics.Get().RecordWebSocketDisconnect()
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
}
