package websocket

import (
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/auth"
	"github.com/dennisdiepolder/leaddesk/internal/config"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	config *config.Config

	logger zerolog.Logger

	// User claims for per-client filtering
	claims *auth.Claims

	// Agent-facing id of a non-privileged user
	agentID string
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims, agentID string) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:      clientID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		config:  cfg,
		logger:  logger.With().Str("client_id", clientID).Logger(),
		claims:  claims,
		agentID: agentID,
	}
}

// readPump pumps messages from the websocket connection to the hub
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.logger.Debug().Str("message", string(message)).Msg("received message from client")
	}
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) privileged() bool {
	return c.claims != nil && c.claims.IsPrivileged()
}

// CanSeeEvent reports whether the event may be sent to this client. Admins
// and supervisors see everything, agents only events that name them.
func (c *Client) CanSeeEvent(event *types.AssignmentEvent) bool {
	if c.privileged() {
		return true
	}
	if c.agentID == "" {
		return false
	}
	return event.TargetsAgent(c.agentID)
}

// FilterSummaries returns msg unchanged for privileged clients, a copy holding
// only the agent's own summary for agents, or nil when nothing is visible
func (c *Client) FilterSummaries(msg *types.SummariesMessage) *types.SummariesMessage {
	if c.privileged() {
		return msg
	}
	if c.agentID == "" {
		return nil
	}

	for _, s := range msg.Summaries {
		if s.AgentID == c.agentID {
			return &types.SummariesMessage{
				Type:      msg.Type,
				Summaries: []types.AgentSummary{s},
				Timestamp: msg.Timestamp,
			}
		}
	}
	return nil
}
