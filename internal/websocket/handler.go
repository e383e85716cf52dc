package websocket

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/leaddesk/internal/auth"
	"github.com/dennisdiepolder/leaddesk/internal/config"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AgentLookup maps an identity-provider user to its agent record
type AgentLookup interface {
	FindAgentByUserID(ctx context.Context, userID string) (*types.Agent, error)
}

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	agents   AgentLookup
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, agents AgentLookup, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		config: cfg,
		agents: agents,
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts non-browser clients and the configured origins
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// ServeHTTP handles WebSocket upgrade requests. It must run behind the auth middleware.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Agents only receive their own events, so they need an agent record
	agentID := ""
	if !claims.IsPrivileged() {
		agent, err := h.agents.FindAgentByUserID(r.Context(), claims.Subject)
		if err != nil || agent == nil || !agent.Active {
			h.logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("no active agent for websocket user")
			http.Error(w, "Forbidden: no active agent for user", http.StatusForbidden)
			return
		}
		agentID = agent.ID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims, agentID)
	h.hub.register <- client
	client.Start()
}
