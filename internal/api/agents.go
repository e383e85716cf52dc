package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/leaddesk/internal/auth"
	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

// SummarySource computes per-agent performance summaries
type SummarySource interface {
	Summaries(ctx context.Context) ([]types.AgentSummary, error)
}

// AgentDirectory reads the agent roster
type AgentDirectory interface {
	ListAgents(ctx context.Context, activeOnly bool) ([]types.Agent, error)
	FindAgentByUserID(ctx context.Context, userID string) (*types.Agent, error)
}

// AgentsHandler serves the roster and agent performance summaries
type AgentsHandler struct {
	summaries SummarySource
	agents    AgentDirectory
	logger    zerolog.Logger
}

// NewAgentsHandler creates a new AgentsHandler
func NewAgentsHandler(summaries SummarySource, agents AgentDirectory, logger zerolog.Logger) *AgentsHandler {
	return &AgentsHandler{
		summaries: summaries,
		agents:    agents,
		logger:    logger.With().Str("component", "agents_api").Logger(),
	}
}

// HandleList handles GET /api/agents. Only active agents are listed unless
// active=false is given.
func (h *AgentsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.logger, queryError("active", err))
			return
		}
		activeOnly = b
	}

	agents, err := h.agents.ListAgents(r.Context(), activeOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, false, "", agents)
}

// HandleSummaries handles GET /api/agents/summaries. Agents only see their own row.
func (h *AgentsHandler) HandleSummaries(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: statusError, Error: "unauthorized"})
		return
	}

	summaries, err := h.summaries.Summaries(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if claims.IsPrivileged() {
		writeResult(w, false, "", summaries)
		return
	}

	agent, err := h.agents.FindAgentByUserID(r.Context(), claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusForbidden, envelope{Status: statusError, Error: "no agent record for user"})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	own := []types.AgentSummary{}
	for _, s := range summaries {
		if s.AgentID == agent.ID {
			own = append(own, s)
		}
	}
	writeResult(w, false, "", own)
}
