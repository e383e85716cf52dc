package api

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/leaddesk/internal/distribution"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Assigner performs manual assignment operations
type Assigner interface {
	AssignSingle(ctx context.Context, req distribution.AssignRequest) (*distribution.OperationResult, error)
	AssignBulk(ctx context.Context, req distribution.BulkAssignRequest) (*distribution.OperationResult, error)
	MoveSingle(ctx context.Context, req distribution.MoveRequest) (*distribution.OperationResult, error)
	MoveBulk(ctx context.Context, req distribution.BulkMoveRequest) (*distribution.OperationResult, error)
	RemoveAssignment(ctx context.Context, assignmentID string, actor distribution.Actor) (*distribution.OperationResult, error)
}

type assignBody struct {
	LeadID  string `json:"leadId" validate:"required"`
	AgentID string `json:"agentId" validate:"required"`
	Note    string `json:"note" validate:"max=500"`
}

// An empty selection is accepted and answered with a no-op
type bulkAssignBody struct {
	CourseID string   `json:"courseId" validate:"required"`
	LeadIDs  []string `json:"leadIds" validate:"max=5000,dive,required"`
	AgentID  string   `json:"agentId" validate:"required"`
}

type moveBody struct {
	LeadID     string `json:"leadId" validate:"required"`
	NewAgentID string `json:"newAgentId" validate:"required"`
}

type bulkMoveBody struct {
	CourseID   string   `json:"courseId" validate:"required"`
	LeadIDs    []string `json:"leadIds" validate:"max=5000,dive,required"`
	NewAgentID string   `json:"newAgentId" validate:"required"`
}

// AssignmentsHandler handles manual assignment, transfer and removal
type AssignmentsHandler struct {
	engine Assigner
	logger zerolog.Logger
}

// NewAssignmentsHandler creates a new AssignmentsHandler
func NewAssignmentsHandler(engine Assigner, logger zerolog.Logger) *AssignmentsHandler {
	return &AssignmentsHandler{
		engine: engine,
		logger: logger.With().Str("component", "assignments_api").Logger(),
	}
}

// HandleAssign handles POST /api/assignments
func (h *AssignmentsHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, r, func(ctx context.Context) (*distribution.OperationResult, error) {
		return h.engine.AssignSingle(ctx, distribution.AssignRequest{
			LeadID:  body.LeadID,
			AgentID: body.AgentID,
			Actor:   actorFrom(r),
			Note:    body.Note,
		})
	})
}

// HandleAssignBulk handles POST /api/assignments/bulk
func (h *AssignmentsHandler) HandleAssignBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkAssignBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, r, func(ctx context.Context) (*distribution.OperationResult, error) {
		return h.engine.AssignBulk(ctx, distribution.BulkAssignRequest{
			CourseID: body.CourseID,
			LeadIDs:  body.LeadIDs,
			AgentID:  body.AgentID,
			Actor:    actorFrom(r),
		})
	})
}

// HandleMove handles POST /api/assignments/move
func (h *AssignmentsHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, r, func(ctx context.Context) (*distribution.OperationResult, error) {
		return h.engine.MoveSingle(ctx, distribution.MoveRequest{
			LeadID:     body.LeadID,
			NewAgentID: body.NewAgentID,
			Actor:      actorFrom(r),
		})
	})
}

// HandleMoveBulk handles POST /api/assignments/move-bulk
func (h *AssignmentsHandler) HandleMoveBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkMoveBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, r, func(ctx context.Context) (*distribution.OperationResult, error) {
		return h.engine.MoveBulk(ctx, distribution.BulkMoveRequest{
			CourseID:   body.CourseID,
			LeadIDs:    body.LeadIDs,
			NewAgentID: body.NewAgentID,
			Actor:      actorFrom(r),
		})
	})
}

// HandleRemove handles DELETE /api/assignments/{assignmentId}
func (h *AssignmentsHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assignmentId")
	h.respond(w, r, func(ctx context.Context) (*distribution.OperationResult, error) {
		return h.engine.RemoveAssignment(ctx, id, actorFrom(r))
	})
}

func (h *AssignmentsHandler) respond(w http.ResponseWriter, r *http.Request, op func(context.Context) (*distribution.OperationResult, error)) {
	res, err := op(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, res.Noop, res.Notice, res)
}
