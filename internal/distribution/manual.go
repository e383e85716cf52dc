package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/google/uuid"
)

// Notices returned with no-op results
const (
	NoticeAlreadyAssigned    = "lead is already assigned"
	NoticeNothingSelected    = "no leads selected"
	NoticeNotInCourse        = "none of the selected leads belong to this course"
	NoticeAllAssigned        = "all selected leads are already assigned"
	NoticeSameAgent          = "lead is already assigned to this agent"
	NoticeNothingMoved       = "none of the selected leads could be moved"
	NoticeAssignmentNotFound = "assignment not found"
)

// OperationResult is returned by the manual operations. Noop results carry
// a notice and no writes happened.
type OperationResult struct {
	Noop            bool     `json:"noop"`
	Notice          string   `json:"notice,omitempty"`
	CourseID        string   `json:"courseId,omitempty"`
	AgentID         string   `json:"agentId,omitempty"`
	PreviousAgentID string   `json:"previousAgentId,omitempty"`
	LeadIDs         []string `json:"leadIds"`
	Count           int      `json:"count"`
	Skipped         int      `json:"skipped"`
}

func noop(notice string) *OperationResult {
	return &OperationResult{Noop: true, Notice: notice, LeadIDs: []string{}}
}

// AssignRequest assigns one lead
type AssignRequest struct {
	LeadID  string
	AgentID string
	Actor   Actor
	Note    string
}

// AssignSingle assigns an unassigned lead to an agent. An already assigned
// lead yields a no-op result, not an error.
func (e *Engine) AssignSingle(ctx context.Context, req AssignRequest) (*OperationResult, error) {
	if req.LeadID == "" {
		return nil, invalid("leadId", "lead id is required")
	}
	if req.AgentID == "" {
		return nil, invalid("agentId", "agent id is required")
	}

	actorID, err := e.resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := e.requireActiveAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	lead, err := e.store.GetLead(ctx, req.LeadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("leadId", "lead %s does not exist", req.LeadID)
	}
	if err != nil {
		return nil, persistence("load lead", err)
	}

	existing, err := e.store.AssignmentsByLeads(ctx, []string{lead.ID})
	if err != nil {
		return nil, persistence("load assignment", err)
	}
	if len(existing) > 0 {
		return noop(NoticeAlreadyAssigned), nil
	}

	now := e.now()
	inserted, err := e.store.InsertAssignments(ctx, []types.Assignment{{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		AgentID:    req.AgentID,
		AssignedBy: actorID,
		AssignedAt: now,
		Method:     types.MethodManual,
	}})
	if err != nil {
		return nil, persistence("insert assignment", err)
	}
	if len(inserted) == 0 {
		// another caller assigned it between the check and the insert
		metrics.Get().RecordConflicts(1)
		return noop(NoticeAlreadyAssigned), nil
	}

	if err := e.writeLogs(ctx, []types.DistributionLogEntry{{
		ID:         uuid.New().String(),
		CourseID:   lead.CourseID,
		AgentID:    req.AgentID,
		AssignedBy: actorID,
		Count:      1,
		Method:     types.MethodManual,
		Note:       req.Note,
		CreatedAt:  now,
	}}); err != nil {
		return nil, persistence("write distribution log", err)
	}

	metrics.Get().RecordAssignments(string(types.MethodManual), 1)
	e.publish(ctx, types.AssignmentEvent{
		Type:     types.EventAssignmentCreated,
		CourseID: lead.CourseID,
		AgentID:  req.AgentID,
		LeadIDs:  inserted,
		Count:    1,
		Method:   types.MethodManual,
	})

	e.logger.Info().
		Str("leadId", lead.ID).
		Str("agentId", req.AgentID).
		Str("actor", actorID).
		Msg("lead assigned")

	return &OperationResult{
		CourseID: lead.CourseID,
		AgentID:  req.AgentID,
		LeadIDs:  inserted,
		Count:    1,
	}, nil
}

// BulkAssignRequest assigns a selection of leads of one course
type BulkAssignRequest struct {
	CourseID string
	LeadIDs  []string
	AgentID  string
	Actor    Actor
}

// AssignBulk assigns the selected leads of the course that have no
// assignment yet and logs one entry with the number actually assigned.
// Unknown ids and leads of other courses count as skipped.
func (e *Engine) AssignBulk(ctx context.Context, req BulkAssignRequest) (*OperationResult, error) {
	if req.CourseID == "" {
		return nil, invalid("courseId", "course id is required")
	}
	if req.AgentID == "" {
		return nil, invalid("agentId", "agent id is required")
	}
	leadIDs := uniqueIDs(req.LeadIDs)
	if len(leadIDs) == 0 {
		return noop(NoticeNothingSelected), nil
	}

	actorID, err := e.resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := e.requireActiveAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	candidates, err := e.courseLeadIDs(ctx, req.CourseID, leadIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return noop(NoticeNotInCourse), nil
	}

	taken := make(map[string]bool, len(candidates))
	for _, chunk := range storage.Chunk(candidates, e.batchSize) {
		rows, err := e.store.AssignmentsByLeads(ctx, chunk)
		if err != nil {
			return nil, persistence("load assignments", err)
		}
		for _, a := range rows {
			taken[a.LeadID] = true
		}
	}

	now := e.now()
	remainder := make([]types.Assignment, 0, len(candidates))
	for _, id := range candidates {
		if taken[id] {
			continue
		}
		remainder = append(remainder, types.Assignment{
			ID:         uuid.New().String(),
			LeadID:     id,
			AgentID:    req.AgentID,
			AssignedBy: actorID,
			AssignedAt: now,
			Method:     types.MethodManual,
		})
	}
	if len(remainder) == 0 {
		return noop(NoticeAllAssigned), nil
	}

	inserted := make([]string, 0, len(remainder))
	for _, batch := range storage.Chunk(remainder, e.batchSize) {
		ids, err := e.store.InsertAssignments(ctx, batch)
		if err != nil {
			return nil, &PersistenceError{Op: "insert assignments", Assigned: len(inserted), Err: err}
		}
		inserted = append(inserted, ids...)
	}
	conflicts := len(remainder) - len(inserted)
	metrics.Get().RecordConflicts(conflicts)
	if len(inserted) == 0 {
		return noop(NoticeAllAssigned), nil
	}

	if err := e.writeLogs(ctx, []types.DistributionLogEntry{{
		ID:         uuid.New().String(),
		CourseID:   req.CourseID,
		AgentID:    req.AgentID,
		AssignedBy: actorID,
		Count:      len(inserted),
		Method:     types.MethodManual,
		Note:       fmt.Sprintf("bulk assignment of %d selected leads", len(leadIDs)),
		CreatedAt:  now,
	}}); err != nil {
		return nil, persistence("write distribution log", err)
	}

	metrics.Get().RecordAssignments(string(types.MethodManual), len(inserted))
	e.publish(ctx, types.AssignmentEvent{
		Type:     types.EventAssignmentCreated,
		CourseID: req.CourseID,
		AgentID:  req.AgentID,
		LeadIDs:  inserted,
		Count:    len(inserted),
		Method:   types.MethodManual,
	})

	e.logger.Info().
		Str("courseId", req.CourseID).
		Str("agentId", req.AgentID).
		Int("selected", len(leadIDs)).
		Int("assigned", len(inserted)).
		Msg("bulk assignment completed")

	return &OperationResult{
		CourseID: req.CourseID,
		AgentID:  req.AgentID,
		LeadIDs:  inserted,
		Count:    len(inserted),
		Skipped:  len(leadIDs) - len(inserted),
	}, nil
}

// MoveRequest moves one assigned lead to another agent
type MoveRequest struct {
	LeadID     string
	NewAgentID string
	Actor      Actor
}

// MoveSingle rewrites the assignment of a lead in place
func (e *Engine) MoveSingle(ctx context.Context, req MoveRequest) (*OperationResult, error) {
	if req.LeadID == "" {
		return nil, invalid("leadId", "lead id is required")
	}
	if req.NewAgentID == "" {
		return nil, invalid("newAgentId", "new agent id is required")
	}

	actorID, err := e.resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := e.requireActiveAgent(ctx, req.NewAgentID); err != nil {
		return nil, err
	}

	existing, err := e.store.AssignmentsByLeads(ctx, []string{req.LeadID})
	if err != nil {
		return nil, persistence("load assignment", err)
	}
	if len(existing) == 0 {
		return nil, invalid("leadId", "lead %s is not assigned", req.LeadID)
	}
	current := existing[0]
	if current.AgentID == req.NewAgentID {
		return noop(NoticeSameAgent), nil
	}

	lead, err := e.store.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, persistence("load lead", err)
	}

	now := e.now()
	updated, err := e.store.UpdateAssignments(ctx, []string{req.LeadID}, storage.AssignmentUpdate{
		AgentID:    req.NewAgentID,
		AssignedBy: actorID,
		AssignedAt: now,
		Method:     types.MethodMoved,
	})
	if err != nil {
		return nil, persistence("update assignment", err)
	}
	if len(updated) == 0 {
		// removed concurrently
		return noop(NoticeNothingMoved), nil
	}

	if err := e.writeLogs(ctx, []types.DistributionLogEntry{{
		ID:         uuid.New().String(),
		CourseID:   lead.CourseID,
		AgentID:    req.NewAgentID,
		AssignedBy: actorID,
		Count:      1,
		Method:     types.MethodMoved,
		Note:       "moved from " + e.agentName(ctx, current.AgentID),
		CreatedAt:  now,
	}}); err != nil {
		return nil, persistence("write distribution log", err)
	}

	metrics.Get().RecordAssignments(string(types.MethodMoved), 1)
	e.publish(ctx, types.AssignmentEvent{
		Type:            types.EventAssignmentMoved,
		CourseID:        lead.CourseID,
		AgentID:         req.NewAgentID,
		PreviousAgentID: current.AgentID,
		LeadIDs:         updated,
		Count:           1,
		Method:          types.MethodMoved,
	})

	e.logger.Info().
		Str("leadId", req.LeadID).
		Str("from", current.AgentID).
		Str("to", req.NewAgentID).
		Str("actor", actorID).
		Msg("lead moved")

	return &OperationResult{
		CourseID:        lead.CourseID,
		AgentID:         req.NewAgentID,
		PreviousAgentID: current.AgentID,
		LeadIDs:         updated,
		Count:           1,
	}, nil
}

// BulkMoveRequest moves a selection of assigned leads to one agent
type BulkMoveRequest struct {
	CourseID   string
	LeadIDs    []string
	NewAgentID string
	Actor      Actor
}

// MoveBulk updates every selected assignment in a single store call.
// Leads of other courses, unassigned leads and leads already held by the
// target are skipped.
func (e *Engine) MoveBulk(ctx context.Context, req BulkMoveRequest) (*OperationResult, error) {
	if req.CourseID == "" {
		return nil, invalid("courseId", "course id is required")
	}
	if req.NewAgentID == "" {
		return nil, invalid("newAgentId", "new agent id is required")
	}
	leadIDs := uniqueIDs(req.LeadIDs)
	if len(leadIDs) == 0 {
		return noop(NoticeNothingSelected), nil
	}

	actorID, err := e.resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := e.requireActiveAgent(ctx, req.NewAgentID); err != nil {
		return nil, err
	}

	candidates, err := e.courseLeadIDs(ctx, req.CourseID, leadIDs)
	if err != nil {
		return nil, err
	}

	movable := make([]string, 0, len(candidates))
	for _, chunk := range storage.Chunk(candidates, e.batchSize) {
		rows, err := e.store.AssignmentsByLeads(ctx, chunk)
		if err != nil {
			return nil, persistence("load assignments", err)
		}
		for _, a := range rows {
			if a.AgentID != req.NewAgentID {
				movable = append(movable, a.LeadID)
			}
		}
	}
	if len(movable) == 0 {
		return noop(NoticeNothingMoved), nil
	}

	now := e.now()
	updated, err := e.store.UpdateAssignments(ctx, movable, storage.AssignmentUpdate{
		AgentID:    req.NewAgentID,
		AssignedBy: actorID,
		AssignedAt: now,
		Method:     types.MethodBulkMoved,
	})
	if err != nil {
		return nil, persistence("update assignments", err)
	}
	if len(updated) == 0 {
		return noop(NoticeNothingMoved), nil
	}

	if err := e.writeLogs(ctx, []types.DistributionLogEntry{{
		ID:         uuid.New().String(),
		CourseID:   req.CourseID,
		AgentID:    req.NewAgentID,
		AssignedBy: actorID,
		Count:      len(updated),
		Method:     types.MethodBulkMoved,
		Note:       fmt.Sprintf("bulk move of %d leads", len(updated)),
		CreatedAt:  now,
	}}); err != nil {
		return nil, persistence("write distribution log", err)
	}

	metrics.Get().RecordAssignments(string(types.MethodBulkMoved), len(updated))
	e.publish(ctx, types.AssignmentEvent{
		Type:     types.EventAssignmentMoved,
		CourseID: req.CourseID,
		AgentID:  req.NewAgentID,
		LeadIDs:  updated,
		Count:    len(updated),
		Method:   types.MethodBulkMoved,
	})

	e.logger.Info().
		Str("courseId", req.CourseID).
		Str("to", req.NewAgentID).
		Int("selected", len(leadIDs)).
		Int("moved", len(updated)).
		Msg("bulk move completed")

	return &OperationResult{
		CourseID: req.CourseID,
		AgentID:  req.NewAgentID,
		LeadIDs:  updated,
		Count:    len(updated),
		Skipped:  len(leadIDs) - len(updated),
	}, nil
}

// RemoveAssignment deletes an assignment, returning its lead to the
// unassigned pool. No distribution log entry is written.
func (e *Engine) RemoveAssignment(ctx context.Context, assignmentID string, actor Actor) (*OperationResult, error) {
	if assignmentID == "" {
		return nil, invalid("assignmentId", "assignment id is required")
	}

	removed, err := e.store.DeleteAssignment(ctx, assignmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return noop(NoticeAssignmentNotFound), nil
	}
	if err != nil {
		return nil, persistence("delete assignment", err)
	}

	courseID := ""
	if lead, err := e.store.GetLead(ctx, removed.LeadID); err == nil {
		courseID = lead.CourseID
	}

	e.publish(ctx, types.AssignmentEvent{
		Type:            types.EventAssignmentRemoved,
		CourseID:        courseID,
		PreviousAgentID: removed.AgentID,
		LeadIDs:         []string{removed.LeadID},
		Count:           1,
		Method:          removed.Method,
	})

	e.logger.Info().
		Str("assignmentId", assignmentID).
		Str("leadId", removed.LeadID).
		Str("agentId", removed.AgentID).
		Str("userId", actor.UserID).
		Str("email", actor.Email).
		Msg("assignment removed")

	return &OperationResult{
		CourseID:        courseID,
		PreviousAgentID: removed.AgentID,
		LeadIDs:         []string{removed.LeadID},
		Count:           1,
	}, nil
}

func (e *Engine) agentName(ctx context.Context, agentID string) string {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil || agent.Name == "" {
		return agentID
	}
	return agent.Name
}

// courseLeadIDs keeps the ids that name existing leads of the course,
// in selection order
func (e *Engine) courseLeadIDs(ctx context.Context, courseID string, ids []string) ([]string, error) {
	known := make(map[string]bool, len(ids))
	for _, chunk := range storage.Chunk(ids, e.batchSize) {
		rows, err := e.store.QueryLeads(ctx, storage.LeadQuery{CourseID: courseID, IDs: chunk})
		if err != nil {
			return nil, persistence("load selected leads", err)
		}
		for _, l := range rows {
			known[l.ID] = true
		}
	}
	out := make([]string, 0, len(known))
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
