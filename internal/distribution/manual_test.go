package distribution

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignBulk_SkipsAlreadyAssigned(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	for _, id := range []string{"lead-01", "lead-03"} {
		_, err := f.engine.AssignSingle(ctx, AssignRequest{LeadID: id, AgentID: "agent-a", Actor: admin})
		require.NoError(t, err)
	}
	logsBefore := len(f.logs(t))

	res, err := f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x",
		LeadIDs:  []string{"lead-00", "lead-01", "lead-02", "lead-03", "lead-04"},
		AgentID:  "agent-c",
		Actor:    admin,
	})
	require.NoError(t, err)

	assert.False(t, res.Noop)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.Skipped)
	assert.ElementsMatch(t, []string{"lead-00", "lead-02", "lead-04"}, res.LeadIDs)
	assert.Equal(t, 3, f.assignedCount(t, "agent-c"))

	logs := f.logs(t)
	require.Len(t, logs, logsBefore+1)
	assert.Equal(t, 3, logs[0].Count)
	assert.Equal(t, "agent-c", logs[0].AgentID)
	assert.Equal(t, types.MethodManual, logs[0].Method)
}

func TestAssignBulk_Noops(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	res, err := f.engine.AssignBulk(ctx, BulkAssignRequest{CourseID: "course-x", AgentID: "agent-a", Actor: admin})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeNothingSelected, res.Notice)

	_, err = f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x", LeadIDs: []string{"lead-00", "lead-01"}, AgentID: "agent-a", Actor: admin,
	})
	require.NoError(t, err)

	res, err = f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x", LeadIDs: []string{"lead-00", "lead-01", "lead-01"}, AgentID: "agent-b", Actor: admin,
	})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeAllAssigned, res.Notice)
	assert.Len(t, f.logs(t), 1)
}

func TestAssignBulk_OnlyLeadsOfCourse(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x",
		LeadIDs:  []string{"does-not-exist", "other-course"},
		AgentID:  "agent-c",
		Actor:    admin,
	})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeNotInCourse, res.Notice)
	assert.Equal(t, 0, f.assignedCount(t, "agent-c"))
	assert.Empty(t, f.logs(t))
	assert.Empty(t, f.notifier.eventTypes())

	res, err = f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x",
		LeadIDs:  []string{"lead-00", "does-not-exist", "other-course"},
		AgentID:  "agent-c",
		Actor:    admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, []string{"lead-00"}, res.LeadIDs)
	assert.Equal(t, 1, f.assignedCount(t, "agent-c"))

	rows, err := f.store.AssignmentsByLeads(ctx, []string{"does-not-exist", "other-course"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, "course-x", logs[0].CourseID)
	assert.Equal(t, 1, logs[0].Count)
}

func TestAssignSingle(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.engine.AssignSingle(ctx, AssignRequest{
		LeadID: "lead-00", AgentID: "agent-a", Actor: admin, Note: "asked for a callback",
	})
	require.NoError(t, err)
	assert.False(t, res.Noop)
	assert.Equal(t, "course-x", res.CourseID)
	assert.Equal(t, 1, res.Count)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Count)
	assert.Equal(t, "asked for a callback", logs[0].Note)
	assert.Equal(t, "agent-admin", logs[0].AssignedBy)

	// already assigned is a silent no-op
	res, err = f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-00", AgentID: "agent-b", Actor: admin})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeAlreadyAssigned, res.Notice)
	assert.Equal(t, 1, f.assignedCount(t, "agent-a"))
	assert.Equal(t, 0, f.assignedCount(t, "agent-b"))
	assert.Len(t, f.logs(t), 1)
}

func TestAssignSingle_Validation(t *testing.T) {
	tests := []struct {
		name       string
		req        AssignRequest
		unresolved bool
	}{
		{"missing lead", AssignRequest{AgentID: "agent-a", Actor: admin}, false},
		{"unknown lead", AssignRequest{LeadID: "nope", AgentID: "agent-a", Actor: admin}, false},
		{"inactive agent", AssignRequest{LeadID: "lead-00", AgentID: "agent-x", Actor: admin}, false},
		{"unresolved actor", AssignRequest{LeadID: "lead-00", AgentID: "agent-a", Actor: Actor{UserID: "nobody"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			_, err := f.engine.AssignSingle(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.unresolved, errors.Is(err, ErrActorUnresolved))
			assert.Equal(t, 0, f.assignedCount(t, "agent-a"))
			assert.Empty(t, f.logs(t))
		})
	}
}

func TestMoveSingle_PreservesTotal(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	_, err := f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x", LeadIDs: []string{"lead-00", "lead-01", "lead-02"}, AgentID: "agent-a", Actor: admin,
	})
	require.NoError(t, err)
	_, err = f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-03", AgentID: "agent-b", Actor: admin})
	require.NoError(t, err)

	beforeA, beforeB := f.assignedCount(t, "agent-a"), f.assignedCount(t, "agent-b")

	res, err := f.engine.MoveSingle(ctx, MoveRequest{LeadID: "lead-01", NewAgentID: "agent-b", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "agent-a", res.PreviousAgentID)

	assert.Equal(t, beforeA-1, f.assignedCount(t, "agent-a"))
	assert.Equal(t, beforeB+1, f.assignedCount(t, "agent-b"))
	assert.Equal(t, beforeA+beforeB, f.assignedCount(t, "agent-a")+f.assignedCount(t, "agent-b"))

	rows, err := f.store.AssignmentsByLeads(ctx, []string{"lead-01"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.MethodMoved, rows[0].Method)

	logs := f.logs(t)
	assert.Equal(t, types.MethodMoved, logs[0].Method)
	assert.Contains(t, logs[0].Note, "Alice")

	events := f.notifier.eventTypes()
	assert.Equal(t, types.EventAssignmentMoved, events[len(events)-1])
}

func TestMoveSingle_Rules(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.engine.MoveSingle(ctx, MoveRequest{LeadID: "lead-00", NewAgentID: "agent-b", Actor: admin})
	assert.ErrorIs(t, err, ErrValidation, "moving an unassigned lead")

	_, err = f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-00", AgentID: "agent-a", Actor: admin})
	require.NoError(t, err)

	res, err := f.engine.MoveSingle(ctx, MoveRequest{LeadID: "lead-00", NewAgentID: "agent-a", Actor: admin})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeSameAgent, res.Notice)

	_, err = f.engine.MoveSingle(ctx, MoveRequest{LeadID: "lead-00", NewAgentID: "agent-x", Actor: admin})
	assert.ErrorIs(t, err, ErrValidation, "moving to an inactive agent")

	_, err = f.engine.MoveSingle(ctx, MoveRequest{LeadID: "lead-00", NewAgentID: "agent-b"})
	assert.ErrorIs(t, err, ErrActorUnresolved)
	assert.Equal(t, 1, f.assignedCount(t, "agent-a"))
}

func TestMoveBulk(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()

	_, err := f.engine.AssignBulk(ctx, BulkAssignRequest{
		CourseID: "course-x", LeadIDs: []string{"lead-00", "lead-01", "lead-02"}, AgentID: "agent-a", Actor: admin,
	})
	require.NoError(t, err)
	_, err = f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-03", AgentID: "agent-c", Actor: admin})
	require.NoError(t, err)

	res, err := f.engine.MoveBulk(ctx, BulkMoveRequest{
		CourseID:   "course-x",
		LeadIDs:    []string{"lead-00", "lead-01", "lead-03", "lead-05"},
		NewAgentID: "agent-c",
		Actor:      admin,
	})
	require.NoError(t, err)

	// lead-03 is already with agent-c, lead-05 is unassigned
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, f.assignedCount(t, "agent-a"))
	assert.Equal(t, 3, f.assignedCount(t, "agent-c"))

	logs := f.logs(t)
	assert.Equal(t, types.MethodBulkMoved, logs[0].Method)
	assert.Equal(t, 2, logs[0].Count)

	res, err = f.engine.MoveBulk(ctx, BulkMoveRequest{
		CourseID: "course-x", LeadIDs: []string{"lead-04", "lead-05"}, NewAgentID: "agent-b", Actor: admin,
	})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeNothingMoved, res.Notice)
}

func TestMoveBulk_OnlyLeadsOfCourse(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for _, id := range []string{"lead-00", "other-course"} {
		_, err := f.engine.AssignSingle(ctx, AssignRequest{LeadID: id, AgentID: "agent-a", Actor: admin})
		require.NoError(t, err)
	}

	res, err := f.engine.MoveBulk(ctx, BulkMoveRequest{
		CourseID:   "course-x",
		LeadIDs:    []string{"lead-00", "other-course", "does-not-exist"},
		NewAgentID: "agent-b",
		Actor:      admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, []string{"lead-00"}, res.LeadIDs)

	rows, err := f.store.AssignmentsByLeads(ctx, []string{"other-course"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "agent-a", rows[0].AgentID)
	assert.Equal(t, types.MethodManual, rows[0].Method)

	res, err = f.engine.MoveBulk(ctx, BulkMoveRequest{
		CourseID: "course-x", LeadIDs: []string{"other-course"}, NewAgentID: "agent-b", Actor: admin,
	})
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, NoticeNothingMoved, res.Notice)
}

func TestActorEmailIsLogged(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	var buf bytes.Buffer
	f.engine.logger = zerolog.New(&buf)

	_, err := f.engine.AssignSingle(ctx, AssignRequest{
		LeadID: "lead-00", AgentID: "agent-a", Actor: Actor{UserID: "nobody", Email: "nobody@example.com"},
	})
	require.ErrorIs(t, err, ErrActorUnresolved)
	assert.Contains(t, buf.String(), `"email":"nobody@example.com"`)

	_, err = f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-00", AgentID: "agent-a", Actor: admin})
	require.NoError(t, err)
	rows, err := f.store.AssignmentsByLeads(ctx, []string{"lead-00"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	buf.Reset()
	_, err = f.engine.RemoveAssignment(ctx, rows[0].ID, Actor{UserID: admin.UserID, Email: "admin@example.com"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"email":"admin@example.com"`)
	assert.Contains(t, buf.String(), "assignment removed")
}

func TestRemoveAssignment(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.engine.AssignSingle(ctx, AssignRequest{LeadID: "lead-00", AgentID: "agent-a", Actor: admin})
	require.NoError(t, err)
	rows, err := f.store.AssignmentsByLeads(ctx, []string{"lead-00"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	logsBefore := len(f.logs(t))

	res, err := f.engine.RemoveAssignment(ctx, rows[0].ID, admin)
	require.NoError(t, err)
	assert.False(t, res.Noop)
	assert.Equal(t, "agent-a", res.PreviousAgentID)
	assert.Equal(t, "course-x", res.CourseID)

	assert.Equal(t, 0, f.assignedCount(t, "agent-a"))
	assert.Len(t, f.logs(t), logsBefore, "removal writes no log entry")

	res, err = f.engine.RemoveAssignment(ctx, rows[0].ID, admin)
	require.NoError(t, err)
	assert.True(t, res.Noop)

	// the lead is back in the pool
	dist, err := f.engine.Distribute(ctx, DistributeRequest{
		CourseID: "course-x", Quotas: []Quota{{"agent-b", 100}}, Actor: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, dist.Assigned)
}
