package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu       sync.Mutex
	clients  int
	messages [][]byte
}

func (h *fakeHub) Broadcast(m []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

func (h *fakeHub) ClientCount() int { return h.clients }

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func seed(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.UpsertAgents(ctx, []types.Agent{
		{ID: "agent-a", Name: "Alice", Active: true},
		{ID: "agent-b", Name: "Bob", Active: true},
		{ID: "agent-x", Name: "Xavier", Active: false},
	}))

	contact := func(s string) *string { return &s }
	leads := []types.Lead{
		{ID: "l1", CourseID: "c", PaymentStatus: types.PaymentSuccess, PaymentAmount: decimal.RequireFromString("199.90"), ContactID: contact("c1")},
		{ID: "l2", CourseID: "c", PaymentStatus: types.PaymentCompleted, PaymentAmount: decimal.RequireFromString("100.10")},
		{ID: "l3", CourseID: "c", PaymentStatus: types.PaymentPending, PaymentAmount: decimal.NewFromInt(50)},
		{ID: "l4", CourseID: "c", PaymentStatus: types.PaymentCancelled, PaymentAmount: decimal.NewFromInt(80)},
		{ID: "l5", CourseID: "c", PaymentStatus: types.PaymentSuccess, PaymentAmount: decimal.NewFromInt(10)},
	}
	require.NoError(t, store.UpsertLeads(ctx, leads))

	rows := []types.Assignment{
		{LeadID: "l1", AgentID: "agent-a", Method: types.MethodManual},
		{LeadID: "l2", AgentID: "agent-a", Method: types.MethodManual},
		{LeadID: "l3", AgentID: "agent-a", Method: types.MethodManual},
		{LeadID: "l4", AgentID: "agent-a", Method: types.MethodManual},
		{LeadID: "l5", AgentID: "agent-x", Method: types.MethodManual},
	}
	_, err := store.InsertAssignments(ctx, rows)
	require.NoError(t, err)

	require.NoError(t, store.UpsertContactNotes(ctx, []types.ContactNote{
		{ID: "n1", ContactID: "c1", Type: "call", CreatorName: "Alice"},
		{ID: "n2", ContactID: "c1", Type: "CALL", CreatorName: " alice "},
		{ID: "n3", ContactID: "c1", Type: "note", CreatorName: "Alice"},
		// the creator id wins over the name
		{ID: "n4", ContactID: "c2", Type: "call", CreatorName: "Alice", CreatorAgentID: "agent-b"},
		{ID: "n5", ContactID: "c3", Type: "call", CreatorName: "Someone Else"},
	}))
	return store
}

func TestSummaries(t *testing.T) {
	agg := NewAggregator(seed(t), nil, 0, zerolog.Nop())

	summaries, err := agg.Summaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2, "inactive agents are excluded")

	alice, bob := summaries[0], summaries[1]
	assert.Equal(t, "agent-a", alice.AgentID)
	assert.Equal(t, 4, alice.AssignedLeads)
	assert.Equal(t, 2, alice.TotalCalls)
	assert.Equal(t, 2, alice.CompletedSales)
	assert.True(t, alice.TotalSalesAmount.Equal(decimal.NewFromInt(300)), "got %s", alice.TotalSalesAmount)
	assert.InDelta(t, 50.0, alice.ConversionRate, 1e-9)

	assert.Equal(t, "agent-b", bob.AgentID)
	assert.Equal(t, 0, bob.AssignedLeads)
	assert.Equal(t, 1, bob.TotalCalls)
	assert.Equal(t, 0.0, bob.ConversionRate)
	assert.True(t, bob.TotalSalesAmount.IsZero())
}

func TestSummariesReflectLatestState(t *testing.T) {
	store := seed(t)
	agg := NewAggregator(store, nil, 0, zerolog.Nop())
	ctx := context.Background()

	_, err := store.UpdateAssignments(ctx, []string{"l1"}, storage.AssignmentUpdate{AgentID: "agent-b", Method: types.MethodMoved})
	require.NoError(t, err)

	summaries, err := agg.Summaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summaries[0].AssignedLeads)
	assert.Equal(t, 1, summaries[1].AssignedLeads)
	assert.Equal(t, 1, summaries[1].CompletedSales)
	assert.Equal(t, 100.0, summaries[1].ConversionRate)
}

func TestSummariesManyLeads(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertAgents(ctx, []types.Agent{{ID: "agent-a", Name: "Alice", Active: true}}))

	var leads []types.Lead
	var rows []types.Assignment
	for i := 0; i < 1203; i++ {
		id := fmt.Sprintf("lead-%04d", i)
		status := types.PaymentPending
		if i%3 == 0 {
			status = types.PaymentSuccess
		}
		leads = append(leads, types.Lead{ID: id, CourseID: "c", PaymentStatus: status, PaymentAmount: decimal.NewFromInt(1)})
		rows = append(rows, types.Assignment{LeadID: id, AgentID: "agent-a"})
	}
	require.NoError(t, store.UpsertLeads(ctx, leads))
	_, err := store.InsertAssignments(ctx, rows)
	require.NoError(t, err)

	summaries, err := NewAggregator(store, nil, 0, zerolog.Nop()).Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1203, summaries[0].AssignedLeads)
	assert.Equal(t, 401, summaries[0].CompletedSales)
	assert.True(t, summaries[0].TotalSalesAmount.Equal(decimal.NewFromInt(401)))
}

func TestConversionRate(t *testing.T) {
	tests := []struct {
		completed, assigned int
		want                float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 4, 25},
		{3, 3, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ConversionRate(tt.completed, tt.assigned), 1e-9)
	}
}

func TestStartBroadcastsSummaries(t *testing.T) {
	hub := &fakeHub{clients: 1}
	agg := NewAggregator(seed(t), hub, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	hub.mu.Lock()
	first := hub.messages[0]
	hub.mu.Unlock()

	var msg types.SummariesMessage
	require.NoError(t, json.Unmarshal(first, &msg))
	assert.Equal(t, types.EventAgentSummaries, msg.Type)
	assert.Len(t, msg.Summaries, 2)
}

func TestStartSkipsWithoutClientsOrInterval(t *testing.T) {
	hub := &fakeHub{}
	agg := NewAggregator(seed(t), hub, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	agg.Start(ctx)
	assert.Equal(t, 0, hub.count())

	// a zero interval returns immediately
	NewAggregator(seed(t), hub, 0, zerolog.Nop()).Start(context.Background())
}
