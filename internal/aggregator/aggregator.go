package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const lookupChunkSize = 500

// Broadcaster is the part of the WebSocket hub the aggregator pushes to
type Broadcaster interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Aggregator computes per-agent performance summaries and optionally
// pushes them to dashboards on an interval
type Aggregator struct {
	store    storage.Store
	hub      Broadcaster
	interval time.Duration
	logger   zerolog.Logger
}

// NewAggregator creates a new aggregator. A nil hub or a zero interval
// disables the broadcast loop.
func NewAggregator(store storage.Store, hub Broadcaster, interval time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		hub:      hub,
		interval: interval,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// Summaries computes the summary of every active agent. Nothing is cached.
func (a *Aggregator) Summaries(ctx context.Context) ([]types.AgentSummary, error) {
	agents, err := a.store.ListAgents(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	if len(agents) == 0 {
		return []types.AgentSummary{}, nil
	}

	agentIDs := make([]string, len(agents))
	for i, ag := range agents {
		agentIDs[i] = ag.ID
	}

	assignments, err := a.store.AssignmentsByAgents(ctx, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}

	leadIDs := make([]string, 0, len(assignments))
	for _, as := range assignments {
		leadIDs = append(leadIDs, as.LeadID)
	}
	leads := make(map[string]types.Lead, len(leadIDs))
	for _, chunk := range storage.Chunk(leadIDs, lookupChunkSize) {
		rows, err := a.store.QueryLeads(ctx, storage.LeadQuery{IDs: chunk})
		if err != nil {
			return nil, fmt.Errorf("load assigned leads: %w", err)
		}
		for _, l := range rows {
			leads[l.ID] = l
		}
	}

	calls, err := a.store.ContactNotes(ctx, storage.NoteQuery{Type: types.NoteTypeCall})
	if err != nil {
		return nil, fmt.Errorf("load call notes: %w", err)
	}

	byID := make(map[string]*types.AgentSummary, len(agents))
	summaries := make([]types.AgentSummary, len(agents))
	for i, ag := range agents {
		summaries[i] = types.AgentSummary{
			AgentID:          ag.ID,
			AgentName:        ag.Name,
			TotalSalesAmount: decimal.Zero,
		}
		byID[ag.ID] = &summaries[i]
	}

	for _, as := range assignments {
		s, ok := byID[as.AgentID]
		if !ok {
			continue
		}
		s.AssignedLeads++
		if lead, ok := leads[as.LeadID]; ok && lead.PaymentStatus.IsPaid() {
			s.CompletedSales++
			s.TotalSalesAmount = s.TotalSalesAmount.Add(lead.PaymentAmount)
		}
	}

	byName := make(map[string][]*types.AgentSummary, len(agents))
	for i := range summaries {
		key := nameKey(summaries[i].AgentName)
		if key != "" {
			byName[key] = append(byName[key], &summaries[i])
		}
	}
	for _, n := range calls {
		if !n.IsCall() {
			continue
		}
		// The creator id is authoritative when present; the display name
		// join is kept for notes written before ids were recorded.
		if n.CreatorAgentID != "" {
			if s, ok := byID[n.CreatorAgentID]; ok {
				s.TotalCalls++
			}
			continue
		}
		for _, s := range byName[nameKey(n.CreatorName)] {
			s.TotalCalls++
		}
	}

	for i := range summaries {
		summaries[i].ConversionRate = ConversionRate(summaries[i].CompletedSales, summaries[i].AssignedLeads)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].AgentName != summaries[j].AgentName {
			return summaries[i].AgentName < summaries[j].AgentName
		}
		return summaries[i].AgentID < summaries[j].AgentID
	})
	return summaries, nil
}

// ConversionRate returns completed/assigned as a percentage, 0 when nothing is assigned
func ConversionRate(completed, assigned int) float64 {
	if assigned == 0 {
		return 0
	}
	return float64(completed) / float64(assigned) * 100
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Start broadcasts fresh summaries every interval until ctx is done
func (a *Aggregator) Start(ctx context.Context) {
	if a.hub == nil || a.interval <= 0 {
		a.logger.Info().Msg("summary broadcast disabled")
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case <-ticker.C:
			// Nobody is listening
			if a.hub.ClientCount() == 0 {
				continue
			}
			a.broadcast(ctx)
		}
	}
}

func (a *Aggregator) broadcast(ctx context.Context) {
	m := metrics.Get()
	cycleStart := time.Now()

	summaries, err := a.Summaries(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to compute agent summaries")
		m.RecordBroadcastError()
		return
	}

	data, err := json.Marshal(types.SummariesMessage{
		Type:      types.EventAgentSummaries,
		Summaries: summaries,
		Timestamp: time.Now(),
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal agent summaries")
		m.RecordBroadcastError()
		return
	}

	a.hub.Broadcast(data)
	m.RecordBroadcastCycle(time.Since(cycleStart), len(summaries))

	a.logger.Debug().
		Int("agents", len(summaries)).
		Int("clients", a.hub.ClientCount()).
		Msg("agent summaries broadcasted")
}
