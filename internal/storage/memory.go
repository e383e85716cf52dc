package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/google/uuid"
)

// MemoryStore implements Store in process. Used in development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	leads       map[string]types.Lead
	agents      map[string]types.Agent
	assignments map[string]types.Assignment // by assignment id
	byLead      map[string]string           // lead id -> assignment id
	logs        []types.DistributionLogEntry
	notes       map[string]types.ContactNote
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:       make(map[string]types.Lead),
		agents:      make(map[string]types.Agent),
		assignments: make(map[string]types.Assignment),
		byLead:      make(map[string]string),
		notes:       make(map[string]types.ContactNote),
	}
}

func (s *MemoryStore) QueryLeads(_ context.Context, q LeadQuery) ([]types.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]bool
	if q.IDs != nil {
		ids = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			ids[id] = true
		}
	}
	search := strings.ToLower(q.Search)

	result := make([]types.Lead, 0)
	for _, l := range s.leads {
		if q.CourseID != "" && l.CourseID != q.CourseID {
			continue
		}
		if q.From != nil && l.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && l.CreatedAt.After(*q.To) {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, l.PaymentStatus) {
			continue
		}
		if ids != nil && !ids[l.ID] {
			continue
		}
		if search != "" && !matchesSearch(l, search) {
			continue
		}
		result = append(result, l)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(result) {
			return []types.Lead{}, nil
		}
		result = result[q.Offset:]
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *MemoryStore) GetLead(_ context.Context, id string) (*types.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *MemoryStore) UpsertLeads(_ context.Context, leads []types.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range leads {
		s.leads[l.ID] = l
	}
	return nil
}

func (s *MemoryStore) ListAgents(_ context.Context, activeOnly bool) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if activeOnly && !a.Active {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) FindAgentByUserID(_ context.Context, userID string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID == "" {
		return nil, ErrNotFound
	}
	for _, a := range s.agents {
		if a.UserID == userID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertAgents(_ context.Context, agents []types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) AssignmentsByLeads(_ context.Context, leadIDs []string) ([]types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]types.Assignment, 0)
	for _, leadID := range leadIDs {
		if id, ok := s.byLead[leadID]; ok {
			result = append(result, s.assignments[id])
		}
	}
	return result, nil
}

func (s *MemoryStore) AssignmentsByAgents(_ context.Context, agentIDs []string) ([]types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		want[id] = true
	}
	result := make([]types.Assignment, 0)
	for _, a := range s.assignments {
		if want[a.AgentID] {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LeadID < result[j].LeadID })
	return result, nil
}

func (s *MemoryStore) InsertAssignments(_ context.Context, rows []types.Assignment) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, taken := s.byLead[row.LeadID]; taken {
			continue
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		s.assignments[row.ID] = row
		s.byLead[row.LeadID] = row.ID
		inserted = append(inserted, row.LeadID)
	}
	return inserted, nil
}

func (s *MemoryStore) UpdateAssignments(_ context.Context, leadIDs []string, upd AssignmentUpdate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := make([]string, 0, len(leadIDs))
	seen := make(map[string]bool, len(leadIDs))
	for _, leadID := range leadIDs {
		id, ok := s.byLead[leadID]
		if !ok || seen[leadID] {
			continue
		}
		seen[leadID] = true
		row := s.assignments[id]
		row.AgentID = upd.AgentID
		row.AssignedBy = upd.AssignedBy
		row.AssignedAt = upd.AssignedAt
		row.Method = upd.Method
		s.assignments[id] = row
		updated = append(updated, leadID)
	}
	return updated, nil
}

func (s *MemoryStore) DeleteAssignment(_ context.Context, id string) (*types.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.assignments, id)
	delete(s.byLead, row.LeadID)
	return &row, nil
}

func (s *MemoryStore) AppendDistributionLogs(_ context.Context, entries []types.DistributionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		s.logs = append(s.logs, e)
	}
	return nil
}

func (s *MemoryStore) DistributionLogs(_ context.Context, courseID string, limit int) ([]types.DistributionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]types.DistributionLogEntry, 0)
	// newest first
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if courseID != "" && e.CourseID != courseID {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ContactNotes(_ context.Context, q NoteQuery) ([]types.ContactNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var contacts map[string]bool
	if q.ContactIDs != nil {
		contacts = make(map[string]bool, len(q.ContactIDs))
		for _, id := range q.ContactIDs {
			contacts[id] = true
		}
	}
	result := make([]types.ContactNote, 0)
	for _, n := range s.notes {
		if contacts != nil && !contacts[n.ContactID] {
			continue
		}
		if q.Type != "" && !strings.EqualFold(n.Type, q.Type) {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) UpsertContactNotes(_ context.Context, notes []types.ContactNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notes {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		s.notes[n.ID] = n
	}
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
func (s *MemoryStore) Close()                       {}

func hasStatus(statuses []types.PaymentStatus, s types.PaymentStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func matchesSearch(l types.Lead, needle string) bool {
	return strings.Contains(strings.ToLower(l.FullName), needle) ||
		strings.Contains(strings.ToLower(l.Email), needle) ||
		strings.Contains(strings.ToLower(l.Phone), needle)
}
