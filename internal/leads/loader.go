package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 1000
	// maximum ids per set-membership query
	lookupChunkSize = 500
)

// ErrCourseRequired is returned when a load has no course scope
var ErrCourseRequired = errors.New("course id is required")

// Filter describes one catalog load
type Filter struct {
	CourseID   string
	Range      types.DateRange
	Payment    string // "", an exact status, or "paid"
	AgentID    string
	CRMStatus  types.CRMStatus
	Assignment types.AssignmentFilter
	Dedupe     bool
	Search     string
}

// Loader reads leads for a course and enriches them with assignment and CRM state
type Loader struct {
	store    storage.Store
	pageSize int
	logger   zerolog.Logger
}

// NewLoader creates a loader paging through the store pageSize leads at a time
func NewLoader(store storage.Store, pageSize int, logger zerolog.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		store:    store,
		pageSize: pageSize,
		logger:   logger.With().Str("component", "leads").Logger(),
	}
}

// Load queries, dedupes, enriches and filters the leads of a course.
// Nothing is cached; on error the whole load must be retried.
func (l *Loader) Load(ctx context.Context, f Filter) (*Result, error) {
	if f.CourseID == "" {
		return nil, ErrCourseRequired
	}

	raw, err := l.fetch(ctx, f.CourseID, f.Range, types.PaymentStatusesFor(f.Payment), f.Search)
	if err != nil {
		return nil, err
	}
	fetched := len(raw)
	if f.Dedupe {
		raw = DedupeByPhone(raw)
	}

	enriched, err := l.Enrich(ctx, raw)
	if err != nil {
		return nil, err
	}

	criteria := Criteria{
		Range:      f.Range,
		Payment:    f.Payment,
		CRMStatus:  f.CRMStatus,
		Assignment: f.Assignment,
	}
	if f.AgentID != "" {
		agent, err := l.store.GetAgent(ctx, f.AgentID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// unknown agents still match by id
			criteria.Agent = &types.Agent{ID: f.AgentID}
		case err != nil:
			return nil, fmt.Errorf("failed to load agent filter: %w", err)
		default:
			criteria.Agent = agent
		}
	}

	res := Apply(enriched, criteria)

	l.logger.Debug().
		Str("courseId", f.CourseID).
		Int("fetched", fetched).
		Int("deduped", len(raw)).
		Int("total", res.Total).
		Int("assigned", res.Assigned).
		Msg("catalog loaded")

	return &res, nil
}

// UnassignedPool returns the paid leads of a course and date range that have
// no assignment, newest first. It always reads the store.
func (l *Loader) UnassignedPool(ctx context.Context, courseID string, r types.DateRange) ([]types.Lead, error) {
	paid, err := l.fetch(ctx, courseID, r, types.PaidStatuses, "")
	if err != nil {
		return nil, err
	}

	assigned, err := l.assignmentsByLead(ctx, paid)
	if err != nil {
		return nil, err
	}

	pool := make([]types.Lead, 0, len(paid))
	for _, lead := range paid {
		if _, ok := assigned[lead.ID]; !ok {
			pool = append(pool, lead)
		}
	}
	return pool, nil
}

// Enrich attaches the current assignment and CRM state to each lead
func (l *Loader) Enrich(ctx context.Context, in []types.Lead) ([]types.EnrichedLead, error) {
	assigned, err := l.assignmentsByLead(ctx, in)
	if err != nil {
		return nil, err
	}

	agents, err := l.store.ListAgents(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}

	notes, err := l.notesByContact(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make([]types.EnrichedLead, 0, len(in))
	for _, lead := range in {
		e := types.EnrichedLead{Lead: lead}
		if a, ok := assigned[lead.ID]; ok {
			e.IsAssigned = true
			e.AssignmentID = a.ID
			e.AssignedAgentID = a.AgentID
			e.AssignedAgentName = names[a.AgentID]
		}
		crm := CRMFor(lead, notes)
		e.CRMStatus = crm.Status
		e.CRMCreators = crm.Creators
		e.CRMCreatorIDs = crm.CreatorIDs
		out = append(out, e)
	}
	return out, nil
}

// fetch pages through the store until a short page comes back
func (l *Loader) fetch(ctx context.Context, courseID string, r types.DateRange, statuses []types.PaymentStatus, search string) ([]types.Lead, error) {
	from, to := r.Bounds()
	q := storage.LeadQuery{
		CourseID: courseID,
		From:     from,
		To:       to,
		Statuses: statuses,
		Search:   search,
		Limit:    l.pageSize,
	}

	var all []types.Lead
	for {
		page, err := l.store.QueryLeads(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to query leads (offset %d): %w", q.Offset, err)
		}
		all = append(all, page...)
		if len(page) < l.pageSize {
			break
		}
		q.Offset += l.pageSize
	}
	return all, nil
}

func (l *Loader) assignmentsByLead(ctx context.Context, in []types.Lead) (map[string]types.Assignment, error) {
	ids := make([]string, len(in))
	for i, lead := range in {
		ids[i] = lead.ID
	}

	byLead := make(map[string]types.Assignment, len(in))
	for _, chunk := range storage.Chunk(ids, lookupChunkSize) {
		rows, err := l.store.AssignmentsByLeads(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to load assignments: %w", err)
		}
		for _, a := range rows {
			byLead[a.LeadID] = a
		}
	}
	return byLead, nil
}

func (l *Loader) notesByContact(ctx context.Context, in []types.Lead) (map[string][]types.ContactNote, error) {
	seen := make(map[string]bool)
	var contacts []string
	for _, lead := range in {
		if lead.ContactID == nil || *lead.ContactID == "" || seen[*lead.ContactID] {
			continue
		}
		seen[*lead.ContactID] = true
		contacts = append(contacts, *lead.ContactID)
	}

	byContact := make(map[string][]types.ContactNote, len(contacts))
	for _, chunk := range storage.Chunk(contacts, lookupChunkSize) {
		notes, err := l.store.ContactNotes(ctx, storage.NoteQuery{ContactIDs: chunk})
		if err != nil {
			return nil, fmt.Errorf("failed to load contact notes: %w", err)
		}
		for _, n := range notes {
			byContact[n.ContactID] = append(byContact[n.ContactID], n)
		}
	}
	return byContact, nil
}
