package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a single record lookup matches nothing
var ErrNotFound = errors.New("record not found")

// LeadQuery selects leads. Zero-valued fields do not restrict the result.
// Results are ordered by created_at descending, then id.
type LeadQuery struct {
	CourseID string
	From     *time.Time // inclusive
	To       *time.Time // inclusive
	Statuses []types.PaymentStatus
	IDs      []string
	Search   string // case-insensitive substring over name, email, phone
	Offset   int
	Limit    int // 0 means no limit
}

// NoteQuery selects contact notes
type NoteQuery struct {
	ContactIDs []string
	Type       string
}

// AssignmentUpdate is applied in place to existing assignment rows
type AssignmentUpdate struct {
	AgentID    string
	AssignedBy string
	AssignedAt time.Time
	Method     types.AssignmentMethod
}

// Store defines the persistence interface of the engine
type Store interface {
	QueryLeads(ctx context.Context, q LeadQuery) ([]types.Lead, error)
	GetLead(ctx context.Context, id string) (*types.Lead, error)
	UpsertLeads(ctx context.Context, leads []types.Lead) error

	ListAgents(ctx context.Context, activeOnly bool) ([]types.Agent, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	FindAgentByUserID(ctx context.Context, userID string) (*types.Agent, error)
	UpsertAgents(ctx context.Context, agents []types.Agent) error

	AssignmentsByLeads(ctx context.Context, leadIDs []string) ([]types.Assignment, error)
	AssignmentsByAgents(ctx context.Context, agentIDs []string) ([]types.Assignment, error)
	// InsertAssignments inserts rows whose lead has no assignment yet and
	// returns the lead ids that were actually inserted.
	InsertAssignments(ctx context.Context, rows []types.Assignment) ([]string, error)
	// UpdateAssignments rewrites the rows of the given leads and returns the
	// lead ids that had a row to update.
	UpdateAssignments(ctx context.Context, leadIDs []string, upd AssignmentUpdate) ([]string, error)
	// DeleteAssignment removes one row by id and returns it, or ErrNotFound.
	DeleteAssignment(ctx context.Context, id string) (*types.Assignment, error)

	AppendDistributionLogs(ctx context.Context, entries []types.DistributionLogEntry) error
	DistributionLogs(ctx context.Context, courseID string, limit int) ([]types.DistributionLogEntry, error)

	ContactNotes(ctx context.Context, q NoteQuery) ([]types.ContactNote, error)
	UpsertContactNotes(ctx context.Context, notes []types.ContactNote) error

	Ping(ctx context.Context) error
	Close()
}

// Chunk splits items into slices of at most size elements. A size <= 0
// yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// NewStore creates the primary record store based on configuration
func NewStore(ctx context.Context, mode StoreMode, databaseURL string, maxConns int32, logger zerolog.Logger) (Store, error) {
	switch mode {
	case StoreModePostgres:
		return NewPostgresStore(ctx, databaseURL, maxConns, logger)
	default:
		logger.Info().Msg("using in-memory store (STORE_MODE=memory)")
		return NewMemoryStore(), nil
	}
}
