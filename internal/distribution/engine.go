package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/cache"
	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBatchSize bounds the rows sent in one insert
const DefaultBatchSize = 500

// PoolSource returns the authoritative unassigned paid pool of a course
type PoolSource interface {
	UnassignedPool(ctx context.Context, courseID string, r types.DateRange) ([]types.Lead, error)
}

// Notifier receives an event after every committed mutation
type Notifier interface {
	Publish(ctx context.Context, event types.AssignmentEvent)
}

// Engine runs percentage distributions and manual assignment operations
type Engine struct {
	store     storage.Store
	pool      PoolSource
	actors    ActorResolver
	locker    cache.RunLock
	notifier  Notifier
	archive   storage.AuditArchive
	batchSize int

	rng   *rand.Rand
	rngMu sync.Mutex
	now   func() time.Time

	logger zerolog.Logger
}

// NewEngine creates an engine. Locking, notification and archiving are
// optional and set with the Set* methods.
func NewEngine(store storage.Store, pool PoolSource, actors ActorResolver, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		pool:      pool,
		actors:    actors,
		batchSize: DefaultBatchSize,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		logger:    logger.With().Str("component", "distribution").Logger(),
	}
}

func (e *Engine) SetLocker(l cache.RunLock) { e.locker = l }
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }
func (e *Engine) SetArchive(a storage.AuditArchive) { e.archive = a }
func (e *Engine) SetClock(now func() time.Time) { e.now = now }
func (e *Engine) SetRand(rng *rand.Rand) { e.rng = rng }

// SetBatchSize sets the insert batch size; values <= 0 restore the default
func (e *Engine) SetBatchSize(n int) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	e.batchSize = n
}

// DistributeRequest asks for a percentage split of a course's unassigned paid leads
type DistributeRequest struct {
	CourseID string
	Range    types.DateRange
	Quotas   []Quota
	Actor    Actor
}

// AgentShare reports the outcome of a run for one agent
type AgentShare struct {
	AgentID string  `json:"agentId"`
	Percent float64 `json:"percent"`
	Quota   int     `json:"quota"`
	Count   int     `json:"count"`
}

// DistributionResult summarizes a run
type DistributionResult struct {
	Noop             bool         `json:"noop"`
	Notice           string       `json:"notice,omitempty"`
	RunID            string       `json:"runId,omitempty"`
	PoolSize         int          `json:"poolSize"`
	Shares           []AgentShare `json:"shares"`
	Assigned         int          `json:"assigned"`
	Slack            int          `json:"slack"`
	Conflicts        int          `json:"conflicts"`
	BatchesCommitted int          `json:"batchesCommitted"`
}

// Distribute splits the unassigned paid pool of a course among agents by
// percentage. Batches are inserted sequentially and are not rolled back
// when a later batch fails.
func (e *Engine) Distribute(ctx context.Context, req DistributeRequest) (*DistributionResult, error) {
	start := e.now()
	m := metrics.Get()

	res, err := e.distribute(ctx, req)

	outcome := "ok"
	slack := 0
	switch {
	case err != nil:
		outcome = "error"
	case res.Noop:
		outcome = "noop"
	default:
		slack = res.Slack
	}
	m.RecordDistributionRun(outcome, e.now().Sub(start), slack)
	return res, err
}

func (e *Engine) distribute(ctx context.Context, req DistributeRequest) (*DistributionResult, error) {
	if req.CourseID == "" {
		return nil, invalid("courseId", "course id is required")
	}
	if err := ValidateQuotas(req.Quotas); err != nil {
		return nil, err
	}
	for _, q := range req.Quotas {
		if q.Percent == 0 {
			continue
		}
		if err := e.requireActiveAgent(ctx, q.AgentID); err != nil {
			return nil, err
		}
	}

	actorID, err := e.resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, "distribution:"+req.CourseID)
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", req.CourseID, err)
		}
		defer release()
	}

	pool, err := e.pool.UnassignedPool(ctx, req.CourseID, req.Range)
	if err != nil {
		return nil, persistence("load unassigned pool", err)
	}
	if len(pool) == 0 {
		e.logger.Info().Str("courseId", req.CourseID).Msg("distribution skipped, no unassigned paid leads")
		return &DistributionResult{
			Noop:   true,
			Notice: "no unassigned paid leads match the selection",
			Shares: []AgentShare{},
		}, nil
	}

	e.rngMu.Lock()
	allocs, slack := Partition(pool, req.Quotas, e.rng)
	e.rngMu.Unlock()

	runID := uuid.New().String()
	now := e.now()
	owner := make(map[string]string, len(pool))
	rows := make([]types.Assignment, 0, len(pool)-len(slack))
	for _, a := range allocs {
		for _, lead := range a.Leads {
			owner[lead.ID] = a.AgentID
			rows = append(rows, types.Assignment{
				ID:         uuid.New().String(),
				LeadID:     lead.ID,
				AgentID:    a.AgentID,
				AssignedBy: actorID,
				AssignedAt: now,
				Method:     types.MethodPercentageDistribution,
				RunID:      runID,
			})
		}
	}

	res := &DistributionResult{
		RunID:    runID,
		PoolSize: len(pool),
		Slack:    len(slack),
	}

	inserted := make(map[string][]string, len(allocs))
	for _, batch := range storage.Chunk(rows, e.batchSize) {
		leadIDs, err := e.store.InsertAssignments(ctx, batch)
		if err != nil {
			e.logger.Error().Err(err).
				Str("runId", runID).
				Int("batchesCommitted", res.BatchesCommitted).
				Int("assigned", res.Assigned).
				Msg("distribution batch failed, committed batches are kept")
			return nil, &PersistenceError{
				Op:               "insert assignments",
				BatchesCommitted: res.BatchesCommitted,
				Assigned:         res.Assigned,
				Err:              err,
			}
		}
		res.BatchesCommitted++
		res.Assigned += len(leadIDs)
		res.Conflicts += len(batch) - len(leadIDs)
		for _, id := range leadIDs {
			inserted[owner[id]] = append(inserted[owner[id]], id)
		}
	}

	entries := make([]types.DistributionLogEntry, 0, len(allocs))
	res.Shares = make([]AgentShare, 0, len(allocs))
	for _, a := range allocs {
		count := len(inserted[a.AgentID])
		res.Shares = append(res.Shares, AgentShare{
			AgentID: a.AgentID,
			Percent: a.Percent,
			Quota:   a.Quota,
			Count:   count,
		})
		if a.Percent <= 0 {
			continue
		}
		entries = append(entries, types.DistributionLogEntry{
			ID:         uuid.New().String(),
			CourseID:   req.CourseID,
			AgentID:    a.AgentID,
			AssignedBy: actorID,
			Count:      count,
			Method:     types.MethodPercentageDistribution,
			Note:       fmt.Sprintf("run %s: %g%% of %d leads", runID, a.Percent, len(pool)),
			CreatedAt:  now,
		})
	}
	if err := e.writeLogs(ctx, entries); err != nil {
		return nil, &PersistenceError{
			Op:               "write distribution logs",
			BatchesCommitted: res.BatchesCommitted,
			Assigned:         res.Assigned,
			Err:              err,
		}
	}

	m := metrics.Get()
	m.RecordAssignments(string(types.MethodPercentageDistribution), res.Assigned)
	m.RecordConflicts(res.Conflicts)

	for _, a := range allocs {
		if ids := inserted[a.AgentID]; len(ids) > 0 {
			e.publish(ctx, types.AssignmentEvent{
				Type:     types.EventAssignmentCreated,
				CourseID: req.CourseID,
				AgentID:  a.AgentID,
				LeadIDs:  ids,
				Count:    len(ids),
				Method:   types.MethodPercentageDistribution,
				RunID:    runID,
			})
		}
	}
	e.publish(ctx, types.AssignmentEvent{
		Type:     types.EventDistributionCompleted,
		CourseID: req.CourseID,
		Count:    res.Assigned,
		Method:   types.MethodPercentageDistribution,
		RunID:    runID,
	})

	e.logger.Info().
		Str("runId", runID).
		Str("courseId", req.CourseID).
		Str("actor", actorID).
		Int("pool", res.PoolSize).
		Int("assigned", res.Assigned).
		Int("slack", res.Slack).
		Int("conflicts", res.Conflicts).
		Int("batches", res.BatchesCommitted).
		Msg("distribution completed")

	return res, nil
}

// DistributionLogs returns the recorded history of a course, newest first
func (e *Engine) DistributionLogs(ctx context.Context, courseID string, limit int) ([]types.DistributionLogEntry, error) {
	if courseID == "" {
		return nil, invalid("courseId", "course id is required")
	}
	entries, err := e.store.DistributionLogs(ctx, courseID, limit)
	if err != nil {
		return nil, persistence("load distribution logs", err)
	}
	return entries, nil
}

// ArchivedHistory returns the long-term archive of a course
func (e *Engine) ArchivedHistory(ctx context.Context, courseID string) ([]types.DistributionRecord, error) {
	if courseID == "" {
		return nil, invalid("courseId", "course id is required")
	}
	if e.archive == nil {
		return []types.DistributionRecord{}, nil
	}
	records, err := e.archive.History(ctx, courseID)
	if err != nil {
		return nil, persistence("load archived history", err)
	}
	return records, nil
}

func (e *Engine) requireActiveAgent(ctx context.Context, agentID string) error {
	agent, err := e.store.GetAgent(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return invalid("agentId", "agent %s does not exist", agentID)
	}
	if err != nil {
		return persistence("load agent", err)
	}
	if !agent.Active {
		return invalid("agentId", "agent %s is not active", agentID)
	}
	return nil
}

// writeLogs appends entries to the store and copies them to the archive.
// Archive failures are logged only.
func (e *Engine) writeLogs(ctx context.Context, entries []types.DistributionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := e.store.AppendDistributionLogs(ctx, entries); err != nil {
		return err
	}
	if e.archive != nil {
		if err := e.archive.Archive(ctx, entries); err != nil {
			e.logger.Warn().Err(err).Int("entries", len(entries)).Msg("failed to archive distribution logs")
		}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, event types.AssignmentEvent) {
	if e.notifier == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.notifier.Publish(ctx, event)
}
