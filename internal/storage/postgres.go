package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const leadColumns = `id, full_name, email, phone, course_id, payment_amount::text, payment_status, created_at, contact_id`

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to the database and applies the schema
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info().
		Str("host", cfg.ConnConfig.Host).
		Int32("maxConns", cfg.MaxConns).
		Msg("postgres store initialized")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) QueryLeads(ctx context.Context, q LeadQuery) ([]types.Lead, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.CourseID != "" {
		where = append(where, "course_id = "+arg(q.CourseID))
	}
	if q.From != nil {
		where = append(where, "created_at >= "+arg(*q.From))
	}
	if q.To != nil {
		where = append(where, "created_at <= "+arg(*q.To))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "payment_status = ANY("+arg(statuses)+")")
	}
	if q.IDs != nil {
		where = append(where, "id = ANY("+arg(q.IDs)+")")
	}
	if q.Search != "" {
		p := arg("%" + escapeLike(q.Search) + "%")
		where = append(where, "(full_name ILIKE "+p+" OR email ILIKE "+p+" OR phone ILIKE "+p+")")
	}

	sql := "SELECT " + leadColumns + " FROM leads"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + arg(q.Offset)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	leads := make([]types.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*types.Lead, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+leadColumns+" FROM leads WHERE id = $1", id)
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []types.Lead) error {
	batch := &pgx.Batch{}
	for _, l := range leads {
		created := l.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		batch.Queue(`INSERT INTO leads (id, full_name, email, phone, course_id, payment_amount, payment_status, created_at, contact_id)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email,
				phone = EXCLUDED.phone, course_id = EXCLUDED.course_id, payment_amount = EXCLUDED.payment_amount,
				payment_status = EXCLUDED.payment_status, contact_id = EXCLUDED.contact_id`,
			l.ID, l.FullName, l.Email, l.Phone, l.CourseID, l.PaymentAmount.String(), string(l.PaymentStatus), created, l.ContactID)
	}
	return s.sendBatch(ctx, batch, "leads")
}

func (s *PostgresStore) ListAgents(ctx context.Context, activeOnly bool) ([]types.Agent, error) {
	sql := "SELECT id, name, active, user_id FROM agents"
	if activeOnly {
		sql += " WHERE active"
	}
	sql += " ORDER BY name, id"

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := make([]types.Agent, 0)
	for rows.Next() {
		var a types.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Active, &a.UserID); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	return s.getAgent(ctx, "SELECT id, name, active, user_id FROM agents WHERE id = $1", id)
}

func (s *PostgresStore) FindAgentByUserID(ctx context.Context, userID string) (*types.Agent, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	return s.getAgent(ctx, "SELECT id, name, active, user_id FROM agents WHERE user_id = $1 LIMIT 1", userID)
}

func (s *PostgresStore) getAgent(ctx context.Context, sql, key string) (*types.Agent, error) {
	var a types.Agent
	err := s.pool.QueryRow(ctx, sql, key).Scan(&a.ID, &a.Name, &a.Active, &a.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertAgents(ctx context.Context, agents []types.Agent) error {
	batch := &pgx.Batch{}
	for _, a := range agents {
		batch.Queue(`INSERT INTO agents (id, name, active, user_id) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active, user_id = EXCLUDED.user_id`,
			a.ID, a.Name, a.Active, a.UserID)
	}
	return s.sendBatch(ctx, batch, "agents")
}

const assignmentColumns = `id, lead_id, agent_id, assigned_by, assigned_at, method, status, run_id`

func (s *PostgresStore) AssignmentsByLeads(ctx context.Context, leadIDs []string) ([]types.Assignment, error) {
	return s.queryAssignments(ctx, "SELECT "+assignmentColumns+" FROM assignments WHERE lead_id = ANY($1)", leadIDs)
}

func (s *PostgresStore) AssignmentsByAgents(ctx context.Context, agentIDs []string) ([]types.Assignment, error) {
	return s.queryAssignments(ctx, "SELECT "+assignmentColumns+" FROM assignments WHERE agent_id = ANY($1) ORDER BY lead_id", agentIDs)
}

func (s *PostgresStore) queryAssignments(ctx context.Context, sql string, ids []string) ([]types.Assignment, error) {
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	result := make([]types.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) InsertAssignments(ctx context.Context, rows []types.Assignment) ([]string, error) {
	if len(rows) == 0 {
		return []string{}, nil
	}
	var (
		ids, leadIDs, agentIDs, assigners, methods, statuses, runIDs []string
		assignedAt                                                   []time.Time
	)
	for _, r := range rows {
		ids = append(ids, r.ID)
		leadIDs = append(leadIDs, r.LeadID)
		agentIDs = append(agentIDs, r.AgentID)
		assigners = append(assigners, r.AssignedBy)
		assignedAt = append(assignedAt, r.AssignedAt)
		methods = append(methods, string(r.Method))
		statuses = append(statuses, r.Status)
		runIDs = append(runIDs, r.RunID)
	}

	result, err := s.pool.Query(ctx, `INSERT INTO assignments (`+assignmentColumns+`)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[], $6::text[], $7::text[], $8::text[])
		ON CONFLICT (lead_id) DO NOTHING
		RETURNING lead_id`,
		ids, leadIDs, agentIDs, assigners, assignedAt, methods, statuses, runIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignments: %w", err)
	}
	return collectIDs(result)
}

func (s *PostgresStore) UpdateAssignments(ctx context.Context, leadIDs []string, upd AssignmentUpdate) ([]string, error) {
	rows, err := s.pool.Query(ctx, `UPDATE assignments SET agent_id = $1, assigned_by = $2, assigned_at = $3, method = $4
		WHERE lead_id = ANY($5) RETURNING lead_id`,
		upd.AgentID, upd.AssignedBy, upd.AssignedAt, string(upd.Method), leadIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to update assignments: %w", err)
	}
	return collectIDs(rows)
}

func (s *PostgresStore) DeleteAssignment(ctx context.Context, id string) (*types.Assignment, error) {
	row := s.pool.QueryRow(ctx, "DELETE FROM assignments WHERE id = $1 RETURNING "+assignmentColumns, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete assignment: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) AppendDistributionLogs(ctx context.Context, entries []types.DistributionLogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO distribution_logs (id, course_id, agent_id, assigned_by, count, method, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.CourseID, e.AgentID, e.AssignedBy, e.Count, string(e.Method), e.Note, e.CreatedAt)
	}
	return s.sendBatch(ctx, batch, "distribution logs")
}

func (s *PostgresStore) DistributionLogs(ctx context.Context, courseID string, limit int) ([]types.DistributionLogEntry, error) {
	sql := `SELECT id, course_id, agent_id, assigned_by, count, method, note, created_at
		FROM distribution_logs WHERE ($1::text = '' OR course_id = $1) ORDER BY created_at DESC, id`
	args := []any{courseID}
	if limit > 0 {
		sql += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution logs: %w", err)
	}
	defer rows.Close()

	entries := make([]types.DistributionLogEntry, 0)
	for rows.Next() {
		var (
			e      types.DistributionLogEntry
			method string
		)
		if err := rows.Scan(&e.ID, &e.CourseID, &e.AgentID, &e.AssignedBy, &e.Count, &method, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Method = types.AssignmentMethod(method)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ContactNotes(ctx context.Context, q NoteQuery) ([]types.ContactNote, error) {
	var (
		where []string
		args  []any
	)
	if q.ContactIDs != nil {
		args = append(args, q.ContactIDs)
		where = append(where, fmt.Sprintf("contact_id = ANY($%d)", len(args)))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, fmt.Sprintf("lower(type) = lower($%d)", len(args)))
	}

	sql := "SELECT id, contact_id, type, creator_name, creator_agent_id, created_at FROM contact_notes"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact notes: %w", err)
	}
	defer rows.Close()

	notes := make([]types.ContactNote, 0)
	for rows.Next() {
		var n types.ContactNote
		if err := rows.Scan(&n.ID, &n.ContactID, &n.Type, &n.CreatorName, &n.CreatorAgentID, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *PostgresStore) UpsertContactNotes(ctx context.Context, notes []types.ContactNote) error {
	batch := &pgx.Batch{}
	for _, n := range notes {
		created := n.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		batch.Queue(`INSERT INTO contact_notes (id, contact_id, type, creator_name, creator_agent_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET contact_id = EXCLUDED.contact_id, type = EXCLUDED.type,
				creator_name = EXCLUDED.creator_name, creator_agent_id = EXCLUDED.creator_agent_id`,
			n.ID, n.ContactID, n.Type, n.CreatorName, n.CreatorAgentID, created)
	}
	return s.sendBatch(ctx, batch, "contact notes")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to write %s: %w", what, err)
		}
	}
	return nil
}

func scanLead(row pgx.Row) (types.Lead, error) {
	var (
		l      types.Lead
		amount string
		status string
	)
	if err := row.Scan(&l.ID, &l.FullName, &l.Email, &l.Phone, &l.CourseID, &amount, &status, &l.CreatedAt, &l.ContactID); err != nil {
		return l, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return l, fmt.Errorf("invalid payment amount for lead %s: %w", l.ID, err)
	}
	l.PaymentAmount = d
	l.PaymentStatus = types.PaymentStatus(status)
	return l, nil
}

func scanAssignment(row pgx.Row) (types.Assignment, error) {
	var (
		a      types.Assignment
		method string
	)
	err := row.Scan(&a.ID, &a.LeadID, &a.AgentID, &a.AssignedBy, &a.AssignedAt, &method, &a.Status, &a.RunID)
	a.Method = types.AssignmentMethod(method)
	return a, err
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
