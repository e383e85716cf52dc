package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/leaddesk/internal/distribution"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// Distributor runs percentage distributions and reads their audit trail
type Distributor interface {
	Distribute(ctx context.Context, req distribution.DistributeRequest) (*distribution.DistributionResult, error)
	DistributionLogs(ctx context.Context, courseID string, limit int) ([]types.DistributionLogEntry, error)
	ArchivedHistory(ctx context.Context, courseID string) ([]types.DistributionRecord, error)
}

type distributeBody struct {
	From   string               `json:"from"`
	To     string               `json:"to"`
	Quotas []distribution.Quota `json:"quotas" validate:"required,dive"`
}

// DistributionHandler handles distribution runs and log reads
type DistributionHandler struct {
	engine Distributor
	logger zerolog.Logger
}

// NewDistributionHandler creates a new DistributionHandler
func NewDistributionHandler(engine Distributor, logger zerolog.Logger) *DistributionHandler {
	return &DistributionHandler{
		engine: engine,
		logger: logger.With().Str("component", "distribution_api").Logger(),
	}
}

// HandleDistribute handles POST /api/courses/{courseId}/distributions
func (h *DistributionHandler) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	var body distributeBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	req := distribution.DistributeRequest{
		CourseID: chi.URLParam(r, "courseId"),
		Quotas:   body.Quotas,
		Actor:    actorFrom(r),
	}
	var err error
	if req.Range.From, err = parseDate(body.From); err != nil {
		writeError(w, h.logger, queryError("from", err))
		return
	}
	if req.Range.To, err = parseDate(body.To); err != nil {
		writeError(w, h.logger, queryError("to", err))
		return
	}

	res, err := h.engine.Distribute(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("courseId", req.CourseID).
		Str("runId", res.RunID).
		Int("assigned", res.Assigned).
		Int("slack", res.Slack).
		Bool("noop", res.Noop).
		Msg("distribution finished")

	writeResult(w, res.Noop, res.Notice, res)
}

// HandleLogs handles GET /api/courses/{courseId}/distribution-logs
func (h *DistributionHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogLimit {
			writeError(w, h.logger, queryError("limit", fmt.Errorf("must be between 1 and %d", maxLogLimit)))
			return
		}
		limit = n
	}

	entries, err := h.engine.DistributionLogs(r.Context(), chi.URLParam(r, "courseId"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, false, "", entries)
}

// HandleArchive handles GET /api/courses/{courseId}/distribution-logs/archive
func (h *DistributionHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.ArchivedHistory(r.Context(), chi.URLParam(r, "courseId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, false, "", records)
}
