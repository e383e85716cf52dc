package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/leads"
	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxPageSize = 500

// LeadLoader loads the filtered catalog of a course
type LeadLoader interface {
	Load(ctx context.Context, f leads.Filter) (*leads.Result, error)
}

// LeadsPage is one page of a catalog load. Counts cover the whole filtered set.
type LeadsPage struct {
	Leads      []types.EnrichedLead `json:"leads"`
	Total      int                  `json:"total"`
	Assigned   int                  `json:"assigned"`
	Unassigned int                  `json:"unassigned"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
}

// LeadsHandler serves the lead catalog
type LeadsHandler struct {
	loader LeadLoader
	logger zerolog.Logger
}

// NewLeadsHandler creates a new LeadsHandler
func NewLeadsHandler(loader LeadLoader, logger zerolog.Logger) *LeadsHandler {
	return &LeadsHandler{
		loader: loader,
		logger: logger.With().Str("component", "leads_api").Logger(),
	}
}

// HandleList handles GET /api/courses/{courseId}/leads
func (h *LeadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseLeadFilter(chi.URLParam(r, "courseId"), q)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, pageSize, err := parsePaging(q)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.loader.Load(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	metrics.Get().RecordLeadsLoaded(res.Total)

	out := LeadsPage{
		Leads:      res.Leads,
		Total:      res.Total,
		Assigned:   res.Assigned,
		Unassigned: res.Unassigned,
		Page:       page,
		PageSize:   pageSize,
	}
	if pageSize > 0 {
		start := (page - 1) * pageSize
		switch {
		case start >= len(res.Leads):
			out.Leads = []types.EnrichedLead{}
		case start+pageSize < len(res.Leads):
			out.Leads = res.Leads[start : start+pageSize]
		default:
			out.Leads = res.Leads[start:]
		}
	}

	writeResult(w, false, "", out)
}

func parseLeadFilter(courseID string, q url.Values) (leads.Filter, error) {
	f := leads.Filter{
		CourseID: courseID,
		AgentID:  q.Get("agent_id"),
		Search:   q.Get("search"),
	}

	var err error
	if f.Range.From, err = parseDate(q.Get("from")); err != nil {
		return f, queryError("from", err)
	}
	if f.Range.To, err = parseDate(q.Get("to")); err != nil {
		return f, queryError("to", err)
	}
	if f.Range.From != nil && f.Range.To != nil && f.Range.To.Before(*f.Range.From) {
		return f, queryError("to", fmt.Errorf("must not be before from"))
	}

	switch p := q.Get("payment_status"); {
	case p == "", p == types.PaymentFilterPaid, types.PaymentStatus(p).Valid():
		f.Payment = p
	default:
		return f, queryError("payment_status", fmt.Errorf("unknown status %q", p))
	}

	switch s := types.CRMStatus(q.Get("crm_status")); s {
	case "", types.CRMNone, types.CRMHasRecords, types.CRMHasCalls:
		f.CRMStatus = s
	default:
		return f, queryError("crm_status", fmt.Errorf("unknown status %q", s))
	}

	switch a := types.AssignmentFilter(q.Get("assignment")); a {
	case "", types.AssignmentAll, types.AssignmentAssigned, types.AssignmentUnassigned:
		f.Assignment = a
	default:
		return f, queryError("assignment", fmt.Errorf("unknown filter %q", a))
	}

	if v := q.Get("dedupe"); v != "" {
		if f.Dedupe, err = strconv.ParseBool(v); err != nil {
			return f, queryError("dedupe", err)
		}
	}
	return f, nil
}

// parsePaging reads page and page_size. A missing page_size returns the
// whole set with pageSize 0.
func parsePaging(q url.Values) (page, pageSize int, err error) {
	page = 1
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, queryError("page", fmt.Errorf("must be a positive integer"))
		}
	}
	if v := q.Get("page_size"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 || pageSize > maxPageSize {
			return 0, 0, queryError("page_size", fmt.Errorf("must be between 1 and %d", maxPageSize))
		}
	}
	return page, pageSize, nil
}

// parseDate accepts a calendar date or an RFC3339 timestamp
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", v)
	}
	return &t, nil
}

func queryError(param string, err error) error {
	return &bodyError{
		status: http.StatusBadRequest,
		msg:    fmt.Sprintf("invalid %s: %v", param, err),
		fields: map[string]string{param: err.Error()},
	}
}
