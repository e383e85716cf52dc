package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RecordSink receives records pushed by upstream systems
type RecordSink interface {
	UpsertLeads(ctx context.Context, leads []types.Lead) error
	UpsertAgents(ctx context.Context, agents []types.Agent) error
	UpsertContactNotes(ctx context.Context, notes []types.ContactNote) error
}

// LeadPayload is one enrollment from the payment system
type LeadPayload struct {
	ID            string              `json:"id" validate:"required"`
	FullName      string              `json:"fullName"`
	Email         string              `json:"email" validate:"omitempty,email"`
	Phone         string              `json:"phone"`
	CourseID      string              `json:"courseId" validate:"required"`
	PaymentAmount decimal.Decimal     `json:"paymentAmount"`
	PaymentStatus types.PaymentStatus `json:"paymentStatus" validate:"required,oneof=pending success completed cancelled"`
	CreatedAt     time.Time           `json:"createdAt" validate:"required"`
	ContactID     *string             `json:"contactId" validate:"omitempty,min=1"`
}

// RosterEntry is one agent of the roster payload
type RosterEntry struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Active bool   `json:"active"`
	UserID string `json:"userId"`
}

// NotePayload is one CRM interaction from the messaging system
type NotePayload struct {
	ID             string    `json:"id" validate:"required"`
	ContactID      string    `json:"contactId" validate:"required"`
	Type           string    `json:"type" validate:"required"`
	CreatorName    string    `json:"creatorName"`
	CreatorAgentID string    `json:"creatorAgentId"`
	CreatedAt      time.Time `json:"createdAt"`
}

type leadsBody struct {
	Leads []LeadPayload `json:"leads" validate:"required,min=1,max=5000,dive"`
}

type rosterBody struct {
	Agents []RosterEntry `json:"agents" validate:"required,min=1,max=5000,dive"`
}

type notesBody struct {
	Notes []NotePayload `json:"notes" validate:"required,min=1,max=5000,dive"`
}

// IntakeHandler handles the internal endpoints upstream systems push records to
type IntakeHandler struct {
	sink   RecordSink
	logger zerolog.Logger
}

// NewIntakeHandler creates a new IntakeHandler
func NewIntakeHandler(sink RecordSink, logger zerolog.Logger) *IntakeHandler {
	return &IntakeHandler{
		sink:   sink,
		logger: logger.With().Str("component", "intake").Logger(),
	}
}

// HandleLeads handles POST /internal/leads
func (h *IntakeHandler) HandleLeads(w http.ResponseWriter, r *http.Request) {
	var body leadsBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	leads := make([]types.Lead, len(body.Leads))
	for i, p := range body.Leads {
		if p.PaymentAmount.IsNegative() {
			writeError(w, h.logger, &bodyError{
				status: http.StatusUnprocessableEntity,
				msg:    "request validation failed",
				fields: map[string]string{"Leads[" + strconv.Itoa(i) + "].PaymentAmount": "gte"},
			})
			return
		}
		leads[i] = types.Lead{
			ID:            p.ID,
			FullName:      p.FullName,
			Email:         p.Email,
			Phone:         p.Phone,
			CourseID:      p.CourseID,
			PaymentAmount: p.PaymentAmount,
			PaymentStatus: p.PaymentStatus,
			CreatedAt:     p.CreatedAt.UTC(),
			ContactID:     p.ContactID,
		}
	}

	if err := h.sink.UpsertLeads(r.Context(), leads); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().Int("upserted", len(leads)).Msg("leads received")
	writeResult(w, false, "", map[string]int{"upserted": len(leads)})
}

// HandleRoster handles POST /internal/agents/roster
func (h *IntakeHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var body rosterBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	agents := make([]types.Agent, len(body.Agents))
	for i, e := range body.Agents {
		agents[i] = types.Agent{ID: e.ID, Name: e.Name, Active: e.Active, UserID: e.UserID}
	}

	if err := h.sink.UpsertAgents(r.Context(), agents); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().Int("registered", len(agents)).Msg("roster received")
	writeResult(w, false, "", map[string]int{"registered": len(agents)})
}

// HandleContactNotes handles POST /internal/contact-notes
func (h *IntakeHandler) HandleContactNotes(w http.ResponseWriter, r *http.Request) {
	var body notesBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	notes := make([]types.ContactNote, len(body.Notes))
	for i, p := range body.Notes {
		notes[i] = types.ContactNote{
			ID:             p.ID,
			ContactID:      p.ContactID,
			Type:           p.Type,
			CreatorName:    p.CreatorName,
			CreatorAgentID: p.CreatorAgentID,
			CreatedAt:      p.CreatedAt.UTC(),
		}
	}

	if err := h.sink.UpsertContactNotes(r.Context(), notes); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().Int("upserted", len(notes)).Msg("contact notes received")
	writeResult(w, false, "", map[string]int{"upserted": len(notes)})
}
