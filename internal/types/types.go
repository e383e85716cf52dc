package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the payment state of a course enrollment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentCompleted PaymentStatus = "completed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentFilterPaid is the synthetic filter value matching every paid status
const PaymentFilterPaid = "paid"

// PaidStatuses are the payment statuses that count as a completed sale
var PaidStatuses = []PaymentStatus{PaymentSuccess, PaymentCompleted}

// IsPaid reports whether the status belongs to the paid group
func (s PaymentStatus) IsPaid() bool {
	return s == PaymentSuccess || s == PaymentCompleted
}

// Valid reports whether the status is one of the known values
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentCompleted, PaymentCancelled:
		return true
	}
	return false
}

// PaymentStatusesFor expands a payment filter value into the statuses it matches.
// An empty filter matches everything and returns nil.
func PaymentStatusesFor(filter string) []PaymentStatus {
	switch filter {
	case "":
		return nil
	case PaymentFilterPaid:
		return PaidStatuses
	default:
		return []PaymentStatus{PaymentStatus(filter)}
	}
}

// AssignmentMethod records how a lead ended up with its agent
type AssignmentMethod string

const (
	MethodManual                 AssignmentMethod = "manual"
	MethodPercentageDistribution AssignmentMethod = "percentage_distribution"
	MethodMoved                  AssignmentMethod = "moved"
	MethodBulkMoved              AssignmentMethod = "bulk_moved"
)

// CRMStatus is derived from the contact notes attached to a lead's contact
type CRMStatus string

const (
	CRMNone       CRMStatus = "none"
	CRMHasRecords CRMStatus = "has_records"
	CRMHasCalls   CRMStatus = "has_calls"
)

// NoteTypeCall is the contact note type that counts as a call
const NoteTypeCall = "call"

// AssignmentFilter selects leads by whether they currently have an agent
type AssignmentFilter string

const (
	AssignmentAll        AssignmentFilter = "all"
	AssignmentAssigned   AssignmentFilter = "assigned"
	AssignmentUnassigned AssignmentFilter = "unassigned"
)

// Lead is one paid or pending course enrollment
type Lead struct {
	ID            string          `json:"id"`
	FullName      string          `json:"fullName"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	CourseID      string          `json:"courseId"`
	PaymentAmount decimal.Decimal `json:"paymentAmount"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
	ContactID     *string         `json:"contactId,omitempty"` // messaging user record, may be absent
}

// Agent is a staff member that can receive leads
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	UserID string `json:"userId,omitempty"` // identity provider subject
}

// Assignment binds exactly one lead to one agent
type Assignment struct {
	ID         string           `json:"id"`
	LeadID     string           `json:"leadId"`
	AgentID    string           `json:"agentId"`
	AssignedBy string           `json:"assignedBy"`
	AssignedAt time.Time        `json:"assignedAt"`
	Method     AssignmentMethod `json:"method"`
	Status     string           `json:"status,omitempty"`
	RunID      string           `json:"runId,omitempty"` // distribution run that created the row
}

// DistributionLogEntry is an append-only audit record of an allocation or transfer
type DistributionLogEntry struct {
	ID         string           `json:"id"`
	CourseID   string           `json:"courseId"`
	AgentID    string           `json:"agentId"`
	AssignedBy string           `json:"assignedBy"`
	Count      int              `json:"count"`
	Method     AssignmentMethod `json:"method"`
	Note       string           `json:"note,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ContactNote is a CRM interaction linked to a contact, not to a lead
type ContactNote struct {
	ID             string    `json:"id"`
	ContactID      string    `json:"contactId"`
	Type           string    `json:"type"`
	CreatorName    string    `json:"creatorName"`
	CreatorAgentID string    `json:"creatorAgentId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsCall reports whether the note records a call
func (n ContactNote) IsCall() bool {
	return strings.EqualFold(n.Type, NoteTypeCall)
}

// EnrichedLead is a lead with its current assignment and CRM state
type EnrichedLead struct {
	Lead
	IsAssigned        bool      `json:"isAssigned"`
	AssignmentID      string    `json:"assignmentId,omitempty"`
	AssignedAgentID   string    `json:"assignedAgentId,omitempty"`
	AssignedAgentName string    `json:"assignedAgentName,omitempty"`
	CRMStatus         CRMStatus `json:"crmStatus"`
	CRMCreators       []string  `json:"crmCreators"`
	CRMCreatorIDs     []string  `json:"crmCreatorIds,omitempty"`
}

// AgentSummary holds the performance metrics of a single agent
type AgentSummary struct {
	AgentID          string          `json:"agentId"`
	AgentName        string          `json:"agentName"`
	AssignedLeads    int             `json:"assignedLeads"`
	TotalCalls       int             `json:"totalCalls"`
	CompletedSales   int             `json:"completedSales"`
	TotalSalesAmount decimal.Decimal `json:"totalSalesAmount"`
	ConversionRate   float64         `json:"conversionRate"` // 0-100%
}

// DateRange bounds lead creation time. To covers its whole calendar day.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Bounds returns the inclusive query bounds, extending To to the last
// instant of its day
func (r DateRange) Bounds() (from, to *time.Time) {
	if r.From != nil {
		f := *r.From
		from = &f
	}
	if r.To != nil {
		y, m, d := r.To.Date()
		end := time.Date(y, m, d, 0, 0, 0, 0, r.To.Location()).AddDate(0, 0, 1).Add(-time.Nanosecond)
		to = &end
	}
	return from, to
}

// Contains reports whether t falls inside the inclusive bounds
func (r DateRange) Contains(t time.Time) bool {
	from, to := r.Bounds()
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
