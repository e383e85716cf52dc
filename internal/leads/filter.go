package leads

import (
	"github.com/dennisdiepolder/leaddesk/internal/types"
)

// Criteria are the post-query predicates of the pipeline. Zero values
// match everything.
type Criteria struct {
	Range      types.DateRange
	Payment    string // exact status or "paid"
	Agent      *types.Agent
	CRMStatus  types.CRMStatus
	Assignment types.AssignmentFilter
}

// Predicate selects enriched leads
type Predicate func(types.EnrichedLead) bool

// Result is the filtered set plus counts taken after every predicate ran
type Result struct {
	Leads      []types.EnrichedLead `json:"leads"`
	Total      int                  `json:"total"`
	Assigned   int                  `json:"assigned"`
	Unassigned int                  `json:"unassigned"`
}

// Pipeline returns the predicates in their fixed evaluation order:
// date range, payment status, agent, CRM status, assignment status.
// Course equality is applied at query time.
func (c Criteria) Pipeline() []Predicate {
	return []Predicate{
		ByDateRange(c.Range),
		ByPayment(c.Payment),
		ByAgent(c.Agent),
		ByCRMStatus(c.CRMStatus),
		ByAssignment(c.Assignment),
	}
}

// Apply runs the pipeline over the enriched set
func Apply(in []types.EnrichedLead, c Criteria) Result {
	preds := c.Pipeline()
	res := Result{Leads: make([]types.EnrichedLead, 0, len(in))}

next:
	for _, l := range in {
		for _, p := range preds {
			if !p(l) {
				continue next
			}
		}
		res.Leads = append(res.Leads, l)
	}

	res.Total = len(res.Leads)
	for _, l := range res.Leads {
		if l.IsAssigned {
			res.Assigned++
		}
	}
	res.Unassigned = res.Total - res.Assigned
	return res
}

func ByDateRange(r types.DateRange) Predicate {
	return func(l types.EnrichedLead) bool {
		return r.Contains(l.CreatedAt)
	}
}

func ByPayment(filter string) Predicate {
	statuses := types.PaymentStatusesFor(filter)
	return func(l types.EnrichedLead) bool {
		if statuses == nil {
			return true
		}
		for _, s := range statuses {
			if l.PaymentStatus == s {
				return true
			}
		}
		return false
	}
}

// ByAgent matches leads assigned to the agent or carrying CRM activity
// attributed to it, by agent id or by display name.
func ByAgent(agent *types.Agent) Predicate {
	return func(l types.EnrichedLead) bool {
		if agent == nil {
			return true
		}
		if agent.ID != "" && l.AssignedAgentID == agent.ID {
			return true
		}
		for _, id := range l.CRMCreatorIDs {
			if id == agent.ID {
				return true
			}
		}
		if agent.Name == "" {
			return false
		}
		for _, name := range l.CRMCreators {
			if name == agent.Name {
				return true
			}
		}
		return false
	}
}

func ByCRMStatus(status types.CRMStatus) Predicate {
	return func(l types.EnrichedLead) bool {
		return status == "" || l.CRMStatus == status
	}
}

func ByAssignment(f types.AssignmentFilter) Predicate {
	return func(l types.EnrichedLead) bool {
		switch f {
		case types.AssignmentAssigned:
			return l.IsAssigned
		case types.AssignmentUnassigned:
			return !l.IsAssigned
		default:
			return true
		}
	}
}
