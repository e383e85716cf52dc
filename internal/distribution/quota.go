package distribution

import (
	"math"
	"math/rand"

	"github.com/dennisdiepolder/leaddesk/internal/types"
)

// percentTolerance absorbs float noise in client-side percentage math
const percentTolerance = 1e-6

// Quota is the share of a run one agent should receive
type Quota struct {
	AgentID string  `json:"agentId" validate:"required"`
	Percent float64 `json:"percent" validate:"gte=0,lte=100"`
}

// Allocation is what one agent received from the shuffled pool
type Allocation struct {
	AgentID string
	Percent float64
	Quota   int
	Leads   []types.Lead
}

// ValidateQuotas checks the quota set before any side effect
func ValidateQuotas(quotas []Quota) error {
	if len(quotas) == 0 {
		return invalid("quotas", "at least one agent quota is required")
	}

	seen := make(map[string]bool, len(quotas))
	sum := 0.0
	for _, q := range quotas {
		if q.AgentID == "" {
			return invalid("quotas", "agent id is required")
		}
		if seen[q.AgentID] {
			return invalid("quotas", "agent %s appears more than once", q.AgentID)
		}
		seen[q.AgentID] = true
		if math.IsNaN(q.Percent) || q.Percent < 0 || q.Percent > 100 {
			return invalid("quotas", "percent for agent %s must be between 0 and 100", q.AgentID)
		}
		sum += q.Percent
	}
	if math.Abs(sum-100) > percentTolerance {
		return invalid("quotas", "percentages must sum to 100, got %g", sum)
	}
	return nil
}

// Partition shuffles the pool and hands each agent, in quota order,
// round(len(pool) * percent / 100) leads from a single cursor. Consumption
// stops when the pool is exhausted; leftover leads are returned as slack.
func Partition(pool []types.Lead, quotas []Quota, rng *rand.Rand) (allocs []Allocation, slack []types.Lead) {
	shuffled := make([]types.Lead, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := len(shuffled)
	cursor := 0
	allocs = make([]Allocation, 0, len(quotas))
	for _, q := range quotas {
		quota := int(math.Round(float64(n) * q.Percent / 100))
		take := quota
		if remaining := n - cursor; take > remaining {
			take = remaining
		}
		allocs = append(allocs, Allocation{
			AgentID: q.AgentID,
			Percent: q.Percent,
			Quota:   quota,
			Leads:   shuffled[cursor : cursor+take],
		})
		cursor += take
	}
	return allocs, shuffled[cursor:]
}
