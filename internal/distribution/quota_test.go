package distribution

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePool(n int) []types.Lead {
	pool := make([]types.Lead, n)
	for i := range pool {
		pool[i] = types.Lead{ID: fmt.Sprintf("lead-%03d", i)}
	}
	return pool
}

func TestValidateQuotas(t *testing.T) {
	tests := []struct {
		name    string
		quotas  []Quota
		wantErr bool
	}{
		{"single agent", []Quota{{"a", 100}}, false},
		{"split", []Quota{{"a", 70}, {"b", 30}}, false},
		{"float noise tolerated", []Quota{{"a", 33.3333333}, {"b", 33.3333333}, {"c", 33.3333334}}, false},
		{"zero share allowed", []Quota{{"a", 100}, {"b", 0}}, false},
		{"empty", nil, true},
		{"sum below 100", []Quota{{"a", 50}, {"b", 40}}, true},
		{"sum above 100", []Quota{{"a", 60}, {"b", 50}}, true},
		{"negative", []Quota{{"a", 110}, {"b", -10}}, true},
		{"duplicate agent", []Quota{{"a", 50}, {"a", 50}}, true},
		{"missing agent id", []Quota{{"", 100}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuotas(tt.quotas)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPartition_ExactSplit(t *testing.T) {
	allocs, slack := Partition(makePool(100), []Quota{{"a", 50}, {"b", 50}}, rand.New(rand.NewSource(1)))

	require.Len(t, allocs, 2)
	assert.Len(t, allocs[0].Leads, 50)
	assert.Len(t, allocs[1].Leads, 50)
	assert.Empty(t, slack)
}

func TestPartition_ZeroPercentConsumesNothing(t *testing.T) {
	allocs, _ := Partition(makePool(10), []Quota{{"a", 0}, {"b", 100}}, rand.New(rand.NewSource(1)))

	assert.Equal(t, 0, allocs[0].Quota)
	assert.Empty(t, allocs[0].Leads)
	assert.Len(t, allocs[1].Leads, 10)
}

func TestPartition_RoundingLeavesSlack(t *testing.T) {
	// round(10 * 0.25) = 3 per agent, the cursor runs out on the fourth
	quotas := []Quota{{"a", 25}, {"b", 25}, {"c", 25}, {"d", 25}}
	allocs, slack := Partition(makePool(10), quotas, rand.New(rand.NewSource(7)))
	counts := []int{len(allocs[0].Leads), len(allocs[1].Leads), len(allocs[2].Leads), len(allocs[3].Leads)}
	assert.Equal(t, []int{3, 3, 3, 1}, counts)
	assert.Empty(t, slack)

	// round(7 * 1/3) = 2 per agent, one lead left over
	quotas = []Quota{{"a", 100.0 / 3}, {"b", 100.0 / 3}, {"c", 100.0 / 3}}
	allocs, slack = Partition(makePool(7), quotas, rand.New(rand.NewSource(7)))
	assert.Len(t, slack, 1)
	for _, a := range allocs {
		assert.Len(t, a.Leads, 2)
	}
}

func TestPartition_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	quotaSets := [][]Quota{
		{{"a", 100}},
		{{"a", 70}, {"b", 30}},
		{{"a", 33.3}, {"b", 33.3}, {"c", 33.4}},
		{{"a", 12.5}, {"b", 37.5}, {"c", 0}, {"d", 50}},
		{{"a", 1}, {"b", 1}, {"c", 98}},
	}

	for n := 0; n <= 60; n++ {
		for _, quotas := range quotaSets {
			pool := makePool(n)
			allocs, slack := Partition(pool, quotas, rng)

			seen := make(map[string]bool, n)
			consumed := 0
			for _, a := range allocs {
				consumed += len(a.Leads)
				for _, l := range a.Leads {
					require.False(t, seen[l.ID], "lead %s allocated twice", l.ID)
					seen[l.ID] = true
				}
			}
			for _, l := range slack {
				require.False(t, seen[l.ID], "slack lead %s was also allocated", l.ID)
				seen[l.ID] = true
			}
			assert.LessOrEqual(t, consumed, n)
			assert.Equal(t, n, consumed+len(slack))
			assert.Len(t, seen, n)
		}
	}
}

func TestPartition_DoesNotMutatePool(t *testing.T) {
	pool := makePool(20)
	before := make([]types.Lead, len(pool))
	copy(before, pool)

	Partition(pool, []Quota{{"a", 50}, {"b", 50}}, rand.New(rand.NewSource(3)))
	assert.Equal(t, before, pool)
}
