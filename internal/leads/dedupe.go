package leads

import (
	"strings"

	"github.com/dennisdiepolder/leaddesk/internal/types"
)

// NormalizePhone strips every character that is not an ASCII digit
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

// DedupeByPhone keeps the first lead per normalized phone, in input order.
// Leads whose normalized phone is empty are dropped.
func DedupeByPhone(in []types.Lead) []types.Lead {
	seen := make(map[string]bool, len(in))
	out := make([]types.Lead, 0, len(in))
	for _, l := range in {
		key := NormalizePhone(l.Phone)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}
