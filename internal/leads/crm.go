package leads

import "github.com/dennisdiepolder/leaddesk/internal/types"

// CRMActivity is the CRM state derived from the notes of one contact
type CRMActivity struct {
	Status     types.CRMStatus
	Creators   []string // distinct creator names, first-seen order
	CreatorIDs []string // distinct creator agent ids where recorded
}

// DeriveCRM folds the notes of a single contact. Calls take precedence
// over plain records.
func DeriveCRM(notes []types.ContactNote) CRMActivity {
	act := CRMActivity{Status: types.CRMNone, Creators: []string{}}
	if len(notes) == 0 {
		return act
	}

	act.Status = types.CRMHasRecords
	names := make(map[string]bool)
	ids := make(map[string]bool)
	for _, n := range notes {
		if n.IsCall() {
			act.Status = types.CRMHasCalls
		}
		if n.CreatorName != "" && !names[n.CreatorName] {
			names[n.CreatorName] = true
			act.Creators = append(act.Creators, n.CreatorName)
		}
		if n.CreatorAgentID != "" && !ids[n.CreatorAgentID] {
			ids[n.CreatorAgentID] = true
			act.CreatorIDs = append(act.CreatorIDs, n.CreatorAgentID)
		}
	}
	return act
}

// CRMFor resolves the CRM state of a lead. A lead without a contact never
// has CRM activity.
func CRMFor(lead types.Lead, byContact map[string][]types.ContactNote) CRMActivity {
	if lead.ContactID == nil || *lead.ContactID == "" {
		return DeriveCRM(nil)
	}
	return DeriveCRM(byContact[*lead.ContactID])
}
