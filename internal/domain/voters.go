package domain

import (
	"encoding/json"
	"slices"
)

// VoterSet is the set of users currently "on" for one interaction kind of a
// review. Only membership is stored; the count is its size.
type VoterSet struct {
	voters []string
}

// NewVoterSet builds a set from ids, dropping blanks and duplicates while
// keeping first-seen order.
func NewVoterSet(ids ...string) VoterSet {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return VoterSet{voters: out}
}

// Count is the number of voters.
func (v VoterSet) Count() int { return len(v.voters) }

// Has reports whether userID is in the set.
func (v VoterSet) Has(userID string) bool {
	return slices.Contains(v.voters, userID)
}

// Voters returns a copy of the member ids.
func (v VoterSet) Voters() []string {
	return slices.Clone(v.voters)
}

type voterSetJSON struct {
	Count  int      `json:"count"`
	Voters []string `json:"voters"`
}

// MarshalJSON renders {"count": n, "voters": [...]}.
func (v VoterSet) MarshalJSON() ([]byte, error) {
	voters := v.voters
	if voters == nil {
		voters = []string{}
	}
	return json.Marshal(voterSetJSON{Count: len(voters), Voters: voters})
}

// UnmarshalJSON reads the voters and ignores any supplied count.
func (v *VoterSet) UnmarshalJSON(b []byte) error {
	var raw voterSetJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = NewVoterSet(raw.Voters...)
	return nil
}
