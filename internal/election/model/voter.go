package model

import "github.com/google/uuid"

// VoterStatus is the eligibility state of a roster entry.
type VoterStatus string

const (
	VoterEligible   VoterStatus = "ELIGIBLE"
	VoterIneligible VoterStatus = "INELIGIBLE"
)

// Voter is a read-only roster record keyed by registration number.
type Voter struct {
	ID     uuid.UUID   `json:"id"     db:"id"`
	RegNo  string      `json:"reg_no" db:"reg_no"`
	Email  string      `json:"-"      db:"email"`
	Phone  string      `json:"-"      db:"phone"`
	Status VoterStatus `json:"status" db:"status"`
}

// HasContact reports whether both delivery channels are on file.
func (v *Voter) HasContact() bool {
	return v.Email != "" && v.Phone != ""
}
