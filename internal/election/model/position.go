package model

import (
	"time"

	"github.com/google/uuid"
)

// CandidateStatus is the nomination review state of a candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "PENDING"
	CandidateApproved CandidateStatus = "APPROVED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// Position is an elected office with its nomination and voting windows.
// Both windows are half-open: [opens, closes).
type Position struct {
	ID               uuid.UUID `json:"id"               db:"id"`
	Name             string    `json:"name"             db:"name"`
	Seats            int       `json:"seats"            db:"seats"`
	NominationOpens  time.Time `json:"nominationOpens"  db:"nomination_opens"`
	NominationCloses time.Time `json:"nominationCloses" db:"nomination_closes"`
	VotingOpens      time.Time `json:"votingOpens"      db:"voting_opens"`
	VotingCloses     time.Time `json:"votingCloses"     db:"voting_closes"`
}

// Candidate stands for exactly one position.
type Candidate struct {
	ID         uuid.UUID       `json:"id"         db:"id"`
	PositionID uuid.UUID       `json:"positionId" db:"position_id"`
	Name       string          `json:"name"       db:"name"`
	Status     CandidateStatus `json:"status"     db:"status"`
}
