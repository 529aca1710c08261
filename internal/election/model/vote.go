package model

import (
	"time"

	"github.com/google/uuid"
)

// Selection is one position→candidate choice in a cast request.
type Selection struct {
	PositionID  uuid.UUID `json:"positionId"`
	CandidateID uuid.UUID `json:"candidateId"`
}

// Vote is a committed selection. Votes reference the ballot, never the voter.
type Vote struct {
	ID          uuid.UUID `json:"id"          db:"id"`
	BallotID    uuid.UUID `json:"ballotId"    db:"ballot_id"`
	PositionID  uuid.UUID `json:"positionId"  db:"position_id"`
	CandidateID uuid.UUID `json:"candidateId" db:"candidate_id"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}

// CastCommit is everything the vote ledger needs to commit atomically.
type CastCommit struct {
	TokenHash  string
	Selections []Selection
	Now        time.Time
}

// CastResult describes a committed vote set.
type CastResult struct {
	BallotID uuid.UUID `json:"-"`
	Message  string    `json:"message"`
	Votes    int       `json:"votes"`
}

// BallotView is the ballot page: the ballot, the positions open right now,
// and their approved candidates.
type BallotView struct {
	Ballot     BallotSummary `json:"ballot"`
	Positions  []*Position   `json:"positions"`
	Candidates []*Candidate  `json:"candidates"`
}

// BallotSummary is the public projection of a ballot.
type BallotSummary struct {
	ID       uuid.UUID    `json:"id"`
	Status   BallotStatus `json:"status"`
	IssuedAt time.Time    `json:"issuedAt"`
}
