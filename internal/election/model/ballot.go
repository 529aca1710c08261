package model

import (
	"time"

	"github.com/google/uuid"
)

// BallotStatus is the lifecycle state of a ballot credential.
// ACTIVE moves to exactly one of CONSUMED or REVOKED and never back.
type BallotStatus string

const (
	BallotActive   BallotStatus = "ACTIVE"
	BallotConsumed BallotStatus = "CONSUMED"
	BallotRevoked  BallotStatus = "REVOKED"
)

// Ballot is a single-use voting credential. The plaintext token is never
// stored; TokenHash is the hex SHA-256 of it and TokenPrefix its first
// characters for traceability.
type Ballot struct {
	ID          uuid.UUID    `json:"id"          db:"id"`
	VoterID     uuid.UUID    `json:"-"           db:"voter_id"`
	TokenHash   string       `json:"-"           db:"token_hash"`
	TokenPrefix string       `json:"-"           db:"token_prefix"`
	Status      BallotStatus `json:"status"      db:"status"`
	IssuedAt    time.Time    `json:"issuedAt"    db:"issued_at"`
	ConsumedAt  *time.Time   `json:"consumedAt"  db:"consumed_at"`
	RevokedAt   *time.Time   `json:"-"           db:"revoked_at"`
}
