package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel names a notification path used to deliver an OTP.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Challenge is a hashed one-time code issued to a voter.
// Only VerifiedAt, ConsumedAt, BallotID and FailedAttempts change after insert.
type Challenge struct {
	ID             uuid.UUID  `json:"id"              db:"id"`
	VoterID        uuid.UUID  `json:"voter_id"        db:"voter_id"`
	Methods        []Channel  `json:"methods"         db:"methods"`
	OTPHash        string     `json:"-"               db:"otp_hash"`
	IssuedAt       time.Time  `json:"issued_at"       db:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"      db:"expires_at"`
	VerifiedAt     *time.Time `json:"verified_at"     db:"verified_at"`
	ConsumedAt     *time.Time `json:"consumed_at"     db:"consumed_at"`
	BallotID       *uuid.UUID `json:"ballot_id"       db:"ballot_id"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
}

// Pending reports whether the challenge can still be confirmed at now.
func (c *Challenge) Pending(now time.Time) bool {
	return c.VerifiedAt == nil && c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}

// ChallengeReceipt is returned to the voter after a successful request.
type ChallengeReceipt struct {
	Message   string    `json:"message"`
	ExpiresIn int       `json:"expiresIn"`
	SentVia   []Channel `json:"sentVia"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Confirmation carries the freshly minted ballot token. The token is shown once.
type Confirmation struct {
	BallotToken string `json:"ballotToken"`
	Message     string `json:"message"`
}
