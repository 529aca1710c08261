// Package repository persists voters, positions, challenges, ballots and votes
// in PostgreSQL. The roster and catalog are read-only from this service.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so helpers can run either
// standalone or inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyVoted is returned when the voter already owns a CONSUMED ballot.
	ErrAlreadyVoted = errors.New("voter has already cast a ballot")

	// ErrRateLimited is returned when a pending challenge was issued inside the rate window.
	ErrRateLimited = errors.New("challenge issued too recently")

	// ErrNoPendingChallenge is returned when no unverified, unexpired challenge exists.
	ErrNoPendingChallenge = errors.New("no pending challenge")

	// ErrBallotRevoked is returned when redeeming a ballot superseded by a newer one.
	ErrBallotRevoked = errors.New("ballot revoked")

	// ErrDuplicateVote is returned when a (ballot, position) pair already has a vote.
	ErrDuplicateVote = errors.New("vote already recorded for position")

	// ErrTokenCollision is returned when every minted token hash already existed.
	ErrTokenCollision = errors.New("ballot token collision")
)

// WindowClosedError names the positions whose voting window did not contain
// the commit instant.
type WindowClosedError struct {
	Positions []uuid.UUID
}

func (e *WindowClosedError) Error() string {
	return fmt.Sprintf("voting window closed for %d position(s)", len(e.Positions))
}

// Constraint names from migrations/002_ballots.up.sql.
const (
	constraintTokenHash      = "ballots_token_hash_key"
	constraintActivePerVoter = "ballots_one_active_per_voter"
	constraintConsumedVoter  = "ballots_one_consumed_per_voter"
	constraintBallotPosition = "votes_ballot_position_key"
)

// uniqueViolation reports the violated constraint name when err is a 23505.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// lockVoter takes a transaction-scoped advisory lock keyed on the voter, so
// challenge creation and confirmation for one voter serialize across instances.
func lockVoter(ctx context.Context, tx pgx.Tx, voterID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('voter:' || $1::text, 0))`, voterID,
	); err != nil {
		return fmt.Errorf("lock voter: %w", err)
	}
	return nil
}

// hasConsumedBallot is the lifetime one-vote check.
func hasConsumedBallot(ctx context.Context, q Querier, voterID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ballots WHERE voter_id = $1 AND status = 'CONSUMED')`, voterID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consumed ballot: %w", err)
	}
	return exists, nil
}
