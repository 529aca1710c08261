package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/campusvote/internal/election/model"
)

// VoteRepository commits vote sets.
type VoteRepository struct {
	db *pgxpool.Pool
}

// NewVoteRepository creates a new VoteRepository.
func NewVoteRepository(db *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{db: db}
}

// Commit re-checks every targeted position's window at c.Now, consumes the
// ballot and inserts one vote per selection in a single transaction. Nothing
// is written unless everything is. Returns the consumed ballot's id.
//
// Errors: *WindowClosedError, ErrNotFound, ErrAlreadyVoted, ErrBallotRevoked,
// ErrDuplicateVote, or a wrapped storage error.
func (r *VoteRepository) Commit(ctx context.Context, c *model.CastCommit) (uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	positionIDs := make([]uuid.UUID, len(c.Selections))
	for i, s := range c.Selections {
		positionIDs[i] = s.PositionID
	}

	rows, err := tx.Query(ctx,
		`SELECT id FROM positions
		 WHERE id = ANY($1) AND NOT (voting_opens <= $2 AND $2 < voting_closes)`,
		positionIDs, c.Now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("recheck windows: %w", err)
	}
	var closed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return uuid.Nil, fmt.Errorf("scan position: %w", err)
		}
		closed = append(closed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("recheck windows: %w", err)
	}
	if len(closed) > 0 {
		return uuid.Nil, &WindowClosedError{Positions: closed}
	}

	ballotID, err := redeemBallot(ctx, tx, c.TokenHash, c.Now)
	if err != nil {
		return uuid.Nil, err
	}

	for _, s := range c.Selections {
		if _, err := tx.Exec(ctx,
			`INSERT INTO votes (id, ballot_id, position_id, candidate_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), ballotID, s.PositionID, s.CandidateID, c.Now,
		); err != nil {
			if con, ok := uniqueViolation(err); ok && con == constraintBallotPosition {
				return uuid.Nil, ErrDuplicateVote
			}
			return uuid.Nil, fmt.Errorf("insert vote: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return ballotID, nil
}

// ExistingPositions returns which of positionIDs already have a vote on the ballot.
func (r *VoteRepository) ExistingPositions(ctx context.Context, ballotID uuid.UUID, positionIDs []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT position_id FROM votes WHERE ballot_id = $1 AND position_id = ANY($2)`,
		ballotID, positionIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("existing votes: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

