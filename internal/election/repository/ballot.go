package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/campusvote/internal/election/model"
)

// maxMintAttempts bounds token regeneration after a hash collision.
const maxMintAttempts = 3

// TokenMinter returns the SHA-256 hex hash and display prefix of a freshly
// generated ballot token. The plaintext stays with the caller.
type TokenMinter func() (tokenHash, tokenPrefix string, err error)

// BallotRepository reads ballots. Ballots are created by
// ChallengeRepository.ConfirmAndIssue and consumed by VoteRepository.Commit.
type BallotRepository struct {
	db *pgxpool.Pool
}

// NewBallotRepository creates a new BallotRepository.
func NewBallotRepository(db *pgxpool.Pool) *BallotRepository {
	return &BallotRepository{db: db}
}

// GetByTokenHash resolves a ballot from the hash of its token.
func (r *BallotRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Ballot, error) {
	b := &model.Ballot{}
	err := r.db.QueryRow(ctx,
		`SELECT id, voter_id, token_hash, token_prefix, status, issued_at, consumed_at, revoked_at
		 FROM ballots WHERE token_hash = $1`, tokenHash,
	).Scan(&b.ID, &b.VoterID, &b.TokenHash, &b.TokenPrefix, &b.Status, &b.IssuedAt, &b.ConsumedAt, &b.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ballot: %w", err)
	}
	return b, nil
}

// insertBallot inserts an ACTIVE ballot, regenerating the token when its hash
// collides with an existing one.
func insertBallot(ctx context.Context, q Querier, voterID uuid.UUID, now time.Time, mint TokenMinter) (*model.Ballot, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		hash, prefix, err := mint()
		if err != nil {
			return nil, fmt.Errorf("mint ballot token: %w", err)
		}

		b := &model.Ballot{
			ID:          uuid.New(),
			VoterID:     voterID,
			TokenHash:   hash,
			TokenPrefix: prefix,
			Status:      model.BallotActive,
			IssuedAt:    now,
		}
		err = q.QueryRow(ctx,
			`INSERT INTO ballots (id, voter_id, token_hash, token_prefix, status, issued_at)
			 VALUES ($1, $2, $3, $4, 'ACTIVE', $5)
			 ON CONFLICT (token_hash) DO NOTHING
			 RETURNING id`,
			b.ID, b.VoterID, b.TokenHash, b.TokenPrefix, b.IssuedAt,
		).Scan(&b.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			if c, ok := uniqueViolation(err); ok && c == constraintActivePerVoter {
				return nil, fmt.Errorf("insert ballot: voter already holds an active ballot: %w", err)
			}
			return nil, fmt.Errorf("insert ballot: %w", err)
		}
		return b, nil
	}
	return nil, ErrTokenCollision
}

// revokeActive moves the voter's outstanding ballot, if any, to REVOKED.
func revokeActive(ctx context.Context, q Querier, voterID uuid.UUID, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx,
		`UPDATE ballots SET status = 'REVOKED', revoked_at = $2
		 WHERE voter_id = $1 AND status = 'ACTIVE'`, voterID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke active ballot: %w", err)
	}
	return tag.RowsAffected(), nil
}

// redeemBallot performs the ACTIVE→CONSUMED transition. It must only run
// inside the vote commit transaction. Concurrent redeemers block on the row
// lock; the loser re-evaluates status and gets no row.
func redeemBallot(ctx context.Context, q Querier, tokenHash string, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx,
		`UPDATE ballots SET status = 'CONSUMED', consumed_at = $2
		 WHERE token_hash = $1 AND status = 'ACTIVE'
		 RETURNING id`, tokenHash, now,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if c, ok := uniqueViolation(err); ok && c == constraintConsumedVoter {
		return uuid.Nil, ErrAlreadyVoted
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("redeem ballot: %w", err)
	}

	var status model.BallotStatus
	if err := q.QueryRow(ctx,
		`SELECT status FROM ballots WHERE token_hash = $1`, tokenHash,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("read ballot status: %w", err)
	}
	if status == model.BallotRevoked {
		return uuid.Nil, ErrBallotRevoked
	}
	return uuid.Nil, ErrAlreadyVoted
}
