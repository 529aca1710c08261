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

// ChallengeRepository provides persistence for OTP challenges. Every sequence
// that guards an invariant runs in a single transaction under a per-voter
// advisory lock.
type ChallengeRepository struct {
	db *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// CreateChallenge inserts ch after checking, in the same transaction, that the
// voter has never voted and has no pending challenge issued within rateWindow
// of ch.IssuedAt. Sets ch.ID.
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, ch *model.Challenge, rateWindow time.Duration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockVoter(ctx, tx, ch.VoterID); err != nil {
		return err
	}

	voted, err := hasConsumedBallot(ctx, tx, ch.VoterID)
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}

	recent, err := hasRecentChallenge(ctx, tx, ch.VoterID, ch.IssuedAt, rateWindow)
	if err != nil {
		return err
	}
	if recent {
		return ErrRateLimited
	}

	ch.ID = uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO otp_challenges (id, voter_id, methods, otp_hash, issued_at, expires_at, failed_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)`,
		ch.ID, ch.VoterID, channelStrings(ch.Methods), ch.OTPHash, ch.IssuedAt, ch.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindActive returns the most recent challenge for the voter that is neither
// verified nor consumed and has not expired at now.
func (r *ChallengeRepository) FindActive(ctx context.Context, voterID uuid.UUID, now time.Time) (*model.Challenge, error) {
	ch := &model.Challenge{}
	var methods []string
	err := r.db.QueryRow(ctx,
		`SELECT id, voter_id, methods, otp_hash, issued_at, expires_at,
		        verified_at, consumed_at, ballot_id, failed_attempts
		 FROM otp_challenges
		 WHERE voter_id = $1 AND verified_at IS NULL AND consumed_at IS NULL AND expires_at > $2
		 ORDER BY issued_at DESC
		 LIMIT 1`, voterID, now,
	).Scan(&ch.ID, &ch.VoterID, &methods, &ch.OTPHash, &ch.IssuedAt, &ch.ExpiresAt,
		&ch.VerifiedAt, &ch.ConsumedAt, &ch.BallotID, &ch.FailedAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingChallenge
		}
		return nil, fmt.Errorf("find active challenge: %w", err)
	}
	for _, m := range methods {
		ch.Methods = append(ch.Methods, model.Channel(m))
	}
	return ch, nil
}

// RecordFailure counts a wrong code against the challenge and burns it once
// maxAttempts is reached. Returns true when the challenge was burnt.
func (r *ChallengeRepository) RecordFailure(ctx context.Context, id uuid.UUID, maxAttempts int, now time.Time) (bool, error) {
	var burnt bool
	err := r.db.QueryRow(ctx,
		`UPDATE otp_challenges
		 SET failed_attempts = failed_attempts + 1,
		     consumed_at = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE consumed_at END
		 WHERE id = $1 AND verified_at IS NULL AND consumed_at IS NULL
		 RETURNING consumed_at IS NOT NULL`, id, maxAttempts, now,
	).Scan(&burnt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNoPendingChallenge
		}
		return false, fmt.Errorf("record failed attempt: %w", err)
	}
	return burnt, nil
}

// HasConsumedBallot reports whether the voter has ever cast a ballot.
func (r *ChallengeRepository) HasConsumedBallot(ctx context.Context, voterID uuid.UUID) (bool, error) {
	return hasConsumedBallot(ctx, r.db, voterID)
}

// HasRecentChallenge reports whether the voter holds a pending challenge issued
// within rateWindow of now. CreateChallenge repeats the check under the voter
// lock; this read lets callers order their rejections.
func (r *ChallengeRepository) HasRecentChallenge(ctx context.Context, voterID uuid.UUID, now time.Time, rateWindow time.Duration) (bool, error) {
	return hasRecentChallenge(ctx, r.db, voterID, now, rateWindow)
}

func hasRecentChallenge(ctx context.Context, q Querier, voterID uuid.UUID, now time.Time, rateWindow time.Duration) (bool, error) {
	var recent bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM otp_challenges
		     WHERE voter_id = $1
		       AND verified_at IS NULL AND consumed_at IS NULL
		       AND expires_at > $2 AND issued_at > $3)`,
		voterID, now, now.Add(-rateWindow),
	).Scan(&recent); err != nil {
		return false, fmt.Errorf("check recent challenge: %w", err)
	}
	return recent, nil
}

// ConfirmAndIssue claims the challenge, revokes any outstanding ballot and
// inserts a new ACTIVE ballot, all in one transaction. mint is called for each
// insert attempt and must return a fresh token hash and prefix.
// Returns ErrNoPendingChallenge if the challenge was verified, consumed or
// expired concurrently, and ErrAlreadyVoted if the voter voted meanwhile.
func (r *ChallengeRepository) ConfirmAndIssue(ctx context.Context, challengeID, voterID uuid.UUID, now time.Time, mint TokenMinter) (*model.Ballot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockVoter(ctx, tx, voterID); err != nil {
		return nil, err
	}

	voted, err := hasConsumedBallot(ctx, tx, voterID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, ErrAlreadyVoted
	}

	tag, err := tx.Exec(ctx,
		`UPDATE otp_challenges SET verified_at = $3
		 WHERE id = $1 AND voter_id = $2
		   AND verified_at IS NULL AND consumed_at IS NULL AND expires_at > $3`,
		challengeID, voterID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("claim challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNoPendingChallenge
	}

	if _, err := revokeActive(ctx, tx, voterID, now); err != nil {
		return nil, err
	}

	b, err := insertBallot(ctx, tx, voterID, now, mint)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE otp_challenges SET consumed_at = $2, ballot_id = $3 WHERE id = $1`,
		challengeID, now, b.ID,
	); err != nil {
		return nil, fmt.Errorf("link ballot to challenge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return b, nil
}

// SweepExpired marks challenges that expired unverified as consumed. Rows are
// never deleted. Returns the number of rows updated.
func (r *ChallengeRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE otp_challenges SET consumed_at = $1
		 WHERE verified_at IS NULL AND consumed_at IS NULL AND expires_at <= $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

func channelStrings(cs []model.Channel) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
