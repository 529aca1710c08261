package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/jmerrifield20/campusvote/internal/election/repository"
	"go.uber.org/zap"
)

// issueStore claims a challenge and stores a new ballot in one transaction.
// *repository.ChallengeRepository satisfies this interface.
type issueStore interface {
	ConfirmAndIssue(ctx context.Context, challengeID, voterID uuid.UUID, now time.Time, mint repository.TokenMinter) (*model.Ballot, error)
}

// ballotReader resolves ballots by token hash.
// *repository.BallotRepository satisfies this interface.
type ballotReader interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Ballot, error)
}

// BallotIssuer mints and resolves single-use ballot tokens. Only the SHA-256
// of a token is stored; the plaintext is returned once, from Issue.
//
// Redemption (ACTIVE to CONSUMED) is not exposed here. It happens only inside
// the vote commit transaction, see repository.VoteRepository.Commit.
type BallotIssuer struct {
	store   issueStore
	ballots ballotReader
	logger  *zap.Logger
}

// NewBallotIssuer creates a BallotIssuer.
func NewBallotIssuer(store issueStore, ballots ballotReader, logger *zap.Logger) *BallotIssuer {
	return &BallotIssuer{store: store, ballots: ballots, logger: logger}
}

// Issue claims the challenge and mints a ballot for the voter. Any outstanding
// ACTIVE ballot of the voter is revoked in the same transaction.
func (i *BallotIssuer) Issue(ctx context.Context, challengeID, voterID uuid.UUID, now time.Time) (string, *model.Ballot, error) {
	var token string
	mint := func() (string, string, error) {
		t, err := newBallotToken()
		if err != nil {
			return "", "", err
		}
		token = t
		return hashToken(t), tokenPrefix(t), nil
	}

	b, err := i.store.ConfirmAndIssue(ctx, challengeID, voterID, now, mint)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoPendingChallenge):
			return "", nil, model.ErrNoValidChallenge
		case errors.Is(err, repository.ErrAlreadyVoted):
			return "", nil, model.ErrAlreadyVoted
		}
		return "", nil, model.Internal(err)
	}

	i.logger.Info("ballot issued",
		zap.String("ballot_id", b.ID.String()),
		zap.String("token_prefix", b.TokenPrefix),
	)
	return token, b, nil
}

// Lookup resolves a presented token to its ballot.
func (i *BallotIssuer) Lookup(ctx context.Context, token string) (*model.Ballot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, model.ErrMissingToken
	}
	b, err := i.ballots.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.ErrInvalidToken
		}
		return nil, model.Internal(err)
	}
	return b, nil
}
