package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/campusvote/internal/audit"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/jmerrifield20/campusvote/internal/election/repository"
	"go.uber.org/zap"
)

// positionCatalog is the read-only position catalog.
// *repository.CatalogRepository satisfies this interface.
type positionCatalog interface {
	ListOpenForVoting(ctx context.Context, now time.Time) ([]*model.Position, error)
	GetPositions(ctx context.Context, ids []uuid.UUID) ([]*model.Position, error)
	GetCandidates(ctx context.Context, positionIDs []uuid.UUID, status model.CandidateStatus) ([]*model.Candidate, error)
}

// voteStore commits vote sets atomically.
// *repository.VoteRepository satisfies this interface.
type voteStore interface {
	Commit(ctx context.Context, c *model.CastCommit) (uuid.UUID, error)
	ExistingPositions(ctx context.Context, ballotID uuid.UUID, positionIDs []uuid.UUID) ([]uuid.UUID, error)
}

// VoteService presents ballots and casts votes.
type VoteService struct {
	ballots *BallotIssuer
	catalog positionCatalog
	votes   voteStore
	gate    *WindowGate
	audit   recorder
	logger  *zap.Logger
}

// NewVoteService creates a VoteService.
func NewVoteService(ballots *BallotIssuer, catalog positionCatalog, votes voteStore, gate *WindowGate, rec recorder, logger *zap.Logger) *VoteService {
	return &VoteService{
		ballots: ballots,
		catalog: catalog,
		votes:   votes,
		gate:    gate,
		audit:   rec,
		logger:  logger,
	}
}

// Ballot returns the ballot page: the ballot summary, the positions open
// right now and their approved candidates.
//
// Errors: MISSING_TOKEN, INVALID_TOKEN, INTERNAL.
func (s *VoteService) Ballot(ctx context.Context, token string) (*model.BallotView, error) {
	b, err := s.ballots.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.gate.Now()
	positions, err := s.catalog.ListOpenForVoting(ctx, now)
	if err != nil {
		return nil, model.Internal(fmt.Errorf("list open positions: %w", err))
	}
	positions = s.gate.Open(positions, now)

	ids := make([]uuid.UUID, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	candidates, err := s.catalog.GetCandidates(ctx, ids, model.CandidateApproved)
	if err != nil {
		return nil, model.Internal(fmt.Errorf("get candidates: %w", err))
	}
	if candidates == nil {
		candidates = []*model.Candidate{}
	}

	return &model.BallotView{
		Ballot:     model.BallotSummary{ID: b.ID, Status: b.Status, IssuedAt: b.IssuedAt},
		Positions:  positions,
		Candidates: candidates,
	}, nil
}

// Cast validates the selections and commits them together with the ballot's
// consumption. Checks run in order; the first failure is returned and nothing
// is written.
//
// Errors: MISSING_TOKEN, INVALID_TOKEN, ALREADY_VOTED, BALLOT_REVOKED,
// MALFORMED_SUBMISSION, WINDOW_CLOSED, INVALID_CANDIDATE, DUPLICATE_VOTE,
// COMMIT_FAILED, INTERNAL.
func (s *VoteService) Cast(ctx context.Context, token string, selections []model.Selection) (*model.CastResult, error) {
	// 1. Token resolves.
	b, err := s.ballots.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	// 2. Ballot is ACTIVE.
	switch b.Status {
	case model.BallotActive:
	case model.BallotRevoked:
		return nil, model.ErrBallotRevoked
	default:
		return nil, model.ErrAlreadyVoted
	}

	// 3. One well-formed selection per position.
	positionIDs, err := validateSelections(selections)
	if err != nil {
		return nil, err
	}

	// 4. Every targeted window is open now.
	now := s.gate.Now()
	positions, err := s.catalog.GetPositions(ctx, positionIDs)
	if err != nil {
		return nil, model.Internal(fmt.Errorf("get positions: %w", err))
	}
	if closed := s.gate.Closed(positions, now); len(closed) > 0 {
		return nil, windowClosed(closed)
	}

	// 5. Every candidate is approved and stands for the stated position.
	if err := s.checkCandidates(ctx, positionIDs, selections); err != nil {
		return nil, err
	}

	// 6. No prior votes on these positions for this ballot.
	existing, err := s.votes.ExistingPositions(ctx, b.ID, positionIDs)
	if err != nil {
		return nil, model.Internal(fmt.Errorf("check existing votes: %w", err))
	}
	if len(existing) > 0 {
		return nil, model.ErrDuplicateVote.WithDetail("positions", uuidStrings(existing))
	}

	// 7. Commit. The store re-checks windows at a fresh reading of the clock,
	// redeems and inserts in one transaction.
	ballotID, err := s.votes.Commit(ctx, &model.CastCommit{
		TokenHash:  b.TokenHash,
		Selections: selections,
		Now:        s.gate.Now(),
	})
	if err != nil {
		return nil, s.commitError(b, err)
	}

	// 8. Audit by ballot only.
	choices := make([]map[string]string, len(selections))
	for i, sel := range selections {
		choices[i] = map[string]string{
			"position_id":  sel.PositionID.String(),
			"candidate_id": sel.CandidateID.String(),
		}
	}
	s.audit.Record(audit.Event{
		Action:  audit.ActionVoteCast,
		Subject: ballotSubject(ballotID),
		Details: map[string]any{"selections": choices},
	})
	s.logger.Info("vote cast",
		zap.String("ballot_id", ballotID.String()),
		zap.Int("votes", len(selections)),
	)

	return &model.CastResult{
		BallotID: ballotID,
		Message:  "Your vote has been recorded. Thank you for voting.",
		Votes:    len(selections),
	}, nil
}

func (s *VoteService) checkCandidates(ctx context.Context, positionIDs []uuid.UUID, selections []model.Selection) error {
	approved, err := s.catalog.GetCandidates(ctx, positionIDs, model.CandidateApproved)
	if err != nil {
		return model.Internal(fmt.Errorf("get candidates: %w", err))
	}
	byID := make(map[uuid.UUID]*model.Candidate, len(approved))
	for _, c := range approved {
		byID[c.ID] = c
	}

	var invalid []string
	for _, sel := range selections {
		c, ok := byID[sel.CandidateID]
		if !ok || c.PositionID != sel.PositionID {
			invalid = append(invalid, sel.CandidateID.String())
		}
	}
	if len(invalid) > 0 {
		return model.ErrInvalidCandidate.WithDetail("candidates", invalid)
	}
	return nil
}

func (s *VoteService) commitError(b *model.Ballot, err error) error {
	var wc *repository.WindowClosedError
	switch {
	case errors.As(err, &wc):
		return model.ErrWindowClosed.WithDetail("positions", uuidStrings(wc.Positions))
	case errors.Is(err, repository.ErrAlreadyVoted):
		return model.ErrAlreadyVoted
	case errors.Is(err, repository.ErrBallotRevoked):
		return model.ErrBallotRevoked
	case errors.Is(err, repository.ErrNotFound):
		return model.ErrInvalidToken
	case errors.Is(err, repository.ErrDuplicateVote):
		return model.ErrDuplicateVote
	}
	s.logger.Error("vote commit failed",
		zap.String("ballot_id", b.ID.String()),
		zap.Error(err),
	)
	return model.ErrCommitFailed.Wrap(err)
}

// validateSelections returns the targeted position ids in submission order.
func validateSelections(selections []model.Selection) ([]uuid.UUID, error) {
	if len(selections) == 0 {
		return nil, model.ErrMalformedSubmission
	}
	seen := make(map[uuid.UUID]bool, len(selections))
	var repeated []string
	ids := make([]uuid.UUID, 0, len(selections))
	for _, sel := range selections {
		if sel.PositionID == uuid.Nil || sel.CandidateID == uuid.Nil {
			return nil, model.ErrMalformedSubmission
		}
		if seen[sel.PositionID] {
			repeated = append(repeated, sel.PositionID.String())
			continue
		}
		seen[sel.PositionID] = true
		ids = append(ids, sel.PositionID)
	}
	if len(repeated) > 0 {
		return nil, model.ErrMalformedSubmission.WithDetail("positions", repeated)
	}
	return ids, nil
}

func windowClosed(closed []*model.Position) error {
	ids := make([]string, len(closed))
	names := make([]string, len(closed))
	for i, p := range closed {
		ids[i] = p.ID.String()
		names[i] = p.Name
	}
	return model.ErrWindowClosed.WithDetail("positions", ids).WithDetail("names", names)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
