package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/campusvote/internal/audit"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/jmerrifield20/campusvote/internal/election/repository"
	"github.com/jmerrifield20/campusvote/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// voterRoster is the read-only eligibility roster.
// *repository.RosterRepository satisfies this interface.
type voterRoster interface {
	Lookup(ctx context.Context, regNo string) (*model.Voter, error)
}

// challengeStore is the storage interface required by ChallengeService.
// *repository.ChallengeRepository satisfies this interface.
type challengeStore interface {
	CreateChallenge(ctx context.Context, ch *model.Challenge, rateWindow time.Duration) error
	FindActive(ctx context.Context, voterID uuid.UUID, now time.Time) (*model.Challenge, error)
	RecordFailure(ctx context.Context, id uuid.UUID, maxAttempts int, now time.Time) (bool, error)
	HasConsumedBallot(ctx context.Context, voterID uuid.UUID) (bool, error)
	HasRecentChallenge(ctx context.Context, voterID uuid.UUID, now time.Time, rateWindow time.Duration) (bool, error)
}

// dispatcher sends a code over every channel. *notify.Gateway satisfies it.
type dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) notify.Report
}

// recorder is the fire-and-forget audit sink. *audit.Recorder satisfies it.
type recorder interface {
	Record(ev audit.Event)
}

// ChallengeConfig holds OTP policy.
type ChallengeConfig struct {
	TTL         time.Duration // code validity
	RateWindow  time.Duration // minimum spacing between pending codes; also the retry-after hint
	BcryptCost  int
	MaxAttempts int // wrong codes before a challenge is burnt
}

// DefaultChallengeConfig returns the production OTP policy.
func DefaultChallengeConfig() ChallengeConfig {
	return ChallengeConfig{
		TTL:         5 * time.Minute,
		RateWindow:  2 * time.Minute,
		BcryptCost:  bcrypt.DefaultCost,
		MaxAttempts: 5,
	}
}

// ChallengeService issues and verifies one-time codes.
type ChallengeService struct {
	roster   voterRoster
	store    challengeStore
	issuer   *BallotIssuer
	notifier dispatcher
	audit    recorder
	clock    Clock
	cfg      ChallengeConfig
	logger   *zap.Logger
}

// NewChallengeService creates a ChallengeService. Zero fields in cfg take
// their DefaultChallengeConfig values; a nil clock means SystemClock.
func NewChallengeService(
	roster voterRoster,
	store challengeStore,
	issuer *BallotIssuer,
	notifier dispatcher,
	rec recorder,
	clock Clock,
	cfg ChallengeConfig,
	logger *zap.Logger,
) *ChallengeService {
	def := DefaultChallengeConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ChallengeService{
		roster:   roster,
		store:    store,
		issuer:   issuer,
		notifier: notifier,
		audit:    rec,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// RequestChallenge mints a code for the voter, stores its hash and sends it
// over email and SMS. At least one channel must confirm delivery before the
// wait elapses; otherwise DELIVERY_FAILED is returned and the challenge stays
// valid for a late delivery.
//
// Errors, in check order: MISSING_REG_NO, NOT_FOUND, INELIGIBLE,
// ALREADY_VOTED, RATE_LIMITED, MISSING_CONTACT, DELIVERY_FAILED, INTERNAL.
func (s *ChallengeService) RequestChallenge(ctx context.Context, regNo string) (*model.ChallengeReceipt, error) {
	voter, err := s.eligibleVoter(ctx, regNo)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	voted, err := s.store.HasConsumedBallot(ctx, voter.ID)
	if err != nil {
		return nil, model.Internal(err)
	}
	if voted {
		return nil, model.ErrAlreadyVoted
	}
	recent, err := s.store.HasRecentChallenge(ctx, voter.ID, now, s.cfg.RateWindow)
	if err != nil {
		return nil, model.Internal(err)
	}
	if recent {
		return nil, model.RateLimited(s.cfg.RateWindow)
	}
	if !voter.HasContact() {
		return nil, model.ErrMissingContact
	}

	code, err := generateOTP()
	if err != nil {
		return nil, model.Internal(err)
	}
	hash, err := hashOTP(code, s.cfg.BcryptCost)
	if err != nil {
		return nil, model.Internal(err)
	}

	ch := &model.Challenge{
		VoterID:   voter.ID,
		Methods:   []model.Channel{model.ChannelEmail, model.ChannelSMS},
		OTPHash:   hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	// Both checks above are repeated atomically with the insert.
	if err := s.store.CreateChallenge(ctx, ch, s.cfg.RateWindow); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyVoted):
			return nil, model.ErrAlreadyVoted
		case errors.Is(err, repository.ErrRateLimited):
			return nil, model.RateLimited(s.cfg.RateWindow)
		}
		return nil, model.Internal(fmt.Errorf("create challenge: %w", err))
	}

	report := s.notifier.Dispatch(ctx, notify.Message{
		RegNo: voter.RegNo,
		Email: voter.Email,
		Phone: voter.Phone,
		Code:  code,
		TTL:   s.cfg.TTL,
	})

	s.audit.Record(audit.Event{
		Action:  audit.ActionOTPRequested,
		Subject: voterSubject(voter.ID),
		Details: map[string]any{
			"challenge_id": ch.ID.String(),
			"channels":     report.Outcomes(),
		},
	})

	s.logger.Info("otp challenge issued",
		zap.String("challenge_id", ch.ID.String()),
		zap.Any("channels", report.Outcomes()),
	)

	expiresIn := int(s.cfg.TTL / time.Second)
	if !report.Delivered() {
		return nil, model.ErrDeliveryFailed.WithDetail("expiresIn", expiresIn)
	}

	receipt := &model.ChallengeReceipt{
		Message:   "A verification code has been sent to your registered contacts.",
		ExpiresIn: expiresIn,
		SentVia:   []model.Channel{},
	}
	for _, c := range report.Sent() {
		receipt.SentVia = append(receipt.SentVia, model.Channel(c))
	}
	for _, c := range report.Failed() {
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("%s delivery failed", c))
	}
	for _, c := range report.Pending() {
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("%s delivery is still in progress", c))
	}
	return receipt, nil
}

// ConfirmChallenge checks the code against the voter's pending challenge and,
// on success, issues a ballot token. The token is returned exactly once.
//
// Errors: MISSING_REG_NO, INVALID_OTP_FORMAT, NOT_FOUND, INELIGIBLE,
// NO_VALID_CHALLENGE, INVALID_OTP, ALREADY_VOTED, INTERNAL.
func (s *ChallengeService) ConfirmChallenge(ctx context.Context, regNo, code string) (*model.Confirmation, error) {
	if strings.TrimSpace(regNo) == "" {
		return nil, model.ErrMissingRegNo
	}
	code = strings.TrimSpace(code)
	if !validOTPFormat(code) {
		return nil, model.ErrInvalidOTPFormat
	}

	voter, err := s.eligibleVoter(ctx, regNo)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ch, err := s.store.FindActive(ctx, voter.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNoPendingChallenge) {
			return nil, model.ErrNoValidChallenge
		}
		return nil, model.Internal(fmt.Errorf("find challenge: %w", err))
	}
	if !ch.Pending(now) {
		return nil, model.ErrNoValidChallenge
	}

	if !checkOTP(ch.OTPHash, code) {
		burnt, ferr := s.store.RecordFailure(ctx, ch.ID, s.cfg.MaxAttempts, now)
		if ferr != nil && !errors.Is(ferr, repository.ErrNoPendingChallenge) {
			s.logger.Error("record failed otp attempt", zap.String("challenge_id", ch.ID.String()), zap.Error(ferr))
		}
		s.audit.Record(audit.Event{
			Action:  audit.ActionOTPFailed,
			Subject: voterSubject(voter.ID),
			Details: map[string]any{
				"challenge_id": ch.ID.String(),
				"attempt":      ch.FailedAttempts + 1,
				"burnt":        burnt,
			},
		})
		return nil, model.ErrInvalidOTP
	}

	voted, err := s.store.HasConsumedBallot(ctx, voter.ID)
	if err != nil {
		return nil, model.Internal(err)
	}
	if voted {
		return nil, model.ErrAlreadyVoted
	}

	token, ballot, err := s.issuer.Issue(ctx, ch.ID, voter.ID, now)
	if err != nil {
		return nil, err
	}

	s.audit.Record(audit.Event{
		Action:  audit.ActionOTPVerified,
		Subject: voterSubject(voter.ID),
		Details: map[string]any{
			"challenge_id": ch.ID.String(),
			"token_prefix": ballot.TokenPrefix,
		},
	})
	s.logger.Info("otp verified",
		zap.String("challenge_id", ch.ID.String()),
		zap.String("token_prefix", ballot.TokenPrefix),
	)

	return &model.Confirmation{
		BallotToken: token,
		Message:     "Verification successful. Keep this token private; it can be used once to cast your vote.",
	}, nil
}

// eligibleVoter resolves regNo to an ELIGIBLE voter.
func (s *ChallengeService) eligibleVoter(ctx context.Context, regNo string) (*model.Voter, error) {
	regNo = strings.TrimSpace(regNo)
	if regNo == "" {
		return nil, model.ErrMissingRegNo
	}
	v, err := s.roster.Lookup(ctx, regNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.ErrVoterNotFound
		}
		return nil, model.Internal(fmt.Errorf("lookup voter: %w", err))
	}
	if v.Status != model.VoterEligible {
		return nil, model.ErrIneligible
	}
	return v, nil
}

func voterSubject(id uuid.UUID) string { return "voter:" + id.String() }

func ballotSubject(id uuid.UUID) string { return "ballot:" + id.String() }
