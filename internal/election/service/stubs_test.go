package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/campusvote/internal/audit"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/jmerrifield20/campusvote/internal/election/repository"
	"github.com/jmerrifield20/campusvote/internal/election/service"
	"github.com/jmerrifield20/campusvote/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ── In-memory store ────────────────────────────────────────────────────────

// memDB implements every storage interface the services consume. A single
// mutex stands in for the transaction and unique-constraint guarantees of
// the PostgreSQL repositories.
type memDB struct {
	mu         sync.Mutex
	voters     map[string]*model.Voter
	positions  map[uuid.UUID]*model.Position
	candidates map[uuid.UUID]*model.Candidate
	challenges []*model.Challenge
	ballots    map[string]*model.Ballot // keyed by token hash
	votes      []*model.Vote

	commitErr    error // returned by Commit when set
	forceCollide int   // number of mint attempts to treat as hash collisions
}

func newMemDB() *memDB {
	return &memDB{
		voters:     make(map[string]*model.Voter),
		positions:  make(map[uuid.UUID]*model.Position),
		candidates: make(map[uuid.UUID]*model.Candidate),
		ballots:    make(map[string]*model.Ballot),
	}
}

func (m *memDB) Lookup(_ context.Context, regNo string) (*model.Voter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.voters[regNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memDB) ListOpenForVoting(_ context.Context, now time.Time) ([]*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Position
	for _, p := range m.positions {
		if !now.Before(p.VotingOpens) && now.Before(p.VotingCloses) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memDB) GetPositions(_ context.Context, ids []uuid.UUID) ([]*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Position
	for _, id := range ids {
		if p, ok := m.positions[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memDB) GetCandidates(_ context.Context, positionIDs []uuid.UUID, status model.CandidateStatus) ([]*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(positionIDs))
	for _, id := range positionIDs {
		want[id] = true
	}
	var out []*model.Candidate
	for _, c := range m.candidates {
		if want[c.PositionID] && c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memDB) hasConsumed(voterID uuid.UUID) bool {
	for _, b := range m.ballots {
		if b.VoterID == voterID && b.Status == model.BallotConsumed {
			return true
		}
	}
	return false
}

func (m *memDB) hasRecent(voterID uuid.UUID, now time.Time, rateWindow time.Duration) bool {
	since := now.Add(-rateWindow)
	for _, c := range m.challenges {
		if c.VoterID == voterID && c.Pending(now) && c.IssuedAt.After(since) {
			return true
		}
	}
	return false
}

func (m *memDB) HasRecentChallenge(_ context.Context, voterID uuid.UUID, now time.Time, rateWindow time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasRecent(voterID, now, rateWindow), nil
}

func (m *memDB) CreateChallenge(_ context.Context, ch *model.Challenge, rateWindow time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasConsumed(ch.VoterID) {
		return repository.ErrAlreadyVoted
	}
	if m.hasRecent(ch.VoterID, ch.IssuedAt, rateWindow) {
		return repository.ErrRateLimited
	}
	ch.ID = uuid.New()
	cp := *ch
	m.challenges = append(m.challenges, &cp)
	return nil
}

func (m *memDB) FindActive(_ context.Context, voterID uuid.UUID, now time.Time) (*model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Challenge
	for _, c := range m.challenges {
		if c.VoterID == voterID && c.Pending(now) && (best == nil || c.IssuedAt.After(best.IssuedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, repository.ErrNoPendingChallenge
	}
	cp := *best
	return &cp, nil
}

func (m *memDB) RecordFailure(_ context.Context, id uuid.UUID, maxAttempts int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.challenges {
		if c.ID == id && c.VerifiedAt == nil && c.ConsumedAt == nil {
			c.FailedAttempts++
			if c.FailedAttempts >= maxAttempts {
				t := now
				c.ConsumedAt = &t
				return true, nil
			}
			return false, nil
		}
	}
	return false, repository.ErrNoPendingChallenge
}

func (m *memDB) HasConsumedBallot(_ context.Context, voterID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasConsumed(voterID), nil
}

func (m *memDB) ConfirmAndIssue(_ context.Context, challengeID, voterID uuid.UUID, now time.Time, mint repository.TokenMinter) (*model.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasConsumed(voterID) {
		return nil, repository.ErrAlreadyVoted
	}

	var ch *model.Challenge
	for _, c := range m.challenges {
		if c.ID == challengeID && c.VoterID == voterID && c.Pending(now) {
			ch = c
		}
	}
	if ch == nil {
		return nil, repository.ErrNoPendingChallenge
	}
	t := now
	ch.VerifiedAt = &t

	for _, b := range m.ballots {
		if b.VoterID == voterID && b.Status == model.BallotActive {
			b.Status = model.BallotRevoked
			b.RevokedAt = &t
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		hash, prefix, err := mint()
		if err != nil {
			return nil, err
		}
		if m.forceCollide > 0 {
			m.forceCollide--
			continue
		}
		if _, dup := m.ballots[hash]; dup {
			continue
		}
		b := &model.Ballot{
			ID:          uuid.New(),
			VoterID:     voterID,
			TokenHash:   hash,
			TokenPrefix: prefix,
			Status:      model.BallotActive,
			IssuedAt:    now,
		}
		m.ballots[hash] = b
		ch.ConsumedAt = &t
		ch.BallotID = &b.ID
		cp := *b
		return &cp, nil
	}
	return nil, repository.ErrTokenCollision
}

func (m *memDB) GetByTokenHash(_ context.Context, tokenHash string) (*model.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.ballots[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memDB) Commit(_ context.Context, c *model.CastCommit) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return uuid.Nil, m.commitErr
	}

	var closed []uuid.UUID
	for _, s := range c.Selections {
		p, ok := m.positions[s.PositionID]
		if ok && (c.Now.Before(p.VotingOpens) || !c.Now.Before(p.VotingCloses)) {
			closed = append(closed, p.ID)
		}
	}
	if len(closed) > 0 {
		return uuid.Nil, &repository.WindowClosedError{Positions: closed}
	}

	b, ok := m.ballots[c.TokenHash]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	switch b.Status {
	case model.BallotRevoked:
		return uuid.Nil, repository.ErrBallotRevoked
	case model.BallotConsumed:
		return uuid.Nil, repository.ErrAlreadyVoted
	}
	if m.hasConsumed(b.VoterID) {
		return uuid.Nil, repository.ErrAlreadyVoted
	}
	for _, s := range c.Selections {
		for _, v := range m.votes {
			if v.BallotID == b.ID && v.PositionID == s.PositionID {
				return uuid.Nil, repository.ErrDuplicateVote
			}
		}
	}

	t := c.Now
	b.Status = model.BallotConsumed
	b.ConsumedAt = &t
	for _, s := range c.Selections {
		m.votes = append(m.votes, &model.Vote{
			ID: uuid.New(), BallotID: b.ID, PositionID: s.PositionID, CandidateID: s.CandidateID, CreatedAt: t,
		})
	}
	return b.ID, nil
}

func (m *memDB) ExistingPositions(_ context.Context, ballotID uuid.UUID, positionIDs []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, v := range m.votes {
		if v.BallotID != ballotID {
			continue
		}
		for _, id := range positionIDs {
			if v.PositionID == id {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (m *memDB) voteCount(ballotID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.votes {
		if v.BallotID == ballotID {
			n++
		}
	}
	return n
}

func (m *memDB) totalVotes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes)
}

func (m *memDB) ballotByID(id uuid.UUID) *model.Ballot {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.ballots {
		if b.ID == id {
			cp := *b
			return &cp
		}
	}
	return nil
}

func (m *memDB) consumedBallots(voterID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.ballots {
		if b.VoterID == voterID && b.Status == model.BallotConsumed {
			n++
		}
	}
	return n
}

func (m *memDB) latestChallenge(voterID uuid.UUID) *model.Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Challenge
	for _, c := range m.challenges {
		if c.VoterID == voterID && (best == nil || c.IssuedAt.After(best.IssuedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// staleStore returns the latest challenge whatever its state, like a replica
// that has not yet seen the expiry or consumption.
type staleStore struct{ *memDB }

func (s staleStore) FindActive(_ context.Context, voterID uuid.UUID, _ time.Time) (*model.Challenge, error) {
	if ch := s.latestChallenge(voterID); ch != nil {
		return ch, nil
	}
	return nil, repository.ErrNoPendingChallenge
}

// slowCatalog advances the clock on every candidate lookup.
type slowCatalog struct {
	*memDB
	clock *service.FixedClock
	step  time.Duration
}

func (c slowCatalog) GetCandidates(ctx context.Context, positionIDs []uuid.UUID, status model.CandidateStatus) ([]*model.Candidate, error) {
	c.clock.Advance(c.step)
	return c.memDB.GetCandidates(ctx, positionIDs, status)
}

// ── Notifier and audit stubs ───────────────────────────────────────────────

type stubNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	outcomes map[notify.Channel]notify.Outcome // default: sent
}

func (n *stubNotifier) Dispatch(_ context.Context, msg notify.Message) notify.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	r := notify.Report{}
	for _, ch := range []notify.Channel{notify.ChannelEmail, notify.ChannelSMS} {
		o := notify.OutcomeSent
		if got, ok := n.outcomes[ch]; ok {
			o = got
		}
		r.Results = append(r.Results, notify.Result{Channel: ch, Outcome: o})
	}
	return r
}

func (n *stubNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1].Code
}

type stubAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *stubAudit) Record(ev audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *stubAudit) byAction(action string) []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for _, ev := range a.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// ── Fixture ────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *memDB
	clock    *service.FixedClock
	notifier *stubNotifier
	audit    *stubAudit
	issuer   *service.BallotIssuer
	otp      *service.ChallengeService
	votes    *service.VoteService

	voter *model.Voter // REG123, eligible, both contacts

	president, secretary, treasurer *model.Position // treasurer is closed at t0
	alice, bob, carol, dave         *model.Candidate // bob is pending; carol stands for secretary; dave for treasurer
}

func newFixture() *fixture {
	db := newMemDB()
	f := &fixture{
		db:       db,
		clock:    service.NewFixedClock(t0),
		notifier: &stubNotifier{outcomes: map[notify.Channel]notify.Outcome{}},
		audit:    &stubAudit{},
	}

	f.voter = &model.Voter{ID: uuid.New(), RegNo: "REG123", Email: "reg123@campus.edu", Phone: "+15550123", Status: model.VoterEligible}
	db.voters["REG123"] = f.voter
	db.voters["REG456"] = &model.Voter{ID: uuid.New(), RegNo: "REG456", Email: "a@b.c", Phone: "+1", Status: model.VoterIneligible}
	db.voters["REG789"] = &model.Voter{ID: uuid.New(), RegNo: "REG789", Email: "a@b.c", Status: model.VoterEligible}

	f.president = &model.Position{ID: uuid.New(), Name: "President", Seats: 1, VotingOpens: t0.Add(-time.Hour), VotingCloses: t0.Add(time.Hour)}
	f.secretary = &model.Position{ID: uuid.New(), Name: "Secretary", Seats: 1, VotingOpens: t0.Add(-time.Hour), VotingCloses: t0.Add(2 * time.Hour)}
	f.treasurer = &model.Position{ID: uuid.New(), Name: "Treasurer", Seats: 1, VotingOpens: t0.Add(-3 * time.Hour), VotingCloses: t0.Add(-time.Hour)}
	for _, p := range []*model.Position{f.president, f.secretary, f.treasurer} {
		db.positions[p.ID] = p
	}

	f.alice = &model.Candidate{ID: uuid.New(), PositionID: f.president.ID, Name: "Alice", Status: model.CandidateApproved}
	f.bob = &model.Candidate{ID: uuid.New(), PositionID: f.president.ID, Name: "Bob", Status: model.CandidatePending}
	f.carol = &model.Candidate{ID: uuid.New(), PositionID: f.secretary.ID, Name: "Carol", Status: model.CandidateApproved}
	f.dave = &model.Candidate{ID: uuid.New(), PositionID: f.treasurer.ID, Name: "Dave", Status: model.CandidateApproved}
	for _, c := range []*model.Candidate{f.alice, f.bob, f.carol, f.dave} {
		db.candidates[c.ID] = c
	}

	logger := zap.NewNop()
	f.issuer = service.NewBallotIssuer(db, db, logger)
	f.otp = service.NewChallengeService(db, db, f.issuer, f.notifier, f.audit, f.clock,
		service.ChallengeConfig{BcryptCost: bcrypt.MinCost}, logger)
	f.votes = service.NewVoteService(f.issuer, db, db, service.NewWindowGate(f.clock), f.audit, logger)
	return f
}

// withStaleStore rebuilds the challenge service on top of staleStore.
func (f *fixture) withStaleStore() {
	f.otp = service.NewChallengeService(f.db, staleStore{f.db}, f.issuer, f.notifier, f.audit, f.clock,
		service.ChallengeConfig{BcryptCost: bcrypt.MinCost}, zap.NewNop())
}

// ballotToken runs request + confirm for REG123 and returns the token.
func (f *fixture) ballotToken(ctx context.Context) (string, error) {
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		return "", err
	}
	conf, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode())
	if err != nil {
		return "", err
	}
	return conf.BallotToken, nil
}
