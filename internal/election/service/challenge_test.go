package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/campusvote/internal/audit"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/jmerrifield20/campusvote/internal/notify"
)

var ctx = context.Background()

func assertCode(t *testing.T, err error, code string) *model.Error {
	t.Helper()
	var me *model.Error
	if !errors.As(err, &me) {
		t.Fatalf("expected %s, got %v", code, err)
	}
	if me.Code != code {
		t.Fatalf("expected %s, got %s (%v)", code, me.Code, err)
	}
	return me
}

// ── RequestChallenge ───────────────────────────────────────────────────────

func TestRequestChallenge_sendsSixDigitCode(t *testing.T) {
	f := newFixture()

	receipt, err := f.otp.RequestChallenge(ctx, "  REG123 ")
	if err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if receipt.ExpiresIn != 300 {
		t.Errorf("ExpiresIn: got %d, want 300", receipt.ExpiresIn)
	}
	if len(receipt.SentVia) != 2 {
		t.Errorf("SentVia: got %v, want email and sms", receipt.SentVia)
	}
	if len(receipt.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", receipt.Warnings)
	}

	code := f.notifier.lastCode()
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	ch := f.db.latestChallenge(f.voter.ID)
	if ch == nil {
		t.Fatal("expected a stored challenge")
	}
	if ch.OTPHash == code || strings.Contains(ch.OTPHash, code) {
		t.Error("stored OTP representation must not contain the plaintext code")
	}
	if !ch.ExpiresAt.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt: got %v, want issue time + 5m", ch.ExpiresAt)
	}

	events := f.audit.byAction(audit.ActionOTPRequested)
	if len(events) != 1 {
		t.Fatalf("expected 1 otp.requested event, got %d", len(events))
	}
	if chans, ok := events[0].Details["channels"].(map[string]string); !ok || chans["email"] != "sent" || chans["sms"] != "sent" {
		t.Errorf("channels detail: %v", events[0].Details["channels"])
	}
}

func TestRequestChallenge_validation(t *testing.T) {
	f := newFixture()

	cases := []struct {
		regNo string
		code  string
	}{
		{"", model.CodeMissingRegNo},
		{"   ", model.CodeMissingRegNo},
		{"NOPE", model.CodeNotFound},
		{"REG456", model.CodeIneligible},
		{"REG789", model.CodeMissingContact},
	}
	for _, tc := range cases {
		_, err := f.otp.RequestChallenge(ctx, tc.regNo)
		assertCode(t, err, tc.code)
	}
	if len(f.notifier.messages) != 0 {
		t.Error("no code may be sent for a rejected request")
	}
}

func TestRequestChallenge_rateLimited(t *testing.T) {
	f := newFixture()

	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(90 * time.Second)

	_, err := f.otp.RequestChallenge(ctx, "REG123")
	me := assertCode(t, err, model.CodeRateLimited)
	if me.RetryAfter != 120*time.Second {
		t.Errorf("RetryAfter: got %v, want 120s", me.RetryAfter)
	}
	if me.Kind != model.KindRateLimit {
		t.Errorf("Kind: got %v, want rate_limit", me.Kind)
	}

	f.clock.Advance(31 * time.Second)
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Errorf("expected a new code after the rate window, got %v", err)
	}
}

func TestRequestChallenge_alreadyVoted(t *testing.T) {
	f := newFixture()
	token, err := f.ballotToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.votes.Cast(ctx, token, []model.Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}}); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(10 * time.Minute)
	_, err = f.otp.RequestChallenge(ctx, "REG123")
	assertCode(t, err, model.CodeAlreadyVoted)
}

func TestRequestChallenge_checkOrderBeforeContact(t *testing.T) {
	f := newFixture()
	noContact := f.db.voters["REG789"]

	// A pending challenge from before the contact record lost its phone.
	f.db.challenges = append(f.db.challenges, &model.Challenge{
		ID: uuid.New(), VoterID: noContact.ID, IssuedAt: t0.Add(-time.Minute), ExpiresAt: t0.Add(4 * time.Minute),
	})
	_, err := f.otp.RequestChallenge(ctx, "REG789")
	assertCode(t, err, model.CodeRateLimited)

	f.db.ballots["consumed-hash"] = &model.Ballot{
		ID: uuid.New(), VoterID: noContact.ID, TokenHash: "consumed-hash", Status: model.BallotConsumed, IssuedAt: t0.Add(-time.Hour),
	}
	_, err = f.otp.RequestChallenge(ctx, "REG789")
	assertCode(t, err, model.CodeAlreadyVoted)

	if len(f.notifier.messages) != 0 {
		t.Error("no code may be sent for a rejected request")
	}
}

func TestRequestChallenge_partialDelivery(t *testing.T) {
	f := newFixture()
	f.notifier.outcomes[notify.ChannelSMS] = notify.OutcomeFailed

	receipt, err := f.otp.RequestChallenge(ctx, "REG123")
	if err != nil {
		t.Fatalf("one delivered channel must be enough, got %v", err)
	}
	if len(receipt.SentVia) != 1 || receipt.SentVia[0] != model.ChannelEmail {
		t.Errorf("SentVia: got %v, want [email]", receipt.SentVia)
	}
	if len(receipt.Warnings) != 1 || !strings.Contains(receipt.Warnings[0], "sms") {
		t.Errorf("Warnings: got %v", receipt.Warnings)
	}
}

func TestRequestChallenge_pendingWithSentSucceeds(t *testing.T) {
	f := newFixture()
	f.notifier.outcomes[notify.ChannelSMS] = notify.OutcomePending

	receipt, err := f.otp.RequestChallenge(ctx, "REG123")
	if err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if len(receipt.SentVia) != 1 || receipt.SentVia[0] != model.ChannelEmail {
		t.Errorf("SentVia: got %v, want [email]", receipt.SentVia)
	}
	if len(receipt.Warnings) != 1 || !strings.Contains(receipt.Warnings[0], "in progress") {
		t.Errorf("Warnings: got %v", receipt.Warnings)
	}
}

func TestRequestChallenge_noConfirmedDeliveryFails(t *testing.T) {
	cases := []struct {
		name       string
		email, sms notify.Outcome
	}{
		{"both pending", notify.OutcomePending, notify.OutcomePending},
		{"failed and pending", notify.OutcomeFailed, notify.OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.notifier.outcomes[notify.ChannelEmail] = tc.email
			f.notifier.outcomes[notify.ChannelSMS] = tc.sms

			_, err := f.otp.RequestChallenge(ctx, "REG123")
			me := assertCode(t, err, model.CodeDeliveryFailed)
			if me.Details["expiresIn"] != 300 {
				t.Errorf("details.expiresIn: got %v", me.Details["expiresIn"])
			}

			// A channel still in flight may deliver later, so the code stays usable.
			if _, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode()); err != nil {
				t.Errorf("confirm after unconfirmed delivery: %v", err)
			}
		})
	}
}

func TestRequestChallenge_deliveryFailedKeepsChallenge(t *testing.T) {
	f := newFixture()
	f.notifier.outcomes[notify.ChannelEmail] = notify.OutcomeFailed
	f.notifier.outcomes[notify.ChannelSMS] = notify.OutcomeFailed

	_, err := f.otp.RequestChallenge(ctx, "REG123")
	me := assertCode(t, err, model.CodeDeliveryFailed)
	if me.Kind != model.KindDelivery {
		t.Errorf("Kind: got %v, want delivery", me.Kind)
	}

	// The code was minted and stored; a late or manual delivery still works.
	conf, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode())
	if err != nil {
		t.Fatalf("confirm after failed delivery: %v", err)
	}
	if conf.BallotToken == "" {
		t.Error("expected a ballot token")
	}
}

// ── ConfirmChallenge ───────────────────────────────────────────────────────

func TestConfirmChallenge_issuesToken(t *testing.T) {
	f := newFixture()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}

	conf, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode())
	if err != nil {
		t.Fatalf("ConfirmChallenge: %v", err)
	}
	if len(conf.BallotToken) < 22 { // ≥128 bits base64url
		t.Errorf("token too short: %d chars", len(conf.BallotToken))
	}

	ch := f.db.latestChallenge(f.voter.ID)
	if ch.VerifiedAt == nil || ch.ConsumedAt == nil || ch.BallotID == nil {
		t.Errorf("challenge not finalised: %+v", ch)
	}
	b := f.db.ballotByID(*ch.BallotID)
	if b == nil || b.Status != model.BallotActive {
		t.Fatalf("expected ACTIVE ballot, got %+v", b)
	}
	if b.TokenHash == conf.BallotToken || strings.Contains(b.TokenHash, conf.BallotToken) {
		t.Error("ballot token must not be stored in plaintext")
	}
	if !strings.HasPrefix(conf.BallotToken, b.TokenPrefix) {
		t.Errorf("prefix %q does not match token", b.TokenPrefix)
	}

	events := f.audit.byAction(audit.ActionOTPVerified)
	if len(events) != 1 {
		t.Fatalf("expected 1 otp.verified event, got %d", len(events))
	}
	if got := events[0].Details["token_prefix"]; got != b.TokenPrefix {
		t.Errorf("token_prefix detail: got %v, want %q", got, b.TokenPrefix)
	}
	for _, v := range events[0].Details {
		if s, ok := v.(string); ok && strings.Contains(s, conf.BallotToken) {
			t.Error("audit event must not carry the ballot token")
		}
	}
}

func TestConfirmChallenge_inputValidation(t *testing.T) {
	f := newFixture()

	_, err := f.otp.ConfirmChallenge(ctx, "", "123456")
	assertCode(t, err, model.CodeMissingRegNo)

	for _, code := range []string{"", "12345", "1234567", "12a456", "١٢٣٤٥٦"} {
		_, err := f.otp.ConfirmChallenge(ctx, "REG123", code)
		assertCode(t, err, model.CodeInvalidOTPFormat)
	}

	_, err = f.otp.ConfirmChallenge(ctx, "NOPE", "123456")
	assertCode(t, err, model.CodeNotFound)
}

func TestConfirmChallenge_noChallenge(t *testing.T) {
	f := newFixture()
	_, err := f.otp.ConfirmChallenge(ctx, "REG123", "123456")
	assertCode(t, err, model.CodeNoValidChallenge)
}

func TestConfirmChallenge_wrongCode(t *testing.T) {
	f := newFixture()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}
	wrong := "000000"
	if f.notifier.lastCode() == wrong {
		wrong = "111111"
	}

	_, err := f.otp.ConfirmChallenge(ctx, "REG123", wrong)
	me := assertCode(t, err, model.CodeInvalidOTP)
	if me.Kind != model.KindAuth {
		t.Errorf("Kind: got %v, want auth", me.Kind)
	}
	if ch := f.db.latestChallenge(f.voter.ID); ch.FailedAttempts != 1 {
		t.Errorf("FailedAttempts: got %d, want 1", ch.FailedAttempts)
	}
	if len(f.audit.byAction(audit.ActionOTPFailed)) != 1 {
		t.Error("expected an otp.failed audit event")
	}

	// The right code still works afterwards.
	if _, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode()); err != nil {
		t.Errorf("correct code after one failure: %v", err)
	}
}

func TestConfirmChallenge_burntAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}
	code := f.notifier.lastCode()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		_, err := f.otp.ConfirmChallenge(ctx, "REG123", wrong)
		assertCode(t, err, model.CodeInvalidOTP)
	}

	_, err := f.otp.ConfirmChallenge(ctx, "REG123", code)
	assertCode(t, err, model.CodeNoValidChallenge)
}

func TestConfirmChallenge_expired(t *testing.T) {
	f := newFixture()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(5 * time.Minute)
	_, err := f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode())
	assertCode(t, err, model.CodeNoValidChallenge)
}

func TestConfirmChallenge_staleLookupRejected(t *testing.T) {
	f := newFixture()
	f.withStaleStore()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(6 * time.Minute)
	wrong := "000000"
	if f.notifier.lastCode() == wrong {
		wrong = "111111"
	}
	_, err := f.otp.ConfirmChallenge(ctx, "REG123", wrong)
	assertCode(t, err, model.CodeNoValidChallenge)
	if n := len(f.audit.byAction(audit.ActionOTPFailed)); n != 0 {
		t.Errorf("an expired challenge must not count attempts, got %d otp.failed events", n)
	}

	_, err = f.otp.ConfirmChallenge(ctx, "REG123", f.notifier.lastCode())
	assertCode(t, err, model.CodeNoValidChallenge)
	if n := len(f.audit.byAction(audit.ActionOTPVerified)); n != 0 {
		t.Errorf("expected no otp.verified event, got %d", n)
	}
}

func TestConfirmChallenge_singleUse(t *testing.T) {
	f := newFixture()
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}
	code := f.notifier.lastCode()

	if _, err := f.otp.ConfirmChallenge(ctx, "REG123", code); err != nil {
		t.Fatal(err)
	}
	_, err := f.otp.ConfirmChallenge(ctx, "REG123", code)
	assertCode(t, err, model.CodeNoValidChallenge)
}

func TestConfirmChallenge_newBallotRevokesOutstanding(t *testing.T) {
	f := newFixture()
	first, err := f.ballotToken(ctx)
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(3 * time.Minute)
	second, err := f.ballotToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct tokens")
	}

	sel := []model.Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}}
	_, err = f.votes.Cast(ctx, first, sel)
	assertCode(t, err, model.CodeBallotRevoked)

	if _, err := f.votes.Cast(ctx, second, sel); err != nil {
		t.Errorf("newest ballot must be usable: %v", err)
	}
}

func TestConfirmChallenge_retriesTokenCollision(t *testing.T) {
	f := newFixture()
	f.db.forceCollide = 2
	if _, err := f.ballotToken(ctx); err != nil {
		t.Fatalf("expected issue to succeed after collisions, got %v", err)
	}
}

func TestConfirmChallenge_votedBetweenRequestAndConfirm(t *testing.T) {
	f := newFixture()
	token, err := f.ballotToken(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A second code is requested while the first ballot is still unused.
	f.clock.Advance(3 * time.Minute)
	if _, err := f.otp.RequestChallenge(ctx, "REG123"); err != nil {
		t.Fatal(err)
	}
	code := f.notifier.lastCode()

	// The second challenge revoked nothing yet; the first ballot is cast.
	if _, err := f.votes.Cast(ctx, token, []model.Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}}); err != nil {
		t.Fatal(err)
	}

	_, err = f.otp.ConfirmChallenge(ctx, "REG123", code)
	assertCode(t, err, model.CodeAlreadyVoted)
}
