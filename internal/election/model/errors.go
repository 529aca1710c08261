package model

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an election error. Handlers map kinds to HTTP statuses.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindEligibility
	KindRateLimit
	KindAuth
	KindConflict
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindEligibility:
		return "eligibility"
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindDelivery:
		return "delivery"
	default:
		return "internal"
	}
}

// Machine-readable error codes returned in the "code" field of error bodies.
const (
	CodeMissingRegNo        = "MISSING_REG_NO"
	CodeNotFound            = "NOT_FOUND"
	CodeIneligible          = "INELIGIBLE"
	CodeAlreadyVoted        = "ALREADY_VOTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeMissingContact      = "MISSING_CONTACT"
	CodeDeliveryFailed      = "DELIVERY_FAILED"
	CodeInvalidOTPFormat    = "INVALID_OTP_FORMAT"
	CodeNoValidChallenge    = "NO_VALID_CHALLENGE"
	CodeInvalidOTP          = "INVALID_OTP"
	CodeMissingToken        = "MISSING_TOKEN"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeBallotRevoked       = "BALLOT_REVOKED"
	CodeMalformedSubmission = "MALFORMED_SUBMISSION"
	CodeWindowClosed        = "WINDOW_CLOSED"
	CodeInvalidCandidate    = "INVALID_CANDIDATE"
	CodeDuplicateVote       = "DUPLICATE_VOTE"
	CodeCommitFailed        = "COMMIT_FAILED"
	CodeInternal            = "INTERNAL"
	CodeInvalidRequest      = "INVALID_REQUEST"
)

// Error is the typed error returned by every election service operation.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Details    map[string]any
	RetryAfter time.Duration
	Err        error // underlying cause; never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so callers can compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e carrying an extra structured detail.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of e that records cause as the underlying error.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Sentinel errors. Compare with errors.Is; extend with WithDetail or Wrap.
var (
	ErrMissingRegNo        = newError(KindValidation, CodeMissingRegNo, "registration number is required")
	ErrVoterNotFound       = newError(KindNotFound, CodeNotFound, "registration number not found")
	ErrIneligible          = newError(KindEligibility, CodeIneligible, "voter is not eligible to vote")
	ErrAlreadyVoted        = newError(KindConflict, CodeAlreadyVoted, "a ballot has already been cast for this voter")
	ErrMissingContact      = newError(KindValidation, CodeMissingContact, "both an email address and a phone number must be on file; contact the electoral office")
	ErrDeliveryFailed      = newError(KindDelivery, CodeDeliveryFailed, "the verification code could not be delivered on any channel; the code remains valid, contact the electoral office")
	ErrInvalidOTPFormat    = newError(KindValidation, CodeInvalidOTPFormat, "otp must be a 6-digit code")
	ErrNoValidChallenge    = newError(KindConflict, CodeNoValidChallenge, "no valid verification code; request a new one")
	ErrInvalidOTP          = newError(KindAuth, CodeInvalidOTP, "invalid verification code")
	ErrMissingToken        = newError(KindValidation, CodeMissingToken, "ballot token is required")
	ErrInvalidToken        = newError(KindNotFound, CodeInvalidToken, "ballot not found")
	ErrBallotRevoked       = newError(KindConflict, CodeBallotRevoked, "this ballot was replaced by a newer one")
	ErrMalformedSubmission = newError(KindValidation, CodeMalformedSubmission, "votes must contain exactly one candidate per position")
	ErrWindowClosed        = newError(KindConflict, CodeWindowClosed, "voting is not open for one or more positions")
	ErrInvalidCandidate    = newError(KindValidation, CodeInvalidCandidate, "one or more candidates are not valid for their position")
	ErrDuplicateVote       = newError(KindConflict, CodeDuplicateVote, "a vote has already been recorded for one or more positions")
	ErrCommitFailed        = newError(KindInternal, CodeCommitFailed, "the vote could not be recorded; nothing was saved, please retry")
	ErrInternal            = newError(KindInternal, CodeInternal, "internal error")
	ErrInvalidRequest      = newError(KindValidation, CodeInvalidRequest, "request body is not valid JSON")
)

// RateLimited builds a RATE_LIMITED error carrying its retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	e := newError(KindRateLimit, CodeRateLimited, "a verification code was requested recently; try again later")
	e.RetryAfter = retryAfter
	return e
}

// Internal wraps an unexpected failure behind the generic internal error.
func Internal(cause error) *Error {
	return ErrInternal.Wrap(cause)
}
