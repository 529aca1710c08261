// Package notify delivers one-time codes to voters over email and SMS.
package notify

import (
	"context"
	"errors"
)

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// ErrNoAddress is returned for a channel whose address is empty.
var ErrNoAddress = errors.New("no address on file for channel")
