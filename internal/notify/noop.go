package notify

import (
	"context"

	"go.uber.org/zap"
)

// NoopEmailSender logs emails instead of delivering them. Bodies carry
// one-time codes, so they are only logged when reveal is set.
type NoopEmailSender struct {
	logger *zap.Logger
	reveal bool
}

// NewNoopEmailSender creates a NoopEmailSender backed by the given logger.
func NewNoopEmailSender(logger *zap.Logger, reveal bool) *NoopEmailSender {
	return &NoopEmailSender{logger: logger, reveal: reveal}
}

// Send logs the email and returns nil.
func (n *NoopEmailSender) Send(_ context.Context, to, subject, body string) error {
	fields := []zap.Field{zap.String("to", to), zap.String("subject", subject)}
	if n.reveal {
		fields = append(fields, zap.String("body", body))
	}
	n.logger.Info("email (noop, not sent)", fields...)
	return nil
}

// NoopSMSSender logs text messages instead of delivering them.
type NoopSMSSender struct {
	logger *zap.Logger
	reveal bool
}

// NewNoopSMSSender creates a NoopSMSSender backed by the given logger.
func NewNoopSMSSender(logger *zap.Logger, reveal bool) *NoopSMSSender {
	return &NoopSMSSender{logger: logger, reveal: reveal}
}

// Send logs the message and returns nil.
func (n *NoopSMSSender) Send(_ context.Context, to, body string) error {
	fields := []zap.Field{zap.String("to", maskPhone(to))}
	if n.reveal {
		fields = append(fields, zap.String("body", body))
	}
	n.logger.Info("sms (noop, not sent)", fields...)
	return nil
}

// maskPhone keeps the last three digits of a number for log correlation.
func maskPhone(p string) string {
	if len(p) <= 3 {
		return "***"
	}
	return "***" + p[len(p)-3:]
}
