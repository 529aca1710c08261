package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Channel names a delivery path.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Outcome is the state of one channel when Dispatch returns.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending" // still running; reported to the log when it finishes
)

// Default timings used when NewGateway is given zero values.
const (
	DefaultDispatchWait = 8 * time.Second
	DefaultSendTimeout  = 30 * time.Second
)

// Message is a one-time code addressed to a voter.
type Message struct {
	RegNo string
	Email string
	Phone string
	Code  string
	TTL   time.Duration
}

// Result is the outcome of one channel.
type Result struct {
	Channel Channel
	Outcome Outcome
	Err     error
}

// Report collects per-channel results, email first.
type Report struct {
	Results []Result
}

// Sent returns the channels that delivered.
func (r Report) Sent() []Channel { return r.with(OutcomeSent) }

// Failed returns the channels that failed.
func (r Report) Failed() []Channel { return r.with(OutcomeFailed) }

// Pending returns the channels still in flight.
func (r Report) Pending() []Channel { return r.with(OutcomePending) }

// Delivered reports whether at least one channel confirmed delivery. A channel
// still pending when Dispatch returned is not a delivery.
func (r Report) Delivered() bool { return len(r.Sent()) > 0 }

// Outcomes maps channel name to outcome, for audit details.
func (r Report) Outcomes() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		out[string(res.Channel)] = string(res.Outcome)
	}
	return out
}

func (r Report) with(o Outcome) []Channel {
	var out []Channel
	for _, res := range r.Results {
		if res.Outcome == o {
			out = append(out, res.Channel)
		}
	}
	return out
}

// MetricsRecorder is an optional callback invoked once per finished channel.
type MetricsRecorder func(channel Channel, outcome Outcome)

// Gateway sends a code over email and SMS concurrently. Each channel runs on
// its own goroutine with its own timeout, detached from the caller's
// cancellation, so one channel can never fail or delay the other.
type Gateway struct {
	email       EmailSender
	sms         SMSSender
	wait        time.Duration
	sendTimeout time.Duration
	onMetrics   MetricsRecorder
	logger      *zap.Logger
}

// NewGateway creates a Gateway. wait bounds how long Dispatch blocks for
// channel outcomes; sendTimeout bounds each channel's delivery.
func NewGateway(email EmailSender, sms SMSSender, wait, sendTimeout time.Duration, logger *zap.Logger) *Gateway {
	if wait <= 0 {
		wait = DefaultDispatchWait
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Gateway{
		email:       email,
		sms:         sms,
		wait:        wait,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (g *Gateway) SetMetricsRecorder(fn MetricsRecorder) {
	g.onMetrics = fn
}

// Dispatch starts delivery on both channels and waits up to the configured
// wait (or until ctx ends) for their outcomes. Channels that have not finished
// are reported as pending and keep running in the background.
func (g *Gateway) Dispatch(ctx context.Context, msg Message) Report {
	results := make(chan Result, 2)
	detached := context.WithoutCancel(ctx)

	subject := "Your campus election verification code"
	body := messageBody(msg)

	go g.run(detached, ChannelEmail, msg.Email, results, func(c context.Context) error {
		return g.email.Send(c, msg.Email, subject, body)
	})
	go g.run(detached, ChannelSMS, msg.Phone, results, func(c context.Context) error {
		return g.sms.Send(c, msg.Phone, body)
	})

	got := make(map[Channel]Result, 2)
	timer := time.NewTimer(g.wait)
	defer timer.Stop()

wait:
	for len(got) < 2 {
		select {
		case res := <-results:
			got[res.Channel] = res
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	report := Report{}
	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		if res, ok := got[ch]; ok {
			report.Results = append(report.Results, res)
			continue
		}
		report.Results = append(report.Results, Result{Channel: ch, Outcome: OutcomePending})
	}

	if remaining := 2 - len(got); remaining > 0 {
		go g.drainLate(results, remaining, msg.RegNo)
	}
	return report
}

// run performs one channel's delivery and always sends exactly one Result.
func (g *Gateway) run(ctx context.Context, ch Channel, addr string, out chan<- Result, send func(context.Context) error) {
	res := Result{Channel: ch, Outcome: OutcomeSent}
	if addr == "" {
		res.Outcome, res.Err = OutcomeFailed, ErrNoAddress
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
		err := send(sendCtx)
		cancel()
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
		}
	}

	if res.Err != nil {
		g.logger.Warn("notification delivery failed",
			zap.String("channel", string(ch)),
			zap.Error(res.Err),
		)
	}
	if g.onMetrics != nil {
		g.onMetrics(ch, res.Outcome)
	}
	out <- res
}

// drainLate logs results that arrive after Dispatch returned.
func (g *Gateway) drainLate(results <-chan Result, n int, regNo string) {
	for i := 0; i < n; i++ {
		res := <-results
		g.logger.Info("late notification result",
			zap.String("reg_no", regNo),
			zap.String("channel", string(res.Channel)),
			zap.String("outcome", string(res.Outcome)),
		)
	}
}

func messageBody(msg Message) string {
	minutes := int(msg.TTL.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf(
		"Your campus election verification code for %s is %s. It expires in %d minutes. Do not share it with anyone.",
		msg.RegNo, msg.Code, minutes,
	)
}
