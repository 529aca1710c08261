package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single auditable occurrence handed to a Recorder.
type Event struct {
	Action  string         `json:"action"`
	Subject string         `json:"subject"`
	Actor   string         `json:"actor"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// Event actions.
const (
	ActionOTPRequested = "otp.requested"
	ActionOTPFailed    = "otp.failed"
	ActionOTPVerified  = "otp.verified"
	ActionVoteCast     = "vote.cast"
)

// Sink receives every recorded event. Errors are logged by the Recorder.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// DefaultQueueSize is used when NewRecorder is given a non-positive size.
const DefaultQueueSize = 1024

// sinkTimeout bounds a single sink write.
const sinkTimeout = 5 * time.Second

// Recorder queues events and delivers them to its sinks on one background
// worker, preserving order. Record never blocks.
type Recorder struct {
	queue  chan Event
	sinks  []Sink
	logger *zap.Logger
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	onDrop func(action string)
}

// NewRecorder creates a Recorder and starts its worker.
func NewRecorder(size int, logger *zap.Logger, sinks ...Sink) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &Recorder{
		queue:  make(chan Event, size),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// SetDropRecorder registers a callback invoked for every dropped event.
// Use it to feed a metrics counter.
func (r *Recorder) SetDropRecorder(fn func(action string)) {
	r.mu.Lock()
	r.onDrop = fn
	r.mu.Unlock()
}

// Record enqueues ev. A full queue or a closed Recorder drops the event.
func (r *Recorder) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Actor == "" {
		ev.Actor = SystemActor
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ev, "recorder closed")
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.drop(ev, "queue full")
	}
}

// drop must be called with r.mu held.
func (r *Recorder) drop(ev Event, reason string) {
	r.logger.Warn("audit event dropped",
		zap.String("action", ev.Action),
		zap.String("subject", ev.Subject),
		zap.String("reason", reason),
	)
	if r.onDrop != nil {
		r.onDrop(ev.Action)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Write(ctx, ev); err != nil {
				r.logger.Error("audit sink write failed",
					zap.String("action", ev.Action),
					zap.String("subject", ev.Subject),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// LedgerSink appends events to a Ledger.
type LedgerSink struct {
	ledger Ledger
}

// NewLedgerSink wraps ledger as a Sink.
func NewLedgerSink(ledger Ledger) *LedgerSink {
	return &LedgerSink{ledger: ledger}
}

// Write implements Sink.
func (s *LedgerSink) Write(ctx context.Context, ev Event) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := s.ledger.Append(ctx, ev.Subject, ev.Action, ev.Actor, details)
	return err
}
