package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_keysBySubject(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{writer: w, topic: "audit"}

	ev := Event{Action: ActionVoteCast, Subject: "ballot:42", Details: map[string]any{"votes": 3}}
	if err := s.Write(context.Background(), ev); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "ballot:42" {
		t.Errorf("key: got %q", w.msgs[0].Key)
	}

	var got Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("value not JSON: %v", err)
	}
	if got.Action != ActionVoteCast {
		t.Errorf("action: got %q", got.Action)
	}
}

func TestKafkaSink_wrapsWriteError(t *testing.T) {
	boom := errors.New("broker unavailable")
	s := &KafkaSink{writer: &fakeWriter{err: boom}, topic: "audit"}

	err := s.Write(context.Background(), Event{Action: ActionOTPRequested})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped broker error, got %v", err)
	}
}

func TestKafkaSink_pingWithoutBrokers(t *testing.T) {
	s := &KafkaSink{writer: &fakeWriter{}, topic: "audit"}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error with no brokers")
	}
}
