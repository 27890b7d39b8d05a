package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierPublishesEvent(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaNotifier{writer: w}

	event := entity.RunFinishedEvent{
		EventID:        "evt-1",
		RunID:          "42",
		Table:          "N8N_Test",
		State:          entity.RunStatePartialFailure,
		TotalRows:      45000,
		SuccessfulRows: 44990,
		FailedRows:     10,
		Artifact:       "mem://failed_upload_data_N8N_Test_20250101_000000.csv",
		OccurredAt:     1735689600000,
	}
	if err := k.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}

	var got entity.RunFinishedEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got != event {
		t.Fatalf("got %+v, want %+v", got, event)
	}
	if w.msgs[0].Time.UnixMilli() != event.OccurredAt {
		t.Fatalf("unexpected message time %v", w.msgs[0].Time)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestNotifiersJoinErrors(t *testing.T) {
	var called []string
	ok := handlerFunc(func(context.Context, entity.RunFinishedEvent) error {
		called = append(called, "ok")
		return nil
	})
	failing := &KafkaNotifier{writer: &fakeWriter{err: errors.New("leader not available")}}

	err := Notifiers{LogNotifier{}, failing, ok}.Handle(context.Background(), entity.RunFinishedEvent{EventID: "evt", State: entity.RunStateFailed})
	if err == nil || !strings.Contains(err.Error(), "leader not available") {
		t.Fatalf("expected joined kafka error, got %v", err)
	}
	if len(called) != 1 {
		t.Fatalf("expected every notifier to run, got %v", called)
	}

	if err := (Notifiers{LogNotifier{}, ok}).Handle(context.Background(), entity.RunFinishedEvent{EventID: "evt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogNotifierRequiresEventID(t *testing.T) {
	if err := (LogNotifier{}).Handle(context.Background(), entity.RunFinishedEvent{}); err == nil {
		t.Fatalf("expected error for missing event id")
	}
}

func TestNewKafkaNotifierValidation(t *testing.T) {
	if _, err := NewKafkaNotifier(KafkaConfig{Topic: "runs"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error without topic")
	}

	k, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "runs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
