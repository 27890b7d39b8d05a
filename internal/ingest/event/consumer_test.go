package event

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

type handlerFunc func(ctx context.Context, event entity.RunFinishedEvent) error

func (h handlerFunc) Handle(ctx context.Context, event entity.RunFinishedEvent) error {
	return h(ctx, event)
}

func TestNotificationConsumerRetriesAndIdempotent(t *testing.T) {
	bus := NewBus(10)

	var attempts int32
	done := make(chan struct{})
	handler := handlerFunc(func(ctx context.Context, event entity.RunFinishedEvent) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("broker unavailable")
		}
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	})

	consumer := NewNotificationConsumer(bus, handler, ConsumerConfig{
		Workers:     1,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})
	consumer.Start()

	event := entity.RunFinishedEvent{EventID: "evt-1", RunID: "run-1", State: entity.RunStateComplete}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	if err := consumer.Stop(context.Background()); err != nil {
		t.Fatalf("stop consumer: %v", err)
	}

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestNotificationConsumerGivesUp(t *testing.T) {
	bus := NewBus(1)

	var attempts int32
	consumer := NewNotificationConsumer(bus, handlerFunc(func(ctx context.Context, event entity.RunFinishedEvent) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected a deadline on the handler context")
		}
		atomic.AddInt32(&attempts, 1)
		return errors.New("always failing")
	}), ConsumerConfig{Workers: 1, MaxRetries: 1, BaseBackoff: time.Millisecond, Timeout: time.Second})
	consumer.Start()

	if err := bus.Publish(context.Background(), entity.RunFinishedEvent{EventID: "evt-2"}); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := consumer.Stop(context.Background()); err != nil {
		t.Fatalf("stop consumer: %v", err)
	}

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestBusClosed(t *testing.T) {
	bus := NewBus(1)
	bus.Close()
	bus.Close()

	if err := bus.Publish(context.Background(), entity.RunFinishedEvent{}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestBusPublishHonorsContext(t *testing.T) {
	bus := NewBus(1)
	if err := bus.Publish(context.Background(), entity.RunFinishedEvent{EventID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := bus.Publish(ctx, entity.RunFinishedEvent{EventID: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on full bus, got %v", err)
	}
}
