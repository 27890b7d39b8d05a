package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

// Notifiers hands an event to every handler and joins their errors.
type Notifiers []Handler

func (n Notifiers) Handle(ctx context.Context, event entity.RunFinishedEvent) error {
	var result *multierror.Error
	for _, h := range n {
		if err := h.Handle(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// LogNotifier reports finished runs through slog.
type LogNotifier struct{}

func (LogNotifier) Handle(ctx context.Context, event entity.RunFinishedEvent) error {
	if event.EventID == "" {
		return errors.New("missing event id")
	}

	attrs := []any{
		"event_id", event.EventID,
		"run_id", event.RunID,
		"table", event.Table,
		"state", event.State,
		"total_rows", event.TotalRows,
		"successful_rows", event.SuccessfulRows,
		"failed_rows", event.FailedRows,
	}

	switch event.State {
	case entity.RunStateComplete:
		slog.InfoContext(ctx, "all chunks uploaded successfully", attrs...)
	case entity.RunStatePartialFailure:
		slog.WarnContext(ctx, "run finished with permanently failed rows", append(attrs, "artifact", event.Artifact)...)
	default:
		slog.ErrorContext(ctx, "run failed", append(attrs, "error", event.Err)...)
	}

	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaNotifier publishes finished runs as JSON messages keyed by run id.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	if cfg.WriteTimeout > 0 {
		writer.WriteTimeout = cfg.WriteTimeout
	}

	return &KafkaNotifier{writer: writer}, nil
}

func (k *KafkaNotifier) Handle(ctx context.Context, event entity.RunFinishedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RunID),
		Value: data,
		Time:  time.UnixMilli(event.OccurredAt),
	})
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
