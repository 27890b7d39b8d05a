package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

type Handler interface {
	Handle(ctx context.Context, event entity.RunFinishedEvent) error
}

type ConsumerConfig struct {
	Workers     int
	MaxRetries  int
	BaseBackoff time.Duration
	// Timeout bounds a single Handle attempt; zero means no bound.
	Timeout time.Duration
}

// NotificationConsumer drains the bus and hands every event to a Handler,
// retrying with doubling backoff. Events are handled at most once per
// EventID.
type NotificationConsumer struct {
	bus         *Bus
	handler     Handler
	workers     int
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	seen        sync.Map
	wg          sync.WaitGroup
}

func NewNotificationConsumer(bus *Bus, handler Handler, cfg ConsumerConfig) *NotificationConsumer {
	workers := cfg.Workers
	if workers < 1 {
		workers = 2
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	return &NotificationConsumer{
		bus:         bus,
		handler:     handler,
		workers:     workers,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		timeout:     cfg.Timeout,
	}
}

func (c *NotificationConsumer) Start() {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
}

// Stop closes the bus and waits for queued events to be handled.
func (c *NotificationConsumer) Stop(ctx context.Context) error {
	if c.bus != nil {
		c.bus.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *NotificationConsumer) worker() {
	defer c.wg.Done()

	for event := range c.bus.Subscribe() {
		c.processEvent(event)
	}
}

func (c *NotificationConsumer) processEvent(event entity.RunFinishedEvent) {
	if c.handler == nil {
		return
	}

	if event.EventID != "" {
		if _, loaded := c.seen.LoadOrStore(event.EventID, struct{}{}); loaded {
			slog.Info("skip duplicate run finished event", "event_id", event.EventID, "run_id", event.RunID)
			return
		}
	}

	backoff := c.baseBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := c.handle(event)
		if err == nil {
			return
		}

		if attempt == c.maxRetries {
			slog.Error("failed to notify run result after retries", "event_id", event.EventID, "run_id", event.RunID, "error", err)
			return
		}

		slog.Warn("run notification failed, retrying", "event_id", event.EventID, "attempt", attempt+1, "backoff", backoff.String(), "error", err)
		sleepBackoff(backoff)
		backoff *= 2
	}
}

func (c *NotificationConsumer) handle(event entity.RunFinishedEvent) error {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.handler.Handle(ctx, event)
}

func sleepBackoff(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
}
