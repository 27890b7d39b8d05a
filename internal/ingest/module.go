package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/nationdonation-web/csv-processor/internal/ingest/event"
	"github.com/nationdonation-web/csv-processor/internal/ingest/inbound"
	"github.com/nationdonation-web/csv-processor/internal/ingest/normalize"
	"github.com/nationdonation-web/csv-processor/internal/ingest/outbound"
	"github.com/nationdonation-web/csv-processor/internal/ingest/sink"
	"github.com/nationdonation-web/csv-processor/internal/ingest/store"
	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
	"github.com/nationdonation-web/csv-processor/internal/ingest/usecase"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgconfig"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgmetrics"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgrouter"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkguid"
)

type Dependency struct {
	Config  pkgconfig.Config
	Router  *pkgrouter.Router
	Metrics *pkgmetrics.Recorder
	Context context.Context
	// UUID generates event IDs.
	UUID pkguid.StringID
	// RunID generates upload run IDs.
	RunID pkguid.NumberID
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New wires the ingest module onto the router and returns its closer.
func New(dep Dependency) (func(context.Context) error, error) {
	if dep.Config == nil || dep.Router == nil {
		return nil, errors.New("ingest: config and router are required")
	}
	if dep.Context == nil {
		dep.Context = context.Background()
	}
	if dep.UUID == nil {
		dep.UUID = pkguid.NewUUID()
	}
	if dep.RunID == nil {
		sf, err := pkguid.NewSnowflake(-1)
		if err != nil {
			return nil, fmt.Errorf("ingest: run id generator: %w", err)
		}
		dep.RunID = sf
	}
	if dep.Metrics == nil {
		dep.Metrics = pkgmetrics.NewRecorder()
	}

	s, err := loadSettings(dep.Config)
	if err != nil {
		return nil, fmt.Errorf("ingest: invalid config: %w", err)
	}

	var closers []closer

	client, clientClose, err := openClient(s)
	if err != nil {
		return nil, err
	}
	if clientClose != nil {
		closers = append(closers, closer{name: "client", fn: func(context.Context) error { return clientClose() }})
	}

	bucket, err := blob.OpenBucket(dep.Context, s.BucketURL)
	if err != nil {
		_ = closeAll(context.Background(), closers)
		return nil, fmt.Errorf("ingest: open bucket: %w", err)
	}
	closers = append(closers, closer{name: "bucket", fn: func(context.Context) error { return bucket.Close() }})

	notifiers := event.Notifiers{event.LogNotifier{}}
	if s.KafkaEnabled {
		kafka, err := event.NewKafkaNotifier(event.KafkaConfig{
			Brokers:      s.KafkaBrokers,
			Topic:        s.KafkaTopic,
			WriteTimeout: s.KafkaWriteTimeout,
		})
		if err != nil {
			_ = closeAll(context.Background(), closers)
			return nil, fmt.Errorf("ingest: %w", err)
		}
		notifiers = append(notifiers, kafka)
		closers = append(closers, closer{name: "kafka", fn: func(context.Context) error { return kafka.Close() }})
	}

	bus := event.NewBus(128)
	consumer := event.NewNotificationConsumer(bus, notifiers, event.ConsumerConfig{
		Workers:     s.NotifyWorkers,
		MaxRetries:  s.NotifyRetries,
		BaseBackoff: s.NotifyBackoff,
		Timeout:     s.NotifyTimeout,
	})
	consumer.Start()
	// The consumer drains the bus before the notifiers it writes to are closed.
	closers = append([]closer{{name: "notification consumer", fn: consumer.Stop}}, closers...)

	uploader := upload.NewUploader(client, upload.Options{
		Workers:      s.Workers,
		RetryBackoff: s.RetryBackoff,
		Observer: upload.Observers{
			upload.SlogObserver{},
			upload.MetricsObserver{Sink: dep.Metrics},
		},
	})

	uc := usecase.New(usecase.Dependency{
		Store: store.NewInMemoryStore(s.History),
		Normalizer: normalize.New(normalize.Options{
			NumericColumns: s.NumericColumns,
			DateColumn:     s.DateColumn,
		}),
		Uploader:   uploader,
		Sink:       sink.NewBlobSink(bucket, s.BucketURL, s.SinkPrefix),
		Events:     bus,
		Metrics:    dep.Metrics,
		RunID:      dep.RunID,
		EventID:    dep.UUID,
		Table:      s.Table,
		ChunkSizes: s.ChunkSizes,
	})

	inbound.RegisterHTTPEndpoint(dep.Router, uc, s.MaxBody)

	slog.InfoContext(dep.Context, "ingest module ready",
		"table", s.Table,
		"driver", s.Driver,
		"chunk_sizes", s.ChunkSizes,
		"workers", s.Workers,
		"kafka", s.KafkaEnabled,
	)

	return func(ctx context.Context) error {
		return closeAll(ctx, closers)
	}, nil
}

func openClient(s settings) (upload.Client, func() error, error) {
	switch s.Driver {
	case DriverPostgres:
		pg, err := outbound.OpenPostgres(outbound.PostgresConfig{
			DSN:          s.PostgresDSN,
			MaxOpenConns: s.PostgresConns,
			Timeout:      s.ClientTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ingest: %w", err)
		}
		return pg, pg.Close, nil
	default:
		rest, err := outbound.NewPostgREST(outbound.PostgRESTConfig{
			URL:          s.PostgRESTURL,
			Key:          s.PostgRESTKey,
			Schema:       s.PostgRESTSchema,
			Timeout:      s.ClientTimeout,
			RetryMax:     s.RetryMax,
			RetryWaitMin: s.RetryWaitMin,
			RetryWaitMax: s.RetryWaitMax,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ingest: %w", err)
		}
		return rest, nil, nil
	}
}

func closeAll(ctx context.Context, closers []closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if err := c.fn(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to close ingest resource", "name", c.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return result.ErrorOrNil()
}
