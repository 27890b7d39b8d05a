package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgconfig"
)

const (
	DriverPostgREST = "postgrest"
	DriverPostgres  = "postgres"
)

// Defaults are the ingest config values used when neither the config file nor
// the environment sets them.
func Defaults() map[string]any {
	return map[string]any{
		"ingest.table":          "N8N_Test",
		"ingest.chunk_sizes":    "20000,10000",
		"ingest.workers":        1,
		"ingest.retry_backoff":  "0s",
		"ingest.max_body_bytes": 256 << 20,
		"ingest.history":        1000,

		"normalize.numeric_columns": "Amount,TotalAmount,Surcharge",
		"normalize.date_column":     "TransactionDatetime",

		"client.driver":                  DriverPostgREST,
		"client.timeout":                 "60s",
		"client.retry.max":               2,
		"client.retry.wait_min":          "500ms",
		"client.retry.wait_max":          "5s",
		"client.postgres.max_open_conns": 4,

		"sink.bucket_url": "file:///tmp/csv-processor?create_dir=true",
		"sink.prefix":     "failed",

		"notify.workers":             2,
		"notify.max_retries":         3,
		"notify.backoff":             "200ms",
		"notify.timeout":             "10s",
		"notify.kafka.enabled":       false,
		"notify.kafka.topic":         "csv-processor.runs",
		"notify.kafka.write_timeout": "10s",
	}
}

type settings struct {
	Table        string
	ChunkSizes   []int
	Workers      int
	RetryBackoff time.Duration
	MaxBody      int64
	History      int

	NumericColumns []string
	DateColumn     string

	Driver        string
	ClientTimeout time.Duration
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration

	PostgRESTURL    string
	PostgRESTKey    string
	PostgRESTSchema string
	PostgresDSN     string
	PostgresConns   int

	BucketURL  string
	SinkPrefix string

	NotifyWorkers     int
	NotifyRetries     int
	NotifyBackoff     time.Duration
	NotifyTimeout     time.Duration
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaWriteTimeout time.Duration
}

// loadSettings reads and validates the ingest configuration, reporting every
// problem at once.
func loadSettings(cfg pkgconfig.Config) (settings, error) {
	var result *multierror.Error

	sizes, err := cfg.GetIntArray("ingest.chunk_sizes")
	if err != nil {
		result = multierror.Append(result, err)
	}

	s := settings{
		Table:        cfg.GetString("ingest.table"),
		ChunkSizes:   sizes,
		Workers:      int(cfg.GetInt("ingest.workers")),
		RetryBackoff: cfg.GetDuration("ingest.retry_backoff"),
		MaxBody:      cfg.GetInt("ingest.max_body_bytes"),
		History:      int(cfg.GetInt("ingest.history")),

		NumericColumns: cfg.GetArray("normalize.numeric_columns"),
		DateColumn:     cfg.GetString("normalize.date_column"),

		Driver:        cfg.GetString("client.driver"),
		ClientTimeout: cfg.GetDuration("client.timeout"),
		RetryMax:      int(cfg.GetInt("client.retry.max")),
		RetryWaitMin:  cfg.GetDuration("client.retry.wait_min"),
		RetryWaitMax:  cfg.GetDuration("client.retry.wait_max"),

		PostgRESTURL:    cfg.GetString("client.postgrest.url"),
		PostgRESTKey:    cfg.GetString("client.postgrest.key"),
		PostgRESTSchema: cfg.GetString("client.postgrest.schema"),
		PostgresDSN:     cfg.GetString("client.postgres.dsn"),
		PostgresConns:   int(cfg.GetInt("client.postgres.max_open_conns")),

		BucketURL:  cfg.GetString("sink.bucket_url"),
		SinkPrefix: cfg.GetString("sink.prefix"),

		NotifyWorkers:     int(cfg.GetInt("notify.workers")),
		NotifyRetries:     int(cfg.GetInt("notify.max_retries")),
		NotifyBackoff:     cfg.GetDuration("notify.backoff"),
		NotifyTimeout:     cfg.GetDuration("notify.timeout"),
		KafkaEnabled:      cfg.GetBool("notify.kafka.enabled"),
		KafkaBrokers:      cfg.GetArray("notify.kafka.brokers"),
		KafkaTopic:        cfg.GetString("notify.kafka.topic"),
		KafkaWriteTimeout: cfg.GetDuration("notify.kafka.write_timeout"),
	}

	if s.Table == "" {
		result = multierror.Append(result, errors.New("ingest.table is required"))
	}
	if err == nil {
		switch {
		case len(s.ChunkSizes) < 2:
			result = multierror.Append(result, errors.New("ingest.chunk_sizes needs a first pass size and at least one retry size"))
		case s.ChunkSizes[0] < 1:
			result = multierror.Append(result, fmt.Errorf("ingest.chunk_sizes: first pass size %d is below 1", s.ChunkSizes[0]))
		default:
			if verr := upload.ValidateRetrySizes(s.ChunkSizes[0], s.ChunkSizes[1:]); verr != nil {
				result = multierror.Append(result, fmt.Errorf("ingest.chunk_sizes: %w", verr))
			}
		}
	}
	if s.RetryBackoff < 0 {
		result = multierror.Append(result, errors.New("ingest.retry_backoff must not be negative"))
	}

	switch s.Driver {
	case DriverPostgREST:
		if s.PostgRESTURL == "" || s.PostgRESTKey == "" {
			result = multierror.Append(result, errors.New("client.postgrest.url and client.postgrest.key are required"))
		}
	case DriverPostgres:
		if s.PostgresDSN == "" {
			result = multierror.Append(result, errors.New("client.postgres.dsn is required"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("client.driver %q is not one of %s, %s", s.Driver, DriverPostgREST, DriverPostgres))
	}

	if s.BucketURL == "" {
		result = multierror.Append(result, errors.New("sink.bucket_url is required"))
	}
	if s.KafkaEnabled && (len(s.KafkaBrokers) == 0 || s.KafkaTopic == "") {
		result = multierror.Append(result, errors.New("notify.kafka.brokers and notify.kafka.topic are required when kafka is enabled"))
	}

	return s, result.ErrorOrNil()
}
