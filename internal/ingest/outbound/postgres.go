package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
)

// maxBindParams is the most placeholders one Postgres statement can carry.
const maxBindParams = 65535

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	Timeout      time.Duration
}

// Postgres inserts rows straight into a table with gorm, one transaction per
// chunk so a rejected row rolls back its whole chunk.
type Postgres struct {
	db      *gorm.DB
	timeout time.Duration
}

func OpenPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("postgres: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return NewPostgres(db, cfg.Timeout), nil
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

func (p *Postgres) Insert(ctx context.Context, table string, rows []upload.Row) upload.Result {
	if len(rows) == 0 {
		return upload.Success(0)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	values := make([]map[string]any, len(rows))
	for i, row := range rows {
		values[i] = row.Map()
	}

	var affected int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(table).CreateInBatches(values, insertBatchSize(len(rows[0])))
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return upload.Failure(fmt.Errorf("postgres: insert into %s: %w", table, err))
	}

	return upload.Success(int(affected))
}

// insertBatchSize is the number of rows of the given width that fit in one
// INSERT. A chunk larger than that is split into several statements inside
// its transaction.
func insertBatchSize(columns int) int {
	if columns < 1 {
		return maxBindParams
	}
	return max(maxBindParams/columns, 1)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ upload.Client = (*Postgres)(nil)
