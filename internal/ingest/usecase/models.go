package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
)

// ProcessResult is the outcome of one successful run. A run with rows that
// never made it is still successful; PartialFailure tells the caller.
type ProcessResult struct {
	RunID string
	Table string
	State entity.RunState

	TotalRows      int
	SuccessfulRows int
	FailedRows     int
	RecoveredRows  int
	// UnconfirmedRows were sent in accepted chunks but not acknowledged by
	// the service. ShortChunks holds their spans.
	UnconfirmedRows int
	ShortChunks     []entity.Span

	ChunkSizes  []int
	FirstPass   entity.Report
	RetryLevels []upload.LevelReport
	FailedSpans []entity.Span
	Artifact    entity.Artifact
	Duration    time.Duration
	Cleaning    CleaningSummary
}

func (r ProcessResult) PartialFailure() bool {
	return r.State == entity.RunStatePartialFailure
}

type CleaningSummary struct {
	BlankAmountRows int
	Sums            map[string]decimal.Decimal
	Errors          map[string]int
}

type RunsResult struct {
	Runs     []entity.RunMeta
	Page     int
	PageSize int
	Total    int
}
