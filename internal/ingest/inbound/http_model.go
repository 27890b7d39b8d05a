package inbound

import (
	"github.com/shopspring/decimal"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/ingest/usecase"
)

type RetryLevel struct {
	Level          int           `json:"level"`
	ChunkSize      int           `json:"chunk_size"`
	Spans          int           `json:"spans"`
	TotalRows      int           `json:"total_rows"`
	SuccessfulRows int           `json:"successful_rows"`
	Unconfirmed    int           `json:"unconfirmed_rows"`
	FailedChunks   []entity.Span `json:"failed_chunks"`
}

type Artifact struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Rows int    `json:"rows"`
}

type ProcessResponse struct {
	RunID          string                     `json:"run_id"`
	Table          string                     `json:"table"`
	State          entity.RunState            `json:"state"`
	PartialFailure bool                       `json:"partial_failure"`
	TotalRows      int                        `json:"total_rows"`
	SuccessfulRows int                        `json:"successful_rows"`
	FailedRows     int                        `json:"failed_rows"`
	RecoveredRows  int                        `json:"recovered_rows"`
	Unconfirmed    int                        `json:"unconfirmed_rows"`
	ShortChunks    []entity.Span              `json:"short_chunks,omitempty"`
	ChunkSizes     []int                      `json:"chunk_sizes"`
	FailedChunks   []entity.Span              `json:"failed_chunks"`
	RetryLevels    []RetryLevel               `json:"retry_levels"`
	FailedSpans    []entity.Span              `json:"failed_spans"`
	Artifact       *Artifact                  `json:"failure_artifact,omitempty"`
	BlankAmount    int                        `json:"blank_amount_rows"`
	CleaningErrors map[string]int             `json:"cleaning_errors"`
	Sums           map[string]decimal.Decimal `json:"sums"`
	DurationMS     int64                      `json:"duration_ms"`
}

func (ProcessResponse) Message() string {
	return "CSV processed successfully"
}

func toProcessResponse(res usecase.ProcessResult) ProcessResponse {
	levels := make([]RetryLevel, 0, len(res.RetryLevels))
	for _, lr := range res.RetryLevels {
		levels = append(levels, RetryLevel{
			Level:          lr.Level,
			ChunkSize:      lr.ChunkSize,
			Spans:          lr.Spans,
			TotalRows:      lr.Report.TotalRows,
			SuccessfulRows: lr.Report.SuccessfulRows,
			Unconfirmed:    lr.Report.UnconfirmedRows,
			FailedChunks:   lr.Report.FailedChunks,
		})
	}

	resp := ProcessResponse{
		RunID:          res.RunID,
		Table:          res.Table,
		State:          res.State,
		PartialFailure: res.PartialFailure(),
		TotalRows:      res.TotalRows,
		SuccessfulRows: res.SuccessfulRows,
		FailedRows:     res.FailedRows,
		RecoveredRows:  res.RecoveredRows,
		Unconfirmed:    res.UnconfirmedRows,
		ShortChunks:    res.ShortChunks,
		ChunkSizes:     res.ChunkSizes,
		FailedChunks:   res.FirstPass.FailedChunks,
		RetryLevels:    levels,
		FailedSpans:    res.FailedSpans,
		BlankAmount:    res.Cleaning.BlankAmountRows,
		CleaningErrors: res.Cleaning.Errors,
		Sums:           res.Cleaning.Sums,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if !res.Artifact.Skipped && res.Artifact.Key != "" {
		resp.Artifact = &Artifact{
			Key:  res.Artifact.Key,
			URL:  res.Artifact.URL,
			Rows: res.Artifact.Rows,
		}
	}

	return resp
}

type Run struct {
	ID              string          `json:"id"`
	Table           string          `json:"table"`
	State           entity.RunState `json:"state"`
	PartialFailure  bool            `json:"partial_failure"`
	Error           string          `json:"error,omitempty"`
	StartedAt       int64           `json:"started_at"`
	EndedAt         int64           `json:"ended_at,omitempty"`
	TotalRows       int             `json:"total_rows"`
	SuccessfulRows  int             `json:"successful_rows"`
	FailedRows      int             `json:"failed_rows"`
	RecoveredRows   int             `json:"recovered_rows"`
	UnconfirmedRows int             `json:"unconfirmed_rows"`
	ChunkSizes      []int           `json:"chunk_sizes"`
	FailedChunks    int             `json:"failed_chunks"`
	RetryLevels     int             `json:"retry_levels"`
	Artifact        string          `json:"failure_artifact,omitempty"`
	CleaningErrors  int             `json:"cleaning_errors"`
	BlankAmountRows int             `json:"blank_amount_rows"`
}

func toRun(meta entity.RunMeta) Run {
	return Run{
		ID:              meta.ID,
		Table:           meta.Table,
		State:           meta.State,
		PartialFailure:  meta.PartialFailure(),
		Error:           meta.Err,
		StartedAt:       meta.StartedAt,
		EndedAt:         meta.EndedAt,
		TotalRows:       meta.TotalRows,
		SuccessfulRows:  meta.SuccessfulRows,
		FailedRows:      meta.FailedRows,
		RecoveredRows:   meta.RecoveredRows,
		UnconfirmedRows: meta.UnconfirmedRows,
		ChunkSizes:      meta.ChunkSizes,
		FailedChunks:    meta.FailedChunks,
		RetryLevels:     meta.RetryLevels,
		Artifact:        meta.Artifact,
		CleaningErrors:  meta.CleaningErrors,
		BlankAmountRows: meta.BlankAmountRows,
	}
}

type RunsResponse struct {
	Runs     []Run `json:"runs"`
	page     int
	pageSize int
	total    int
}

func (r RunsResponse) Meta() map[string]any {
	return map[string]any{
		"page":      r.page,
		"page_size": r.pageSize,
		"total":     r.total,
	}
}
