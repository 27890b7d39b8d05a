package upload

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

var ErrInvalidRetryPlan = errors.New("invalid retry chunk sizes")

// LevelReport aggregates one retry level over every span retried in it.
// Its FailedChunks are absolute offsets in the run's record set.
type LevelReport struct {
	Level     int
	ChunkSize int
	Spans     int
	Report    entity.Report
}

type RetryOutcome struct {
	// SuccessfulRows is the first pass count plus every recovered row.
	SuccessfulRows int
	RecoveredRows  int
	// UnconfirmedRows counts rows of accepted chunks the service did not
	// acknowledge, over the first pass and every level. They are neither
	// retried nor part of Failed, so retrying cannot insert them twice.
	UnconfirmedRows int
	// ShortChunks are the absolute spans those rows belong to.
	ShortChunks []entity.Span
	// Failed holds the rows of FailedSpans in original order.
	Failed      entity.RecordSet
	FailedSpans []entity.Span
	Levels      []LevelReport
}

// ValidateRetrySizes checks that sizes are usable as retry levels after a
// pass of firstSize rows per chunk: at least one level, each at least 1 and
// each strictly smaller than the one before.
func ValidateRetrySizes(firstSize int, sizes []int) error {
	if len(sizes) == 0 {
		return fmt.Errorf("%w: at least one retry level is required", ErrInvalidRetryPlan)
	}

	prev := firstSize
	for i, size := range sizes {
		if size < 1 {
			return fmt.Errorf("%w: level %d size %d is below 1", ErrInvalidRetryPlan, i+1, size)
		}
		if size >= prev {
			return fmt.Errorf("%w: level %d size %d is not smaller than %d", ErrInvalidRetryPlan, i+1, size, prev)
		}
		prev = size
	}

	return nil
}

// RetryFailedChunks re-uploads the failed spans of report with the chunk
// sizes of sizes, one retry level per size. Each level retries only what the
// previous level left failed, in span order. Rows still failing after the
// last level, or when ctx ends between levels, are returned in Failed.
func (u *Uploader) RetryFailedChunks(ctx context.Context, set entity.RecordSet, table string, report entity.Report, sizes []int) (RetryOutcome, error) {
	if err := ValidateRetrySizes(report.ChunkSize, sizes); err != nil {
		return RetryOutcome{}, err
	}

	out := RetryOutcome{
		SuccessfulRows:  report.SuccessfulRows,
		UnconfirmedRows: report.UnconfirmedRows,
		ShortChunks:     slices.Clone(report.ShortChunks),
	}
	pending := slices.Clone(report.FailedChunks)

	for i, size := range sizes {
		if len(pending) == 0 {
			break
		}

		level := i + 1
		if err := u.wait(ctx); err != nil {
			slog.WarnContext(ctx, "retry stopped", "level", level, "pending_spans", len(pending), "error", err)
			break
		}

		lr := LevelReport{
			Level:     level,
			ChunkSize: size,
			Spans:     len(pending),
			Report:    entity.Report{ChunkSize: size, FailedChunks: []entity.Span{}},
		}
		for _, sp := range pending {
			rep, err := u.pass(ctx, set.Slice(sp.Start, sp.End), table, size, level, sp.Start)
			if err != nil {
				return RetryOutcome{}, err
			}
			u.observer.SpanRetried(ctx, level, sp, rep)

			lr.Report.TotalRows += rep.TotalRows
			lr.Report.SuccessfulRows += rep.SuccessfulRows
			lr.Report.UnconfirmedRows += rep.UnconfirmedRows
			for _, failed := range rep.FailedChunks {
				lr.Report.FailedChunks = append(lr.Report.FailedChunks, failed.Offset(sp.Start))
			}
			for _, short := range rep.ShortChunks {
				lr.Report.ShortChunks = append(lr.Report.ShortChunks, short.Offset(sp.Start))
			}
		}

		out.RecoveredRows += lr.Report.SuccessfulRows
		out.UnconfirmedRows += lr.Report.UnconfirmedRows
		out.ShortChunks = append(out.ShortChunks, lr.Report.ShortChunks...)
		out.Levels = append(out.Levels, lr)
		pending = slices.Clone(lr.Report.FailedChunks)
	}

	byStart := func(a, b entity.Span) int {
		return cmp.Compare(a.Start, b.Start)
	}
	slices.SortFunc(pending, byStart)
	slices.SortFunc(out.ShortChunks, byStart)

	out.SuccessfulRows += out.RecoveredRows
	out.FailedSpans = pending
	out.Failed = set.Gather(pending)

	return out, nil
}

func (u *Uploader) wait(ctx context.Context) error {
	if u.backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(u.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
