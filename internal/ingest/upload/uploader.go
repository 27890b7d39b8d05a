package upload

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgroutine"
)

var errNotAttempted = errors.New("chunk was not attempted")

type Options struct {
	// Workers bounds concurrent inserts within one pass; 1 or less is sequential.
	Workers int
	// RetryBackoff is waited before every retry level.
	RetryBackoff time.Duration
	Observer     Observer
}

// Uploader sends a record set to a Client chunk by chunk.
//
// It holds no per-run state and is safe for concurrent use by several runs.
type Uploader struct {
	client   Client
	workers  int
	backoff  time.Duration
	observer Observer
}

func NewUploader(client Client, opts Options) *Uploader {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Uploader{
		client:   client,
		workers:  max(opts.Workers, 1),
		backoff:  max(opts.RetryBackoff, 0),
		observer: observer,
	}
}

// Upload inserts set into table in chunks of chunkSize rows.
//
// A failed chunk never stops the pass: its span is recorded in the report and
// the next chunk is attempted. The error is reserved for invalid arguments.
func (u *Uploader) Upload(ctx context.Context, set entity.RecordSet, table string, chunkSize int) (entity.Report, error) {
	return u.pass(ctx, set, table, chunkSize, 0, 0)
}

type outcome struct {
	accepted    int
	unconfirmed int
	err         error
}

// pass runs one chunking pass over set. base is the offset of set inside the
// run's record set and only shifts the spans handed to the observer.
func (u *Uploader) pass(ctx context.Context, set entity.RecordSet, table string, size, level, base int) (entity.Report, error) {
	spans, err := Plan(set.Len(), size)
	if err != nil {
		return entity.Report{}, err
	}

	outcomes := make([]outcome, len(spans))
	if u.workers == 1 || len(spans) < 2 {
		for i, sp := range spans {
			outcomes[i] = u.attempt(ctx, set, table, sp, size, level, base)
		}
	} else {
		mgr := pkgroutine.NewManager(u.workers)
		for i, sp := range spans {
			outcomes[i] = outcome{err: errNotAttempted}
			mgr.Go(ctx, func(ctx context.Context) error {
				outcomes[i] = u.attempt(ctx, set, table, sp, size, level, base)
				return nil
			})
		}
		if err := mgr.Wait(); err != nil {
			slog.ErrorContext(ctx, "upload worker failed", "table", table, "level", level, "error", err)
		}
	}

	report := entity.Report{
		ChunkSize:    size,
		TotalRows:    set.Len(),
		FailedChunks: []entity.Span{},
	}
	for i, oc := range outcomes {
		if oc.err != nil {
			report.FailedChunks = append(report.FailedChunks, spans[i])
			continue
		}
		report.SuccessfulRows += oc.accepted
		if oc.unconfirmed > 0 {
			report.UnconfirmedRows += oc.unconfirmed
			report.ShortChunks = append(report.ShortChunks, spans[i])
		}
	}

	return report, nil
}

func (u *Uploader) attempt(ctx context.Context, set entity.RecordSet, table string, sp entity.Span, size, level, base int) outcome {
	ev := ChunkEvent{
		Table:     table,
		Level:     level,
		Span:      sp.Offset(base),
		ChunkSize: size,
	}

	if err := ctx.Err(); err != nil {
		ev.Err = &ChunkError{Table: table, Span: ev.Span, Err: err}
		u.observer.ChunkAttempted(ctx, ev)
		return outcome{err: ev.Err}
	}

	started := time.Now()
	res := u.client.Insert(ctx, table, EncodeRows(set.Slice(sp.Start, sp.End)))
	ev.Duration = time.Since(started)

	if !res.OK() {
		ev.Err = &ChunkError{Table: table, Span: ev.Span, Err: res.Err}
		u.observer.ChunkAttempted(ctx, ev)
		return outcome{err: ev.Err}
	}

	ev.Accepted = sp.Len()
	if res.Reported && res.Accepted != sp.Len() {
		slog.WarnContext(ctx, "service acknowledged a different row count",
			"table", table, "start", ev.Span.Start, "end", ev.Span.End,
			"sent", sp.Len(), "acknowledged", res.Accepted)
		ev.Accepted = min(max(res.Accepted, 0), sp.Len())
	}
	u.observer.ChunkAttempted(ctx, ev)

	return outcome{accepted: ev.Accepted, unconfirmed: sp.Len() - ev.Accepted}
}
