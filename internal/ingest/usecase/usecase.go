package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/ingest/normalize"
	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgerror"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkglog"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkguid"
)

const publishTimeout = 5 * time.Second

type Store interface {
	CreateRun(ctx context.Context, meta entity.RunMeta) error
	UpdateRun(ctx context.Context, runID string, fn func(meta *entity.RunMeta)) error
	GetRun(ctx context.Context, runID string) (entity.RunMeta, error)
	ListRuns(ctx context.Context, page, pageSize int) ([]entity.RunMeta, int, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, r io.Reader) (entity.RecordSet, normalize.Stats, error)
}

type Uploader interface {
	Upload(ctx context.Context, set entity.RecordSet, table string, chunkSize int) (entity.Report, error)
	RetryFailedChunks(ctx context.Context, set entity.RecordSet, table string, report entity.Report, sizes []int) (upload.RetryOutcome, error)
}

type Sink interface {
	Persist(ctx context.Context, failed entity.RecordSet, table string, at time.Time) (entity.Artifact, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event entity.RunFinishedEvent) error
}

type Metrics interface {
	ObserveRun(table, state string, failedRows int, took time.Duration)
	ObserveCleaning(counts map[string]int)
}

type Clock interface {
	Now() time.Time
}

type Dependency struct {
	Store      Store
	Normalizer Normalizer
	Uploader   Uploader
	Sink       Sink
	Events     EventPublisher
	Metrics    Metrics
	Clock      Clock
	RunID      pkguid.NumberID
	EventID    pkguid.StringID

	Table string
	// ChunkSizes holds the first pass size followed by one size per retry level.
	ChunkSizes []int
}

type Usecase struct {
	store      Store
	normalizer Normalizer
	uploader   Uploader
	sink       Sink
	events     EventPublisher
	metrics    Metrics
	clock      Clock
	runID      pkguid.NumberID
	eventID    pkguid.StringID
	table      string
	chunkSizes []int
}

func New(dep Dependency) *Usecase {
	clock := dep.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Usecase{
		store:      dep.Store,
		normalizer: dep.Normalizer,
		uploader:   dep.Uploader,
		sink:       dep.Sink,
		events:     dep.Events,
		metrics:    dep.Metrics,
		clock:      clock,
		runID:      dep.RunID,
		eventID:    dep.EventID,
		table:      dep.Table,
		chunkSizes: dep.ChunkSizes,
	}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Process runs the whole pipeline over one CSV payload: normalize, upload in
// chunks, retry failed spans with smaller chunks and persist what is left.
//
// Once started a run is not canceled by the caller going away, so uploaded
// and persisted rows always add up. Any error returned is fatal for the run
// and carries its cause as the user message.
func (u *Usecase) Process(ctx context.Context, r io.Reader) (ProcessResult, error) {
	if u.store == nil || u.normalizer == nil || u.uploader == nil || u.sink == nil || u.runID == nil {
		return ProcessResult{}, pkgerror.NewServer(errors.New("missing dependency"))
	}
	if len(u.chunkSizes) < 2 {
		return ProcessResult{}, pkgerror.NewServer(errors.New("chunk sizes need a first pass and at least one retry level"))
	}

	ctx = context.WithoutCancel(ctx)

	run := &runTracker{
		id:      pkguid.FormatNumber(u.runID.Generate()),
		state:   entity.RunStatePlanning,
		started: u.clock.Now(),
		store:   u.store,
	}
	ctx = pkglog.SetRunID(ctx, run.id)

	if err := u.store.CreateRun(ctx, entity.RunMeta{
		ID:         run.id,
		Table:      u.table,
		State:      run.state,
		StartedAt:  run.started.Unix(),
		ChunkSizes: u.chunkSizes,
	}); err != nil {
		return ProcessResult{}, normalizeErr(err)
	}

	slog.InfoContext(ctx, "run started", "table", u.table, "chunk_sizes", u.chunkSizes)

	result, err := u.process(ctx, run, r)
	if err != nil {
		u.fail(ctx, run, err)
		return ProcessResult{}, pkgerror.NewFatal(err)
	}

	return result, nil
}

func (u *Usecase) process(ctx context.Context, run *runTracker, r io.Reader) (ProcessResult, error) {
	set, stats, err := u.normalizer.Normalize(ctx, r)
	if err != nil {
		return ProcessResult{}, err
	}

	if u.metrics != nil {
		u.metrics.ObserveCleaning(stats.CleaningErrors)
	}
	run.total = set.Len()
	run.update(ctx, func(m *entity.RunMeta) {
		m.TotalRows = set.Len()
		m.CleaningErrors = stats.TotalCleaningErrors()
		m.BlankAmountRows = stats.BlankAmountRows
	})

	if err := run.advance(ctx, entity.RunStateUploading); err != nil {
		return ProcessResult{}, err
	}

	first, err := u.uploader.Upload(ctx, set, u.table, u.chunkSizes[0])
	if err != nil {
		return ProcessResult{}, err
	}
	slog.InfoContext(ctx, "first pass finished",
		"total_rows", first.TotalRows,
		"successful_rows", first.SuccessfulRows,
		"failed_chunks", len(first.FailedChunks),
	)
	run.successful = first.SuccessfulRows
	run.unconfirmed = first.UnconfirmedRows

	result := ProcessResult{
		RunID:           run.id,
		Table:           u.table,
		TotalRows:       set.Len(),
		SuccessfulRows:  first.SuccessfulRows,
		UnconfirmedRows: first.UnconfirmedRows,
		ShortChunks:     first.ShortChunks,
		ChunkSizes:      u.chunkSizes,
		FirstPass:       first,
		FailedSpans:     []entity.Span{},
		Cleaning: CleaningSummary{
			BlankAmountRows: stats.BlankAmountRows,
			Sums:            stats.Sums,
			Errors:          stats.CleaningErrors,
		},
	}

	failed := entity.RecordSet{Columns: set.Columns}
	if len(first.FailedChunks) > 0 {
		if err := run.advance(ctx, entity.RunStateRetrying); err != nil {
			return ProcessResult{}, err
		}

		slog.InfoContext(ctx, "retrying failed chunks with smaller chunk size", "spans", len(first.FailedChunks))
		outcome, err := u.uploader.RetryFailedChunks(ctx, set, u.table, first, u.chunkSizes[1:])
		if err != nil {
			return ProcessResult{}, err
		}
		for range max(len(outcome.Levels)-1, 0) {
			if err := run.advance(ctx, entity.RunStateRetrying); err != nil {
				return ProcessResult{}, err
			}
		}

		result.SuccessfulRows = outcome.SuccessfulRows
		run.successful = outcome.SuccessfulRows
		result.RecoveredRows = outcome.RecoveredRows
		result.UnconfirmedRows = outcome.UnconfirmedRows
		result.ShortChunks = outcome.ShortChunks
		run.unconfirmed = outcome.UnconfirmedRows
		result.RetryLevels = outcome.Levels
		result.FailedSpans = outcome.FailedSpans
		failed = outcome.Failed
	}

	artifact, err := u.sink.Persist(ctx, failed, u.table, run.started)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("persist failed rows: %w", err)
	}
	result.Artifact = artifact
	result.FailedRows = failed.Len()
	if result.UnconfirmedRows > 0 {
		slog.WarnContext(ctx, "service acknowledged fewer rows than were sent",
			"unconfirmed_rows", result.UnconfirmedRows,
			"short_chunks", len(result.ShortChunks),
		)
	}

	final := entity.RunStateComplete
	if failed.Len() > 0 {
		final = entity.RunStatePartialFailure
	}
	if err := run.advance(ctx, final); err != nil {
		return ProcessResult{}, err
	}

	ended := u.clock.Now()
	result.State = final
	result.Duration = ended.Sub(run.started)

	run.update(ctx, func(m *entity.RunMeta) {
		m.EndedAt = ended.Unix()
		m.SuccessfulRows = result.SuccessfulRows
		m.FailedRows = result.FailedRows
		m.FailedChunks = len(first.FailedChunks)
		m.RetryLevels = len(result.RetryLevels)
		m.RecoveredRows = result.RecoveredRows
		m.UnconfirmedRows = result.UnconfirmedRows
		m.Artifact = artifact.URL
	})

	if artifact.Skipped {
		slog.InfoContext(ctx, "all chunks uploaded successfully", "rows", result.SuccessfulRows)
	}

	u.finish(ctx, run, result.SuccessfulRows, result.FailedRows, artifact.URL, "")

	return result, nil
}

func (u *Usecase) fail(ctx context.Context, run *runTracker, cause error) {
	slog.ErrorContext(ctx, "run failed", "state", run.state, "error", cause)

	if err := run.advance(ctx, entity.RunStateFailed); err != nil {
		slog.ErrorContext(ctx, "cannot mark run failed", "error", err)
	}

	lost := run.total - run.successful - run.unconfirmed
	run.update(ctx, func(m *entity.RunMeta) {
		m.Err = cause.Error()
		m.EndedAt = u.clock.Now().Unix()
		m.SuccessfulRows = run.successful
		m.UnconfirmedRows = run.unconfirmed
		m.FailedRows = lost
	})

	u.finish(ctx, run, run.successful, lost, "", cause.Error())
}

// finish reports a terminal run to metrics and the event bus. Publishing is
// best effort.
func (u *Usecase) finish(ctx context.Context, run *runTracker, successful, failed int, artifact, errMsg string) {
	ended := u.clock.Now()
	if u.metrics != nil {
		u.metrics.ObserveRun(u.table, string(run.state), failed, ended.Sub(run.started))
	}

	if u.events == nil {
		return
	}

	event := entity.RunFinishedEvent{
		RunID:           run.id,
		Table:           u.table,
		State:           run.state,
		TotalRows:       run.total,
		SuccessfulRows:  successful,
		FailedRows:      failed,
		UnconfirmedRows: run.unconfirmed,
		Artifact:        artifact,
		Err:             errMsg,
		OccurredAt:      ended.UnixMilli(),
	}
	if u.eventID != nil {
		event.EventID = u.eventID.Generate()
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := u.events.Publish(pctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "event_id", event.EventID, "error", err)
	}
}

func (u *Usecase) Run(ctx context.Context, runID string) (entity.RunMeta, error) {
	if runID == "" {
		return entity.RunMeta{}, pkgerror.NewInvalidInput(errors.New("run id is required"))
	}

	meta, err := u.store.GetRun(ctx, runID)
	if err != nil {
		return entity.RunMeta{}, mapStoreErr(err)
	}

	return meta, nil
}

func (u *Usecase) Runs(ctx context.Context, page, pageSize int) (RunsResult, error) {
	if page < 1 || pageSize < 1 {
		return RunsResult{}, pkgerror.NewInvalidInput(errors.New("invalid pagination"))
	}

	runs, total, err := u.store.ListRuns(ctx, page, pageSize)
	if err != nil {
		return RunsResult{}, normalizeErr(err)
	}

	return RunsResult{
		Runs:     runs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// runTracker owns the state of one run and mirrors it into the store.
type runTracker struct {
	id      string
	state   entity.RunState
	started time.Time
	store   Store

	total       int
	successful  int
	unconfirmed int
}

func (t *runTracker) advance(ctx context.Context, next entity.RunState) error {
	state, err := t.state.Advance(next)
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "run state changed", "from", t.state, "to", state)
	t.state = state
	t.update(ctx, func(m *entity.RunMeta) {
		m.State = state
	})

	return nil
}

func (t *runTracker) update(ctx context.Context, fn func(m *entity.RunMeta)) {
	if err := t.store.UpdateRun(ctx, t.id, fn); err != nil {
		slog.WarnContext(ctx, "failed to update run", "error", err)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, pkgerror.ErrNotFound) {
		return pkgerror.NewBusiness("run not found", pkgerror.CodeNotFound)
	}
	return normalizeErr(err)
}

func normalizeErr(err error) error {
	var perr *pkgerror.Error
	if errors.As(err, &perr) {
		return perr
	}
	return pkgerror.NewServer(err)
}
