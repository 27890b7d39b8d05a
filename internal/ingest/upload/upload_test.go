package upload

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

type fakeClient struct {
	mu       sync.Mutex
	fail     func(sp entity.Span) bool
	report   func(n int) Result
	calls    []entity.Span
	accepted []int
}

func rowID(r Row) int {
	return int(r[0].Value.Num().IntPart())
}

func (f *fakeClient) Insert(_ context.Context, _ string, rows []Row) Result {
	sp := entity.Span{Start: rowID(rows[0]), End: rowID(rows[0]) + len(rows)}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, sp)
	if f.fail != nil && f.fail(sp) {
		return Failure(errors.New("rejected by service"))
	}
	for _, r := range rows {
		f.accepted = append(f.accepted, rowID(r))
	}
	if f.report != nil {
		return f.report(len(rows))
	}
	return Success(len(rows))
}

type recordingObserver struct {
	mu      sync.Mutex
	chunks  []ChunkEvent
	retried []entity.Span
}

func (o *recordingObserver) ChunkAttempted(_ context.Context, ev ChunkEvent) {
	o.mu.Lock()
	o.chunks = append(o.chunks, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) SpanRetried(_ context.Context, _ int, sp entity.Span, _ entity.Report) {
	o.mu.Lock()
	o.retried = append(o.retried, sp)
	o.mu.Unlock()
}

func idSet(n int) entity.RecordSet {
	set := entity.RecordSet{Columns: []string{"ID", "Amount"}}
	for i := 0; i < n; i++ {
		set.Records = append(set.Records, entity.Record{
			entity.Number(decimal.NewFromInt(int64(i))),
			entity.Null(),
		})
	}
	return set
}

func setIDs(set entity.RecordSet) []int {
	ids := make([]int, len(set.Records))
	for i, r := range set.Records {
		ids[i] = int(r[0].Num().IntPart())
	}
	return ids
}

func TestPlanCoversEveryRowOnce(t *testing.T) {
	for n := 0; n <= 60; n++ {
		for size := 1; size <= 13; size++ {
			spans, err := Plan(n, size)
			if err != nil {
				t.Fatalf("Plan(%d,%d): %v", n, size, err)
			}

			next := 0
			for i, sp := range spans {
				if sp.Start != next {
					t.Fatalf("Plan(%d,%d): span %d starts at %d, want %d", n, size, i, sp.Start, next)
				}
				if sp.Len() < 1 || sp.Len() > size {
					t.Fatalf("Plan(%d,%d): span %d has size %d", n, size, i, sp.Len())
				}
				if i < len(spans)-1 && sp.Len() != size {
					t.Fatalf("Plan(%d,%d): non-final span %d has size %d", n, size, i, sp.Len())
				}
				next = sp.End
			}
			if next != n {
				t.Fatalf("Plan(%d,%d): covered up to %d", n, size, next)
			}
		}
	}
}

func TestPlanRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Plan(10, size); !errors.Is(err, ErrInvalidChunkSize) {
			t.Fatalf("size %d: expected ErrInvalidChunkSize, got %v", size, err)
		}
	}

	u := NewUploader(&fakeClient{}, Options{})
	if _, err := u.Upload(context.Background(), idSet(3), "t", 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize from Upload, got %v", err)
	}
}

func TestUploadMiddleChunkFails(t *testing.T) {
	client := &fakeClient{fail: func(sp entity.Span) bool { return sp.Start == 20000 && sp.Len() == 20000 }}
	u := NewUploader(client, Options{})

	report, err := u.Upload(context.Background(), idSet(45000), "N8N_Test", 20000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []entity.Span{{Start: 0, End: 20000}, {Start: 20000, End: 40000}, {Start: 40000, End: 45000}}
	if !slices.Equal(client.calls, want) {
		t.Fatalf("unexpected chunks %v", client.calls)
	}
	if report.SuccessfulRows != 25000 || report.TotalRows != 45000 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !slices.Equal(report.FailedChunks, []entity.Span{{Start: 20000, End: 40000}}) {
		t.Fatalf("unexpected failed chunks %v", report.FailedChunks)
	}

	out, err := u.RetryFailedChunks(context.Background(), idSet(45000), "N8N_Test", report, []int{10000})
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	retried := client.calls[3:]
	if !slices.Equal(retried, []entity.Span{{Start: 20000, End: 30000}, {Start: 30000, End: 40000}}) {
		t.Fatalf("unexpected retry chunks %v", retried)
	}
	if out.SuccessfulRows != 45000 || out.RecoveredRows != 20000 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Failed.Len() != 0 || len(out.FailedSpans) != 0 {
		t.Fatalf("expected no permanent failures, got %v", out.FailedSpans)
	}
	if len(out.Levels) != 1 || out.Levels[0].ChunkSize != 10000 || out.Levels[0].Spans != 1 {
		t.Fatalf("unexpected levels %+v", out.Levels)
	}
}

func TestUploadAccountingInvariant(t *testing.T) {
	fail := func(sp entity.Span) bool { return (sp.Start/7)%3 == 1 }

	for _, workers := range []int{1, 4} {
		for _, n := range []int{0, 1, 6, 7, 50, 99} {
			for _, size := range []int{1, 7, 10, 100} {
				u := NewUploader(&fakeClient{fail: fail}, Options{Workers: workers})
				report, err := u.Upload(context.Background(), idSet(n), "t", size)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if report.SuccessfulRows+report.FailedRows() != n {
					t.Fatalf("workers=%d n=%d size=%d: %d + %d != %d",
						workers, n, size, report.SuccessfulRows, report.FailedRows(), n)
				}
				if !slices.IsSortedFunc(report.FailedChunks, func(a, b entity.Span) int { return a.Start - b.Start }) {
					t.Fatalf("failed chunks out of order: %v", report.FailedChunks)
				}
			}
		}
	}
}

func TestRetryEveryLevelFails(t *testing.T) {
	client := &fakeClient{fail: func(entity.Span) bool { return true }}
	obs := &recordingObserver{}
	u := NewUploader(client, Options{Observer: obs})
	set := idSet(45)

	report, err := u.Upload(context.Background(), set, "t", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := u.RetryFailedChunks(context.Background(), set, "t", report, []int{10, 4, 1})
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	if out.SuccessfulRows != 0 || out.RecoveredRows != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !slices.Equal(setIDs(out.Failed), setIDs(set)) {
		t.Fatalf("failed rows are not the original set in order")
	}
	if len(out.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(out.Levels))
	}

	prev := map[int]int{}
	for _, ev := range obs.chunks {
		if ev.OK() {
			t.Fatalf("unexpected success %+v", ev)
		}
		if ev.Span.Len() > ev.ChunkSize {
			t.Fatalf("span %v larger than chunk size %d", ev.Span, ev.ChunkSize)
		}
		prev[ev.Level] = ev.ChunkSize
	}
	for level := 1; level < len(prev); level++ {
		if prev[level] >= prev[level-1] {
			t.Fatalf("chunk size did not shrink from level %d to %d: %v", level-1, level, prev)
		}
	}
}

func TestRetryPreservesRowOrder(t *testing.T) {
	set := idSet(100)
	// rows 13 and 57..59 are poison: every chunk containing one of them fails.
	poison := func(sp entity.Span) bool {
		return (sp.Start <= 13 && 13 < sp.End) || (sp.Start < 60 && 57 < sp.End)
	}
	client := &fakeClient{fail: poison}
	u := NewUploader(client, Options{Workers: 3})

	report, err := u.Upload(context.Background(), set, "t", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := u.RetryFailedChunks(context.Background(), set, "t", report, []int{5, 2})
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got := setIDs(out.Failed)
	if want := []int{12, 13, 57, 58, 59}; !slices.Equal(got, want) {
		t.Fatalf("failed rows %v, want %v", got, want)
	}

	all := append(slices.Clone(client.accepted), got...)
	slices.Sort(all)
	if !slices.Equal(all, setIDs(set)) {
		t.Fatalf("accepted and failed rows do not partition the set")
	}
	if out.SuccessfulRows != 95 {
		t.Fatalf("unexpected successful rows %d", out.SuccessfulRows)
	}
}

func TestRetryRejectsNonShrinkingSizes(t *testing.T) {
	u := NewUploader(&fakeClient{}, Options{})
	report := entity.Report{ChunkSize: 20000, TotalRows: 10, FailedChunks: []entity.Span{{Start: 0, End: 10}}}

	for _, sizes := range [][]int{nil, {20000}, {30000}, {10000, 10000}, {10000, 12000}, {10000, 0}} {
		if _, err := u.RetryFailedChunks(context.Background(), idSet(10), "t", report, sizes); !errors.Is(err, ErrInvalidRetryPlan) {
			t.Fatalf("sizes %v: expected ErrInvalidRetryPlan, got %v", sizes, err)
		}
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	client := &fakeClient{}
	u := NewUploader(client, Options{RetryBackoff: time.Hour})
	report := entity.Report{ChunkSize: 10, TotalRows: 10, FailedChunks: []entity.Span{{Start: 0, End: 10}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := u.RetryFailedChunks(ctx, idSet(10), "t", report, []int{5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("expected no inserts, got %v", client.calls)
	}
	if out.Failed.Len() != 10 || len(out.Levels) != 0 {
		t.Fatalf("expected every row pending, got %+v", out)
	}
}

func TestUploadCanceledContextSkipsInserts(t *testing.T) {
	client := &fakeClient{}
	u := NewUploader(client, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := u.Upload(ctx, idSet(30), "t", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 0 || report.FailedRows() != 30 {
		t.Fatalf("expected all chunks failed without inserts, got %+v calls=%v", report, client.calls)
	}

	var cerr *ChunkError
	obs := &recordingObserver{}
	NewUploader(client, Options{Observer: obs}).Upload(ctx, idSet(5), "t", 5)
	if len(obs.chunks) != 1 || !errors.As(obs.chunks[0].Err, &cerr) || !errors.Is(cerr, context.Canceled) {
		t.Fatalf("expected canceled chunk error, got %+v", obs.chunks)
	}
}

func TestUploadClampsReportedCount(t *testing.T) {
	cases := []struct {
		name   string
		result func(n int) Result
		want   int
	}{
		{"unreported", func(int) Result { return SuccessUnreported() }, 20},
		{"over", func(n int) Result { return Success(n + 5) }, 20},
		{"under", func(n int) Result { return Success(n - 1) }, 18},
	}

	for _, tc := range cases {
		u := NewUploader(&fakeClient{report: tc.result}, Options{})
		report, err := u.Upload(context.Background(), idSet(20), "t", 10)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if report.SuccessfulRows != tc.want {
			t.Fatalf("%s: successful rows %d, want %d", tc.name, report.SuccessfulRows, tc.want)
		}
		if got := report.SuccessfulRows + report.UnconfirmedRows + report.FailedRows(); got != report.TotalRows {
			t.Fatalf("%s: accounted %d rows of %d", tc.name, got, report.TotalRows)
		}
	}
}

func TestUploadReportsShortAcknowledgedChunks(t *testing.T) {
	client := &fakeClient{report: func(n int) Result {
		if n == 7 {
			return Success(n - 3)
		}
		return Success(n)
	}}

	report, err := NewUploader(client, Options{Workers: 3}).Upload(context.Background(), idSet(27), "t", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.SuccessfulRows != 24 || report.UnconfirmedRows != 3 || len(report.FailedChunks) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !slices.Equal(report.ShortChunks, []entity.Span{{Start: 20, End: 27}}) {
		t.Fatalf("unexpected short chunks %v", report.ShortChunks)
	}
}

func TestRetryCarriesUnconfirmedRows(t *testing.T) {
	client := &fakeClient{
		fail: func(sp entity.Span) bool { return sp.Len() == 10 && sp.Start == 10 },
		report: func(n int) Result {
			if n == 5 {
				return Success(n - 1)
			}
			return Success(n)
		},
	}
	u := NewUploader(client, Options{})
	set := idSet(30)

	first, err := u.Upload(context.Background(), set, "t", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := u.RetryFailedChunks(context.Background(), set, "t", first, []int{5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.SuccessfulRows != 28 || out.UnconfirmedRows != 2 || out.Failed.Len() != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !slices.Equal(out.ShortChunks, []entity.Span{{Start: 10, End: 15}, {Start: 15, End: 20}}) {
		t.Fatalf("unexpected short chunks %v", out.ShortChunks)
	}
	if got := out.SuccessfulRows + out.UnconfirmedRows + out.Failed.Len(); got != set.Len() {
		t.Fatalf("accounted %d rows of %d", got, set.Len())
	}
}

func TestRowJSONKeepsOrderAndNulls(t *testing.T) {
	set := entity.RecordSet{
		Columns: []string{"Name", "Amount", "TotalAmount", "Surcharge", "TransactionDatetime"},
		Records: []entity.Record{{
			entity.String("Jane"),
			entity.Null(),
			entity.Null(),
			entity.Null(),
			entity.Date(time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)),
		}, {
			entity.String("Joe"),
			entity.Number(decimal.RequireFromString("1234.5")),
		}},
	}

	got, err := json.Marshal(EncodeRows(set))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `[{"Name":"Jane","Amount":null,"TotalAmount":null,"Surcharge":null,"TransactionDatetime":"2025-01-02"},` +
		`{"Name":"Joe","Amount":1234.5,"TotalAmount":null,"Surcharge":null,"TransactionDatetime":null}]`
	if string(got) != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}

	m := EncodeRows(set)[0].Map()
	if m["Amount"] != nil || m["Name"] != "Jane" {
		t.Fatalf("unexpected map %v", m)
	}
}
