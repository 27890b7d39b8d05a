package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

// Client inserts rows into a table of the remote storage service.
//
// Implementations never panic on rejected data: every outcome, including
// transport errors and timeouts, is returned as a Result.
type Client interface {
	Insert(ctx context.Context, table string, rows []Row) Result
}

// Result is the outcome of one insert call.
type Result struct {
	// Accepted is the row count the service acknowledged; meaningful only
	// when Reported is set.
	Accepted int
	Reported bool
	Err      error
}

func Success(accepted int) Result {
	return Result{Accepted: accepted, Reported: true}
}

// SuccessUnreported is a success where the service did not say how many rows
// it stored; the uploader counts the whole chunk.
func SuccessUnreported() Result {
	return Result{}
}

func Failure(err error) Result {
	if err == nil {
		err = errors.New("insert failed without a reason")
	}
	return Result{Err: err}
}

func (r Result) OK() bool {
	return r.Err == nil
}

// ChunkError is a failed insert of one span.
type ChunkError struct {
	Table string
	Span  entity.Span
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upload %s rows %s: %v", e.Table, e.Span, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Field is one column of a Row.
type Field struct {
	Name  string
	Value entity.Value
}

// Row is the wire form of a record: a flat object whose keys keep the column
// order. Nulls encode as JSON null, dates as "YYYY-MM-DD".
type Row []Field

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Map returns the row as column name to native Go value, nil for nulls.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = f.Value.Native()
	}
	return m
}

// EncodeRows converts every record of set into its wire form.
func EncodeRows(set entity.RecordSet) []Row {
	rows := make([]Row, len(set.Records))
	for i, rec := range set.Records {
		row := make(Row, len(set.Columns))
		for j, col := range set.Columns {
			v := entity.Null()
			if j < len(rec) {
				v = rec[j]
			}
			row[j] = Field{Name: col, Value: v}
		}
		rows[i] = row
	}
	return rows
}
