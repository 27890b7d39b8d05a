package normalize

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgerror"
)

const maxSamples = 5

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrRaggedRow      = errors.New("row has more fields than the header")
)

var (
	DefaultNumericColumns = []string{"Amount", "TotalAmount", "Surcharge"}

	DefaultDateColumn = "TransactionDatetime"

	// DefaultDateLayouts are tried in order; the first that parses wins.
	DefaultDateLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
		"1/2/2006 15:04:05",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 15:04",
		"1/2/2006 3:04 PM",
		"1/2/2006",
		"Jan 2, 2006 15:04:05",
		"Jan 2, 2006",
		"2 Jan 2006",
		"20060102",
	}

	// nullTokens mirrors the default missing-value markers of pandas.
	nullTokens = []string{
		"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
		"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a",
		"nan", "null",
	}
)

type Options struct {
	NumericColumns []string
	DateColumn     string
	DateLayouts    []string
}

// CleaningError is a cell that could not be coerced and was set to null.
type CleaningError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *CleaningError) Error() string {
	return fmt.Sprintf("row %d column %s: cannot clean %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *CleaningError) Unwrap() error {
	return e.Err
}

// Stats summarizes one normalization.
type Stats struct {
	Rows int
	// BlankAmountRows counts rows where every numeric column is null. They
	// are kept.
	BlankAmountRows int
	Sums            map[string]decimal.Decimal
	CleaningErrors  map[string]int
	// Samples holds up to five cleaning errors per column, first seen first.
	Samples []CleaningError
}

func (s Stats) TotalCleaningErrors() int {
	n := 0
	for _, c := range s.CleaningErrors {
		n += c
	}
	return n
}

type Normalizer struct {
	numeric []string
	date    string
	layouts []string
}

func New(opts Options) *Normalizer {
	n := &Normalizer{
		numeric: opts.NumericColumns,
		date:    opts.DateColumn,
		layouts: opts.DateLayouts,
	}
	if len(n.numeric) == 0 {
		n.numeric = DefaultNumericColumns
	}
	if n.date == "" {
		n.date = DefaultDateColumn
	}
	if len(n.layouts) == 0 {
		n.layouts = DefaultDateLayouts
	}
	return n
}

type columnKind int

const (
	columnText columnKind = iota
	columnNumeric
	columnDate
)

// Normalize reads the whole CSV payload from r. The first record is the
// header. A payload without a header, a header lacking a cleaned column or a
// row longer than the header fails; short rows are padded with nulls.
func (n *Normalizer) Normalize(ctx context.Context, r io.Reader) (entity.RecordSet, Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return entity.RecordSet{}, Stats{}, pkgerror.ErrEmptyPayload
	}
	if err != nil {
		return entity.RecordSet{}, Stats{}, fmt.Errorf("read csv header: %w", err)
	}

	columns := dedupeColumns(header)
	if len(columns) == 1 && columns[0] == "" {
		return entity.RecordSet{}, Stats{}, pkgerror.ErrEmptyPayload
	}
	if err := n.checkRequired(columns); err != nil {
		return entity.RecordSet{}, Stats{}, err
	}

	kinds := make([]columnKind, len(columns))
	numericIdx := make([]int, 0, len(n.numeric))
	for i, col := range columns {
		switch {
		case slices.Contains(n.numeric, col):
			kinds[i] = columnNumeric
			numericIdx = append(numericIdx, i)
		case col == n.date:
			kinds[i] = columnDate
		}
	}

	stats := Stats{
		Sums:           make(map[string]decimal.Decimal, len(numericIdx)),
		CleaningErrors: make(map[string]int),
	}
	for _, i := range numericIdx {
		stats.Sums[columns[i]] = decimal.Zero
	}

	set := entity.RecordSet{Columns: columns, Records: []entity.Record{}}
	for row := 0; ; row++ {
		if row%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return entity.RecordSet{}, Stats{}, err
			}
		}

		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entity.RecordSet{}, Stats{}, fmt.Errorf("read csv row %d: %w", row, err)
		}
		if len(fields) > len(columns) {
			line, _ := reader.FieldPos(0)
			return entity.RecordSet{}, Stats{}, fmt.Errorf("%w: expected %d fields in line %d, saw %d", ErrRaggedRow, len(columns), line, len(fields))
		}

		rec := make(entity.Record, len(columns))
		for i := range columns {
			raw := ""
			if i < len(fields) {
				raw = fields[i]
			}

			var cerr *CleaningError
			switch kinds[i] {
			case columnNumeric:
				rec[i], cerr = parseNumber(raw)
			case columnDate:
				rec[i], cerr = n.parseDate(raw)
			default:
				rec[i] = parseText(raw)
			}

			if cerr != nil {
				cerr.Row, cerr.Column = row, columns[i]
				stats.record(*cerr)
			}
		}

		blank := len(numericIdx) > 0
		for _, i := range numericIdx {
			if rec[i].IsNull() {
				continue
			}
			blank = false
			stats.Sums[columns[i]] = stats.Sums[columns[i]].Add(rec[i].Num())
		}
		if blank {
			stats.BlankAmountRows++
		}

		set.Records = append(set.Records, rec)
	}
	stats.Rows = set.Len()

	n.logStats(ctx, stats)

	return set, stats, nil
}

func (n *Normalizer) checkRequired(columns []string) error {
	var missing []string
	for _, col := range append(slices.Clone(n.numeric), n.date) {
		if !slices.Contains(columns, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Stats) record(cerr CleaningError) {
	s.CleaningErrors[cerr.Column]++
	if s.CleaningErrors[cerr.Column] <= maxSamples {
		s.Samples = append(s.Samples, cerr)
	}
}

func (n *Normalizer) logStats(ctx context.Context, stats Stats) {
	attrs := []any{
		"rows", stats.Rows,
		"blank_amount_rows", stats.BlankAmountRows,
	}
	for _, col := range n.numeric {
		attrs = append(attrs, "sum_"+col, stats.Sums[col].String())
	}
	slog.InfoContext(ctx, "normalized csv", attrs...)

	if stats.BlankAmountRows > 0 {
		slog.WarnContext(ctx, "rows without any amount", "count", stats.BlankAmountRows)
	}
	for _, s := range stats.Samples {
		slog.WarnContext(ctx, "value set to null", "row", s.Row, "column", s.Column, "value", s.Value, "error", s.Err)
	}
	if c := stats.CleaningErrors[n.date]; c > 0 {
		slog.WarnContext(ctx, "dates could not be converted", "column", n.date, "count", c, "rows", stats.Rows)
	}
}

func isNullToken(raw string) bool {
	return slices.Contains(nullTokens, raw) || strings.TrimSpace(raw) == ""
}

func parseText(raw string) entity.Value {
	if isNullToken(raw) {
		return entity.Null()
	}
	return entity.String(raw)
}

var currencyReplacer = strings.NewReplacer("$", "", ",", "")

func parseNumber(raw string) (entity.Value, *CleaningError) {
	if isNullToken(raw) {
		return entity.Null(), nil
	}

	cleaned := strings.TrimSpace(currencyReplacer.Replace(raw))
	if isNullToken(cleaned) {
		return entity.Null(), nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		if _, ferr := strconv.ParseFloat(cleaned, 64); ferr == nil {
			// inf and nan spellings parse as floats but have no decimal form.
			err = errors.New("not a finite number")
		}
		return entity.Null(), &CleaningError{Value: raw, Err: err}
	}

	return entity.Number(d), nil
}

func (n *Normalizer) parseDate(raw string) (entity.Value, *CleaningError) {
	if isNullToken(raw) {
		return entity.Null(), nil
	}

	s := strings.TrimSpace(raw)
	for _, layout := range n.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return entity.Date(t), nil
		}
	}

	return entity.Null(), &CleaningError{Value: raw, Err: errors.New("unrecognized date format")}
}

// dedupeColumns strips a UTF-8 BOM and renames repeated headers the way
// pandas does: the second "Amount" becomes "Amount.1".
func dedupeColumns(header []string) []string {
	columns := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		col = strings.TrimSpace(col)

		name := col
		for seen[name] > 0 {
			name = col + "." + strconv.Itoa(seen[col])
			seen[col]++
		}
		seen[name]++
		columns[i] = name
	}
	return columns
}
