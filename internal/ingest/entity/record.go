package entity

import "slices"

// Record is one row; its values are aligned with RecordSet.Columns.
type Record []Value

// RecordSet is the normalized dataset of one run. It is treated as immutable
// once built: slices share the backing records.
type RecordSet struct {
	Columns []string
	Records []Record
}

func (s RecordSet) Len() int {
	return len(s.Records)
}

// Slice returns the rows [start, end) sharing the same columns.
func (s RecordSet) Slice(start, end int) RecordSet {
	return RecordSet{Columns: s.Columns, Records: s.Records[start:end]}
}

// ColumnIndex returns the position of column name, or -1.
func (s RecordSet) ColumnIndex(name string) int {
	return slices.Index(s.Columns, name)
}

// Gather copies the rows covered by spans, in span order, into a new set.
func (s RecordSet) Gather(spans []Span) RecordSet {
	total := 0
	for _, sp := range spans {
		total += sp.Len()
	}

	out := RecordSet{Columns: s.Columns, Records: make([]Record, 0, total)}
	for _, sp := range spans {
		out.Records = append(out.Records, s.Records[sp.Start:sp.End]...)
	}

	return out
}
