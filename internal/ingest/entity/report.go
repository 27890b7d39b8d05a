package entity

import "fmt"

// Span is the half-open row range [Start, End) of a record set.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Offset shifts the span by base rows, translating a span of a slice back to
// the set the slice was taken from.
func (s Span) Offset(base int) Span {
	return Span{Start: s.Start + base, End: s.End + base}
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Report is the bookkeeping of one chunking pass.
//
// After a pass SuccessfulRows + UnconfirmedRows + FailedRows() == TotalRows.
// UnconfirmedRows are rows of accepted chunks for which the service
// acknowledged fewer rows than it was sent; ShortChunks lists those chunks.
type Report struct {
	ChunkSize       int    `json:"chunk_size"`
	TotalRows       int    `json:"total_rows"`
	SuccessfulRows  int    `json:"successful_rows"`
	UnconfirmedRows int    `json:"unconfirmed_rows"`
	FailedChunks    []Span `json:"failed_chunks"`
	ShortChunks     []Span `json:"short_chunks,omitempty"`
}

// FailedRows is the number of rows covered by FailedChunks.
func (r Report) FailedRows() int {
	n := 0
	for _, sp := range r.FailedChunks {
		n += sp.Len()
	}
	return n
}
