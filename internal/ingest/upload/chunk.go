package upload

import (
	"errors"
	"fmt"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

var ErrInvalidChunkSize = errors.New("chunk size must be at least 1")

// Plan splits n rows into contiguous spans of size rows; the last span holds
// the remainder. Zero rows yield no spans.
func Plan(n, size int) ([]entity.Span, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	if n <= 0 {
		return nil, nil
	}

	spans := make([]entity.Span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		spans = append(spans, entity.Span{Start: start, End: min(start+size, n)})
	}

	return spans, nil
}
