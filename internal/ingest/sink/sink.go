// Package sink persists rows that could not be uploaded.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

const timestampLayout = "20060102_150405"

// FileName is the artifact name for the failed rows of table at a run time.
func FileName(table string, at time.Time) string {
	return fmt.Sprintf("failed_upload_data_%s_%s.csv", table, at.Format(timestampLayout))
}

// BlobSink writes failure artifacts as CSV objects into a bucket.
type BlobSink struct {
	bucket    *blob.Bucket
	prefix    string
	bucketURL string
}

// NewBlobSink writes under prefix inside bucket. bucketURL is only used to
// tell operators where the artifact went.
func NewBlobSink(bucket *blob.Bucket, bucketURL, prefix string) *BlobSink {
	return &BlobSink{
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		bucketURL: bucketURL,
	}
}

// Persist writes failed as one CSV object: header of its columns, then every
// record in order. An empty set writes nothing and returns a skipped Artifact.
func (s *BlobSink) Persist(ctx context.Context, failed entity.RecordSet, table string, at time.Time) (entity.Artifact, error) {
	if failed.Len() == 0 {
		return entity.Artifact{Skipped: true}, nil
	}

	key := FileName(table, at)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: "text/csv"})
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("create artifact writer: %w", err)
	}

	if err := writeCSV(w, failed); err != nil {
		// canceling before Close discards the partial object
		cancel()
		w.Close()
		return entity.Artifact{}, fmt.Errorf("write artifact %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return entity.Artifact{}, fmt.Errorf("close artifact %s: %w", key, err)
	}

	artifact := entity.Artifact{
		Key:  key,
		URL:  s.location(key),
		Rows: failed.Len(),
	}
	slog.WarnContext(ctx, "rows failed permanently", "rows", artifact.Rows, "artifact", artifact.URL)

	return artifact, nil
}

func (s *BlobSink) location(key string) string {
	if s.bucketURL == "" {
		return key
	}

	base, query, _ := strings.Cut(s.bucketURL, "?")
	if !strings.HasSuffix(base, "://") {
		base = strings.TrimRight(base, "/") + "/"
	}
	loc := base + key
	if query != "" {
		loc += "?" + query
	}
	return loc
}

func writeCSV(w *blob.Writer, set entity.RecordSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(set.Columns); err != nil {
		return err
	}

	row := make([]string, len(set.Columns))
	for _, rec := range set.Records {
		for i := range row {
			row[i] = ""
			if i < len(rec) {
				row[i] = rec[i].Text()
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
