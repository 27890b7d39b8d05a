package inbound

import (
	"context"
	"io"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/ingest/usecase"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgrouter"
)

type uc interface {
	Process(ctx context.Context, r io.Reader) (usecase.ProcessResult, error)
	Run(ctx context.Context, runID string) (entity.RunMeta, error)
	Runs(ctx context.Context, page, pageSize int) (usecase.RunsResult, error)
}

// RegisterHTTPEndpoint mounts the ingest routes. maxBody bounds the CSV
// payload in bytes; zero or less means unbounded.
func RegisterHTTPEndpoint(r *pkgrouter.Router, uc uc, maxBody int64) {
	end := &HTTPEndpoint{uc: uc}

	r.POST("/process-csv", end.ProcessCSV, pkgrouter.LimitBody(maxBody))

	r.GET("/runs", end.Runs) // ?page=&page_size=
	r.GET("/runs/:id", end.Run)
}
