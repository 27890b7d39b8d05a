package inbound

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgerror"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgrouter"
)

type HTTPEndpoint struct {
	uc uc
}

// ProcessCSV accepts the CSV either as the raw body or as the "file" part of
// a multipart form, and answers once the whole run is over.
func (h *HTTPEndpoint) ProcessCSV(ctx context.Context, r *http.Request) (any, error) {
	reader, cleanup, err := extractCSVReader(r)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result, err := h.uc.Process(ctx, reader)
	if err != nil {
		return nil, err
	}

	return toProcessResponse(result), nil
}

func (h *HTTPEndpoint) Run(ctx context.Context, r *http.Request) (any, error) {
	runID := pkgrouter.GetParam(ctx, "id")
	if runID == "" {
		return nil, pkgerror.NewInvalidInput(errors.New("run id is required"))
	}

	meta, err := h.uc.Run(ctx, runID)
	if err != nil {
		return nil, err
	}

	return toRun(meta), nil
}

func (h *HTTPEndpoint) Runs(ctx context.Context, r *http.Request) (any, error) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		return nil, err
	}

	result, err := h.uc.Runs(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(result.Runs))
	for _, meta := range result.Runs {
		runs = append(runs, toRun(meta))
	}

	return RunsResponse{
		Runs:     runs,
		page:     result.Page,
		pageSize: result.PageSize,
		total:    result.Total,
	}, nil
}

const maxPageSize = 100

func parsePagination(r *http.Request) (int, int, error) {
	page, err := pkgrouter.QueryInt(r, "page", 1)
	if err != nil {
		return 0, 0, pkgerror.NewInvalidInput(err)
	}

	pageSize, err := pkgrouter.QueryInt(r, "page_size", 10)
	if err != nil {
		return 0, 0, pkgerror.NewInvalidInput(err)
	}

	return page, min(pageSize, maxPageSize), nil
}

func extractCSVReader(r *http.Request) (io.Reader, func(), error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil && strings.EqualFold(mediaType, "multipart/form-data") {
			return extractMultipartFile(r)
		}
	}

	if r.Body == nil {
		return strings.NewReader(""), func() {}, nil
	}

	return r.Body, func() {}, nil
}

func extractMultipartFile(r *http.Request) (io.Reader, func(), error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, func() {}, pkgerror.NewInvalidFormat()
	}

	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, func() {}, pkgerror.NewInvalidInput(errors.New("file part is required"))
			}
			return nil, func() {}, pkgerror.NewInvalidFormat()
		}

		if part.FormName() == "file" {
			return part, func() { _ = part.Close() }, nil
		}
		_ = part.Close()
	}
}
