package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nationdonation-web/csv-processor/internal/ingest/upload"
)

// maxErrorBody bounds how much of a rejected response is read into APIError.
const maxErrorBody = 64 << 10

type PostgRESTConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string
	Key string
	// Schema selects a non-default schema through Content-Profile.
	Schema       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// APIError is a non-2xx answer from PostgREST.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("postgrest: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("postgrest: %d: %s", e.Status, msg)
}

// PostgREST inserts rows with POST /rest/v1/{table}.
type PostgREST struct {
	client  *retryablehttp.Client
	baseURL string
	key     string
	schema  string
}

func NewPostgREST(cfg PostgRESTConfig) (*PostgREST, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgrest: url is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("postgrest: key is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("postgrest: invalid url: %w", err)
	}

	client := retryablehttp.NewClient()
	client.Logger = slog.Default()
	client.ErrorHandler = keepLastResponse
	client.CheckRetry = checkInsertRetry
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return &PostgREST{
		client:  client,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		schema:  cfg.Schema,
	}, nil
}

// Insert posts rows as one JSON array. The accepted count is the length of
// the representation PostgREST returns.
func (p *PostgREST) Insert(ctx context.Context, table string, rows []upload.Row) upload.Result {
	body, err := json.Marshal(rows)
	if err != nil {
		return upload.Failure(fmt.Errorf("encode rows: %w", err))
	}

	endpoint := p.baseURL + "/rest/v1/" + url.PathEscape(table)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return upload.Failure(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", p.key)
	req.Header.Set("Authorization", "Bearer "+p.key)
	req.Header.Set("Prefer", "return=representation")
	if p.schema != "" {
		req.Header.Set("Content-Profile", p.schema)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return upload.Failure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upload.Failure(decodeAPIError(resp))
	}

	var inserted []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&inserted); err != nil {
		if errors.Is(err, io.EOF) {
			return upload.SuccessUnreported()
		}
		slog.WarnContext(ctx, "postgrest: unreadable insert response", "table", table, "error", err)
		return upload.SuccessUnreported()
	}

	return upload.Success(len(inserted))
}

// keepLastResponse hands the final response back once retries are exhausted
// so its status and body become the APIError.
// checkInsertRetry resends an insert only when its rows cannot have been
// written: the connection was never established, or the service turned the
// request away with 503 or 429. A timeout or any other failure may follow a
// commit, so it is final here and the span goes to the retry levels instead.
func checkInsertRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial", nil
	}

	switch resp.StatusCode {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true, nil
	default:
		return false, nil
	}
}

func keepLastResponse(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if json.Unmarshal(data, apiErr) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.Status = resp.StatusCode

	return apiErr
}

var _ upload.Client = (*PostgREST)(nil)
