package pkgrouter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
)

func TestChainOrder(t *testing.T) {
	order := make([]string, 0, 3)

	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("mw1"), mw("mw2"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.com", nil))

	if !reflect.DeepEqual(order, []string{"mw1", "mw2", "handler"}) {
		t.Fatalf("unexpected order: %#v", order)
	}
}

func TestLimitBody(t *testing.T) {
	read := func(limit int64, body string) error {
		var readErr error
		h := LimitBody(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, readErr = io.ReadAll(r.Body)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/process-csv", strings.NewReader(body)))
		return readErr
	}

	if err := read(8, "a,b\n1,2\n"); err != nil {
		t.Fatalf("body at the limit: %v", err)
	}

	var maxErr *http.MaxBytesError
	if err := read(8, "a,b\n1,2\n3,4\n"); !errors.As(err, &maxErr) || maxErr.Limit != 8 {
		t.Fatalf("expected MaxBytesError, got %v", err)
	}

	if err := read(0, strings.Repeat("x", 1024)); err != nil {
		t.Fatalf("unbounded body: %v", err)
	}
}

func TestGetParam(t *testing.T) {
	params := httprouter.Params{{Key: "id", Value: " 123 "}}
	ctx := context.WithValue(context.Background(), httprouter.ParamsKey, params)

	if got := GetParam(ctx, "id"); got != "123" {
		t.Fatalf("expected id=123, got %q", got)
	}
	if got := GetParam(context.Background(), "id"); got != "" {
		t.Fatalf("expected empty param without router context, got %q", got)
	}
}

func TestQueryInt(t *testing.T) {
	cases := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 10, false},
		{"page_size=25", 25, false},
		{"page_size=%2042%20", 42, false},
		{"page_size=0", 0, true},
		{"page_size=-3", 0, true},
		{"page_size=ten", 0, true},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/runs?"+tc.query, nil)
		got, err := QueryInt(r, "page_size", 10)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: unexpected error %v", tc.query, err)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%q: got %d, want %d", tc.query, got, tc.want)
		}
		if err != nil && err.Error() != "invalid page_size" {
			t.Fatalf("%q: unexpected message %q", tc.query, err)
		}
	}
}
