package pkgrouter

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"testing"
)

func TestSanitizeCID(t *testing.T) {
	cases := map[string]string{
		"  abc  ":            "abc",
		"\n":                 "",
		"run\r\nX-Evil: 1":   "",
		"caf\u00e9":          "",
		"0192f0c4-7c1e-7abc": "0192f0c4-7c1e-7abc",
	}
	for in, want := range cases {
		if got := sanitizeCID(in); got != want {
			t.Fatalf("sanitizeCID(%q) = %q, want %q", in, got, want)
		}
	}

	long := strings.Repeat("a", 200)
	if got := sanitizeCID(long); len(got) != maxCIDLen {
		t.Fatalf("expected length %d, got %d", maxCIDLen, len(got))
	}
}

func TestInternalFrames(t *testing.T) {
	stack := []byte("goroutine 1 [running]:\n" +
		"runtime/debug.Stack()\n" +
		"\t/usr/local/go/src/runtime/debug/stack.go:26 +0x5e\n" +
		"github.com/x/csv-processor/internal/ingest/inbound.(*HTTPEndpoint).ProcessCSV(...)\n" +
		"\t/app/internal/ingest/inbound/http_endpoint.go:31 +0x1a\n")

	got := internalFrames(stack)
	if !reflect.DeepEqual(got, []string{"internal/ingest/inbound/http_endpoint.go:31"}) {
		t.Fatalf("unexpected frames %v", got)
	}
}

func TestMaskHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Authorization", "secret")
	headers.Set("X-Trace", "ok")

	masked := maskHeaders(headers)
	if got := masked.Get("Authorization"); got != "***" {
		t.Fatalf("expected masked authorization, got %q", got)
	}
	if got := masked.Get("X-Trace"); got != "ok" {
		t.Fatalf("expected X-Trace to stay, got %q", got)
	}
	if got := headers.Get("Authorization"); got != "secret" {
		t.Fatalf("expected original headers unchanged, got %q", got)
	}
}

func TestMaskData(t *testing.T) {
	input := map[string]any{
		"password": "secret",
		"profile": map[string]any{
			"access_token": "token",
		},
		"items": []any{
			map[string]any{
				"refresh_token": "rt",
			},
		},
	}

	masked := maskData(input).(map[string]any)
	if masked["password"] != "***" {
		t.Fatalf("expected masked password")
	}
	if masked["profile"].(map[string]any)["access_token"] != "***" {
		t.Fatalf("expected masked access_token")
	}
	items := masked["items"].([]any)
	if items[0].(map[string]any)["refresh_token"] != "***" {
		t.Fatalf("expected masked refresh_token")
	}
}

func TestParseAndMaskBodyJSON(t *testing.T) {
	body := []byte(`{"password":"secret","name":"bob"}`)
	parsed := parseAndMaskBody("application/json", body)

	m, ok := parsed.(map[string]any)
	if !ok {
		encoded, _ := json.Marshal(parsed)
		t.Fatalf("expected map, got %s", string(encoded))
	}
	if m["password"] != "***" {
		t.Fatalf("expected masked password")
	}
	if m["name"] != "bob" {
		t.Fatalf("expected name to remain")
	}
}

func TestParseAndMaskBodyForm(t *testing.T) {
	body := []byte("password=secret&name=bob")
	parsed := parseAndMaskBody("application/x-www-form-urlencoded", body)

	m, ok := parsed.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", parsed)
	}
	if m["password"] != "***" {
		t.Fatalf("expected masked password")
	}
	if m["name"] != "bob" {
		t.Fatalf("expected name to remain")
	}
}

func TestParseAndMaskBodyBinary(t *testing.T) {
	body := []byte{0xff, 0xfe, 0xfd}
	parsed := parseAndMaskBody("text/plain", body)
	if !reflect.DeepEqual(parsed, "<binary body omitted>") {
		t.Fatalf("expected binary body omission, got %v", parsed)
	}
}

func TestParseAndMaskBodyPayloadOmitted(t *testing.T) {
	body := []byte("Amount,TotalAmount\n$1,$2\n")
	parsed := parseAndMaskBody("text/csv; charset=utf-8", body)
	if parsed != "<payload omitted, 25 bytes>" {
		t.Fatalf("expected payload omission, got %v", parsed)
	}
}

func TestIsPayloadBody(t *testing.T) {
	if !isPayloadBody("multipart/form-data; boundary=abc") {
		t.Fatalf("expected multipart to be a payload body")
	}
	if isPayloadBody("application/json") {
		t.Fatalf("did not expect json to be a payload body")
	}
	if isPayloadBody("") {
		t.Fatalf("did not expect empty content type to be a payload body")
	}
}
