package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
)

func TestComposeURLOverrideHostAlwaysUsesTarget(t *testing.T) {
	target := TargetConfig{Scheme: "https", Host: "target.example", Port: 443, OverrideStepURLHost: true}
	step := &RequestStep{Method: "GET"}
	got, err := composeURL(step, "/api/orders?x=1", target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://target.example:443/api/orders?x=1"
	if got.url != want {
		t.Fatalf("got %q, want %q", got.url, want)
	}
	if got.hostHeader != "" {
		t.Fatalf("expected no host header override without DNS override, got %q", got.hostHeader)
	}
}

func TestComposeURLOverrideHostWithDNSOverrideSetsHostHeader(t *testing.T) {
	target := TargetConfig{Scheme: "https", Host: "target.example", Port: 443, DNSOverrideIP: "203.0.113.9", OverrideStepURLHost: true}
	step := &RequestStep{Method: "GET"}
	got, err := composeURL(step, "/api", target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.url != "https://203.0.113.9:443/api" {
		t.Fatalf("got %q", got.url)
	}
	if got.hostHeader != "target.example" {
		t.Fatalf("got host header %q, want target.example", got.hostHeader)
	}
}

func TestComposeURLStepWinsWhenAbsoluteAndNotOverriding(t *testing.T) {
	target := TargetConfig{Scheme: "https", Host: "target.example", Port: 443, OverrideStepURLHost: false}
	step := &RequestStep{Method: "GET"}
	got, err := composeURL(step, "https://other.example/path", target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.url != "https://other.example/path" {
		t.Fatalf("got %q", got.url)
	}
}

func TestComposeURLRelativeJoinsTargetWhenNotOverriding(t *testing.T) {
	target := TargetConfig{Scheme: "https", Host: "target.example", Port: 443, OverrideStepURLHost: false}
	step := &RequestStep{Method: "GET"}
	got, err := composeURL(step, "/relative/path", target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.url != "https://target.example:443/relative/path" {
		t.Fatalf("got %q", got.url)
	}
}

func TestHasUnresolvedTrailingParam(t *testing.T) {
	if !hasUnresolvedTrailingParam("/users/{{userId}}") {
		t.Fatal("expected true for unresolved trailing param")
	}
	if hasUnresolvedTrailingParam("/users/42") {
		t.Fatal("expected false for resolved path")
	}
}

func TestResolveBodyMapSetsJSONContentType(t *testing.T) {
	headers := map[string]string{}
	body := resolveBody(map[string]any{"a": 1}, headers)
	if _, ok := body.(map[string]any); !ok {
		t.Fatalf("got %T, want map[string]any", body)
	}
	if ct, _ := headerLookup(headers, "Content-Type"); ct == "" {
		t.Fatal("expected Content-Type to be set")
	}
}

func TestResolveBodyStringJSONParsed(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json"}
	body := resolveBody(`{"a":1}`, headers)
	m, ok := body.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want parsed map", body)
	}
	if m["a"] != 1.0 {
		t.Fatalf("got %v", m["a"])
	}
}

func TestResolveBodyStringJSONParseFailureFallsBackToRaw(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json"}
	body := resolveBody(`not json`, headers)
	if _, ok := body.([]byte); !ok {
		t.Fatalf("got %T, want []byte fallback", body)
	}
}

func TestExtractIntoStatusHeadersAndBody(t *testing.T) {
	outcome := RequestOutcome{
		Status:  200,
		Headers: map[string]string{"x-trace-id": "abc"},
		Body:    map[string]any{"user": map[string]any{"id": 7.0}},
	}
	ctx := map[string]any{}
	extract := map[string]string{
		"status":  ".status",
		"trace":   "headers.X-Trace-Id",
		"whole":   "body",
		"userId":  "body.user.id",
		"missing": "body.nope",
	}
	extractInto(ctx, extract, outcome)

	if ctx["status"] != 200 {
		t.Fatalf("got status=%v", ctx["status"])
	}
	if ctx["trace"] != "abc" {
		t.Fatalf("got trace=%v", ctx["trace"])
	}
	if ctx["userId"] != 7.0 {
		t.Fatalf("got userId=%v", ctx["userId"])
	}
	if ctx["missing"] != nil {
		t.Fatalf("got missing=%v, want explicit nil", ctx["missing"])
	}
}

func TestExecuteRequestStepAgainstLiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	target := TargetConfig{Scheme: "http", Host: srv.Listener.Addr().String(), Port: 0, OverrideStepURLHost: false}
	step := &RequestStep{
		ID: "s1", Method: "GET", URL: srv.URL + "/ping",
		Extract:   map[string]string{"ok": "body.ok"},
		OnFailure: "stop",
	}
	client := resty.New()
	metrics := NewMetrics()
	ctx := map[string]any{}

	outcome := ExecuteRequestStep(context.Background(), client, step, ctx, map[string]string{}, target, metrics)
	if outcome.Status != 200 {
		t.Fatalf("got status=%d", outcome.Status)
	}
	if ctx["ok"] != true {
		t.Fatalf("got ok=%v", ctx["ok"])
	}
	if metrics.RPS() != 1 {
		t.Fatalf("got rps=%v, want 1", metrics.RPS())
	}
}

func TestExecuteRequestStepAlwaysRecordsReservedResponseKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Trace-Id", "abc")
		w.WriteHeader(404)
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	target := TargetConfig{Scheme: "http", Host: srv.Listener.Addr().String(), OverrideStepURLHost: false}
	step := &RequestStep{ID: "s1", Method: "GET", URL: srv.URL + "/missing"}
	client := resty.New()
	ctx := map[string]any{}

	ExecuteRequestStep(context.Background(), client, step, ctx, map[string]string{}, target, nil)

	if ctx["response_s1_status"] != 404 {
		t.Fatalf("got response_s1_status=%v, want 404", ctx["response_s1_status"])
	}
	headers, ok := ctx["response_s1_headers"].(map[string]string)
	if !ok || headers["x-trace-id"] != "abc" {
		t.Fatalf("got response_s1_headers=%v", ctx["response_s1_headers"])
	}
	body, ok := ctx["response_s1_body"].(map[string]any)
	if !ok || body["ok"] != false {
		t.Fatalf("got response_s1_body=%v", ctx["response_s1_body"])
	}
	if ctx["response_s1_error"] != nil {
		t.Fatalf("got response_s1_error=%v, want nil for a real (non-synthetic) status", ctx["response_s1_error"])
	}
}

func TestExecuteRequestStepRecordsSyntheticErrorMessage(t *testing.T) {
	target := TargetConfig{Scheme: "http", Host: "target.example", Port: 443, OverrideStepURLHost: true}
	step := &RequestStep{ID: "s1", Method: "GET", URL: "/path%zz"}
	ctx := map[string]any{}

	ExecuteRequestStep(context.Background(), resty.New(), step, ctx, map[string]string{}, target, nil)

	if ctx["response_s1_status"] != StatusPreRequestFailure {
		t.Fatalf("got response_s1_status=%v, want %d", ctx["response_s1_status"], StatusPreRequestFailure)
	}
	if ctx["response_s1_error"] == nil {
		t.Fatal("expected response_s1_error to be set for a synthetic failure status")
	}
}

func TestExecuteRequestStepRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(503)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	target := TargetConfig{Scheme: "http", Host: srv.Listener.Addr().String(), OverrideStepURLHost: false}
	step := &RequestStep{ID: "s1", Method: "GET", URL: srv.URL + "/x", OnFailure: "stop"}
	client := resty.New()

	outcome := ExecuteRequestStep(context.Background(), client, step, map[string]any{}, map[string]string{}, target, nil)
	if outcome.Status != 200 {
		t.Fatalf("got status=%d after retries, attempts=%d", outcome.Status, attempts)
	}
	if attempts != 2 {
		t.Fatalf("got %d attempts, want 2", attempts)
	}
}
