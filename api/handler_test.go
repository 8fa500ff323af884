package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rdwr-taly/flowrunner-cli/runtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleFlowYAML = `
name: f
steps:
  - id: s1
    type: request
    method: GET
    url: /ping
    onFailure: continue
`

func TestStartStopMetricsRoundTrip(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer target.Close()

	orch := runtime.NewOrchestrator()
	g := NewHandler(orch)

	body, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"flow_target_url": target.URL,
			"sim_users":       2,
		},
		"flow": sampleFlowYAML,
	})

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("start: got %d, body=%s", rec.Code, rec.Body.String())
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	g.ServeHTTP(metricsRec, metricsReq)
	if metricsRec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", metricsRec.Code)
	}
	var snap runtime.Snapshot
	if err := json.Unmarshal(metricsRec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if snap.ActiveUsers != 2 {
		t.Fatalf("got activeUsers=%d, want 2", snap.ActiveUsers)
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/stop", nil)
	stopRec := httptest.NewRecorder()
	g.ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("stop: got %d", stopRec.Code)
	}
	if orch.ActiveUserCount() != 0 {
		t.Fatalf("expected active users reset after stop, got %d", orch.ActiveUserCount())
	}
}

func TestStartWithBadConfigReturns400(t *testing.T) {
	orch := runtime.NewOrchestrator()
	g := NewHandler(orch)

	body, _ := json.Marshal(map[string]any{
		"config": map[string]any{},
		"flow":   sampleFlowYAML,
	})
	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	orch := runtime.NewOrchestrator()
	g := NewHandler(orch)

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}
