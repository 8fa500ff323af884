package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOrchestratorStartLaunchesConfiguredUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	flow := []byte(`
name: f
steps:
  - id: s1
    type: request
    method: GET
    url: /ping
    onFailure: continue
`)
	rawConfig := map[string]any{
		"flow_target_url": srv.URL,
		"sim_users":       3,
		"min_sleep_ms":    1,
		"max_sleep_ms":    5,
	}

	orch := NewOrchestrator()
	if err := orch.Start(rawConfig, flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer orch.Stop()

	if orch.ActiveUserCount() != 3 {
		t.Fatalf("got %d active users, want 3", orch.ActiveUserCount())
	}

	time.Sleep(50 * time.Millisecond)
	snap := orch.MetricsSnapshot()
	if snap.ActiveUsers != 3 {
		t.Fatalf("got snapshot.ActiveUsers=%d, want 3", snap.ActiveUsers)
	}
}

func TestOrchestratorStopResetsActiveCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	flow := []byte(`
name: f
steps:
  - id: s1
    type: request
    method: GET
    url: /ping
    onFailure: continue
`)
	rawConfig := map[string]any{
		"flow_target_url": srv.URL,
		"sim_users":       2,
	}

	orch := NewOrchestrator()
	if err := orch.Start(rawConfig, flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orch.Stop()

	if orch.ActiveUserCount() != 0 {
		t.Fatalf("got %d active users after stop, want 0", orch.ActiveUserCount())
	}
}

func TestOrchestratorStopBeforeStartIsSafe(t *testing.T) {
	orch := NewOrchestrator()
	orch.Stop()
	if orch.ActiveUserCount() != 0 {
		t.Fatalf("got %d active users, want 0", orch.ActiveUserCount())
	}
}

func TestOrchestratorStartRejectsBadConfig(t *testing.T) {
	flow := []byte(`
name: f
steps:
  - id: s1
    type: request
    method: GET
    url: /ping
    onFailure: continue
`)
	orch := NewOrchestrator()
	err := orch.Start(map[string]any{}, flow)
	if err == nil {
		t.Fatal("expected error for missing required config fields")
	}
	if orch.ActiveUserCount() != 0 {
		t.Fatal("expected no users launched on validation failure")
	}
}
