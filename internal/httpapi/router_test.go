package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetgrid/control-plane/internal/agent"
	"github.com/fleetgrid/control-plane/internal/config"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/registry"
	"github.com/fleetgrid/control-plane/internal/subscription"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	reg := registry.New(t.TempDir(), func(fleetpath.OwnerKey) agent.Deps {
		return agent.Deps{MsgMemRing: 50, ReorderAmountThreshold: 1000}
	})
	return &Handlers{
		Registry: reg,
		Cfg:      &config.Config{Version: "test"},
		SubCfg:   subscription.DefaultConfig(),
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIncrementRoundTrip(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/warehouse-1/increment")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["counter"] != 1 {
		t.Errorf("counter = %d, want 1", out["counter"])
	}
}

func TestGetStateReturnsFleetSnapshot(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/warehouse-1/state")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var state map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := state["counter"]; !ok {
		t.Errorf("state missing counter: %+v", state)
	}
}

func TestUnknownEndpointReturnsNotFound(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/warehouse-1/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPostMessageInvalidBodyReturnsBadRequest(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/warehouse-1/message", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInventoryQueryUnknownSKUReturnsNotFound(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/warehouse-1/inventory/query?sku=does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInventoryAlertsShapesCounts(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/warehouse-1/inventory/alerts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"alerts", "totalAlerts", "criticalAlerts"} {
		if _, ok := out[key]; !ok {
			t.Errorf("alerts response missing %q: %+v", key, out)
		}
	}
}

func TestFleetPathHeaderOverridesURLPath(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ignored/state", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("fleet-path", "/warehouse-2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	locResp, err := http.Get(srv.URL + "/debug/locations")
	if err != nil {
		t.Fatalf("GET /debug/locations: %v", err)
	}
	defer locResp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(locResp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	locations, _ := out["locations"].([]interface{})
	found := false
	for _, loc := range locations {
		if s, ok := loc.(string); ok && bytes.Contains([]byte(s), []byte("warehouse-2")) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a registered location containing warehouse-2, got %+v", locations)
	}
}

func TestDebugLocationsReflectsLiveAgents(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	if _, err := http.Get(srv.URL + "/warehouse-1/state"); err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp, err := http.Get(srv.URL + "/debug/locations")
	if err != nil {
		t.Fatalf("GET /debug/locations: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(out["count"].(float64)) < 1 {
		t.Errorf("expected at least one live location, got %+v", out)
	}
}
