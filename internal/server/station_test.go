package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/metrics"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/slots"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

func newStationAPI(t *testing.T) (*slots.Manager, http.Handler) {
	t.Helper()

	manager, err := slots.NewManager(slots.ManagerConfig{
		Slots:       2,
		BufferDepth: 5,
		Backoff: stream.BackoffConfig{
			MaxRetries:   3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     40 * time.Millisecond,
		},
		NewReceiver: func() stream.Receiver { return stream.NewMockReceiver(4, 4, 100) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewStationCollector(manager))
	return manager, NewStationServer(manager).Router(promReg)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStationAPIListSlots(t *testing.T) {
	_, handler := newStationAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/slots", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /slots = %d, want 200", rec.Code)
	}

	var resp struct {
		Slots []slots.SlotStats `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(resp.Slots))
	}
	for _, s := range resp.Slots {
		if s.Bound {
			t.Errorf("slot %d should start idle", s.Index)
		}
	}
}

func TestStationAPIAssignAndRelease(t *testing.T) {
	manager, handler := newStationAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/slots/0/assign",
		`{"host": "127.0.0.1", "port": 8554, "mount": "/cam1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST assign = %d, body %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if state, _ := manager.Status(0); state == stream.StateConnected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/slots/0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /slots/0 = %d, want 200", rec.Code)
	}
	var stats slots.SlotStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Bound || stats.Address != "tcp://127.0.0.1:8554/cam1" {
		t.Fatalf("slot 0 = %+v, want bound to tcp://127.0.0.1:8554/cam1", stats)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/slots/0", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /slots/0 = %d, want 204", rec.Code)
	}
	if state, _ := manager.Status(0); state != stream.StateDisconnected {
		t.Fatalf("slot 0 state after release = %v, want Disconnected", state)
	}
}

func TestStationAPIBadRequests(t *testing.T) {
	_, handler := newStationAPI(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/v1/slots/9/assign", `{"host": "h", "port": 8554}`, http.StatusNotFound},
		{http.MethodPost, "/api/v1/slots/abc/assign", `{"host": "h", "port": 8554}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/slots/0/assign", `{"port": 8554}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/slots/0/assign", `not json`, http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/slots/9", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/slots/9", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := doJSON(t, handler, tt.method, tt.path, tt.body)
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestStationAPIHealthAndMetrics(t *testing.T) {
	_, handler := newStationAPI(t)

	if rec := doJSON(t, handler, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
}
