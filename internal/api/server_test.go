package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebas/sipring/internal/config"
	"github.com/sebas/sipring/internal/engine"
	"github.com/sebas/sipring/internal/registry"
	"github.com/sebas/sipring/internal/store"
)

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{BindAddr: "127.0.0.1"}
	}
	dir := t.TempDir()
	st := store.NewStore(filepath.Join(dir, "config.json"), store.Defaults{
		SIPPort:      cfg.DefaultSIPPort,
		LocalPort:    cfg.DefaultLocalPort,
		RingDuration: cfg.DefaultRingDuration,
	})
	events := store.NewEventLog(filepath.Join(dir, "events.jsonl"))
	recorder := store.NewRingRecorder(st, events)
	reg := registry.New(recorder, engine.NewAddrResolver())

	srv, err := NewServer(cfg, st, events, recorder, reg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createConfig(t *testing.T, ts *httptest.Server, body map[string]any) ConfigResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/v1/configs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create config: status %d", resp.StatusCode)
	}
	return decode[ConfigResponse](t, resp)
}

func TestConfigCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	created := createConfig(t, ts, map[string]any{
		"name":       "Front Door",
		"sip_user":   "100",
		"sip_server": "10.0.0.50",
		"enabled":    true,
	})
	if created.Slug != "front-door" {
		t.Errorf("Slug = %q", created.Slug)
	}
	if !strings.HasSuffix(created.RingURL, "/ring/front-door") {
		t.Errorf("RingURL = %q", created.RingURL)
	}
	if !strings.HasSuffix(created.CancelURL, "/ring/front-door/cancel") {
		t.Errorf("CancelURL = %q", created.CancelURL)
	}

	resp, err := http.Get(ts.URL + "/api/v1/configs")
	if err != nil {
		t.Fatalf("GET configs: %v", err)
	}
	list := decode[ConfigListResponse](t, resp)
	if list.Count != 1 || len(list.Configs) != 1 {
		t.Fatalf("list count = %d", list.Count)
	}

	resp, err = http.Get(ts.URL + "/api/v1/configs/front-door")
	if err != nil {
		t.Fatalf("GET config: %v", err)
	}
	got := decode[ConfigResponse](t, resp)
	if got.ID != created.ID {
		t.Error("get by slug returned a different config")
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/configs/front-door",
		strings.NewReader(`{"ring_duration": 15}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config: %v", err)
	}
	updated := decode[ConfigResponse](t, resp)
	if updated.RingDuration != 15 {
		t.Errorf("RingDuration = %d, want 15", updated.RingDuration)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/configs/front-door", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/configs/front-door")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateConfigErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/configs", map[string]any{"name": "No Target"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid config status = %d, want 400", resp.StatusCode)
	}

	body := map[string]any{"name": "Door", "sip_user": "1", "sip_server": "10.0.0.1"}
	createConfig(t, ts, body)
	resp = postJSON(t, ts.URL+"/api/v1/configs", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate slug status = %d, want 409", resp.StatusCode)
	}
}

func TestHealthAndDashboard(t *testing.T) {
	ts := newTestServer(t, nil)
	createConfig(t, ts, map[string]any{
		"name": "Front Door", "sip_user": "100", "sip_server": "10.0.0.50", "enabled": true,
	})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	if !strings.Contains(buf.String(), "Front Door") {
		t.Error("dashboard does not list the config")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(buf.String(), "sipring_active_rings") {
		t.Error("metrics output missing sipring gauges")
	}
}

func TestRingEndpointErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := http.Get(ts.URL + "/ring/no-such-door")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown config status = %d, want 404", resp.StatusCode)
	}

	createConfig(t, ts, map[string]any{
		"name": "Off Door", "sip_user": "100", "sip_server": "10.0.0.50", "enabled": false,
	})
	resp, _ = http.Get(ts.URL + "/ring/off-door")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("disabled config status = %d, want 400", resp.StatusCode)
	}

	createConfig(t, ts, map[string]any{
		"name": "On Door", "sip_user": "100", "sip_server": "10.0.0.50", "enabled": true,
	})
	resp, _ = http.Get(ts.URL + "/ring/on-door?duration=9999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad duration status = %d, want 400", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/ring/on-door/cancel")
	cancelled := decode[RingResponse](t, resp)
	if cancelled.Status != "not_active" {
		t.Errorf("cancel with nothing live = %q, want not_active", cancelled.Status)
	}

	resp, _ = http.Get(ts.URL + "/ring/on-door/status")
	status := decode[RingResponse](t, resp)
	if status.Status != "idle" {
		t.Errorf("status = %q, want idle", status.Status)
	}
}

// busyTarget answers every datagram with 486 so a triggered ring
// finishes immediately without a real phone.
func busyTarget(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			_, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP([]byte("SIP/2.0 486 Busy Here\r\nContent-Length: 0\r\n\r\n"), from)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestTriggerRingAgainstBusyTarget(t *testing.T) {
	ts := newTestServer(t, nil)
	port := busyTarget(t)

	createConfig(t, ts, map[string]any{
		"name":       "Busy Door",
		"sip_user":   "100",
		"sip_server": "127.0.0.1",
		"sip_port":   port,
		"local_port": 15062,
		"enabled":    true,
	})

	resp, err := http.Get(ts.URL + "/ring/busy-door?wait=true&duration=2")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	ring := decode[RingResponse](t, resp)
	if ring.Status != "completed" {
		t.Fatalf("trigger status = %q, want completed", ring.Status)
	}
	if ring.Result != "busy" {
		t.Errorf("trigger result = %q, want busy", ring.Result)
	}

	// The completed attempt is in the event log.
	resp, err = http.Get(fmt.Sprintf("%s/api/v1/events?config_id=%s", ts.URL, ring.ConfigID))
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	events := decode[EventListResponse](t, resp)
	if events.Total != 1 {
		t.Fatalf("event total = %d, want 1", events.Total)
	}
	ev := events.Events[0]
	if ev.Result != "busy" || ev.TriggerType != "ring" || ev.CompletedAt == nil {
		t.Errorf("event = %+v", ev)
	}
	if ev.SourceIP == "" {
		t.Error("event missing trigger source IP")
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := &config.Config{BindAddr: "127.0.0.1", Username: "admin", Password: "s3cret"}
	ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/api/v1/configs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Health stays open for probes.
	resp, _ = http.Get(ts.URL + "/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200 without credentials", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/configs", nil)
	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/configs", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

func TestBaseURLOverride(t *testing.T) {
	cfg := &config.Config{BindAddr: "127.0.0.1", BaseURL: "https://door.example.com/"}
	ts := newTestServer(t, cfg)

	created := createConfig(t, ts, map[string]any{
		"name": "Front Door", "sip_user": "100", "sip_server": "10.0.0.50",
	})
	if created.RingURL != "https://door.example.com/ring/front-door" {
		t.Errorf("RingURL = %q", created.RingURL)
	}
}
