package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/proxy"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/whitelist"
)

func testWhitelist(t *testing.T) *whitelist.Whitelist {
	t.Helper()
	path := filepath.Join(t.TempDir(), "block.txt")
	if err := os.WriteFile(path, []byte("SELECT 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	chk, err := sensitive.New(sensitive.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	w, err := whitelist.New("", path, chk)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// stubStats satisfies QueryStats with fixed counters.
type stubStats struct {
	snap proxy.StatsSnapshot
}

func (s stubStats) Stats() proxy.StatsSnapshot { return s.snap }

func TestStatusHandler(t *testing.T) {
	s := NewServer(metrics.New(), nil, testWhitelist(t), nil, nil)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.statusHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("status should include uptime")
	}
	wl, ok := body["whitelists"].(map[string]interface{})
	if !ok || wl["block_entries"].(float64) != 1 {
		t.Errorf("whitelist sizes missing or wrong: %v", body["whitelists"])
	}
}

func TestStatsHandler(t *testing.T) {
	qs := stubStats{snap: proxy.StatsSnapshot{
		Analyzed:  10,
		Forwarded: 7,
		Blocked:   3,
		BlockedByAttack: map[string]uint64{
			"data access":       2,
			"denial of service": 1,
		},
		ByQueryType: map[string]uint64{"SELECT": 9, "UPDATE": 1},
	}}
	s := NewServer(nil, nil, nil, nil, qs)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.statsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body proxy.StatsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Analyzed != 10 || body.Blocked != 3 {
		t.Errorf("counters = %d/%d, want 10/3", body.Analyzed, body.Blocked)
	}
	if body.BlockedByAttack["data access"] != 2 {
		t.Errorf("per-attack counts missing: %v", body.BlockedByAttack)
	}
	if body.ByQueryType["SELECT"] != 9 {
		t.Errorf("per-type counts missing: %v", body.ByQueryType)
	}
}

func TestStatsHandlerWithoutProvider(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.statsHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDashboardHandler(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.dashboardHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SQLWarden") {
		t.Error("dashboard should render the firewall page")
	}
}

func TestReloadHandler(t *testing.T) {
	s := NewServer(nil, nil, testWhitelist(t), nil, nil)

	req := httptest.NewRequest("POST", "/whitelist/reload", nil)
	rec := httptest.NewRecorder()
	s.reloadHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReloadHandlerWithoutWhitelists(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil)

	req := httptest.NewRequest("POST", "/whitelist/reload", nil)
	rec := httptest.NewRecorder()
	s.reloadHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthHandlerWithoutChecker(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
