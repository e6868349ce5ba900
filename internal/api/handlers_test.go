package api

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubProvider struct {
	snap EngineSnapshot
}

func (p *stubProvider) Snapshot() EngineSnapshot { return p.snap }

func testHandlers(t *testing.T, snap EngineSnapshot) *Handlers {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), testLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := NewHub(testLogger())
	return NewHandlers(&stubProvider{snap: snap}, st, config.DashboardConfig{}, hub, testLogger())
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://bot.internal:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "bot.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOverviewFilterParsing(t *testing.T) {
	t.Parallel()

	q := url.Values{}
	q.Set("symbols", "XBTUSD, ETHUSD")
	q.Set("dry_run", "true")
	q.Set("limit", "5")

	filter, err := overviewFilter(q)
	if err != nil {
		t.Fatalf("overviewFilter: %v", err)
	}
	if len(filter.Symbols) != 2 || filter.Symbols[0] != "XBTUSD" || filter.Symbols[1] != "ETHUSD" {
		t.Fatalf("symbols = %v", filter.Symbols)
	}
	if filter.DryRun == nil || !*filter.DryRun {
		t.Fatalf("dry_run filter not set")
	}
	if filter.Limit != 5 {
		t.Fatalf("limit = %d, want 5", filter.Limit)
	}
}

func TestOverviewFilterRejectsBadParams(t *testing.T) {
	t.Parallel()

	q := url.Values{}
	q.Set("dry_run", "maybe")
	if _, err := overviewFilter(q); err == nil {
		t.Fatalf("expected error for dry_run=maybe")
	}

	q = url.Values{}
	q.Set("limit", "-1")
	if _, err := overviewFilter(q); err == nil {
		t.Fatalf("expected error for limit=-1")
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	snap := EngineSnapshot{DryRun: true, Balance: 1000}
	h := testHandlers(t, snap)

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest("GET", "/api/snapshot", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got EngineSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.DryRun || got.Balance != 1000 {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := testHandlers(t, EngineSnapshot{})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %q, want ok", body["status"])
	}
}

func TestHandleOverviewEmptyStore(t *testing.T) {
	t.Parallel()

	h := testHandlers(t, EngineSnapshot{})

	rec := httptest.NewRecorder()
	h.HandleOverview(rec, httptest.NewRequest("GET", "/api/overview?dry_run=all", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got store.Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClosedPositions != 0 || got.NetPnL != 0 {
		t.Fatalf("overview on empty store = %+v", got)
	}
}
