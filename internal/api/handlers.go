package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/store"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider SnapshotProvider
	store    *store.Store
	cfg      config.DashboardConfig
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the handler set for the dashboard routes.
func NewHandlers(provider SnapshotProvider, st *store.Store, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		store:    st,
		cfg:      cfg,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(r.Header.Get("Origin"), cfg, r.Host)
			},
		},
		logger: logger.With("component", "api-handlers"),
	}
}

// isOriginAllowed implements the WebSocket origin policy: an explicit
// allowlist wins; otherwise same-host and loopback origins are accepted.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, reqHost) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// HandleHealth reports liveness, including a store ping.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("store ping failed", "error", err)
		status = "store unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSnapshot returns the engine's latest published snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := h.provider.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleOverview serves the store-backed performance overview.
//
// Query parameters: symbols (comma-separated), dry_run (all|true|false,
// default all), limit (rows per recent-list).
func (h *Handlers) HandleOverview(w http.ResponseWriter, r *http.Request) {
	filter, err := overviewFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	overview, err := h.store.Overview(r.Context(), filter)
	if err != nil {
		h.logger.Error("overview query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(overview); err != nil {
		h.logger.Error("failed to encode overview", "error", err)
	}
}

func overviewFilter(q url.Values) (store.OverviewFilter, error) {
	var filter store.OverviewFilter

	if raw := q.Get("symbols"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Symbols = append(filter.Symbols, s)
			}
		}
	}

	switch q.Get("dry_run") {
	case "", "all":
	case "true":
		v := true
		filter.DryRun = &v
	case "false":
		v := false
		filter.DryRun = &v
	default:
		return filter, errInvalidDryRun
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errInvalidLimit
		}
		filter.Limit = n
	}

	return filter, nil
}

type paramError string

func (e paramError) Error() string { return string(e) }

const (
	errInvalidDryRun = paramError(`dry_run must be "all", "true" or "false"`)
	errInvalidLimit  = paramError("limit must be a non-negative integer")
)

// HandleWebSocket upgrades the connection and registers a stream client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	// Seed the new client with the current snapshot.
	evt := DashboardEvent{
		Type:      EventSnapshot,
		Timestamp: time.Now(),
		Data:      h.provider.Snapshot(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}
