// Package api vystavuje čtecí dotazy nad úložištěm jako JSON přes HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"weather-station/internal/storage"
)

// Reader je čtecí část Storage Gateway.
type Reader interface {
	QueryRecent(ctx context.Context, limit int) ([]storage.Row, error)
	QueryRange(ctx context.Context, start, end time.Time) ([]storage.Row, error)
	QueryLatest(ctx context.Context) (storage.Row, bool, error)
	QueryCount(ctx context.Context) (int64, error)
}

// LatestReader je "hot" poslední hodnota (Valkey).
type LatestReader interface {
	Latest(ctx context.Context) (storage.Row, bool, error)
}

// Handler sdružuje metody pro obsluhu HTTP požadavků.
type Handler struct {
	store  Reader
	latest LatestReader // může být nil
	logger *slog.Logger
}

// NewHandler vytváří novou instanci handleru. latest může být nil.
func NewHandler(store Reader, latest LatestReader, logger *slog.Logger) *Handler {
	return &Handler{store: store, latest: latest, logger: logger}
}

// RegisterRoutes mapuje URL cesty na handlery (router z Go 1.22+ s metodami).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/readings/recent", h.handleRecent)
	mux.HandleFunc("GET /api/readings/range", h.handleRange)
	mux.HandleFunc("GET /api/readings/latest", h.handleLatest)
	mux.HandleFunc("GET /api/readings/count", h.handleCount)
}

// handleRecent: GET /api/readings/recent?limit=10
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Neplatný limit (musí být kladné číslo)", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.store.QueryRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Chyba při načítání posledních záznamů", "error", err)
		http.Error(w, "Chyba při načítání dat", http.StatusInternalServerError)
		return
	}
	h.writeRows(w, rows)
}

// handleRange: GET /api/readings/range?start=2025-06-01T00:00:00Z&end=...
// end je volitelný, chybí = teď.
func (h *Handler) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, "Neplatný parametr start (RFC3339)", http.StatusBadRequest)
		return
	}
	var end time.Time
	if s := q.Get("end"); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			http.Error(w, "Neplatný parametr end (RFC3339)", http.StatusBadRequest)
			return
		}
		if end.Before(start) {
			http.Error(w, "end je před start", http.StatusBadRequest)
			return
		}
	}

	rows, err := h.store.QueryRange(r.Context(), start, end)
	if err != nil {
		h.logger.Error("Chyba při načítání rozsahu", "start", start, "end", end, "error", err)
		http.Error(w, "Chyba při načítání dat", http.StatusInternalServerError)
		return
	}
	h.writeRows(w, rows)
}

// handleLatest: GET /api/readings/latest
// Nejdřív Valkey, při chybě nebo prázdné cache TimescaleDB.
func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.latest != nil {
		row, ok, err := h.latest.Latest(ctx)
		if err != nil {
			h.logger.Warn("Valkey nedostupný, čtu z DB", "error", err)
		} else if ok {
			h.writeJSON(w, http.StatusOK, row)
			return
		}
	}

	row, ok, err := h.store.QueryLatest(ctx)
	if err != nil {
		h.logger.Error("Chyba při načítání poslední hodnoty", "error", err)
		http.Error(w, "Chyba při načítání dat", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Zatím žádná data", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// handleCount: GET /api/readings/count
func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.QueryCount(r.Context())
	if err != nil {
		h.logger.Error("Chyba při počítání záznamů", "error", err)
		http.Error(w, "Chyba při načítání dat", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// writeRows vrací vždy JSON pole, i prázdné.
func (h *Handler) writeRows(w http.ResponseWriter, rows []storage.Row) {
	if rows == nil {
		rows = []storage.Row{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
	}
}

// CorsMiddleware povolí volání API z frontendu na jiném portu/doméně.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// V produkci zde má být konkrétní doména.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Preflight: odpovíme OK a končíme.
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health je jednoduchý healthcheck pro Docker.
// ready == nil znamená "vždy zdravý".
func Health(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "NOT READY", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	}
}
