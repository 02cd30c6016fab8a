package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"mana-sync-service/internal/logger"
	"mana-sync-service/internal/store"
	"mana-sync-service/internal/sync"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type Handler struct {
	syncManager *sync.Manager
	store       store.Store
	metrics     http.Handler
}

// NewHandler serves the operational API. metrics may be nil to omit /metrics.
func NewHandler(manager *sync.Manager, st store.Store, metrics http.Handler) *Handler {
	return &Handler{
		syncManager: manager,
		store:       st,
		metrics:     metrics,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)
		r.Get("/collections/{name}/records", h.ListRecords)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// TriggerSync starts a cycle for one collection, or all of them when no
// collection is given. With wait=true the request blocks and returns the
// outcomes; otherwise the cycle runs in the background.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if collection != "" && !h.knows(collection) {
		writeError(w, http.StatusNotFound, "unknown collection "+collection)
		return
	}

	if !wait {
		if err := h.syncManager.Trigger(collection); err != nil {
			if errors.Is(err, sync.ErrShuttingDown) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			logger.Log.Error("Failed to trigger sync", zap.String("collection", collection), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to trigger sync")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	if collection == "" {
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": h.syncManager.RunAll(r.Context())})
		return
	}
	out, err := h.syncManager.Run(r.Context(), collection)
	if err != nil {
		logger.Log.Error("Triggered sync failed", zap.String("collection", collection), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to run sync")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": []sync.Outcome{out}})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncManager.GetStatus())
}

type historyEntry struct {
	ID          string     `json:"id"`
	Collection  string     `json:"collection"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Added       int        `json:"added"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Unchanged   int        `json:"unchanged"`
	Error       string     `json:"error,omitempty"`
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	if collection != "" && !h.knows(collection) {
		writeError(w, http.StatusNotFound, "unknown collection "+collection)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.GetSyncHistory(r.Context(), collection, limit, offset)
	if err != nil {
		logger.Log.Error("Failed to read sync history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read sync history")
		return
	}

	entries := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		e := historyEntry{
			ID:         row.ID,
			Collection: row.Collection,
			Status:     row.Status,
			StartedAt:  row.StartedAt,
			Added:      row.Added,
			Updated:    row.Updated,
			Deleted:    row.Deleted,
			Unchanged:  row.Unchanged,
		}
		if row.CompletedAt.Valid {
			completed := row.CompletedAt.Time
			e.CompletedAt = &completed
		}
		if row.ErrorMessage.Valid {
			e.Error = row.ErrorMessage.String
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.knows(name) {
		writeError(w, http.StatusNotFound, "unknown collection "+name)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.ListRecords(r.Context(), name, limit, offset)
	if err != nil {
		logger.Log.Error("Failed to list records", zap.String("collection", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if rows == nil {
		rows = []*store.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "records": rows})
}

func (h *Handler) knows(collection string) bool {
	for _, name := range h.syncManager.Collections() {
		if name == collection {
			return true
		}
	}
	return false
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > maxPageSize {
			return 0, 0, errors.New("limit must be between 1 and 1000")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RequestLogger logs each request through the service logger.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", middleware.GetReqID(r.Context())),
		)
	})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}
