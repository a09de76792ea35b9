package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NiceMatters/lwan/internal/retention"
	"github.com/NiceMatters/lwan/pkg/accesslog"
	"github.com/NiceMatters/lwan/pkg/logger"
)

// adminHandler builds the admin router: health, metrics and the access
// log endpoints.
func (a *App) adminHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/accesslog", accessLogHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/retention/run", retentionRunHandler).Methods(http.MethodPost)
	return r
}

// healthzHandler handles the /healthz endpoint.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
}

// readyzHandler reports ready once the core listener is bound.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.core.Addr() == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("{\"status\":\"not ready\"}"))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\",\"version\":\"" + ver + "\"}"))
}

// accessLogHandler returns the most recent access log entries, newest
// first. ?limit= bounds the result.
func accessLogHandler(w http.ResponseWriter, r *http.Request) {
	if !accesslog.Enabled() {
		http.Error(w, "access log disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := accesslog.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// retentionRunHandler triggers an immediate retention run.
func retentionRunHandler(w http.ResponseWriter, r *http.Request) {
	deleted, err := retention.RunImmediate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"deleted": deleted})
}

// startAdmin starts the admin HTTP server in a goroutine and returns a
// channel that will carry any fatal server error.
func (a *App) startAdmin(_ context.Context) <-chan error {
	a.admin = &http.Server{Addr: a.cfg.AdminAddr(), Handler: a.adminHandler()}
	errCh := make(chan error, 1)
	go func() {
		err := a.admin.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

func (a *App) shutdownAdmin() {
	if a.admin == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.admin.Shutdown(ctx); err != nil {
		logger.Warn("admin shutdown failed", "err", err)
	}
}
