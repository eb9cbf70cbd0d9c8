package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedPath is where staff open the moderation WebSocket.
const FeedPath = "/admin/feed"

// Handler builds the full HTTP stack.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	mux.Handle("GET "+FeedPath, withoutDeadlines(a.gateway))

	a.api.Register(mux)

	var h http.Handler = mux
	h = WithRequestLogging(h, a.log, a.metrics)
	h = WithCORS(h, a.cfg.HTTP, a.log)
	h = WithSecurityHeaders(h)
	return WithRecover(h, a.log)
}

// handleReady reports 503 while a configured backend is unreachable.
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Database.RequireReady && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := PingRedis(r.Context(), a.redis, 2*time.Second); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Files.Ping(ctx); err != nil {
		a.log.Info("readyz.storage.not_ready", "err", err)
		http.Error(w, "storage not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// withoutDeadlines lifts the server read/write timeouts for long-lived upgrades;
// the feed enforces its own idle and write timeouts.
func withoutDeadlines(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}
