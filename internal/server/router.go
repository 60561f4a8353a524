package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/pagecache/internal/engine"
	"github.com/l0p7/pagecache/internal/metrics"
	"github.com/l0p7/pagecache/internal/policy"
)

// Route binds a served path to its cache policy and the producer that
// generates the page body on a miss.
type Route struct {
	Policy  policy.Policy
	Produce engine.Producer
}

// Router dispatches HTTP traffic between the cached page routes and the
// operational endpoints (purge, healthz, metrics). The route table can be
// swapped atomically so config reloads never drop in-flight requests.
type Router struct {
	engine  *engine.Engine
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu       sync.RWMutex
	routes   map[string]Route
	policies int
}

// NewRouter wires the dispatch facade around the cache engine. The route
// table starts empty; callers install it with Swap.
func NewRouter(eng *engine.Engine, rec *metrics.Recorder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine:  eng,
		metrics: rec,
		logger:  logger.With(slog.String("component", "router")),
		routes:  map[string]Route{},
	}
}

// Swap installs a new route table and policy count. Requests already being
// served finish against the table they started with.
func (rt *Router) Swap(routes map[string]Route, policies int) {
	if routes == nil {
		routes = map[string]Route{}
	}
	rt.mu.Lock()
	rt.routes = routes
	rt.policies = policies
	rt.mu.Unlock()
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/healthz":
		rt.serveHealth(w, r)
	case r.URL.Path == "/purge" || strings.HasPrefix(r.URL.Path, "/purge/"):
		rt.servePurge(w, r)
	case r.URL.Path == "/metrics":
		rt.metrics.Handler().ServeHTTP(w, r)
	default:
		rt.servePage(w, r)
	}
}

// servePage runs a configured route through the cache engine and relays the
// negotiated response, including the Cache-Status decision trace.
func (rt *Router) servePage(w http.ResponseWriter, r *http.Request) {
	rt.mu.RLock()
	route, ok := rt.routes[r.URL.Path]
	rt.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such page")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "pages are read-only")
		return
	}

	start := time.Now()
	resp, err := rt.engine.Handle(r.Context(), route.Policy, engine.Request{
		Method:          http.MethodGet,
		Path:            r.URL.Path,
		Query:           r.URL.Query(),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
		IfNoneMatch:     r.Header.Get("If-None-Match"),
	}, route.Produce)
	if err != nil {
		rt.logger.Error("page production failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		rt.metrics.ObservePageRequest(r.URL.Path, http.StatusInternalServerError, "error", time.Since(start))
		writeError(w, http.StatusInternalServerError, "page production failed")
		return
	}

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Cache-Status", resp.Status.CacheStatus())
	if resp.StatusCode != http.StatusNotModified && resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.StatusCode != http.StatusNotModified && r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
	rt.metrics.ObservePageRequest(r.URL.Path, resp.StatusCode, string(resp.Status), time.Since(start))
}

// servePurge evicts every cached entry carrying the tag named in the path.
// Eviction is idempotent: purging an unknown tag still answers 204.
func (rt *Router) servePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "purge requires POST")
		return
	}
	tag := strings.TrimPrefix(r.URL.Path, "/purge")
	tag = strings.Trim(tag, "/")
	if tag == "" || strings.Contains(tag, "/") {
		writeError(w, http.StatusBadRequest, "purge expects a single tag: /purge/{tag}")
		return
	}
	if err := rt.engine.EvictByTag(r.Context(), tag); err != nil {
		rt.logger.Error("purge failed", slog.String("tag", tag), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "health requires GET")
		return
	}
	entries, err := rt.engine.Size(r.Context())
	if err != nil {
		rt.logger.Error("health size probe failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cache store unavailable")
		return
	}
	rt.mu.RLock()
	routes := len(rt.routes)
	policies := rt.policies
	rt.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"entries":  entries,
		"routes":   routes,
		"policies": policies,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
