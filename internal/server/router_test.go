package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/l0p7/pagecache/internal/cache"
	"github.com/l0p7/pagecache/internal/engine"
	"github.com/l0p7/pagecache/internal/metrics"
	"github.com/l0p7/pagecache/internal/policy"
)

func staticProducer(body string) engine.Producer {
	return func(ctx context.Context) (engine.Payload, error) {
		return engine.Payload{Body: []byte(body), ContentType: "text/plain"}, nil
	}
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Store:   cache.NewMemory(),
		Logger:  newTestLogger(),
		Metrics: metrics.NewRecorder(nil),
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	rt := NewRouter(eng, metrics.NewRecorder(nil), newTestLogger())
	rt.Swap(map[string]Route{
		"/public": {
			Policy:  policy.Policy{Name: "Timed", TTL: 30 * time.Second},
			Produce: staticProducer("public page"),
		},
		"/tagged": {
			Policy:  policy.Policy{Name: "Tagged", TTL: 30 * time.Second, Tags: []string{"tag-expire"}},
			Produce: staticProducer("tagged page"),
		},
	}, 2)
	return rt
}

func doRequest(rt *Router, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, http.NoBody)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rt.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesPageMissThenHit(t *testing.T) {
	rt := newTestRouter(t)

	first := doRequest(rt, http.MethodGet, "/public", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 on first request, got %d", first.Code)
	}
	if body := first.Body.String(); body != "public page" {
		t.Fatalf("unexpected body %q", body)
	}
	if got := first.Header().Get("Cache-Status"); !strings.Contains(got, "miss") {
		t.Fatalf("expected miss Cache-Status, got %q", got)
	}
	if got := first.Header().Get("Cache-Control"); !strings.Contains(got, "max-age=30") {
		t.Fatalf("expected max-age directive, got %q", got)
	}
	if first.Header().Get("ETag") == "" {
		t.Fatalf("expected an ETag on the stored response")
	}

	second := doRequest(rt, http.MethodGet, "/public", nil)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on second request, got %d", second.Code)
	}
	if got := second.Header().Get("Cache-Status"); got != "pagecache; hit" {
		t.Fatalf("expected hit Cache-Status, got %q", got)
	}
}

func TestRouterConditionalRequestRevalidates(t *testing.T) {
	rt := newTestRouter(t)

	first := doRequest(rt, http.MethodGet, "/public", nil)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected an ETag on the first response")
	}

	cond := doRequest(rt, http.MethodGet, "/public", map[string]string{"If-None-Match": etag})
	if cond.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", cond.Code)
	}
	if cond.Body.Len() != 0 {
		t.Fatalf("expected empty body on 304, got %q", cond.Body.String())
	}
	if got := cond.Header().Get("Cache-Status"); !strings.Contains(got, "revalidated") {
		t.Fatalf("expected revalidated Cache-Status, got %q", got)
	}
}

func TestRouterUnknownPage(t *testing.T) {
	rt := newTestRouter(t)
	rec := doRequest(rt, http.MethodGet, "/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouterPageRejectsWrites(t *testing.T) {
	rt := newTestRouter(t)
	rec := doRequest(rt, http.MethodPost, "/public", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, "GET") {
		t.Fatalf("expected Allow header to advertise GET, got %q", allow)
	}
}

func TestRouterHeadOmitsBody(t *testing.T) {
	rt := newTestRouter(t)
	rec := doRequest(rt, http.MethodHead, "/public", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body on HEAD, got %q", rec.Body.String())
	}
}

func TestRouterPurgeEvictsTaggedEntries(t *testing.T) {
	rt := newTestRouter(t)

	doRequest(rt, http.MethodGet, "/tagged", nil)

	purge := doRequest(rt, http.MethodPost, "/purge/tag-expire", nil)
	if purge.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", purge.Code)
	}

	after := doRequest(rt, http.MethodGet, "/tagged", nil)
	if got := after.Header().Get("Cache-Status"); !strings.Contains(got, "miss") {
		t.Fatalf("expected miss after purge, got %q", got)
	}
}

func TestRouterPurgeUnknownTagIsIdempotent(t *testing.T) {
	rt := newTestRouter(t)
	rec := doRequest(rt, http.MethodPost, "/purge/never-used", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unknown tag, got %d", rec.Code)
	}
}

func TestRouterPurgeValidation(t *testing.T) {
	rt := newTestRouter(t)

	if rec := doRequest(rt, http.MethodGet, "/purge/tag-expire", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET purge, got %d", rec.Code)
	}
	if rec := doRequest(rt, http.MethodPost, "/purge", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tag, got %d", rec.Code)
	}
	if rec := doRequest(rt, http.MethodPost, "/purge/a/b", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for nested tag path, got %d", rec.Code)
	}
}

func TestRouterHealth(t *testing.T) {
	rt := newTestRouter(t)
	doRequest(rt, http.MethodGet, "/public", nil)

	rec := doRequest(rt, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health struct {
		Status   string `json:"status"`
		Entries  int64  `json:"entries"`
		Routes   int    `json:"routes"`
		Policies int    `json:"policies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unexpected health payload: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok status, got %q", health.Status)
	}
	if health.Entries != 1 {
		t.Fatalf("expected 1 cached entry, got %d", health.Entries)
	}
	if health.Routes != 2 || health.Policies != 2 {
		t.Fatalf("unexpected route/policy counts: %d/%d", health.Routes, health.Policies)
	}

	if rec := doRequest(rt, http.MethodPost, "/healthz", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST health, got %d", rec.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rt := newTestRouter(t)
	rec := doRequest(rt, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterSwapReplacesRoutes(t *testing.T) {
	rt := newTestRouter(t)
	rt.Swap(map[string]Route{
		"/fresh": {
			Policy:  policy.Policy{TTL: time.Second},
			Produce: staticProducer("fresh page"),
		},
	}, 1)

	if rec := doRequest(rt, http.MethodGet, "/public", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for retired route, got %d", rec.Code)
	}
	if rec := doRequest(rt, http.MethodGet, "/fresh", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for new route, got %d", rec.Code)
	}
}

func TestRouterProducerFailure(t *testing.T) {
	rt := newTestRouter(t)
	rt.Swap(map[string]Route{
		"/broken": {
			Policy: policy.Policy{TTL: time.Second},
			Produce: func(ctx context.Context) (engine.Payload, error) {
				return engine.Payload{}, errors.New("render exploded")
			},
		},
	}, 1)

	rec := doRequest(rt, http.MethodGet, "/broken", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
