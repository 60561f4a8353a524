// Package engine orchestrates the output cache: resolve the cache key from
// the active policy, serve live entries without touching the producer,
// negotiate 304s against stored validators, and populate the store on misses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/l0p7/pagecache/internal/cache"
	"github.com/l0p7/pagecache/internal/freshness"
	"github.com/l0p7/pagecache/internal/metrics"
	"github.com/l0p7/pagecache/internal/policy"
)

// defaultRevalidateWindow bounds how long a no-cache policy without a TTL
// retains entries for conditional checks and tag bookkeeping.
const defaultRevalidateWindow = time.Hour

// Payload is the producer's output: the rendered body and its content type.
type Payload struct {
	Body        []byte
	ContentType string
}

// Producer generates a fresh response when the cache cannot serve one. It is
// supplied by the route layer and is never invoked on a live cache hit.
type Producer func(ctx context.Context) (Payload, error)

// Request describes the inbound request shape the engine needs: identity for
// key construction plus the conditional headers for freshness negotiation.
type Request struct {
	Method          string
	Path            string
	Query           url.Values
	IfModifiedSince string
	IfNoneMatch     string
}

// Status reports the engine's decision for a request.
type Status string

const (
	// StatusHit means a live stored entry was served without production.
	StatusHit Status = "hit"
	// StatusMiss means the producer ran and the result was stored (when the
	// policy stores at all).
	StatusMiss Status = "miss"
	// StatusRevalidated means a conditional request matched the stored
	// validator and a 304 was returned.
	StatusRevalidated Status = "revalidated"
	// StatusBypass means the policy forbids server-side storage entirely.
	StatusBypass Status = "bypass"
)

// CacheStatus renders the decision in Cache-Status header form.
func (s Status) CacheStatus() string {
	switch s {
	case StatusHit:
		return "pagecache; hit"
	case StatusRevalidated:
		return "pagecache; hit; detail=revalidated"
	case StatusBypass:
		return "pagecache; fwd=bypass"
	default:
		return "pagecache; fwd=miss"
	}
}

// Response is the engine's answer to the route layer. A 304 carries no body;
// everything else carries the payload and the negotiated headers.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Headers     map[string]string
	Status      Status
}

// Options configures a cache engine.
type Options struct {
	// Store holds cached entries. Required.
	Store cache.Store
	// Logger receives engine decisions and store failures. Defaults to
	// slog.Default.
	Logger *slog.Logger
	// Metrics records lookup/store/eviction/producer observations. Optional.
	Metrics *metrics.Recorder
}

// Engine is the output cache orchestrator. It owns no routes and produces no
// content; the surrounding route layer supplies both.
type Engine struct {
	store   cache.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a cache engine around the supplied entry store.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: entry store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   opts.Store,
		logger:  logger.With(slog.String("component", "engine")),
		metrics: opts.Metrics,
	}, nil
}

// Handle serves one request under the given policy. On a live hit the
// producer is not invoked; on a miss or expired entry the producer runs and
// its result is stored with the policy's TTL and tags. Producer errors
// propagate unchanged and never poison the key.
func (e *Engine) Handle(ctx context.Context, pol policy.Policy, req Request, produce Producer) (Response, error) {
	if produce == nil {
		return Response{}, errors.New("engine: producer required")
	}
	label := policyLabel(pol)

	if pol.NoStore {
		payload, err := e.invokeProducer(ctx, label, produce)
		if err != nil {
			return Response{}, err
		}
		return Response{
			StatusCode:  http.StatusOK,
			Body:        payload.Body,
			ContentType: payload.ContentType,
			Headers:     freshness.Headers(pol, cache.Validator{}),
			Status:      StatusBypass,
		}, nil
	}

	key := cache.Descriptor{
		Policy:    pol.Name,
		Method:    req.Method,
		Path:      req.Path,
		Query:     req.Query,
		VaryQuery: pol.VaryQuery,
	}.Key()

	lookupStart := time.Now()
	entry, ok, err := e.store.Lookup(ctx, key)
	outcome := metrics.CacheLookupMiss
	switch {
	case err != nil:
		outcome = metrics.CacheLookupError
	case ok:
		outcome = metrics.CacheLookupHit
	}
	e.metrics.ObserveCacheLookup(label, outcome, time.Since(lookupStart))
	if err != nil {
		// A broken lookup degrades to a miss; production still works.
		e.logger.Error("entry store lookup failed", slog.Any("error", err), slog.String("cache_key", key))
		ok = false
	}

	if ok {
		if freshness.Fresh(req.IfModifiedSince, req.IfNoneMatch, entry.Validator) {
			return Response{
				StatusCode: http.StatusNotModified,
				Headers:    entry.Headers,
				Status:     StatusRevalidated,
			}, nil
		}
		if !entry.RequiresRevalidation {
			return Response{
				StatusCode:  http.StatusOK,
				Body:        entry.Body,
				ContentType: entry.ContentType,
				Headers:     entry.Headers,
				Status:      StatusHit,
			}, nil
		}
		// A no-cache entry whose conditional failed is reproduced below.
	}

	payload, err := e.invokeProducer(ctx, label, produce)
	if err != nil {
		return Response{}, err
	}

	now := time.Now()
	validator := freshness.NewValidator(now, payload.Body)
	headers := freshness.Headers(pol, validator)

	if pol.Stores() {
		stored := cache.Entry{
			Body:                 payload.Body,
			ContentType:          payload.ContentType,
			Headers:              headers,
			StoredAt:             now.UTC(),
			ExpiresAt:            now.UTC().Add(retention(pol)),
			RequiresRevalidation: pol.NoCache,
			Tags:                 pol.Tags,
			Validator:            validator,
		}
		storeStart := time.Now()
		if err := e.store.Store(ctx, key, stored); err != nil {
			e.metrics.ObserveCacheStore(label, metrics.CacheStoreError, time.Since(storeStart))
			e.logger.Error("entry store write failed", slog.Any("error", err), slog.String("cache_key", key))
		} else {
			e.metrics.ObserveCacheStore(label, metrics.CacheStoreStored, time.Since(storeStart))
		}
	}

	return Response{
		StatusCode:  http.StatusOK,
		Body:        payload.Body,
		ContentType: payload.ContentType,
		Headers:     headers,
		Status:      StatusMiss,
	}, nil
}

// EvictByTag removes every stored entry carrying the tag, regardless of
// remaining TTL. Unknown tags are a silent no-op.
func (e *Engine) EvictByTag(ctx context.Context, tag string) error {
	removed, err := e.store.EvictTag(ctx, tag)
	if err != nil {
		return fmt.Errorf("engine: evict tag %q: %w", tag, err)
	}
	e.metrics.ObserveEviction(tag, removed)
	e.logger.Info("tag evicted", slog.String("tag", tag), slog.Int("entries", removed))
	return nil
}

// Flush drops every stored entry, e.g. after a policy reload.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.store.Flush(ctx); err != nil {
		return fmt.Errorf("engine: flush: %w", err)
	}
	e.logger.Info("entry store flushed")
	return nil
}

// Size reports the number of stored entries.
func (e *Engine) Size(ctx context.Context) (int64, error) {
	return e.store.Size(ctx)
}

// Close releases the entry store.
func (e *Engine) Close(ctx context.Context) error {
	return e.store.Close(ctx)
}

func (e *Engine) invokeProducer(ctx context.Context, label string, produce Producer) (Payload, error) {
	start := time.Now()
	payload, err := produce(ctx)
	e.metrics.ObserveProducer(label, time.Since(start))
	return payload, err
}

// retention determines how long an entry stays in the store. No-cache
// policies without a TTL still retain entries for conditional checks and tag
// eviction, just never for direct serving.
func retention(pol policy.Policy) time.Duration {
	if pol.NoCache && pol.TTL <= 0 {
		return defaultRevalidateWindow
	}
	return pol.TTL
}

func policyLabel(pol policy.Policy) string {
	if pol.IsBase() {
		return "base"
	}
	return pol.Name
}
