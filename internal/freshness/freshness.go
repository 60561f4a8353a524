// Package freshness decides what downstream caches may do with a response
// and whether a client's conditional request can be answered with 304. It
// builds the Cache-Control directive set from the active policy, generates
// validators for freshly produced payloads, and evaluates If-Modified-Since
// and If-None-Match against stored validators.
package freshness

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/pagecache/internal/cache"
	"github.com/l0p7/pagecache/internal/policy"
)

// NewValidator derives the validators for a payload produced at the given
// instant. Last-Modified is truncated to whole seconds to match HTTP date
// granularity; the ETag is a strong content hash so byte-identical payloads
// revalidate across reproductions.
func NewValidator(producedAt time.Time, body []byte) cache.Validator {
	h := fnv.New64a()
	_, _ = h.Write(body)
	return cache.Validator{
		LastModified: producedAt.UTC().Truncate(time.Second),
		ETag:         fmt.Sprintf("%q", fmt.Sprintf("%016x", h.Sum64())),
	}
}

// Headers builds the response headers the negotiator owns: Cache-Control per
// the policy's directives, plus validator headers when the policy allows
// storage anywhere.
//
// Directive rules: public/private from visibility, no-cache and no-store from
// the policy flags, max-age from the TTL. no-store suppresses both max-age
// and validators since nothing downstream is permitted to hold the response.
func Headers(p policy.Policy, v cache.Validator) map[string]string {
	directives := make([]string, 0, 3)
	switch p.Visibility {
	case policy.VisibilityPublic:
		directives = append(directives, "public")
	case policy.VisibilityPrivate:
		directives = append(directives, "private")
	}
	if p.NoCache {
		directives = append(directives, "no-cache")
	}
	if p.NoStore {
		directives = append(directives, "no-store")
	} else {
		directives = append(directives, fmt.Sprintf("max-age=%d", int(p.TTL.Seconds())))
	}

	headers := map[string]string{
		"Cache-Control": strings.Join(directives, ", "),
	}
	if p.NoStore {
		return headers
	}
	if !v.LastModified.IsZero() {
		headers["Last-Modified"] = v.LastModified.Format(http.TimeFormat)
	}
	if v.ETag != "" {
		headers["ETag"] = v.ETag
	}
	return headers
}

// Fresh evaluates a conditional request against a stored validator. ETag
// comparison (If-None-Match) takes precedence over If-Modified-Since and uses
// exact string equality. A zero validator is never fresh, forcing a full
// response.
func Fresh(ifModifiedSince, ifNoneMatch string, v cache.Validator) bool {
	if v.Zero() {
		return false
	}
	if ifNoneMatch != "" && v.ETag != "" {
		return ifNoneMatch == v.ETag
	}
	if ifModifiedSince != "" && !v.LastModified.IsZero() {
		since, err := http.ParseTime(ifModifiedSince)
		if err != nil {
			return false
		}
		return !v.LastModified.After(since)
	}
	return false
}
