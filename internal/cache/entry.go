// Package cache implements the entry store behind the output cache engine:
// rendered response payloads keyed by deterministic request descriptors, with
// TTL expiry checked lazily at read time and a tag index for bulk eviction.
package cache

import (
	"context"
	"time"
)

// Validator carries the freshness validators stored alongside a payload,
// used to answer conditional requests without resending the body.
type Validator struct {
	LastModified time.Time
	ETag         string
}

// Zero reports whether no validator is present. Conditional checks against a
// zero validator always force a full response.
func (v Validator) Zero() bool {
	return v.LastModified.IsZero() && v.ETag == ""
}

// Entry is a stored response. Entries are owned by the store; callers treat
// the payload bytes as immutable.
type Entry struct {
	Body        []byte
	ContentType string
	Headers     map[string]string

	StoredAt  time.Time
	ExpiresAt time.Time

	// RequiresRevalidation marks entries created under a no-cache policy:
	// the payload is never served directly, only 304 negotiation against the
	// validator is permitted.
	RequiresRevalidation bool

	Tags      []string
	Validator Validator
}

// Expired reports whether the entry's freshness lifetime has elapsed at the
// given instant.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is the entry store contract. Implementations must be safe for
// concurrent use; single-key operations are atomic, cross-key operations
// carry no ordering guarantee.
type Store interface {
	// Lookup returns the live entry under key. Expired entries are purged
	// lazily and reported as a miss.
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	// Store inserts or replaces the entry under key and indexes its tags.
	Store(ctx context.Context, key string, entry Entry) error
	// EvictTag removes every entry carrying the tag, regardless of remaining
	// TTL, and reports how many were removed. Unknown tags are a no-op.
	EvictTag(ctx context.Context, tag string) (int, error)
	// Flush drops all entries and the tag index.
	Flush(ctx context.Context) error
	// Size returns the number of stored entries, expired or not.
	Size(ctx context.Context) (int64, error)
	// Close releases backend resources.
	Close(ctx context.Context) error
}
