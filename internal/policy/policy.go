// Package policy defines the cache policies that drive the output cache
// engine: how long an entry lives, which query parameters differentiate
// entries, which tags group them for bulk eviction, and what Cache-Control
// posture downstream caches are instructed to take.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Visibility states which class of downstream cache may store a response.
type Visibility string

const (
	// VisibilityDefault emits neither public nor private.
	VisibilityDefault Visibility = ""
	// VisibilityPublic marks the response storable by shared caches.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate restricts storage to the requesting client's cache.
	VisibilityPrivate Visibility = "private"
)

// Policy is an immutable cache configuration. The zero-name policy is the
// base policy applied to routes that do not select one explicitly.
type Policy struct {
	// Name identifies the policy. The empty name designates the base policy.
	Name string
	// TTL is the server-side freshness lifetime of stored entries.
	TTL time.Duration
	// VaryQuery lists the query parameter names whose values differentiate
	// cache entries. Parameters outside this set never affect the cache key.
	VaryQuery []string
	// Tags label stored entries for bulk eviction.
	Tags []string
	// NoCache forces revalidation: entries are retained for conditional
	// checks and tag bookkeeping but never served without a validator match.
	NoCache bool
	// NoStore disables storage entirely, server-side and downstream.
	NoStore bool
	// Visibility selects the public/private Cache-Control directive.
	Visibility Visibility
}

// IsBase reports whether this is the unnamed base policy.
func (p Policy) IsBase() bool { return p.Name == "" }

// Stores reports whether the engine creates entry-store records under this
// policy. NoCache policies still store entries (for validators and tag
// bookkeeping); NoStore policies and zero-TTL policies never do.
func (p Policy) Stores() bool {
	if p.NoStore {
		return false
	}
	return p.NoCache || p.TTL > 0
}

// Validate enforces the directive combination rules before a policy is
// admitted to the registry. Violations are configuration errors and must
// surface at startup, never per request.
func (p Policy) Validate() error {
	if p.TTL < 0 {
		return fmt.Errorf("policy %q: ttl must not be negative: %s", p.Name, p.TTL)
	}
	switch p.Visibility {
	case VisibilityDefault, VisibilityPublic, VisibilityPrivate:
	default:
		return fmt.Errorf("policy %q: visibility unsupported: %s", p.Name, p.Visibility)
	}
	if p.NoStore && p.Visibility != VisibilityDefault {
		return fmt.Errorf("policy %q: no-store conflicts with %s", p.Name, p.Visibility)
	}
	if p.Visibility == VisibilityPrivate && p.Stores() {
		return fmt.Errorf("policy %q: private conflicts with server-side storage; use noStore", p.Name)
	}
	for i, key := range p.VaryQuery {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("policy %q: varyQuery[%d] empty", p.Name, i)
		}
	}
	for i, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("policy %q: tags[%d] empty", p.Name, i)
		}
	}
	return nil
}

// ClampTTL caps the policy TTL at the server-wide ceiling. A zero ceiling
// means no ceiling is enforced.
func (p Policy) ClampTTL(max time.Duration) Policy {
	if max > 0 && p.TTL > max {
		p.TTL = max
	}
	return p
}
