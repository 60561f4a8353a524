package cache

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
)

// absentMarker encodes a vary parameter missing from the request. It is
// distinct from the encoding of an empty-string value so ?v= and a request
// without v produce different keys.
const absentMarker = ";absent"

// Descriptor is the canonical request shape used for cache key generation.
// It includes everything that may differentiate stored responses: the policy
// identity (the key space is partitioned per policy), method, path, and the
// values of the policy's vary parameters.
type Descriptor struct {
	Policy    string
	Method    string
	Path      string
	Query     url.Values
	VaryQuery []string
}

// Key computes a deterministic FNV-1a hash of the descriptor, hex encoded.
//
// Determinism rules:
//   - Vary keys are sorted before folding, so a policy declaring them in any
//     order builds the same key shape.
//   - Multiple values for one parameter are sorted and escaped before
//     folding, so query-string ordering never affects the key and a value
//     containing the separator cannot masquerade as two values.
//   - Parameters outside the vary set are ignored entirely.
//   - An empty vary set yields a key independent of all query parameters.
func (d Descriptor) Key() string {
	h := fnv.New64a()

	_, _ = h.Write([]byte(d.Policy))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(d.Method))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(d.Path))

	keys := make([]string, 0, len(d.VaryQuery))
	seen := make(map[string]bool, len(d.VaryQuery))
	for _, k := range d.VaryQuery {
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write([]byte(k))
		values, present := d.Query[k]
		if !present {
			_, _ = h.Write([]byte(absentMarker))
			continue
		}
		canonical := make([]string, len(values))
		for i, v := range values {
			// Escaping removes every literal "," so the join separator is
			// unambiguous: v=a,b and v=a&v=b fold differently.
			canonical[i] = url.QueryEscape(v)
		}
		sort.Strings(canonical)
		_, _ = h.Write([]byte("="))
		_, _ = h.Write([]byte(strings.Join(canonical, ",")))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
