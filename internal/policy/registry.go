package policy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound reports a route referencing a policy name nobody registered.
// Callers are expected to treat it as fatal at startup.
var ErrNotFound = errors.New("policy: not found")

// Registry holds the base policy and every named policy admitted at startup.
// Registration validates; resolution never fails for configurations that
// passed registration.
type Registry struct {
	mu    sync.RWMutex
	base  *Policy
	named map[string]Policy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{named: make(map[string]Policy)}
}

// Register admits a policy after validation. Registering a second base policy
// replaces the first; registering a named policy twice is a configuration
// error since the duplicate would silently shadow the original.
func (r *Registry) Register(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.IsBase() {
		base := p
		r.base = &base
		return nil
	}
	if _, exists := r.named[p.Name]; exists {
		return fmt.Errorf("policy %q: already registered", p.Name)
	}
	r.named[p.Name] = p
	return nil
}

// Resolve returns the policy for the given name, or the base policy when the
// name is empty. Unknown names and a missing base policy yield ErrNotFound.
func (r *Registry) Resolve(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		if r.base == nil {
			return Policy{}, fmt.Errorf("base policy: %w", ErrNotFound)
		}
		return *r.base, nil
	}
	p, ok := r.named[name]
	if !ok {
		return Policy{}, fmt.Errorf("policy %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Len counts registered policies, base included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.named)
	if r.base != nil {
		n++
	}
	return n
}
