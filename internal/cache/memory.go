package cache

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the in-process entry store. Entries and the tag index are
// guarded by one mutex so single-key read-modify-write (lazy expiry then
// replace) and tag eviction are atomic with respect to concurrent inserts.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	tags    map[string]map[string]struct{}
}

// NewMemory returns an empty in-memory store. State lives for the process
// lifetime only; there is no persistence and no size-pressure eviction.
func NewMemory() Store {
	return &memoryStore{
		entries: make(map[string]Entry),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		s.removeLocked(key, entry.Tags)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Store(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.StoredAt
	}
	if old, ok := s.entries[key]; ok {
		s.unindexLocked(key, old.Tags)
	}
	s.entries[key] = cloneEntry(entry)
	for _, tag := range entry.Tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (s *memoryStore) EvictTag(_ context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.tags[tag]
	if !ok {
		return 0, nil
	}
	removed := 0
	for key := range keys {
		entry, live := s.entries[key]
		if !live {
			// Stale index reference; the entry was already purged lazily.
			continue
		}
		s.removeLocked(key, entry.Tags)
		removed++
	}
	delete(s.tags, tag)
	return removed, nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.tags = make(map[string]map[string]struct{})
	return nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}

// removeLocked drops the entry and all its tag index references.
func (s *memoryStore) removeLocked(key string, tags []string) {
	delete(s.entries, key)
	s.unindexLocked(key, tags)
}

func (s *memoryStore) unindexLocked(key string, tags []string) {
	for _, tag := range tags {
		keys, ok := s.tags[tag]
		if !ok {
			continue
		}
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}
}

// cloneEntry copies the mutable parts of an entry. Payload bytes are shared;
// callers treat them as immutable.
func cloneEntry(in Entry) Entry {
	out := in
	if len(in.Headers) > 0 {
		out.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			out.Headers[k] = v
		}
	}
	if len(in.Tags) > 0 {
		out.Tags = make([]string, len(in.Tags))
		copy(out.Tags, in.Tags)
	}
	return out
}
