// Package resolver maps opaque storage references to short-lived access
// URLs through a time-bounded cache with single-flight de-duplication.
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SchemePrefix marks opaque storage references. Anything else is treated as
// an already-resolved URL and passed through unchanged.
const SchemePrefix = "storage://"

const (
	// safetyMargin is subtracted from an entry's validity window so a URL
	// handed to a renderer does not expire while it is being fetched.
	safetyMargin = 60 * time.Second

	defaultTTLSeconds = 3600
)

// CacheEntry is one resolved reference.
type CacheEntry struct {
	Reference   string
	ResolvedURL string
	IssuedAt    time.Time
	TTL         time.Duration
}

// Valid reports whether the entry may still be served at the given time.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Before(e.IssuedAt.Add(e.TTL - safetyMargin))
}

// Service is the process-wide resolution cache. Expired entries are evicted
// lazily on lookup, never swept; concurrent resolutions of the same
// reference share one upstream call.
type Service struct {
	mu       sync.RWMutex
	entries  map[string]CacheEntry
	group    singleflight.Group
	upstream Upstream
	logger   *slog.Logger

	now func() time.Time // injectable for TTL tests
}

// NewService creates a resolution cache over the given upstream.
func NewService(upstream Upstream, logger *slog.Logger) *Service {
	return &Service{
		entries:  make(map[string]CacheEntry),
		upstream: upstream,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve returns a usable URL for reference. Cache hits return immediately;
// misses and expired entries trigger exactly one upstream call shared by all
// concurrent callers for that reference. A failed call is propagated to
// every waiter and leaves no cache entry behind.
func (s *Service) Resolve(ctx context.Context, reference string) (string, error) {
	if !strings.HasPrefix(reference, SchemePrefix) {
		return reference, nil
	}

	if url, ok := s.lookup(reference); ok {
		return url, nil
	}

	// The flight outlives any single caller: a conversation closing does
	// not cancel resolution, the result is simply cached and unused.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(reference, func() (any, error) {
		// A previous flight may have landed between lookup and DoChan.
		if url, ok := s.lookup(reference); ok {
			return url, nil
		}

		res, err := s.upstream.Resolve(flightCtx, reference)
		if err != nil {
			return nil, err
		}

		entry := CacheEntry{
			Reference:   reference,
			ResolvedURL: res.ResolvedURL,
			IssuedAt:    s.now(),
			TTL:         time.Duration(res.TTLSeconds) * time.Second,
		}
		if res.TTLSeconds <= 0 {
			entry.TTL = defaultTTLSeconds * time.Second
		}

		s.mu.Lock()
		s.entries[reference] = entry
		s.mu.Unlock()

		s.logger.Debug("reference resolved",
			"reference", reference,
			"ttl", entry.TTL,
		)
		return entry.ResolvedURL, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate removes an entry immediately regardless of expiry, and detaches
// any in-flight resolution so an explicit retry starts fresh.
func (s *Service) Invalidate(reference string) {
	s.mu.Lock()
	delete(s.entries, reference)
	s.mu.Unlock()
	s.group.Forget(reference)
}

// Reset drops every cached entry. Part of the explicit init/reset lifecycle;
// the cache is never reachable as ambient global state.
func (s *Service) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]CacheEntry)
	s.mu.Unlock()
}

// Len returns the number of cached entries, valid or not.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// lookup returns the cached URL when a valid entry exists. Expired entries
// are evicted here, on the next lookup that touches them.
func (s *Service) lookup(reference string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.entries[reference]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !entry.Valid(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a fresh entry may have replaced it.
		if cur, ok := s.entries[reference]; ok && !cur.Valid(s.now()) {
			delete(s.entries, reference)
		}
		s.mu.Unlock()
		return "", false
	}
	return entry.ResolvedURL, true
}
