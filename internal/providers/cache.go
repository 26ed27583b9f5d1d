package providers

import (
	"sync"
	"time"
)

// DefaultSignatureTTL bounds how long a cached thinking signature is
// trusted for cross-turn injection.
const DefaultSignatureTTL = 30 * time.Minute

// SignatureEntry is the last thinking block observed for a session.
type SignatureEntry struct {
	ThinkingText string
	Signature    string
	CreatedAt    time.Time
}

// SignatureCache stores the most recent thinking content and signature
// per session key so the composer can re-inject reasoning state the
// client protocol cannot carry itself. Entries expire lazily; there is
// no background sweeper. Concurrent writers to the same key race with
// last-writer-wins semantics, which is acceptable for the
// single-session-per-key usage this cache serves.
type SignatureCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]SignatureEntry
}

// NewSignatureCache builds a cache with the given TTL. A nil clock
// defaults to time.Now; tests inject a fake.
func NewSignatureCache(ttl time.Duration, now func() time.Time) *SignatureCache {
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SignatureCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]SignatureEntry),
	}
}

// SessionKey derives the cache key for a conversation. Concurrent
// conversations sharing a project and model collide; this is a known
// limitation, not a bug.
func SessionKey(project, model string) string {
	return project + "/" + model
}

func (c *SignatureCache) Put(key, thinkingText, signature string) {
	if key == "" || signature == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = SignatureEntry{
		ThinkingText: thinkingText,
		Signature:    signature,
		CreatedAt:    c.now(),
	}
}

// Get returns the cached entry for key, or nil when absent or stale.
// Stale entries are evicted on access.
func (c *SignatureCache) Get(key string) *SignatureEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return &entry
}

// Len reports the number of live and stale entries currently held.
func (c *SignatureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
