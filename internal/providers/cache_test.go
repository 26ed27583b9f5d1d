package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestSignatureCachePutGet(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cache := NewSignatureCache(DefaultSignatureTTL, clock.Now)

	key := SessionKey("proj-1", "gemini-3-pro")
	cache.Put(key, "reasoning text", "sig-abc")

	entry := cache.Get(key)
	require.NotNil(t, entry)
	assert.Equal(t, "reasoning text", entry.ThinkingText)
	assert.Equal(t, "sig-abc", entry.Signature)
}

func TestSignatureCacheTTLExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cache := NewSignatureCache(30*time.Minute, clock.Now)

	cache.Put("k", "text", "sig")

	clock.Advance(29 * time.Minute)
	require.NotNil(t, cache.Get("k"))

	clock.Advance(2 * time.Minute)
	assert.Nil(t, cache.Get("k"))

	// Stale entries are evicted on access.
	assert.Equal(t, 0, cache.Len())
}

func TestSignatureCacheOverwrite(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cache := NewSignatureCache(time.Hour, clock.Now)

	cache.Put("k", "first", "sig-1")
	cache.Put("k", "second", "sig-2")

	entry := cache.Get("k")
	require.NotNil(t, entry)
	assert.Equal(t, "sig-2", entry.Signature)
	assert.Equal(t, 1, cache.Len())
}

func TestSignatureCacheIgnoresEmpty(t *testing.T) {
	cache := NewSignatureCache(time.Hour, nil)

	cache.Put("", "text", "sig")
	cache.Put("k", "text", "")

	assert.Equal(t, 0, cache.Len())
	assert.Nil(t, cache.Get("k"))
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "proj/gemini-3-pro", SessionKey("proj", "gemini-3-pro"))
}
