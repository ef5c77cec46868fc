// Package refcache maps short opaque identifiers to proxying state. DASH
// segment templates and chained proxy legs need a stable short string inside
// a URL path segment; embedding a full sealed token there would bloat the
// manifest and collide with $Number$/$Time$ placeholders.
package refcache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a reference stays resolvable after first insertion.
const DefaultTTL = 24 * time.Hour

const idLength = 20

// Bundle is the state a short reference stands in for. Values are immutable
// once inserted.
type Bundle struct {
	OwnerKey         string
	UpstreamURL      string
	UpstreamToken    string
	LicenseURL       string
	FilenameTemplate string
}

// Cache resolves short references. Implementations must treat a cold cache
// as "all references expired"; callers map a miss to an invalid-session
// failure, never a crash.
type Cache interface {
	Shorten(b Bundle) string
	Extend(id string) (*Bundle, bool)
}

type entry struct {
	bundle   Bundle
	deadline time.Time
}

// MemoryCache is the process-wide in-memory implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a cache with the given TTL (DefaultTTL when zero) and starts
// its background sweep.
func New(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &MemoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Shorten derives the reference id for a bundle and stores it. The id is a
// content hash, so identical bundles always map to the same id; re-inserting
// an existing id is a no-op and does not reset its expiry.
func (c *MemoryCache) Shorten(b Bundle) string {
	id := referenceID(b)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		c.entries[id] = entry{bundle: b, deadline: c.now().Add(c.ttl)}
	}
	return id
}

// Extend resolves an id back to its bundle. Unknown and expired ids both
// report a miss; expired entries are checked on read so a reference can
// never outlive its deadline between sweeps.
func (c *MemoryCache) Extend(id string) (*Bundle, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || c.now().After(e.deadline) {
		return nil, false
	}
	b := e.bundle
	return &b, true
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for id, e := range c.entries {
				if now.After(e.deadline) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

func referenceID(b Bundle) string {
	seed := strings.Join([]string{
		b.OwnerKey,
		b.UpstreamURL,
		b.UpstreamToken,
		b.LicenseURL,
		b.FilenameTemplate,
	}, "-")
	sum := md5.Sum([]byte(seed))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:idLength])
}

var _ Cache = (*MemoryCache)(nil)
