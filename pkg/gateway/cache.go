package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultCacheCap = 1000
	// evictFraction of the oldest entries are dropped when the cap is hit.
	evictFraction = 10
)

type cacheEntry struct {
	result   json.RawMessage
	storedAt time.Time
}

// responseCache is the gateway-wide TTL cache for tool results.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	entries map[string]cacheEntry

	now func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		cap:     defaultCacheCap,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// cacheKey hashes "<backend>:<tool>:<canonical-json(params)>". Marshaling a
// map sorts its keys, so the JSON is canonical.
func cacheKey(backend, tool string, params map[string]any) string {
	canonical, err := json.Marshal(params)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256([]byte(backend + ":" + tool + ":" + string(canonical)))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *responseCache) put(key string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{result: result, storedAt: c.now()}
	if len(c.entries) <= c.cap {
		return
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })
	for _, e := range all[:c.cap/evictFraction] {
		delete(c.entries, e.key)
	}
}

// clear drops every entry and returns how many were dropped.
func (c *responseCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
