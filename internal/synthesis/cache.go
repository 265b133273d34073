// Package synthesis caches expensive derived computations keyed by the set of
// Sense identifiers they were produced from.
package synthesis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// CachedSynthesis is a stored synthesis result.
type CachedSynthesis struct {
	Key        string          `json:"key"`
	InputIDs   []string        `json:"input_ids"`
	Result     json.RawMessage `json:"result"`
	UsageCount int             `json:"usage_count"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUsedAt time.Time       `json:"last_used_at"`
}

func (c *CachedSynthesis) clone() *CachedSynthesis {
	cp := *c
	cp.InputIDs = append([]string(nil), c.InputIDs...)
	cp.Result = append(json.RawMessage(nil), c.Result...)
	return &cp
}

// Stats summarizes cache contents.
type Stats struct {
	Count    int              `json:"count"`
	MostUsed *CachedSynthesis `json:"most_used,omitempty"`
}

// Normalize returns the sorted, de-duplicated copy of ids. The input is not
// modified.
func Normalize(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// Key is the content hash of an input set. It depends only on the set, not on
// the order of ids.
func Key(ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(Normalize(ids), "\x00")))
	return hex.EncodeToString(sum[:])
}

// Cache is an unbounded, content-addressed store of synthesis results.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CachedSynthesis
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*CachedSynthesis),
		now:     time.Now,
	}
}

// Lookup returns the entry for the input set. A hit increments the entry's
// usage count and refreshes its last-used time.
func (c *Cache) Lookup(ids []string) (*CachedSynthesis, bool) {
	key := Key(ids)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metricCacheMisses.Inc()
		return nil, false
	}
	e.UsageCount++
	e.LastUsedAt = c.now()
	metricCacheHits.Inc()
	return e.clone(), true
}

// Store records result for the input set, replacing any existing entry.
func (c *Cache) Store(ids []string, result json.RawMessage) *CachedSynthesis {
	now := c.now()
	e := &CachedSynthesis{
		Key:        Key(ids),
		InputIDs:   Normalize(ids),
		Result:     append(json.RawMessage(nil), result...),
		CreatedAt:  now,
		LastUsedAt: now,
	}

	c.mu.Lock()
	c.entries[e.Key] = e
	c.mu.Unlock()
	return e.clone()
}

// Stats reports the entry count and the entry with the highest usage count.
// Ties go to the lexically smallest key.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Count: len(c.entries)}
	var best *CachedSynthesis
	for _, e := range c.entries {
		if best == nil || e.UsageCount > best.UsageCount ||
			(e.UsageCount == best.UsageCount && e.Key < best.Key) {
			best = e
		}
	}
	if best != nil {
		st.MostUsed = best.clone()
	}
	return st
}

// Entries returns copies of all entries ordered by key.
func (c *Cache) Entries() []*CachedSynthesis {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*CachedSynthesis, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore loads previously persisted entries. Keys are recomputed from the
// input ids so stale or missing keys cannot break lookups.
func (c *Cache) Restore(entries []*CachedSynthesis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		cp := e.clone()
		cp.InputIDs = Normalize(cp.InputIDs)
		cp.Key = Key(cp.InputIDs)
		if cp.LastUsedAt.IsZero() {
			cp.LastUsedAt = cp.CreatedAt
		}
		c.entries[cp.Key] = cp
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedSynthesis)
}
