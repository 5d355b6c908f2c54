package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

const (
	DefaultMaxBytes     = 100 * 1024 * 1024
	DefaultMaxItemBytes = 5 * 1024 * 1024
	DefaultTTL          = 10 * time.Minute
)

// Config bounds the cache.
type Config struct {
	MaxBytes     int64
	MaxItemBytes int64
	TTL          time.Duration
}

// DefaultConfig returns production cache limits.
func DefaultConfig() Config {
	return Config{
		MaxBytes:     DefaultMaxBytes,
		MaxItemBytes: DefaultMaxItemBytes,
		TTL:          DefaultTTL,
	}
}

// Entry is a cached upstream payload.
type Entry struct {
	Payload     []byte
	ContentType string
	StoredAt    time.Time
	ETag        string
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

type item struct {
	key   string
	entry Entry
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg    Config
	hasher *utils.Hasher
	now    func() time.Time

	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = oldest insertion
	resident int64

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// New creates a cache; zero config fields fall back to defaults.
func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxItemBytes <= 0 {
		cfg.MaxItemBytes = def.MaxItemBytes
	}
	if cfg.MaxItemBytes > cfg.MaxBytes {
		cfg.MaxItemBytes = cfg.MaxBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	return &Cache{
		cfg:    cfg,
		hasher: utils.NewHasher(),
		now:    time.Now,
		items:  make(map[string]*list.Element),
		order:  list.New(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the entry for key if present and fresh. A stale entry is
// purged as a side effect.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	it := elem.Value.(*item)
	if c.now().Sub(it.entry.StoredAt) > c.cfg.TTL {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return Entry{}, false
	}

	c.hits++
	return it.entry, true
}

// Put admits payload under key. It returns false when the payload exceeds
// the per-item ceiling.
func (c *Cache) Put(key string, payload []byte, contentType string) bool {
	size := int64(len(payload))
	if size > c.cfg.MaxItemBytes {
		return false
	}

	// Copy outside the lock; callers may reuse their buffer.
	stored := make([]byte, len(payload))
	copy(stored, payload)
	etag := `"` + c.hasher.Hash(stored)[:32] + `"`

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	for c.resident+size > c.cfg.MaxBytes && c.order.Len() > 0 {
		c.removeElement(c.order.Front())
		c.evictions++
	}

	it := &item{
		key: key,
		entry: Entry{
			Payload:     stored,
			ContentType: contentType,
			StoredAt:    c.now(),
			ETag:        etag,
		},
	}
	c.items[key] = c.order.PushBack(it)
	c.resident += size
	return true
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if now.Sub(elem.Value.(*item).entry.StoredAt) > c.cfg.TTL {
			c.removeElement(elem)
			c.expired++
			removed++
		}
		elem = next
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the resident payload bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// Stats returns counters and occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.items),
		Bytes:     c.resident,
		MaxBytes:  c.cfg.MaxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// Config returns the effective limits.
func (c *Cache) Config() Config {
	return c.cfg
}

// removeElement must be called with mu held.
func (c *Cache) removeElement(elem *list.Element) {
	it := c.order.Remove(elem).(*item)
	delete(c.items, it.key)
	c.resident -= int64(len(it.entry.Payload))
}
