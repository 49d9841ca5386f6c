// Package promptcache is the two-tier prompt cache: an in-memory LRU hot
// tier in front of a bbolt-backed durable tier, with singleflight-guarded
// builds so concurrent misses for one key share a single computation.
package promptcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"promptmcp/model"
)

const schemaVersion = "1"

var bucketName = []byte("promptcache")

// FingerprintInputs are the fields that participate in the composite key.
// Detected frameworks are a downstream output and never enter the key:
// the fingerprint must be computable before detection runs.
type FingerprintInputs struct {
	Prompt  string
	Context model.EnhanceContext
	Options map[string]any
}

// Fingerprint computes the deterministic composite key: a SHA-256 hash
// of the normalized prompt, canonical (sorted-key) JSON of context and
// options, and the schema version.
func Fingerprint(in FingerprintInputs) string {
	h := sha256.New()
	fmt.Fprintf(h, "v=%s\n", schemaVersion)
	fmt.Fprintf(h, "prompt=%s\n", normalizePrompt(in.Prompt))
	fmt.Fprintf(h, "context=%s\n", canonicalJSON(in.Context))
	fmt.Fprintf(h, "options=%s\n", canonicalJSON(sortedOptions(in.Options)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizePrompt(p string) string {
	return strings.ToLower(strings.Join(strings.Fields(p), " "))
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// sortedOptions returns options re-keyed in sorted order so JSON
// marshaling is deterministic regardless of the caller's map iteration.
func sortedOptions(opts map[string]any) map[string]any {
	if len(opts) == 0 {
		return map[string]any{}
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(opts))
	for _, k := range keys {
		out[k] = opts[k]
	}
	return out
}

// Stats summarizes cache-wide counters.
type Stats struct {
	TotalEntries         int            `json:"totalEntries"`
	TotalHits            int            `json:"totalHits"`
	TotalMisses          int            `json:"totalMisses"`
	HitRate              float64        `json:"hitRate"`
	AverageResponseMillis float64       `json:"averageResponseMillis"`
	SizeBytes            int64          `json:"sizeBytes"`
	TopFrameworks        []string       `json:"topFrameworks"`
}

type lruNode struct {
	key        string
	entry      model.CacheEntry
	size       int64
	prev, next *lruNode
}

// Cache is the two-tier PromptCache: an in-memory LRU hot tier backed by
// a bbolt durable tier, with single-flight build de-duplication.
type Cache struct {
	mu           sync.Mutex
	hot          map[string]*lruNode
	head, tail   *lruNode // head = most recently used
	hotBytes     int64
	hotCapacity  int
	hotMaxBytes  int64
	qualityFloor float64
	ttl          time.Duration
	softRefresh  time.Duration

	totalHits     int
	totalMisses   int
	responseTotal time.Duration
	responseCount int
	frameworkFreq map[string]int

	db *bbolt.DB

	flight singleflight.Group
}

// Config parameterizes a Cache.
type Config struct {
	HotCapacity  int
	HotMaxBytes  int64
	QualityFloor float64
	TTL          time.Duration
	SoftRefresh  time.Duration
	DurablePath  string // empty disables the durable tier
}

// Open constructs a Cache, opening the durable tier's bbolt file when
// DurablePath is set. A failure to open the durable tier degrades to a
// hot-tier-only cache with no error.
func Open(cfg Config) *Cache {
	if cfg.HotCapacity <= 0 {
		cfg.HotCapacity = 1000
	}
	if cfg.HotMaxBytes <= 0 {
		cfg.HotMaxBytes = 64 * 1024 * 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SoftRefresh <= 0 {
		cfg.SoftRefresh = 1 * time.Hour
	}

	c := &Cache{
		hot:           make(map[string]*lruNode),
		hotCapacity:   cfg.HotCapacity,
		hotMaxBytes:   cfg.HotMaxBytes,
		qualityFloor:  cfg.QualityFloor,
		ttl:           cfg.TTL,
		softRefresh:   cfg.SoftRefresh,
		frameworkFreq: make(map[string]int),
	}

	if cfg.DurablePath != "" {
		db, err := bbolt.Open(cfg.DurablePath, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
		if err == nil {
			err = db.Update(func(tx *bbolt.Tx) error {
				_, err := tx.CreateBucketIfNotExists(bucketName)
				return err
			})
		}
		if err == nil {
			c.db = db
		}
	}

	return c
}

// Close releases the durable tier's file handle, if open.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup reports a CacheEntry for key, absent on miss, TTL expiry, or a
// stored qualityScore below the configured floor. Updates lastAccessed
// and increments hits in the hot tier on hit.
func (c *Cache) Lookup(ctx context.Context, key string) (model.CacheEntry, bool) {
	start := time.Now()
	entry, ok := c.lookupHot(key)
	if !ok {
		entry, ok = c.lookupDurable(key)
		if ok {
			c.promoteToHot(key, entry)
		}
	}

	c.mu.Lock()
	c.responseTotal += time.Since(start)
	c.responseCount++
	if !ok {
		c.totalMisses++
	}
	c.mu.Unlock()

	if !ok {
		return model.CacheEntry{}, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.invalidateKey(key)
		c.mu.Lock()
		c.totalMisses++
		c.mu.Unlock()
		return model.CacheEntry{}, false
	}
	if c.qualityFloor > 0 && entry.QualityScore != nil && *entry.QualityScore < c.qualityFloor {
		c.mu.Lock()
		c.totalMisses++
		c.mu.Unlock()
		return model.CacheEntry{}, false
	}

	c.recordHit(key)
	return entry, true
}

// IsStale reports whether entry is within the soft-refresh window: past
// TTL freshness but still returnable while a refresh runs in the background.
func (c *Cache) IsStale(entry model.CacheEntry) bool {
	return time.Now().After(entry.ExpiresAt.Add(-c.softRefresh)) && time.Now().Before(entry.ExpiresAt)
}

func (c *Cache) lookupHot(key string) (model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.hot[key]
	if !ok {
		return model.CacheEntry{}, false
	}
	c.moveToFrontLocked(n)
	return n.entry, true
}

func (c *Cache) lookupDurable(key string) (model.CacheEntry, bool) {
	if c.db == nil {
		return model.CacheEntry{}, false
	}
	var entry model.CacheEntry
	var found bool
	_ = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		dec := gob.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}

func (c *Cache) promoteToHot(key string, entry model.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertHotLocked(key, entry)
}

func (c *Cache) recordHit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalHits++
	if n, ok := c.hot[key]; ok {
		n.entry.Hits++
		n.entry.LastAccessed = time.Now().UTC()
		for _, fw := range n.entry.Frameworks {
			c.frameworkFreq[fw]++
		}
	}
}

// Store persists value under key: durable tier first (best-effort), then
// hot tier, evicting by LRU and then by lowest qualityScore as needed.
func (c *Cache) Store(ctx context.Context, key string, value model.EnhancedResponse, frameworks []string, qualityScore *float64) model.CacheEntry {
	now := time.Now().UTC()
	entry := model.CacheEntry{
		Key:          key,
		Value:        value,
		Frameworks:   frameworks,
		QualityScore: qualityScore,
		CreatedAt:    now,
		LastAccessed: now,
		Hits:         0,
		ExpiresAt:    now.Add(c.ttl),
	}

	c.storeDurable(key, entry)

	c.mu.Lock()
	c.insertHotLocked(key, entry)
	c.mu.Unlock()

	return entry
}

func (c *Cache) storeDurable(key string, entry model.CacheEntry) {
	if c.db == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Put([]byte(key), buf.Bytes())
	})
}

func (c *Cache) insertHotLocked(key string, entry model.CacheEntry) {
	size := entrySize(entry)

	if n, ok := c.hot[key]; ok {
		c.hotBytes -= n.size
		n.entry = entry
		n.size = size
		c.hotBytes += size
		c.moveToFrontLocked(n)
	} else {
		n := &lruNode{key: key, entry: entry, size: size}
		c.hot[key] = n
		c.pushFrontLocked(n)
		c.hotBytes += size
	}

	for len(c.hot) > c.hotCapacity || c.hotBytes > c.hotMaxBytes {
		if !c.evictOneLocked() {
			break
		}
	}
}

// evictOneLocked removes the least-recently-used entry, unless a lower
// quality-score entry exists elsewhere in the tier, in which case that
// one is evicted instead: LRU first, then low qualityScore.
func (c *Cache) evictOneLocked() bool {
	if c.tail == nil {
		return false
	}
	victim := c.tail
	for n := c.tail; n != nil; n = n.prev {
		if lowerQuality(n.entry, victim.entry) {
			victim = n
		}
	}
	c.removeLocked(victim)
	return true
}

func lowerQuality(a, b model.CacheEntry) bool {
	if a.QualityScore == nil {
		return false
	}
	if b.QualityScore == nil {
		return true
	}
	return *a.QualityScore < *b.QualityScore
}

func entrySize(entry model.CacheEntry) int64 {
	b, err := json.Marshal(entry.Value)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func (c *Cache) pushFrontLocked(n *lruNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) moveToFrontLocked(n *lruNode) {
	if c.head == n {
		return
	}
	c.unlinkLocked(n)
	c.pushFrontLocked(n)
}

func (c *Cache) unlinkLocked(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *Cache) removeLocked(n *lruNode) {
	c.unlinkLocked(n)
	delete(c.hot, n.key)
	c.hotBytes -= n.size
}

// Invalidate removes entries whose key contains pattern; an empty
// pattern clears the entire hot tier and the durable bucket.
func (c *Cache) Invalidate(pattern string) {
	c.mu.Lock()
	var victims []string
	for key := range c.hot {
		if pattern == "" || strings.Contains(key, pattern) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		if n, ok := c.hot[key]; ok {
			c.removeLocked(n)
		}
	}
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if pattern == "" || strings.Contains(string(k), pattern) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) invalidateKey(key string) {
	c.mu.Lock()
	if n, ok := c.hot[key]; ok {
		c.removeLocked(n)
	}
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Stats reports cache-wide counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totalHits + c.totalMisses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.totalHits) / float64(total)
	}
	var avgMillis float64
	if c.responseCount > 0 {
		avgMillis = float64(c.responseTotal.Milliseconds()) / float64(c.responseCount)
	}

	type kv struct {
		k string
		v int
	}
	freq := make([]kv, 0, len(c.frameworkFreq))
	for k, v := range c.frameworkFreq {
		freq = append(freq, kv{k, v})
	}
	sort.Slice(freq, func(i, j int) bool {
		if freq[i].v != freq[j].v {
			return freq[i].v > freq[j].v
		}
		return freq[i].k < freq[j].k
	})
	top := make([]string, 0, 5)
	for i := 0; i < len(freq) && i < 5; i++ {
		top = append(top, freq[i].k)
	}

	return Stats{
		TotalEntries:          len(c.hot),
		TotalHits:             c.totalHits,
		TotalMisses:           c.totalMisses,
		HitRate:               hitRate,
		AverageResponseMillis: avgMillis,
		SizeBytes:             c.hotBytes,
		TopFrameworks:         top,
	}
}

// GetOrBuild performs a single-flight-guarded lookup-or-build: concurrent
// callers for the same missing key share one in-flight build. A hit
// inside the soft-refresh window is returned immediately while a
// background rebuild replaces the stored entry.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) (model.EnhancedResponse, []string, *float64, error)) (model.CacheEntry, bool, error) {
	if entry, ok := c.Lookup(ctx, key); ok {
		if c.IsStale(entry) {
			go c.refresh(key, build)
		}
		return entry, true, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check for an entry a just-finished flight stored, without
		// touching the hit/miss counters: the Lookup above already
		// recorded this call's miss.
		if entry, ok := c.lookupHot(key); ok && time.Now().Before(entry.ExpiresAt) &&
			!(c.qualityFloor > 0 && entry.QualityScore != nil && *entry.QualityScore < c.qualityFloor) {
			return entry, nil
		}
		value, frameworks, quality, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.Store(ctx, key, value, frameworks, quality), nil
	})
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	return v.(model.CacheEntry), false, nil
}

// refresh rebuilds a stale entry off the request path, single-flighted so
// repeated stale hits never stack concurrent rebuilds. The build runs
// detached from the triggering call's context: the caller already has its
// answer, and cancelling its request must not abort the refresh.
func (c *Cache) refresh(key string, build func(ctx context.Context) (model.EnhancedResponse, []string, *float64, error)) {
	_, _, _ = c.flight.Do("refresh:"+key, func() (any, error) {
		value, frameworks, quality, err := build(context.Background())
		if err != nil {
			return nil, err
		}
		return c.Store(context.Background(), key, value, frameworks, quality), nil
	})
}
