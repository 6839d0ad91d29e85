package settlement

import (
	"container/list"

	"VaultLedger/internal/observability"
)

// Deduper implements two-tier deduplication: an in-memory LRU for recent
// keys, backed by a Postgres lookup for keys that aged out. Keys are
// globally unique (UUIDs and derived identifiers), so the key alone is
// the dedup identity; the event type only labels the metrics.
type Deduper struct {
	lru   *dedupLRU
	store KeyStore

	metrics *DedupMetrics
	prom    *observability.Metrics
}

// KeyStore is the cold-path lookup against the event log.
type KeyStore interface {
	Seen(idempotencyKey string) (bool, error)
}

func NewDeduper(capacity int, store KeyStore, prom *observability.Metrics) *Deduper {
	return &Deduper{
		lru:     newDedupLRU(capacity),
		store:   store,
		metrics: NewDedupMetrics(),
		prom:    prom,
	}
}

// Seen reports whether the key was already processed (two-tier lookup).
func (d *Deduper) Seen(eventType string, idempotencyKey string) bool {
	if d.lru.Contains(idempotencyKey) {
		d.recordDuplicate(eventType, "lru")
		return true
	}

	if d.store != nil {
		dup, err := d.store.Seen(idempotencyKey)
		if err != nil {
			// A store failure must not wedge the processor. Conservative:
			// assume not duplicate and let the log's unique constraint catch it.
			d.metrics.RecordStoreError()
			return false
		}
		if dup {
			d.recordDuplicate(eventType, "postgres")
			d.lru.Add(idempotencyKey)
			return true
		}
	}

	return false
}

// Commit records the key after successful processing.
func (d *Deduper) Commit(eventType string, idempotencyKey string) {
	before := d.lru.evictions
	d.lru.Add(idempotencyKey)
	if d.prom != nil && d.lru.evictions > before {
		d.prom.DedupLRUEvictions.Inc()
	}
}

func (d *Deduper) recordDuplicate(eventType, tier string) {
	d.metrics.RecordDuplicate(eventType, tier)
	if d.prom != nil {
		d.prom.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// Warm loads composite keys into the LRU (startup recovery).
func (d *Deduper) Warm(keys []string) {
	d.lru.Warm(keys)
}

// Keys returns all composite keys currently cached, for checkpointing.
func (d *Deduper) Keys() []string {
	return d.lru.Keys()
}

func (d *Deduper) Size() int        { return d.lru.Size() }
func (d *Deduper) Evictions() int64 { return d.lru.evictions }

func (d *Deduper) Metrics() *DedupMetrics { return d.metrics }

// --- LRU ---

// dedupLRU caches idempotency keys with LRU eviction.
// Not thread-safe: only accessed from the single-writer processor.
type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	evictions int64
}

type dedupEntry struct {
	key string
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks membership and promotes the key to most-recently-used.
func (lru *dedupLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *dedupLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}

	elem := lru.order.PushFront(&dedupEntry{key: key})
	lru.cache[key] = elem

	if lru.order.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *dedupLRU) evictOldest() {
	elem := lru.order.Back()
	if elem != nil {
		lru.order.Remove(elem)
		delete(lru.cache, elem.Value.(*dedupEntry).key)
		lru.evictions++
	}
}

// Warm bulk-loads keys, respecting capacity.
func (lru *dedupLRU) Warm(keys []string) {
	for _, key := range keys {
		if _, ok := lru.cache[key]; ok {
			continue
		}
		elem := lru.order.PushFront(&dedupEntry{key: key})
		lru.cache[key] = elem

		if lru.order.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

func (lru *dedupLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*dedupEntry).key)
	}
	return keys
}

func (lru *dedupLRU) Size() int {
	return lru.order.Len()
}

// --- Metrics ---

// DedupMetrics tracks dedup stats.
// Not thread-safe: only accessed from the single-writer processor.
type DedupMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	storeErrors        int64
}

func NewDedupMetrics() *DedupMetrics {
	return &DedupMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *DedupMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *DedupMetrics) RecordStoreError() {
	m.storeErrors++
}

func (m *DedupMetrics) Duplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *DedupMetrics) StoreErrors() int64 {
	return m.storeErrors
}
