package postgres

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/rediscache"
	"github.com/dukepan/muclumbus/internal/store"
)

// negativeCache is the in-memory LRU AddressMetadataCache of spec §3,
// grounded on aioxmpp.cache.LRUDict usage in
// original_source/muchopper/bot/state.py (State._address_metadata_cache).
type negativeCache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type negEntry struct {
	address   string
	meta      store.AddressMetadata
	expiresAt time.Time
}

func newNegativeCache(maxSize int) *negativeCache {
	return &negativeCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *negativeCache) get(addr string) (store.AddressMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[addr]
	if !ok {
		return store.AddressMetadata{}, false
	}
	entry := el.Value.(*negEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, addr)
		return store.AddressMetadata{}, false
	}
	c.order.MoveToFront(el)
	return entry.meta, true
}

func (c *negativeCache) set(addr string, meta store.AddressMetadata, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[addr]; ok {
		entry := el.Value.(*negEntry)
		entry.meta = meta
		entry.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictExpiredOrOldest()
	}

	entry := &negEntry{address: addr, meta: meta, expiresAt: time.Now().Add(ttl)}
	el := c.order.PushFront(entry)
	c.entries[addr] = el
}

func (c *negativeCache) delete(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[addr]; ok {
		c.order.Remove(el)
		delete(c.entries, addr)
	}
}

// evictExpiredOrOldest expires stale entries first; if none are stale, it
// falls back to evicting the least-recently-used entry so the cache never
// grows past maxSize.
func (c *negativeCache) evictExpiredOrOldest() {
	now := time.Now()
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if now.After(el.Value.(*negEntry).expiresAt) {
			addr := el.Value.(*negEntry).address
			c.order.Remove(el)
			delete(c.entries, addr)
			return
		}
	}
	if back := c.order.Back(); back != nil {
		addr := back.Value.(*negEntry).address
		c.order.Remove(back)
		delete(c.entries, addr)
	}
}

// watchRedisInvalidations applies entries published by other replicas to
// this process's local LRU, implementing the cross-replica mirror
// described in SPEC_FULL.md's DOMAIN STACK section.
func (s *Store) watchRedisInvalidations(ctx context.Context) {
	entries, _ := s.redis.Subscribe(ctx)
	go func() {
		for entry := range entries {
			ttl := time.Until(entry.ExpiresAt)
			if ttl <= 0 {
				s.negLRU.delete(entry.Address)
				continue
			}
			s.negLRU.set(entry.Address, store.AddressMetadata{
				IsReachable:   entry.Reachable,
				IsChatService: entry.Service,
				IsJoinable:    entry.Joinable,
				IsIndexable:   entry.Indexable,
				IsBanned:      entry.Banned,
			}, ttl)
		}
	}()
}

func (s *Store) publishInvalidate(ctx context.Context, addr string, meta store.AddressMetadata, ttl time.Duration) {
	if s.redis == nil {
		return
	}
	_ = s.redis.PublishInvalidate(ctx, rediscache.AddressCacheEntry{
		Address:   addr,
		Reachable: meta.IsReachable,
		Service:   meta.IsChatService,
		Joinable:  meta.IsJoinable,
		Indexable: meta.IsIndexable,
		Banned:    meta.IsBanned,
		ExpiresAt: time.Now().Add(ttl),
	})
}
