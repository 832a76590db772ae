package crawl

import (
	"context"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/store"
)

// fakeStore is a minimal in-memory store.Store double covering the paths
// the crawl package exercises, mirroring chatclient/fake's scriptable-fake
// approach for the store side of the pipeline.
type fakeStore struct {
	mu sync.Mutex

	signals *store.Signals

	mucs     map[string]store.MUCMetadataUpdate
	deleted  map[string]bool
	negative map[string]negEntry
	referral []referralCall

	domains          []string
	scannableDomains []store.ScannableDomain
	domainUpdates    map[string]store.DomainUpdate
	requiredDomains  []string
}

type negEntry struct {
	meta store.AddressMetadata
	ttl  time.Duration
}

type referralCall struct {
	from, to string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		signals:       store.NewSignals(),
		mucs:          make(map[string]store.MUCMetadataUpdate),
		deleted:       make(map[string]bool),
		negative:      make(map[string]negEntry),
		domainUpdates: make(map[string]store.DomainUpdate),
	}
}

func (f *fakeStore) Signals() *store.Signals { return f.signals }

func (f *fakeStore) RequireDomain(ctx context.Context, domain string, seen store.Seen, offset time.Duration) (store.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requiredDomains = append(f.requiredDomains, domain)
	return store.Domain{Domain: domain}, nil
}

func (f *fakeStore) UpdateDomain(ctx context.Context, domain string, update store.DomainUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domainUpdates[domain] = update
	return nil
}

func (f *fakeStore) Delist(ctx context.Context, domain string, delisted bool) error { return nil }

func (f *fakeStore) ExpireDomains(ctx context.Context, threshold time.Time) error { return nil }

func (f *fakeStore) GetAllDomains(ctx context.Context) ([]string, error) {
	return f.domains, nil
}

func (f *fakeStore) GetScannableDomains(ctx context.Context) ([]store.ScannableDomain, error) {
	return f.scannableDomains, nil
}

func (f *fakeStore) UpdateMUCMetadata(ctx context.Context, addr string, update store.MUCMetadataUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mucs[addr] = update
	return nil
}

func (f *fakeStore) UpdateMUCAvatar(ctx context.Context, addr, mimeType string, data []byte) error {
	return nil
}

func (f *fakeStore) DeleteAllMUCData(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[addr] = true
	delete(f.mucs, addr)
	return nil
}

func (f *fakeStore) ExpireMUCs(ctx context.Context, threshold time.Time) error { return nil }

func (f *fakeStore) GetAllKnownInactiveMUCs(ctx context.Context, isActive func(addr string) bool) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int) ([]store.JoinableRoom, error) {
	return nil, nil
}

func (f *fakeStore) GetPublicRoomAddresses(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) GetPublicRoomView(ctx context.Context, addr string) (store.PublicRoom, store.Room, bool, error) {
	return store.PublicRoom{}, store.Room{}, false, nil
}

func (f *fakeStore) GetAddressMetadata(ctx context.Context, addr string) (store.AddressMetadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.negative[addr]
	if !ok {
		return store.AddressMetadata{}, false, nil
	}
	return entry.meta, true, nil
}

func (f *fakeStore) CacheAddressMetadata(ctx context.Context, addr string, meta store.AddressMetadata, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.negative[addr] = negEntry{meta: meta, ttl: ttl}
	return nil
}

func (f *fakeStore) StoreReferral(ctx context.Context, from, to string, timestamp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.referral = append(f.referral, referralCall{from: from, to: to})
	return nil
}

func (f *fakeStore) SearchPublicRooms(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, bool, error) {
	return nil, false, nil
}
