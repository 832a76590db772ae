package admin

import (
	"context"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/store"
)

// fakeStore is an in-memory store.Store double recording Delist calls;
// admin router tests only exercise the delist mutator and the signal bus.
type fakeStore struct {
	signals *store.Signals

	mu          sync.Mutex
	delistCalls []delistCall
	delistErr   error
}

type delistCall struct {
	domain   string
	delisted bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{signals: store.NewSignals()}
}

func (f *fakeStore) Signals() *store.Signals { return f.signals }

func (f *fakeStore) RequireDomain(ctx context.Context, domain string, seen store.Seen, offset time.Duration) (store.Domain, error) {
	return store.Domain{}, nil
}
func (f *fakeStore) UpdateDomain(ctx context.Context, domain string, update store.DomainUpdate) error {
	return nil
}
func (f *fakeStore) Delist(ctx context.Context, domain string, delisted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delistCalls = append(f.delistCalls, delistCall{domain: domain, delisted: delisted})
	return f.delistErr
}
func (f *fakeStore) ExpireDomains(ctx context.Context, threshold time.Time) error { return nil }
func (f *fakeStore) GetAllDomains(ctx context.Context) ([]string, error)          { return nil, nil }
func (f *fakeStore) GetScannableDomains(ctx context.Context) ([]store.ScannableDomain, error) {
	return nil, nil
}
func (f *fakeStore) UpdateMUCMetadata(ctx context.Context, addr string, update store.MUCMetadataUpdate) error {
	return nil
}
func (f *fakeStore) UpdateMUCAvatar(ctx context.Context, addr, mimeType string, data []byte) error {
	return nil
}
func (f *fakeStore) DeleteAllMUCData(ctx context.Context, addr string) error   { return nil }
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
	return store.AddressMetadata{}, false, nil
}
func (f *fakeStore) CacheAddressMetadata(ctx context.Context, addr string, meta store.AddressMetadata, ttl time.Duration) error {
	return nil
}
func (f *fakeStore) StoreReferral(ctx context.Context, from, to string, timestamp time.Time) error {
	return nil
}
func (f *fakeStore) SearchPublicRooms(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, bool, error) {
	return nil, false, nil
}
