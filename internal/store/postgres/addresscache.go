package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dukepan/muclumbus/internal/store"
)

// GetAddressMetadata implements spec.md §3's cross-entity invariant: "if an
// address appears in the persistent Room table, in-memory cache must be
// ignored for that address" — the database is authoritative for anything
// positively known, the LRU only ever holds negative/ephemeral facts.
func (s *Store) GetAddressMetadata(ctx context.Context, addr string) (store.AddressMetadata, bool, error) {
	room, found, err := s.getRoomByAddress(ctx, addr)
	if err != nil {
		return store.AddressMetadata{}, false, err
	}
	if found {
		_, _, isPublic, err := s.GetPublicRoomView(ctx, addr)
		if err != nil {
			return store.AddressMetadata{}, false, err
		}
		return store.AddressMetadata{
			IsReachable:   true,
			IsChatService: true,
			IsJoinable:    room.IsOpen,
			IsIndexable:   isPublic,
			IsBanned:      false,
		}, true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM domain d
			JOIN domain_identity di ON di.domain_id = d.id
			WHERE d.domain = $1 AND di.category = 'conference' AND di.type = 'text'
				AND d.delisted IS NOT TRUE
		)`, addr).Scan(&exists)
	if err != nil {
		return store.AddressMetadata{}, false, err
	}
	if exists {
		return store.AddressMetadata{IsReachable: true, IsChatService: true}, true, nil
	}

	if meta, ok := s.negLRU.get(addr); ok {
		return meta, true, nil
	}
	return store.AddressMetadata{}, false, nil
}

// CacheAddressMetadata records a non-positive (or short-lived positive)
// classification of addr, honoured only until the database learns
// otherwise, and mirrors it to other replicas via Redis (spec §3's
// per-category TTLs: Banned=24h, Unreachable=5m, NonService=1h, Closed=1h).
func (s *Store) CacheAddressMetadata(ctx context.Context, addr string, meta store.AddressMetadata, ttl time.Duration) error {
	s.negLRU.set(addr, meta, ttl)
	s.publishInvalidate(ctx, addr, meta, ttl)
	return nil
}

// getRoomByAddress is a non-transactional read of the muc row, used by the
// read-mostly GetAddressMetadata path.
func (s *Store) getRoomByAddress(ctx context.Context, addr string) (store.Room, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT address, domain_id, nusers, nusers_moving_average,
		moving_average_last_update, is_open, is_hidden, was_kicked, anonymity_mode, last_seen
		FROM muc WHERE address = $1`, addr)

	var r store.Room
	var mode *string
	err := row.Scan(&r.Address, &r.ServiceDomainID, &r.NUsers, &r.NUsersMovingAverage,
		&r.MovingAverageLastUpdate, &r.IsOpen, &r.IsHidden, &r.WasKicked, &mode, &r.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Room{}, false, nil
	}
	if err != nil {
		return store.Room{}, false, err
	}
	if mode != nil {
		r.AnonymityMode = store.AnonymityMode(*mode)
	}
	return r, true, nil
}
