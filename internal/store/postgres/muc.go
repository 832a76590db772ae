package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dukepan/muclumbus/internal/address"
	"github.com/dukepan/muclumbus/internal/store"
)

// UpdateMUCMetadata is the central Store mutator, grounded on
// original_source/muchopper/bot/state.py's State.update_muc_metadata,
// translated from keyword-argument UNCHANGED sentinels to the explicit
// store.MUCMetadataUpdate change set (spec.md §9).
func (s *Store) UpdateMUCMetadata(ctx context.Context, addr string, update store.MUCMetadataUpdate) error {
	if saveable, ok := update.IsSaveable.Get(); ok && !saveable {
		return s.DeleteAllMUCData(ctx, addr)
	}

	a, err := address.Parse(addr)
	if err != nil {
		return err
	}

	s.negLRU.delete(addr)

	var changed bool
	now := time.Now()

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		domain, err := requireDomainTx(ctx, tx, a.Domain)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE domain SET last_seen = $1 WHERE id = $2`, now, domain.ID); err != nil {
			return err
		}

		existing, found, err := getRoomTx(ctx, tx, addr)
		if err != nil {
			return err
		}

		room := existing
		if !found {
			room = store.Room{Address: addr, ServiceDomainID: domain.ID, IsOpen: false}
		}

		if isOpen, ok := update.IsOpen.Get(); ok {
			room.IsOpen = isOpen
		}
		if mode, ok := update.AnonymityMode.Get(); ok {
			room.AnonymityMode = mode
		}
		if kicked, ok := update.WasKicked.Get(); ok && kicked {
			room.WasKicked = true // monotone: once true, never reset (spec §3)
		}

		if n, ok := update.NUsers.Get(); ok {
			nCopy := n
			room.NUsers = &nCopy
			if room.NUsersMovingAverage == nil {
				avg := float64(n)
				room.NUsersMovingAverage = &avg
				room.MovingAverageLastUpdate = &now
			} else if room.MovingAverageLastUpdate == nil ||
				now.Sub(*room.MovingAverageLastUpdate) >= store.NUsersMovingAverageInterval {
				next := store.NextMovingAverage(*room.NUsersMovingAverage, n)
				room.NUsersMovingAverage = &next
				room.MovingAverageLastUpdate = &now
			}
		}
		room.LastSeen = now

		if err := upsertRoomTx(ctx, tx, room, found); err != nil {
			return err
		}
		changed = true

		isPublic, isPublicSet := update.IsPublic.Get()
		subject, subjectSet := update.Subject.Get()
		name, nameSet := update.Name.Get()
		description, descriptionSet := update.Description.Get()

		wantsPublic := isPublic ||
			(!isPublicSet && (subjectSet || nameSet || descriptionSet))

		if wantsPublic {
			pub, pubFound, err := getPublicRoomTx(ctx, tx, addr)
			if err != nil {
				return err
			}
			if !pubFound {
				pub = store.PublicRoom{Address: addr}
			}
			if subjectSet {
				normalized := store.NormalizeText(subject, maxSubjectLength, 0)
				pub.Subject = &normalized
			}
			if nameSet {
				// name may use description's budget iff description is
				// absent (spec.md §4.1 text-normalisation contract).
				budget := maxNameLength
				if !descriptionSet || description == "" {
					budget = maxDescriptionLength
				}
				normalized := store.NormalizeText(name, budget, 0)
				pub.Name = &normalized
			}
			if descriptionSet {
				normalized := store.NormalizeText(description, maxDescriptionLength, 0)
				pub.Description = &normalized
			}
			if lang, ok := update.Language.Get(); ok {
				truncated := lang
				if len(truncated) > maxLanguageLength {
					truncated = truncated[:maxLanguageLength]
				}
				pub.Language = &truncated
			}
			if err := upsertPublicRoomTx(ctx, tx, pub, pubFound); err != nil {
				return err
			}
		} else if isPublicSet && !isPublic {
			if _, err := tx.Exec(ctx, `DELETE FROM public_muc WHERE address = $1`, addr); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.signals.OnRoomChanged.Emit(addr)
	}
	return nil
}

const (
	maxNameLength        = 120
	maxDescriptionLength = 512
	maxSubjectLength     = 256
	maxLanguageLength    = 16
)

func getRoomTx(ctx context.Context, tx pgx.Tx, addr string) (store.Room, bool, error) {
	row := tx.QueryRow(ctx, `SELECT address, domain_id, nusers, nusers_moving_average,
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

func upsertRoomTx(ctx context.Context, tx pgx.Tx, r store.Room, exists bool) error {
	var mode *string
	if r.AnonymityMode != store.AnonymityUnset {
		m := string(r.AnonymityMode)
		mode = &m
	}
	if exists {
		_, err := tx.Exec(ctx, `UPDATE muc SET domain_id=$2, nusers=$3, nusers_moving_average=$4,
			moving_average_last_update=$5, is_open=$6, was_kicked=$7, anonymity_mode=$8, last_seen=$9
			WHERE address=$1`,
			r.Address, r.ServiceDomainID, r.NUsers, r.NUsersMovingAverage,
			r.MovingAverageLastUpdate, r.IsOpen, r.WasKicked, mode, r.LastSeen)
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO muc (address, domain_id, nusers, nusers_moving_average,
		moving_average_last_update, is_open, is_hidden, was_kicked, anonymity_mode, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8,$9)`,
		r.Address, r.ServiceDomainID, r.NUsers, r.NUsersMovingAverage,
		r.MovingAverageLastUpdate, r.IsOpen, r.WasKicked, mode, r.LastSeen)
	return err
}

func getPublicRoomTx(ctx context.Context, tx pgx.Tx, addr string) (store.PublicRoom, bool, error) {
	row := tx.QueryRow(ctx, `SELECT address, name, description, subject, language, http_logs_url, web_chat_url
		FROM public_muc WHERE address = $1`, addr)
	var p store.PublicRoom
	err := row.Scan(&p.Address, &p.Name, &p.Description, &p.Subject, &p.Language, &p.HTTPLogsURL, &p.WebChatURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.PublicRoom{}, false, nil
	}
	if err != nil {
		return store.PublicRoom{}, false, err
	}
	return p, true, nil
}

func upsertPublicRoomTx(ctx context.Context, tx pgx.Tx, p store.PublicRoom, exists bool) error {
	if exists {
		_, err := tx.Exec(ctx, `UPDATE public_muc SET name=$2, description=$3, subject=$4, language=$5
			WHERE address=$1`, p.Address, p.Name, p.Description, p.Subject, p.Language)
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO public_muc (address, name, description, subject, language)
		VALUES ($1,$2,$3,$4,$5)`, p.Address, p.Name, p.Description, p.Subject, p.Language)
	return err
}

// DeleteAllMUCData deletes the muc row and, via foreign-key cascade,
// public_muc/avatar/public_muc_tags/muc_referral (spec §3's Room lifecycle).
func (s *Store) DeleteAllMUCData(ctx context.Context, addr string) error {
	var existed bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM muc WHERE address = $1`, addr)
		if err != nil {
			return err
		}
		existed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return err
	}
	if existed {
		s.signals.OnRoomDeleted.Emit(addr)
	}
	return nil
}

// ExpireMUCs deletes rooms with last_seen <= threshold (spec §4.1).
func (s *Store) ExpireMUCs(ctx context.Context, threshold time.Time) error {
	rows, err := s.pool.Query(ctx, `SELECT address FROM muc WHERE last_seen <= $1`, threshold)
	if err != nil {
		return err
	}
	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return err
		}
		addrs = append(addrs, a)
	}
	rows.Close()

	if err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM muc WHERE last_seen <= $1`, threshold)
		return err
	}); err != nil {
		return err
	}
	for _, a := range addrs {
		s.signals.OnRoomDeleted.Emit(a)
	}
	return nil
}

// GetAllKnownInactiveMUCs returns every room address for which isActive
// reports false — rooms not currently joined by InsideObserver (spec §4.5).
func (s *Store) GetAllKnownInactiveMUCs(ctx context.Context, isActive func(addr string) bool) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM muc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		if !isActive(a) {
			result = append(result, a)
		}
	}
	return result, rows.Err()
}

// GetJoinableRoomsWithUserCount returns (address, nusers) pairs filtered to
// is_open=true, nusers >= minUsers, further filtered by the
// address-metadata predicate (spec §4.1).
func (s *Store) GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int) ([]store.JoinableRoom, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, nusers FROM muc WHERE is_open = true AND nusers >= $1`, minUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.JoinableRoom
	for rows.Next() {
		var addr string
		var n *int
		if err := rows.Scan(&addr, &n); err != nil {
			return nil, err
		}
		meta, ok, err := s.GetAddressMetadata(ctx, addr)
		if err != nil {
			return nil, err
		}
		if ok && !(meta.IsReachable && meta.IsChatService && meta.IsJoinable && !meta.IsBanned) {
			continue
		}
		nusers := 0
		if n != nil {
			nusers = *n
		}
		result = append(result, store.JoinableRoom{Address: addr, NUsers: nusers})
	}
	return result, rows.Err()
}

// GetPublicRoomAddresses returns every address with a public_muc row,
// used by MirrorServer's reconciliation pass (spec §4.8).
func (s *Store) GetPublicRoomAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM public_muc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// GetPublicRoomView returns the joined (PublicRoom, Room) view used to
// build a mirror payload or search result row.
func (s *Store) GetPublicRoomView(ctx context.Context, addr string) (store.PublicRoom, store.Room, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT m.address, m.domain_id, m.nusers, m.nusers_moving_average,
			m.moving_average_last_update, m.is_open, m.is_hidden, m.was_kicked, m.anonymity_mode, m.last_seen,
			p.name, p.description, p.subject, p.language, p.http_logs_url, p.web_chat_url
		FROM muc m
		JOIN public_muc p ON p.address = m.address
		WHERE m.address = $1 AND m.is_hidden = false`, addr)

	var r store.Room
	var p store.PublicRoom
	var mode *string
	err := row.Scan(&r.Address, &r.ServiceDomainID, &r.NUsers, &r.NUsersMovingAverage,
		&r.MovingAverageLastUpdate, &r.IsOpen, &r.IsHidden, &r.WasKicked, &mode, &r.LastSeen,
		&p.Name, &p.Description, &p.Subject, &p.Language, &p.HTTPLogsURL, &p.WebChatURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.PublicRoom{}, store.Room{}, false, nil
	}
	if err != nil {
		return store.PublicRoom{}, store.Room{}, false, err
	}
	if mode != nil {
		r.AnonymityMode = store.AnonymityMode(*mode)
	}
	p.Address = addr
	return p, r, true, nil
}

// StoreReferral records a mention of one room inside another's messages;
// both endpoints must already be public rooms (spec §3).
func (s *Store) StoreReferral(ctx context.Context, from, to string, timestamp time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var fromExists, toExists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM public_muc WHERE address=$1)`, from).Scan(&fromExists); err != nil {
			return err
		}
		if !fromExists {
			return nil
		}
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM public_muc WHERE address=$1)`, to).Scan(&toExists); err != nil {
			return err
		}
		if !toExists {
			return nil
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO muc_referral ("from", "to", count, last_referral_ts)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT ("from", "to") DO UPDATE SET
				count = muc_referral.count + 1,
				last_referral_ts = EXCLUDED.last_referral_ts`,
			from, to, timestamp)
		return err
	})
}
