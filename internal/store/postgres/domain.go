package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dukepan/muclumbus/internal/store"
)

// RequireDomain is the idempotent upsert of spec.md §4.1, grounded on
// State._require_domain/require_domain.
func (s *Store) RequireDomain(ctx context.Context, domain string, seen store.Seen, offset time.Duration) (store.Domain, error) {
	var result store.Domain

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		d, err := requireDomainTx(ctx, tx, domain)
		if err != nil {
			return err
		}

		if seen == store.SeenNow {
			now := time.Now().Add(offset)
			if _, err := tx.Exec(ctx, `UPDATE domain SET last_seen = $1 WHERE id = $2`, now, d.ID); err != nil {
				return err
			}
			d.LastSeen = &now
		}

		result = d
		return nil
	})
	return result, err
}

// requireDomainTx inserts domain if absent and returns the row, without
// touching last_seen — the "insert if missing" upsert primitive called for
// by spec.md §9's "Exception-based control flow" Design Note, replacing
// the Python's catch-NoResultFound-then-insert pattern.
func requireDomainTx(ctx context.Context, tx pgx.Tx, domain string) (store.Domain, error) {
	row := tx.QueryRow(ctx, `SELECT id, domain, last_seen, software_name, software_version, software_os, delisted
		FROM domain WHERE domain = $1`, domain)

	var d store.Domain
	err := row.Scan(&d.ID, &d.Domain, &d.LastSeen, &d.SoftwareName, &d.SoftwareVersion, &d.SoftwareOS, &d.Delisted)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Domain{}, err
	}

	now := time.Now()
	insertRow := tx.QueryRow(ctx, `INSERT INTO domain (domain, last_seen, delisted) VALUES ($1, $2, false)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING id, domain, last_seen, software_name, software_version, software_os, delisted`,
		domain, now)
	if err := insertRow.Scan(&d.ID, &d.Domain, &d.LastSeen, &d.SoftwareName, &d.SoftwareVersion, &d.SoftwareOS, &d.Delisted); err != nil {
		return store.Domain{}, err
	}
	return d, nil
}

// UpdateDomain upserts domain then reconciles identities as a set diff,
// per spec.md §4.1.
func (s *Store) UpdateDomain(ctx context.Context, domain string, update store.DomainUpdate) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		d, err := requireDomainTx(ctx, tx, domain)
		if err != nil {
			return err
		}
		now := time.Now()
		if _, err := tx.Exec(ctx, `UPDATE domain SET last_seen = $1 WHERE id = $2`, now, d.ID); err != nil {
			return err
		}

		if v, ok := update.SoftwareVersion.Get(); ok {
			if _, err := tx.Exec(ctx, `UPDATE domain SET software_version = $1 WHERE id = $2`, v, d.ID); err != nil {
				return err
			}
		}
		if v, ok := update.SoftwareName.Get(); ok {
			if _, err := tx.Exec(ctx, `UPDATE domain SET software_name = $1 WHERE id = $2`, v, d.ID); err != nil {
				return err
			}
		}
		if v, ok := update.SoftwareOS.Get(); ok {
			if _, err := tx.Exec(ctx, `UPDATE domain SET software_os = $1 WHERE id = $2`, v, d.ID); err != nil {
				return err
			}
		}

		if identities, ok := update.Identities.Get(); ok {
			if err := reconcileIdentities(ctx, tx, d.ID, identities); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.signals.OnDomainChanged.Emit(domain)
	return nil
}

// reconcileIdentities deletes rows absent from next and inserts rows absent
// from the current set, implementing the "set diff" update.update_domain
// uses via model.DomainIdentity.update_identities.
func reconcileIdentities(ctx context.Context, tx pgx.Tx, domainID int64, next []store.DomainIdentity) error {
	rows, err := tx.Query(ctx, `SELECT category, type FROM domain_identity WHERE domain_id = $1`, domainID)
	if err != nil {
		return err
	}
	current := make(map[[2]string]struct{})
	for rows.Next() {
		var category, typ string
		if err := rows.Scan(&category, &typ); err != nil {
			rows.Close()
			return err
		}
		current[[2]string{category, typ}] = struct{}{}
	}
	rows.Close()

	wanted := make(map[[2]string]struct{}, len(next))
	for _, id := range next {
		wanted[[2]string{id.Category, id.Type}] = struct{}{}
	}

	for key := range current {
		if _, ok := wanted[key]; !ok {
			if _, err := tx.Exec(ctx, `DELETE FROM domain_identity WHERE domain_id = $1 AND category = $2 AND type = $3`,
				domainID, key[0], key[1]); err != nil {
				return err
			}
		}
	}
	for key := range wanted {
		if _, ok := current[key]; !ok {
			if _, err := tx.Exec(ctx, `INSERT INTO domain_identity (domain_id, category, type) VALUES ($1, $2, $3)`,
				domainID, key[0], key[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExpireDomains deletes domains whose last_seen <= threshold, always
// excluding delisted rows (spec.md §4.1, testable property 8).
func (s *Store) ExpireDomains(ctx context.Context, threshold time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM domain WHERE last_seen <= $1 AND delisted IS NOT TRUE`, threshold)
		return err
	})
}

// GetAllDomains returns every non-delisted domain name.
func (s *Store) GetAllDomains(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT domain FROM domain WHERE delisted IS NOT TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// GetScannableDomains returns all non-delisted domains joined with
// DomainIdentity filtered to (category=conference, type=text), per
// spec.md §4.1.
func (s *Store) GetScannableDomains(ctx context.Context) ([]store.ScannableDomain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.domain, d.last_seen,
			EXISTS (
				SELECT 1 FROM domain_identity di
				WHERE di.domain_id = d.id AND di.category = 'conference' AND di.type = 'text'
			) AS is_chat_service
		FROM domain d
		WHERE d.delisted IS NOT TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ScannableDomain
	for rows.Next() {
		var sd store.ScannableDomain
		if err := rows.Scan(&sd.Domain, &sd.LastSeen, &sd.IsChatService); err != nil {
			return nil, err
		}
		result = append(result, sd)
	}
	return result, rows.Err()
}

// Delist marks a domain as administratively delisted, excluding it from
// scanning and expiry (admin API operation; spec §6 config surface's
// `delisted` flag is read-only there, this is the mutator the admin
// surface drives).
func (s *Store) Delist(ctx context.Context, domain string, delisted bool) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := requireDomainTx(ctx, tx, domain)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE domain SET delisted = $1 WHERE domain = $2`, delisted, domain)
		return err
	})
	if err == nil {
		s.signals.OnDomainChanged.Emit(domain)
	}
	return err
}
