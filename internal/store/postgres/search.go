package postgres

import (
	"fmt"
	"strings"

	"context"

	"github.com/dukepan/muclumbus/internal/store"
)

// SearchPublicRooms implements store.Store, translating
// original_source/muchopper/common/queries.py's base_query/common_query/
// apply_search_conditions into a single parameterized query, and
// spokesman.py's base_query_nusers/base_query_address into the two
// SearchOrder branches below.
func (s *Store) SearchPublicRooms(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, bool, error) {
	var b strings.Builder
	args := make([]any, 0, len(q.Keywords)+4)

	b.WriteString(`SELECT m.address, m.is_open, m.nusers, m.nusers_moving_average,
		p.name, p.description, p.language
		FROM muc m JOIN public_muc p ON p.address = m.address
		WHERE m.is_open = true AND m.is_hidden = false`)

	switch q.OrderBy {
	case store.OrderByAddress:
		if after, ok := q.AfterAddress.Get(); ok {
			args = append(args, after)
			fmt.Fprintf(&b, " AND m.address > $%d", len(args))
		}
	default:
		if after, ok := q.After.Get(); ok {
			args = append(args, after)
			fmt.Fprintf(&b, " AND m.nusers_moving_average < $%d", len(args))
		}
	}

	if q.MinUsers > 0 {
		args = append(args, q.MinUsers)
		fmt.Fprintf(&b, " AND m.nusers_moving_average >= $%d", len(args))
	}

	for _, keyword := range q.Keywords {
		like := "%" + keyword + "%"
		var conds []string
		if q.ScopeAddress {
			args = append(args, like)
			conds = append(conds, fmt.Sprintf("p.address ILIKE $%d", len(args)))
		}
		if q.ScopeDescription {
			args = append(args, like)
			conds = append(conds, fmt.Sprintf("p.description ILIKE $%d", len(args)))
		}
		if q.ScopeName {
			args = append(args, like)
			conds = append(conds, fmt.Sprintf("p.name ILIKE $%d", len(args)))
		}
		if len(conds) > 0 {
			fmt.Fprintf(&b, " AND (%s)", strings.Join(conds, " OR "))
		}
	}

	switch q.OrderBy {
	case store.OrderByAddress:
		b.WriteString(" ORDER BY m.address ASC")
	default:
		b.WriteString(" ORDER BY m.nusers_moving_average DESC")
	}

	max := q.Max
	if max <= 0 {
		max = 100
	}
	args = append(args, max+1)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var nusers *int
		var avg *float64
		if err := rows.Scan(&r.Address, &r.IsOpen, &nusers, &avg, &r.Name, &r.Description, &r.Language); err != nil {
			return nil, false, err
		}
		if nusers != nil {
			r.NUsers = *nusers
		}
		if avg != nil {
			r.NUsersMovingAverage = *avg
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	more := len(results) > max
	if more {
		results = results[:max]
	}
	return results, more, nil
}
