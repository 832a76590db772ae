// Package search implements the SearchService component (spec §4.10):
// request validation, keyed pagination, and keyword-scoped filtering over
// the public room catalogue, grounded on
// original_source/muchopper/bot/spokesman.py and
// original_source/muchopper/common/queries.py.
package search

import (
	"context"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/dukepan/muclumbus/internal/crawlerr"
	"github.com/dukepan/muclumbus/internal/store"
)

const (
	maxQueryLength  = 1024
	minKeywordRunes = 3
	maxKeywords     = 5
	defaultMax      = 100
)

// Order selects the requested ordering key (spec §4.10).
type Order string

const (
	OrderNUsers  Order = "nusers"
	OrderAddress Order = "address"
)

// Form is the request's data-form payload, mirroring spokesman.py's
// xso.SearchForm: query text plus per-field scope toggles.
type Form struct {
	Query            string
	OrderBy          Order
	MinUsers         float64
	ScopeAddress     bool
	ScopeDescription bool
	ScopeName        bool
}

// Paging is the request's result-set-management metadata (spec §6's RSM
// subset: only after/max are supported, matching spokesman.py's rejection
// of before/first/last/index).
type Paging struct {
	After  string
	Max    int
	Before bool
	First  bool
	Last   bool
	Index  bool
}

// Request is one search invocation. A nil Form and empty Paging together
// signal the "neither form nor paging metadata" case that spokesman.py
// answers with an empty form template instead of running a query.
type Request struct {
	Form   *Form
	Paging *Paging
}

// Item is one result row (spec §4.10, §6's search-result-item shape).
type Item struct {
	Address     string
	IsOpen      bool
	NUsers      int
	Name        string
	Description string
	Language    string
}

// Response is either an empty form template (Template true) or a page of
// results with RSM paging metadata.
type Response struct {
	Template bool
	Items    []Item
	First    string
	Last     string
	Max      int
}

// Service implements SearchService against a store.Store.
type Service struct {
	store store.Store
	ready atomic.Bool
}

// New constructs a Service. MarkReady must be called once the store's
// initial state is available before Search stops returning Unavailable
// errors (spec §4.10's "uninitialised state -> wait error").
func New(s store.Store) *Service {
	return &Service{store: s}
}

// MarkReady flips the service into the serving state.
func (s *Service) MarkReady() { s.ready.Store(true) }

// Search validates req and, unless it is the empty-template case, executes
// a keyed/keyword-scoped query against the store.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	if !s.ready.Load() {
		return Response{}, crawlerr.Wrap(crawlerr.KindUnavailable, "search service not initialised yet", nil)
	}

	if req.Form == nil && (req.Paging == nil || isZeroPaging(*req.Paging)) {
		return Response{Template: true}, nil
	}

	max := defaultMax
	var after store.Option[float64]
	var afterAddr store.Option[string]

	if req.Paging != nil {
		p := *req.Paging
		if p.Before || p.First || p.Last || p.Index {
			return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "attempt to use unsupported RSM features", nil)
		}
		if p.Max > 0 {
			max = clamp(p.Max, 1, defaultMax)
		}
	}

	if req.Form == nil {
		return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "form missing or invalid FORM_TYPE", nil)
	}
	form := *req.Form

	if len(form.Query) > maxQueryLength {
		return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "query too long", nil)
	}

	var keywords []string
	returnAll := form.Query == ""
	if !returnAll {
		if !form.ScopeAddress && !form.ScopeDescription && !form.ScopeName {
			return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "search scope is empty", nil)
		}

		var err error
		keywords, err = prepareKeywords(form.Query, minKeywordRunes)
		if err != nil {
			return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "failed to parse search form", err)
		}
		if len(keywords) == 0 {
			return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "no valid search terms", nil)
		}
		if len(keywords) > maxKeywords {
			return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "too many search terms", nil)
		}
	}

	order := store.OrderByNUsers
	switch form.OrderBy {
	case OrderAddress:
		order = store.OrderByAddress
	case OrderNUsers, "":
		order = store.OrderByNUsers
	default:
		return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "invalid key value", nil)
	}

	if req.Paging != nil && req.Paging.After != "" {
		if order == store.OrderByAddress {
			afterAddr = store.Some(req.Paging.After)
		} else {
			v, err := strconv.ParseFloat(req.Paging.After, 64)
			if err != nil {
				return Response{}, crawlerr.Wrap(crawlerr.KindValidation, "invalid paging cursor", err)
			}
			after = store.Some(v)
		}
	}

	q := store.SearchQuery{
		Keywords:         keywords,
		ScopeAddress:     form.ScopeAddress,
		ScopeDescription: form.ScopeDescription,
		ScopeName:        form.ScopeName,
		MinUsers:         form.MinUsers,
		OrderBy:          order,
		After:            after,
		AfterAddress:     afterAddr,
		Max:              max,
	}

	rows, _, err := s.store.SearchPublicRooms(ctx, q)
	if err != nil {
		return Response{}, crawlerr.Wrap(crawlerr.KindStorage, "search query failed", err)
	}

	resp := Response{Max: max}
	for _, r := range rows {
		item := Item{Address: r.Address, IsOpen: r.IsOpen, NUsers: int(math.Round(r.NUsersMovingAverage))}
		if r.Name != nil {
			item.Name = *r.Name
		}
		if r.Description != nil {
			item.Description = *r.Description
		}
		if r.Language != nil {
			item.Language = *r.Language
		}
		resp.Items = append(resp.Items, item)
	}

	if len(rows) > 0 {
		last := rows[len(rows)-1]
		if order == store.OrderByAddress {
			resp.First = last.Address
			resp.Last = last.Address
		} else {
			key := strconv.FormatFloat(last.NUsersMovingAverage, 'f', -1, 64)
			resp.First = key
			resp.Last = key
		}
	}

	return resp, nil
}

func isZeroPaging(p Paging) bool {
	return p == Paging{}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
