package store

import (
	"context"
	"strings"
	"time"

	"github.com/dukepan/muclumbus/internal/store/signal"
)

// NUsersMovingAverageFactor is α in ema ← ema·α + n·(1−α); after 24 updates
// ~1% of the original value remains (spec §4.1).
const NUsersMovingAverageFactor = 0.82

// NUsersMovingAverageInterval is the minimum spacing between moving-average
// updates (spec §4.1's "MA_INTERVAL ≈ 57 min").
const NUsersMovingAverageInterval = 57 * time.Minute

// Seen controls the seen= argument of RequireDomain.
type Seen int

const (
	// SeenNow sets last_seen = now + offset.
	SeenNow Seen = iota
	// SeenLeave leaves last_seen as-is (only inserts if the domain is absent).
	SeenLeave
)

// Store is the contract every public mutator/query in spec.md §4.1
// implements. Every mutator executes inside a scoped transaction that
// commits on success and rolls back on error; each emits the relevant
// signal listed on the Store's bus fields strictly after commit.
type Store interface {
	Signals() *Signals

	RequireDomain(ctx context.Context, domain string, seen Seen, offset time.Duration) (Domain, error)
	UpdateDomain(ctx context.Context, domain string, update DomainUpdate) error
	Delist(ctx context.Context, domain string, delisted bool) error
	ExpireDomains(ctx context.Context, threshold time.Time) error
	GetAllDomains(ctx context.Context) ([]string, error)
	GetScannableDomains(ctx context.Context) ([]ScannableDomain, error)

	UpdateMUCMetadata(ctx context.Context, addr string, update MUCMetadataUpdate) error
	UpdateMUCAvatar(ctx context.Context, addr string, mimeType string, data []byte) error
	DeleteAllMUCData(ctx context.Context, addr string) error
	ExpireMUCs(ctx context.Context, threshold time.Time) error
	GetAllKnownInactiveMUCs(ctx context.Context, isActive func(addr string) bool) ([]string, error)
	GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int) ([]JoinableRoom, error)
	GetPublicRoomAddresses(ctx context.Context) ([]string, error)
	GetPublicRoomView(ctx context.Context, addr string) (PublicRoom, Room, bool, error)

	GetAddressMetadata(ctx context.Context, addr string) (AddressMetadata, bool, error)
	CacheAddressMetadata(ctx context.Context, addr string, meta AddressMetadata, ttl time.Duration) error

	StoreReferral(ctx context.Context, from, to string, timestamp time.Time) error

	SearchPublicRooms(ctx context.Context, q SearchQuery) ([]SearchResult, bool, error)
}

// SearchOrder selects the keyed-pagination ordering of SearchPublicRooms
// (spec §4.10).
type SearchOrder int

const (
	// OrderByNUsers orders nusers_moving_average DESC, keyed by float.
	OrderByNUsers SearchOrder = iota
	// OrderByAddress orders address ASC, keyed by string.
	OrderByAddress
)

// SearchQuery is the already-validated input to SearchPublicRooms; the
// caller (internal/search.Service) owns request-shape validation, leaving
// the Store only the query-building and paging concerns of
// original_source/muchopper/common/queries.py.
type SearchQuery struct {
	Keywords         []string
	ScopeAddress     bool
	ScopeDescription bool
	ScopeName        bool
	MinUsers         float64
	OrderBy          SearchOrder
	After            Option[float64]
	AfterAddress     Option[string]
	Max              int
}

// SearchResult is one row of a search response (spec §4.10, §6).
type SearchResult struct {
	Address             string
	IsOpen              bool
	NUsers              int
	Name                *string
	Description         *string
	Language            *string
	NUsersMovingAverage float64
}

// Signals groups the four post-commit signals spec.md §4.1 lists.
type Signals struct {
	OnRoomChanged   *signal.Bus[string]
	OnRoomDeleted   *signal.Bus[string]
	OnDomainChanged *signal.Bus[string]
	OnDomainDeleted *signal.Bus[string]
}

// NewSignals constructs an empty Signals set.
func NewSignals() *Signals {
	return &Signals{
		OnRoomChanged:   signal.NewBus[string](),
		OnRoomDeleted:   signal.NewBus[string](),
		OnDomainChanged: signal.NewBus[string](),
		OnDomainDeleted: signal.NewBus[string](),
	}
}

// NormalizeText implements the text-normalisation contract of spec.md
// §4.1: truncate to hard, collapse internal whitespace, then truncate to
// soft-1 with an ellipsis if still over soft. hard defaults to 2*soft when
// <= 0, matching the Python default length_hard_limit=None.
func NormalizeText(s string, soft, hard int) string {
	if hard <= 0 {
		hard = soft * 2
	}
	if len(s) > hard {
		s = s[:hard]
	}

	s = strings.Join(strings.Fields(strings.TrimSpace(s)), " ")

	if len(s) > soft {
		if soft == 0 {
			return ""
		}
		s = s[:soft-1] + "…"
	}
	return s
}

// NextMovingAverage computes ema ← ema·α + n·(1−α).
func NextMovingAverage(ema float64, n int) float64 {
	return ema*NUsersMovingAverageFactor + float64(n)*(1-NUsersMovingAverageFactor)
}
