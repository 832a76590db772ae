// Package store defines the Store contract (spec.md §4.1) and the
// relational shapes it persists (spec.md §3, §6), grounded on
// original_source/muchopper/bot/state.py and
// original_source/muchopper/common/model.py.
package store

import "time"

// Option is an explicit present/absent wrapper replacing the Python
// UNCHANGED sentinel, per spec.md §9's Design Note: "replace with an
// explicit change set — a record where each field is of type Option<T>".
type Option[T any] struct {
	set   bool
	value T
}

// Some constructs a present Option.
func Some[T any](v T) Option[T] { return Option[T]{set: true, value: v} }

// None constructs an absent Option — "leave this field alone".
func None[T any]() Option[T] { return Option[T]{} }

// Get reports whether the option is present and, if so, its value.
func (o Option[T]) Get() (T, bool) { return o.value, o.set }

// IsSet reports whether the option carries a value.
func (o Option[T]) IsSet() bool { return o.set }

// AnonymityMode is one of full, semi, none, or unset (spec §3).
type AnonymityMode string

const (
	AnonymityFull  AnonymityMode = "full"
	AnonymitySemi  AnonymityMode = "semi"
	AnonymityNone  AnonymityMode = "none"
	AnonymityUnset AnonymityMode = ""
)

// Domain is one row per peer domain observed (spec §3).
type Domain struct {
	ID              int64
	Domain          string
	LastSeen        *time.Time
	SoftwareName    *string
	SoftwareVersion *string
	SoftwareOS      *string
	Delisted        bool
}

// DomainIdentity is a (domain_id, category, type) triple (spec §3).
type DomainIdentity struct {
	DomainID int64
	Category string
	Type     string
}

// DomainContact is a discovered administrative contact for a domain
// (spec §6 persisted layout; sourced from
// original_source/muchopper/common/model.py).
type DomainContact struct {
	ID       int64
	DomainID int64
	Role     string
	Address  string
}

// Room is one row per chat room address (spec §3).
type Room struct {
	Address                 string
	ServiceDomainID         int64
	NUsers                  *int
	NUsersMovingAverage     *float64
	MovingAverageLastUpdate *time.Time
	IsOpen                  bool
	IsHidden                bool
	WasKicked               bool
	AnonymityMode           AnonymityMode
	LastSeen                time.Time
}

// PublicRoom is the publicly-indexable subset of Room (spec §3).
type PublicRoom struct {
	Address      string
	Name         *string
	Description  *string
	Subject      *string
	Language     *string
	HTTPLogsURL  *string
	WebChatURL   *string
	Tags         []string
}

// Avatar is per-public-room binary avatar data (spec §3).
type Avatar struct {
	Address     string
	LastUpdated time.Time
	MimeType    string
	Hash        string
	Data        []byte
}

// Referral records a mention of one public room inside another (spec §3).
type Referral struct {
	From           string
	To             string
	Count          int64
	LastReferralTS time.Time
}

// AddressMetadata is the classification of an address produced by the
// Analyser and cached negatively by the Store (spec §3, §4.3).
type AddressMetadata struct {
	IsReachable   bool
	IsChatService bool
	IsJoinable    bool
	IsIndexable   bool
	IsBanned      bool
}

// Negative cache TTL classes (spec §3).
const (
	TTLUnreachable = 5 * time.Minute
	TTLClosed      = time.Hour
	TTLNonService  = time.Hour
	TTLBanned      = 24 * time.Hour
)

// MUCMetadataUpdate is the sentinel-free change set for UpdateMUCMetadata,
// replacing update_muc_metadata's keyword-argument UNCHANGED defaults.
type MUCMetadataUpdate struct {
	NUsers        Option[int]
	IsOpen        Option[bool]
	IsPublic      Option[bool]
	Subject       Option[string]
	Name          Option[string]
	Description   Option[string]
	Language      Option[string]
	WasKicked     Option[bool]
	IsSaveable    Option[bool]
	AnonymityMode Option[AnonymityMode]
}

// DomainUpdate is the sentinel-free change set for UpdateDomain.
type DomainUpdate struct {
	Identities      Option[[]DomainIdentity]
	SoftwareVersion Option[string]
	SoftwareName    Option[string]
	SoftwareOS      Option[string]
}

// ScannableDomain is one row of GetScannableDomains' result (spec §4.1).
type ScannableDomain struct {
	Domain        string
	LastSeen      *time.Time
	IsChatService bool
}

// JoinableRoom is one row of GetJoinableRoomsWithUserCount's result.
type JoinableRoom struct {
	Address string
	NUsers  int
}
