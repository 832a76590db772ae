// Package crawlerr defines the error kinds surfaced across the crawl
// pipeline, store and search engine (spec §7 error handling design).
package crawlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec.md §7's table does.
type Kind int

const (
	// KindTransientRemote: service-info/items/version failed with a
	// network/timeout/5xx-equivalent condition. Recovered locally by
	// caching the address as unreachable; never surfaced to a caller.
	KindTransientRemote Kind = iota
	// KindPermanentRemote: item-not-found/gone for a known room.
	// Recovered locally by deleting the room.
	KindPermanentRemote
	// KindBanned: auth error on join, or a banned leave mode. Recovered
	// locally by marking the address banned and deleting its data.
	KindBanned
	// KindValidation: a malformed search request. Not recovered locally;
	// returned to the caller.
	KindValidation
	// KindStorage: an underlying DB failure. Not recovered locally; the
	// calling task rolls back and the next periodic pass retries.
	KindStorage
	// KindUnavailable: a request arrived before the serving component
	// finished initializing (spec §4.10's "uninitialised state -> wait
	// error"). Not recovered locally; the caller should retry later.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransientRemote:
		return "transient_remote"
	case KindPermanentRemote:
		return "permanent_remote"
	case KindBanned:
		return "banned"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, crawlerr.Banned) etc. work against the sentinel
// values below without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newKind(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// Sentinel values usable with errors.Is for kind-only matching.
var (
	TransientRemote = newKind(KindTransientRemote, "transient remote failure")
	PermanentRemote = newKind(KindPermanentRemote, "permanent remote failure")
	Banned          = newKind(KindBanned, "banned")
	Validation      = newKind(KindValidation, "validation failure")
	Storage         = newKind(KindStorage, "storage failure")
	Unavailable     = newKind(KindUnavailable, "service not initialised yet")
)

// Wrap builds a new *Error of the given kind wrapping cause, with a custom
// message, for call sites that need more context than the sentinel.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// OfKind reports whether err (or any error it wraps) carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
