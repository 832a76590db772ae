// Package address implements the canonical chat-entity address used
// throughout the crawler: localpart?@domain/resource?, case-folded.
package address

import (
	"errors"
	"strings"
)

// ErrEmptyDomain is returned by Parse when the domain part is empty.
var ErrEmptyDomain = errors.New("address: empty domain")

// Address is the canonical identifier of a chat entity. Two Addresses are
// equal iff their stringified canonical form is equal.
type Address struct {
	Localpart string
	Domain    string
	Resource  string
}

// Parse decodes "localpart?@domain/resource?" into an Address, case-folding
// the localpart and domain (resources are case-sensitive, matching the
// semantics of the real wire protocol this type opaquely represents).
func Parse(s string) (Address, error) {
	var a Address

	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		a.Resource = s[slash+1:]
		s = s[:slash]
	}

	if at := strings.IndexByte(s, '@'); at >= 0 {
		a.Localpart = strings.ToLower(s[:at])
		s = s[at+1:]
	}

	a.Domain = strings.ToLower(s)
	if a.Domain == "" {
		return Address{}, ErrEmptyDomain
	}
	return a, nil
}

// MustParse is Parse but panics on error; intended for literals in tests
// and static configuration, never for untrusted input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bare returns the address with its resource stripped.
func (a Address) Bare() Address {
	a.Resource = ""
	return a
}

// IsBare reports whether the address has no resource part.
func (a Address) IsBare() bool {
	return a.Resource == ""
}

// DomainOnly returns the bare domain as its own Address, dropping both the
// localpart and the resource — used when a discovered item turns out to
// name a peer domain rather than a room or user on it.
func (a Address) DomainOnly() Address {
	return Address{Domain: a.Domain}
}

// String renders the canonical form.
func (a Address) String() string {
	var b strings.Builder
	if a.Localpart != "" {
		b.WriteString(a.Localpart)
		b.WriteByte('@')
	}
	b.WriteString(a.Domain)
	if a.Resource != "" {
		b.WriteByte('/')
		b.WriteString(a.Resource)
	}
	return b.String()
}

// Equal reports whether two addresses have the same canonical form.
func (a Address) Equal(other Address) bool {
	return a == other
}

// Less orders addresses by their canonical string form, used for
// address-ascending search ordering (spec §4.10).
func (a Address) Less(other Address) bool {
	return a.String() < other.String()
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}
