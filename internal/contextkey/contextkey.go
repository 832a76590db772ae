// Package contextkey defines the typed keys used to stash request-scoped
// values on a context.Context across package boundaries.
package contextkey

type key int

const (
	// ContextKeyRequestID identifies the per-request UUID set by middleware.
	ContextKeyRequestID key = iota
	// ContextKeyUserID identifies the authenticated admin account's
	// username.
	ContextKeyUserID
	// ContextKeyComponent identifies the crawl component name (scanner,
	// watcher, ...) a log line or span originates from.
	ContextKeyComponent
	// ContextKeyAddress identifies the chat address currently being
	// processed, for log enrichment.
	ContextKeyAddress
)
