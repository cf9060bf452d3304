// Package objectstore mediates every read and write against object
// storage: fetching objects for scanning, tagging dispositions, and
// copying infected objects into quarantine.
package objectstore

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Sentinel classification for gateway failures. Callers decide retry
// behavior from these: ErrNotFound is a terminal skip, ErrAccessDenied
// is permanent, anything unmarked is transient.
var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
)

// Gateway is the object-store boundary. All operations are idempotent
// for repeated calls on the same inputs; tag writes replace the whole
// tag set.
type Gateway interface {
	// Fetch downloads the object to a freshly allocated local path.
	// The caller owns the returned path and must remove it.
	Fetch(ctx context.Context, bucket, key string) (string, error)

	// TagClean records a clean disposition on the object.
	TagClean(ctx context.Context, bucket, key, digest string) error

	// Quarantine copies the object into the quarantine area and then
	// tags the original as infected. Copy-then-tag: the original is
	// never deleted, so a crash between the two steps leaves it
	// recoverable and re-scannable. Returns the quarantine location.
	Quarantine(ctx context.Context, bucket, key, digest, signature string) (string, error)
}
