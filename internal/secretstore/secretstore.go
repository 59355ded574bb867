// Package secretstore defines the narrow capability the sync core uses to
// reach an OS keychain or other credential store, without depending on any
// concrete credential backend.
package secretstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no secret is stored under key.
var ErrNotFound = errors.New("secretstore: no secret stored for key")

// Store stores, retrieves, and deletes opaque secret bytes by
// service-account key (e.g. "flowdesk-sync/device-workspace-key"). The core
// depends on this interface only, never on a concrete keychain.
type Store interface {
	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Get retrieves the value stored under key. It returns ErrNotFound if
	// no value is stored there.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the value stored under key. It is not an error to
	// delete a key that does not exist.
	Delete(ctx context.Context, key string) error
}
