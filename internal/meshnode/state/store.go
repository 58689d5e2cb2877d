// Package state persists the node's durable objects: identity, join intent
// and cached network configs. Persistence is best-effort from the engine's
// point of view; a failed write is reported, never fatal.
package state

import (
	"errors"
	"fmt"

	"meshnode/internal/meshnode/domain"
)

// ErrNotFound is returned by Get when no object exists for (type, id).
var ErrNotFound = errors.New("state object not found")

// Store is the durable state collaborator. Object IDs are the canonical
// textual identifiers (16-hex network ID, 10-hex node address, or "" for
// singletons like the identity).
type Store interface {
	// Get returns the stored bytes for (type, id), or ErrNotFound.
	Get(objType domain.StateObjectType, id string) ([]byte, error)

	// Put stores data under (type, id), replacing any previous value.
	Put(objType domain.StateObjectType, id string, data []byte) error

	// Delete removes (type, id). Deleting an absent object is a no-op.
	Delete(objType domain.StateObjectType, id string) error

	// List enumerates the IDs stored under a type.
	List(objType domain.StateObjectType) ([]string, error)

	// Close releases the backing resources.
	Close() error
}

// Open constructs the configured backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(dir)
	case "file":
		return OpenFile(dir)
	default:
		return nil, fmt.Errorf("unknown state backend: %q", backend)
	}
}
