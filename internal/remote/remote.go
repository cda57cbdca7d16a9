// Package remote defines the interface the precache manager uses to talk
// to the remote, iRODS-like content-addressed object store, together with
// an icommands-based client (ICommandsClient), a connection-bounding
// wrapper (BoundedStore) and an in-memory implementation (MemoryStore).
package remote

import (
	"context"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// Store fetches objects to local paths and answers metadata/access
// queries. Implementations are blocking and capacity-limited by the
// caller via a semaphore of max_connections (spec.md §5).
type Store interface {
	// Metadata synchronously reads a remote object's descriptive record.
	// Returns precache.ErrNotFound or precache.ErrPermission as
	// appropriate.
	Metadata(ctx context.Context, irodsPath string) (precache.Metadata, error)

	// FetchTo downloads the object's bytes to localPath (whose parent
	// directory the caller has already created). Returns precache.ErrUpstreamUnavailable
	// on I/O failure.
	FetchTo(ctx context.Context, irodsPath, localPath string) error

	// CheckAccess reports whether the caller may read irodsPath without
	// performing a full metadata fetch.
	CheckAccess(ctx context.Context, irodsPath string) error
}
