// Package mount implements the backing stores a RemoteApi server-side
// stand-in can address as a "Mount" (glossary): where the actual
// ciphertext bytes live, independent of the path/metadata bookkeeping
// remoteapi.MemoryRemoteApi does. Grounded on
// internal/cloud/providers/s3 and internal/cloud/providers/azure's
// client-setup shape, narrowed to the single put/get/delete surface a
// reference RemoteApi needs.
package mount

import (
	"context"
	"io"
)

// Mount stores and retrieves opaque ciphertext blobs by key. It has no
// knowledge of repos, encryption, or filenames — those are the reference
// RemoteApi's concern, one layer up.
type Mount interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
