// Package remoteapi declares the RemoteApi capability consumed by the
// engine and the repofiles service, plus reference implementations: an
// in-memory/mount-backed server stand-in (memory.go) and a retryable
// HTTP client (httpclient.go). The engine and repofiles never depend on
// a concrete implementation, only on this interface.
package remoteapi

import ("context"
	"io"

	"github.com/koofr/vault-core/internal/transfers/engine")

// RemoteFile is the remote-side metadata a RemoteApi call surfaces,
// carrying the encrypted name as stored on the remote.
type RemoteFile struct {
	Path string // remote (encrypted) path
	Name string // remote (encrypted) name, last segment of Path
	Size int64
	Modified int64 // wall-clock ms
	Hash string
	ContentType string
	IsDir bool
}

// ProgressFunc reports cumulative bytes transferred for a single
// upload_file_reader or get_file_reader call.
type ProgressFunc func(transferredBytes int64)

// RemoteApi is the narrow set of remote operations the engine and
// repofiles services need. Every path/name argument here is already
// encrypted; RemoteApi itself never sees decrypted names.
type RemoteApi interface {
	// LoadFiles lists the (encrypted) children of remotePath.
	LoadFiles(ctx context.Context, mountID, remotePath string) ([]RemoteFile, error)

	// LoadFile loads metadata for a single remote file.
	LoadFile(ctx context.Context, mountID, remotePath string) (RemoteFile, error)

	// UploadFileReader uploads stream (already encrypted) as remoteName
	// under parent, honoring cr's conflict-resolution mode. size is
	// meaningful only when sizeKnown is true; onProgress is invoked with cumulative
	// ciphertext bytes sent, or nil if the caller doesn't want progress.
	UploadFileReader(ctx context.Context, mountID, parent, remoteName string, stream io.Reader, size int64, sizeKnown bool, cr engine.ConflictResolution, onProgress ProgressFunc) (bytesUploaded int64, file RemoteFile, err error)

	// GetFileReader opens a (ciphertext) read of remotePath.
	GetFileReader(ctx context.Context, mountID, remotePath string) (io.ReadCloser, RemoteFile, error)

	DeleteFile(ctx context.Context, mountID, remotePath string) error
	CreateDirName(ctx context.Context, mountID, parent, remoteName string) (RemoteFile, error)
	RenameFile(ctx context.Context, mountID, remotePath, newRemoteName string) (RemoteFile, error)
	CopyFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (RemoteFile, error)
	MoveFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (RemoteFile, error)
}
