package remoteapi

import ("bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koofr/vault-core/internal/remoteapi/mount"
	"github.com/koofr/vault-core/internal/transfers/engine"
	"github.com/koofr/vault-core/internal/vaulterrors")

// memEntry is one node (file or directory) in MemoryRemoteApi's tree.
type memEntry struct {
	file RemoteFile
	blobKey string // only set for files; empty for directories
	children map[string]*memEntry
}

// MemoryRemoteApi is an in-memory server-side stand-in: a tree of
// encrypted paths mount, with file bytes optionally delegated to a
// mount.Mount (S3/Azure) instead of kept in the process — this is a test
// double standing in for the remote vault server, not a model of real
// server semantics.
type MemoryRemoteApi struct {
	mu sync.Mutex
	mnt mount.Mount // nil means blobs are kept in-process in blobs
	roots map[string]*memEntry

	blobs map[string][]byte // used when mnt == nil
	seq int64
}

// NewMemoryRemoteApi builds a server stand-in. If mnt is nil, file bytes
// are kept in-process; otherwise every PutObject/GetObject goes through
// mnt (see internal/remoteapi/mount).
func NewMemoryRemoteApi(mnt mount.Mount) *MemoryRemoteApi {
	return &MemoryRemoteApi{
		mnt: mnt,
		roots: make(map[string]*memEntry),
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryRemoteApi) rootFor(mountID string) *memEntry {
	r, ok := m.roots[mountID]
	if !ok {
		r = &memEntry{file: RemoteFile{IsDir: true}, children: make(map[string]*memEntry)}
		m.roots[mountID] = r
	}
	return r
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// walk returns the entry at p, and its parent, not creating anything.
func (m *MemoryRemoteApi) walk(mountID, p string) (entry, parent *memEntry, name string, ok bool) {
	segs := splitPath(p)
	cur := m.rootFor(mountID)
	if len(segs) == 0 {
		return cur, nil, "", true
	}
	for i, seg := range segs {
		next, exists := cur.children[seg]
		if !exists {
			return nil, cur, seg, false
		}
		if i == len(segs)-1 {
			return next, cur, seg, true
		}
		cur = next
	}
	return nil, nil, "", false
}

func (m *MemoryRemoteApi) LoadFiles(ctx context.Context, mountID, remotePath string) ([]RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, _, _, ok := m.walk(mountID, remotePath)
	if !ok || !entry.file.IsDir {
		return nil, vaulterrors.ErrNotFound
	}
	out := make([]RemoteFile, 0, len(entry.children))
	for _, child := range entry.children {
		out = append(out, child.file)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRemoteApi) LoadFile(ctx context.Context, mountID, remotePath string) (RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, _, _, ok := m.walk(mountID, remotePath)
	if !ok {
		return RemoteFile{}, vaulterrors.ErrNotFound
	}
	return entry.file, nil
}

func (m *MemoryRemoteApi) nextBlobKey() string {
	m.seq++
	return fmt.Sprintf("blob-%d", m.seq)
}

func (m *MemoryRemoteApi) putBlob(ctx context.Context, r io.Reader, size int64) (string, int64, error) {
	key := m.nextBlobKey()
	if m.mnt == nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", 0, err
		}
		m.blobs[key] = data
		return key, int64(len(data)), nil
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return "", 0, err
	}
	if err := m.mnt.Put(ctx, key, bytes.NewReader(buf.Bytes()), n); err != nil {
		return "", 0, err
	}
	return key, n, nil
}

// UploadFileReader implements conflict-resolution contract:
// ConflictError fails with ErrConflict if parent/remoteName already
// exists; ConflictOverwrite always replaces (the fencing fields are
// accepted but a reference in-memory store has no independent notion of
// "remote size/modified/hash at a point in time" to fence against, so it
// always honors the overwrite — a real server would compare and reject).
func (m *MemoryRemoteApi) UploadFileReader(ctx context.Context, mountID, parent, remoteName string, stream io.Reader, size int64, sizeKnown bool, cr engine.ConflictResolution, onProgress ProgressFunc) (int64, RemoteFile, error) {
	m.mu.Lock()
	parentEntry, _, _, ok := m.walk(mountID, parent)
	m.mu.Unlock()
	if !ok || !parentEntry.file.IsDir {
		return 0, RemoteFile{}, vaulterrors.ErrNotFound
	}

	m.mu.Lock()
	_, exists := parentEntry.children[remoteName]
	m.mu.Unlock()
	if exists && cr.Kind == engine.ConflictError {
		return 0, RemoteFile{}, vaulterrors.ErrConflict
	}

	counting := &countingReader{r: stream, onProgress: onProgress}
	key, n, err := m.putBlob(ctx, counting, size)
	if err != nil {
		return 0, RemoteFile{}, err
	}

	m.mu.Lock()
	file := RemoteFile{
		Path: path.Join("/"+strings.Trim(parent, "/"), remoteName),
		Name: remoteName,
		Size: n,
		Modified: nowMs(),
	}
	parentEntry.children[remoteName] = &memEntry{file: file, blobKey: key}
	m.mu.Unlock()

	return n, file, nil
}

func (m *MemoryRemoteApi) GetFileReader(ctx context.Context, mountID, remotePath string) (io.ReadCloser, RemoteFile, error) {
	m.mu.Lock()
	entry, _, _, ok := m.walk(mountID, remotePath)
	m.mu.Unlock()
	if !ok || entry.file.IsDir {
		return nil, RemoteFile{}, vaulterrors.ErrNotFound
	}

	if m.mnt == nil {
		m.mu.Lock()
		data := m.blobs[entry.blobKey]
		m.mu.Unlock()
		return io.NopCloser(bytes.NewReader(data)), entry.file, nil
	}
	rc, err := m.mnt.Get(ctx, entry.blobKey)
	if err != nil {
		return nil, RemoteFile{}, err
	}
	return rc, entry.file, nil
}

func (m *MemoryRemoteApi) DeleteFile(ctx context.Context, mountID, remotePath string) error {
	m.mu.Lock()
	entry, parent, name, ok := m.walk(mountID, remotePath)
	m.mu.Unlock()
	if !ok {
		return vaulterrors.ErrNotFound
	}
	if parent == nil {
		return fmt.Errorf("remoteapi: cannot delete mount root")
	}

	if m.mnt != nil && entry.blobKey != "" {
		if err := m.mnt.Delete(ctx, entry.blobKey); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.blobs, entry.blobKey)
	delete(parent.children, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRemoteApi) CreateDirName(ctx context.Context, mountID, parent, remoteName string) (RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parentEntry, _, _, ok := m.walk(mountID, parent)
	if !ok || !parentEntry.file.IsDir {
		return RemoteFile{}, vaulterrors.ErrNotFound
	}
	if _, exists := parentEntry.children[remoteName]; exists {
		return RemoteFile{}, vaulterrors.ErrAlreadyExists
	}
	file := RemoteFile{
		Path: path.Join("/"+strings.Trim(parent, "/"), remoteName),
		Name: remoteName,
		IsDir: true,
		Modified: nowMs(),
	}
	parentEntry.children[remoteName] = &memEntry{file: file, children: make(map[string]*memEntry)}
	return file, nil
}

func (m *MemoryRemoteApi) RenameFile(ctx context.Context, mountID, remotePath, newRemoteName string) (RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, parent, name, ok := m.walk(mountID, remotePath)
	if !ok || parent == nil {
		return RemoteFile{}, vaulterrors.ErrNotFound
	}
	if _, exists := parent.children[newRemoteName]; exists {
		return RemoteFile{}, vaulterrors.ErrConflict
	}
	delete(parent.children, name)
	entry.file.Name = newRemoteName
	entry.file.Path = path.Join(path.Dir(entry.file.Path), newRemoteName)
	parent.children[newRemoteName] = entry
	return entry.file, nil
}

func (m *MemoryRemoteApi) CopyFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (RemoteFile, error) {
	m.mu.Lock()
	entry, _, _, ok := m.walk(mountID, srcPath)
	dstParentEntry, _, _, dstOk := m.walk(mountID, dstParent)
	m.mu.Unlock()
	if !ok || !dstOk || !dstParentEntry.file.IsDir {
		return RemoteFile{}, vaulterrors.ErrNotFound
	}
	if entry.file.IsDir {
		return RemoteFile{}, fmt.Errorf("remoteapi: copying directories is not supported by this reference server")
	}

	src, err := m.readBlob(ctx, entry.blobKey)
	if err != nil {
		return RemoteFile{}, err
	}
	defer src.Close()

	n, newFile, err := m.UploadFileReader(ctx, mountID, dstParent, dstRemoteName, src, entry.file.Size, true, engine.ConflictResolutionOverwrite(engine.OverwriteFence{}), nil)
	if err != nil {
		return RemoteFile{}, err
	}
	newFile.Size = n
	return newFile, nil
}

func (m *MemoryRemoteApi) MoveFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (RemoteFile, error) {
	file, err := m.CopyFile(ctx, mountID, srcPath, dstParent, dstRemoteName)
	if err != nil {
		return RemoteFile{}, err
	}
	if err := m.DeleteFile(ctx, mountID, srcPath); err != nil {
		return RemoteFile{}, err
	}
	return file, nil
}

// readBlob reads a stored blob regardless of whether it lives inline or
// in an attached mount.Mount, used by CopyFile/MoveFile which need to
// re-read an existing object to write it somewhere else.
func (m *MemoryRemoteApi) readBlob(ctx context.Context, blobKey string) (io.ReadCloser, error) {
	if m.mnt == nil {
		m.mu.Lock()
		data := m.blobs[blobKey]
		m.mu.Unlock()
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return m.mnt.Get(ctx, blobKey)
}

func nowMs() int64 { return time.Now().UnixMilli() }

type countingReader struct {
	r io.Reader
	total int64
	onProgress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		if c.onProgress != nil {
			c.onProgress(c.total)
		}
	}
	return n, err
}
