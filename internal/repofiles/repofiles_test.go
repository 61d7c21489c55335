package repofiles

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/koofr/vault-core/internal/cipher"
	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/logging"
	"github.com/koofr/vault-core/internal/remoteapi"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/engine"
	"github.com/koofr/vault-core/internal/vaulterrors"
)

// memRemote is a fake RemoteApi. Every argument it receives is already
// encrypted, exactly as the real RemoteApi contract requires; since
// AESCBCCipher.EncryptFilename draws a fresh random IV per call, the same
// decrypted path produces different ciphertext on every encryption, so
// this fake indexes files by their decrypted canonical path (decrypting
// each incoming segment with the same repo Cipher the service used to
// encrypt it) rather than by literal ciphertext bytes.
type memRemote struct {
	c cipher.Cipher

	mu    sync.Mutex
	files map[string]remoteapi.RemoteFile // keyed by decrypted canonical path
	blobs map[string][]byte
}

func newMemRemote(c cipher.Cipher) *memRemote {
	return &memRemote{
		c:     c,
		files: make(map[string]remoteapi.RemoteFile),
		blobs: make(map[string][]byte),
	}
}

func (m *memRemote) decryptPath(remotePath string) (string, error) {
	segs := splitNonEmpty(remotePath)
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		name, err := m.c.DecryptFilename(cipher.EncryptedName(seg))
		if err != nil {
			return "", err
		}
		out = append(out, string(name))
	}
	if len(out) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(out, "/"), nil
}

func canonicalJoin(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func canonicalParent(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func (m *memRemote) LoadFiles(ctx context.Context, mountID, remotePath string) ([]remoteapi.RemoteFile, error) {
	parent, err := m.decryptPath(remotePath)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remoteapi.RemoteFile
	for p, f := range m.files {
		if canonicalParent(p) == parent && p != parent {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memRemote) LoadFile(ctx context.Context, mountID, remotePath string) (remoteapi.RemoteFile, error) {
	key, err := m.decryptPath(remotePath)
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key]
	if !ok {
		return remoteapi.RemoteFile{}, vaulterrors.ErrNotFound
	}
	return f, nil
}

func (m *memRemote) UploadFileReader(ctx context.Context, mountID, parent, remoteName string, stream io.Reader, size int64, sizeKnown bool, cr engine.ConflictResolution, onProgress remoteapi.ProgressFunc) (int64, remoteapi.RemoteFile, error) {
	data, err := io.ReadAll(stream)
	if err != nil {
		return 0, remoteapi.RemoteFile{}, err
	}
	decParent, err := m.decryptPath(parent)
	if err != nil {
		return 0, remoteapi.RemoteFile{}, err
	}
	decName, err := m.c.DecryptFilename(cipher.EncryptedName(remoteName))
	if err != nil {
		return 0, remoteapi.RemoteFile{}, err
	}
	key := canonicalJoin(decParent, string(decName))

	m.mu.Lock()
	_, exists := m.files[key]
	m.mu.Unlock()
	if exists && cr.Kind == engine.ConflictError {
		return 0, remoteapi.RemoteFile{}, vaulterrors.ErrConflict
	}

	if onProgress != nil {
		onProgress(int64(len(data)))
	}
	f := remoteapi.RemoteFile{Path: canonicalJoin(parent, remoteName), Name: remoteName, Size: int64(len(data))}
	m.mu.Lock()
	m.files[key] = f
	m.blobs[key] = data
	m.mu.Unlock()
	return int64(len(data)), f, nil
}

func (m *memRemote) GetFileReader(ctx context.Context, mountID, remotePath string) (io.ReadCloser, remoteapi.RemoteFile, error) {
	key, err := m.decryptPath(remotePath)
	if err != nil {
		return nil, remoteapi.RemoteFile{}, err
	}
	m.mu.Lock()
	f, ok := m.files[key]
	data := m.blobs[key]
	m.mu.Unlock()
	if !ok {
		return nil, remoteapi.RemoteFile{}, vaulterrors.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), f, nil
}

func (m *memRemote) DeleteFile(ctx context.Context, mountID, remotePath string) error {
	key, err := m.decryptPath(remotePath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; !ok {
		return vaulterrors.ErrNotFound
	}
	delete(m.files, key)
	delete(m.blobs, key)
	return nil
}

func (m *memRemote) CreateDirName(ctx context.Context, mountID, parent, remoteName string) (remoteapi.RemoteFile, error) {
	decParent, err := m.decryptPath(parent)
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	decName, err := m.c.DecryptFilename(cipher.EncryptedName(remoteName))
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	key := canonicalJoin(decParent, string(decName))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; ok {
		return remoteapi.RemoteFile{}, vaulterrors.ErrAlreadyExists
	}
	f := remoteapi.RemoteFile{Path: canonicalJoin(parent, remoteName), Name: remoteName, IsDir: true}
	m.files[key] = f
	return f, nil
}

func (m *memRemote) RenameFile(ctx context.Context, mountID, remotePath, newRemoteName string) (remoteapi.RemoteFile, error) {
	key, err := m.decryptPath(remotePath)
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	decNewName, err := m.c.DecryptFilename(cipher.EncryptedName(newRemoteName))
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key]
	data := m.blobs[key]
	if !ok {
		return remoteapi.RemoteFile{}, vaulterrors.ErrNotFound
	}
	newKey := canonicalJoin(canonicalParent(key), string(decNewName))
	f.Name = newRemoteName
	f.Path = canonicalJoin(canonicalParent(f.Path), newRemoteName)
	delete(m.files, key)
	delete(m.blobs, key)
	m.files[newKey] = f
	if data != nil {
		m.blobs[newKey] = data
	}
	return f, nil
}

func (m *memRemote) CopyFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (remoteapi.RemoteFile, error) {
	srcKey, err := m.decryptPath(srcPath)
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	decDstParent, err := m.decryptPath(dstParent)
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}
	decDstName, err := m.c.DecryptFilename(cipher.EncryptedName(dstRemoteName))
	if err != nil {
		return remoteapi.RemoteFile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[srcKey]
	data := m.blobs[srcKey]
	if !ok {
		return remoteapi.RemoteFile{}, vaulterrors.ErrNotFound
	}
	dstKey := canonicalJoin(decDstParent, string(decDstName))
	f.Name = dstRemoteName
	f.Path = canonicalJoin(dstParent, dstRemoteName)
	m.files[dstKey] = f
	if data != nil {
		m.blobs[dstKey] = data
	}
	return f, nil
}

func (m *memRemote) MoveFile(ctx context.Context, mountID, srcPath, dstParent, dstRemoteName string) (remoteapi.RemoteFile, error) {
	f, err := m.CopyFile(ctx, mountID, srcPath, dstParent, dstRemoteName)
	if err != nil {
		return f, err
	}
	srcKey, err := m.decryptPath(srcPath)
	if err != nil {
		return f, err
	}
	m.mu.Lock()
	delete(m.files, srcKey)
	delete(m.blobs, srcKey)
	m.mu.Unlock()
	return f, nil
}

// fakeResolver is a RepoResolver backed by one fixed Cipher for every
// repo id it's told to serve.
type fakeResolver struct {
	c        cipher.Cipher
	mountID  string
	rootPath string
	locked   map[string]bool
}

func (f *fakeResolver) Cipher(repoID string) (cipher.Cipher, error) {
	if f.locked[repoID] {
		return nil, vaulterrors.ErrRepoLocked
	}
	return f.c, nil
}

func (f *fakeResolver) MountOf(repoID string) (mountID, rootPath string, ok bool) {
	return f.mountID, f.rootPath, true
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestService(t *testing.T, dlg dialogs.Dialogs) (*Service, *store.Store, *memRemote, *fakeResolver) {
	t.Helper()
	c, err := cipher.NewAESCBCCipher(testKey())
	if err != nil {
		t.Fatalf("NewAESCBCCipher: %v", err)
	}
	remote := newMemRemote(c)
	resolver := &fakeResolver{c: c, mountID: "mount-1", rootPath: "/", locked: map[string]bool{}}
	st := store.New()
	log := logging.New("daemon")
	svc := New(st, remote, resolver, dlg, log)
	return svc, st, remote, resolver
}

func TestService_EnsureDirs_CreatesMissingAncestorsOnce(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.EnsureDirs(context.Background(), "repo-1", "/a/b"); err != nil {
		t.Fatalf("EnsureDirs returned error: %v", err)
	}

	// A second call over the same path must not error even though both
	// ancestors now already exist remotely.
	if err := svc.EnsureDirs(context.Background(), "repo-1", "/a/b"); err != nil {
		t.Fatalf("second EnsureDirs returned error: %v", err)
	}
}

func TestService_EnsureDirs_ConcurrentCallsShareOneInflight(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.EnsureDirs(context.Background(), "repo-1", "/shared/dir")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: unexpected error %v", i, err)
		}
	}
}

func TestService_EnsureDirs_PathIsFileReturnsError(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "blocked", []byte("x")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	if err := svc.EnsureDirs(context.Background(), "repo-1", "/blocked/child"); err == nil {
		t.Fatal("expected an error when an ancestor path is a file")
	}
}

func TestService_RefreshListing_DecryptsEntries(t *testing.T) {
	svc, st, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "hello.txt", []byte("test")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	if err := svc.RefreshListing(context.Background(), "repo-1", "/"); err != nil {
		t.Fatalf("RefreshListing returned error: %v", err)
	}

	names := store.WithStateR(st, func(s *store.State) []string {
		return s.RepoFiles.EntryNames("repo-1", "/")
	})
	if len(names) != 1 || names[0] != "hello.txt" {
		t.Errorf("expected decrypted entry names [hello.txt], got %v", names)
	}
}

func TestService_GetFileReader_RoundTripsContent(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "note.txt", []byte("hello world")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	rc, err := svc.GetFileReader(context.Background(), "repo-1", "/note.txt")
	if err != nil {
		t.Fatalf("GetFileReader returned error: %v", err)
	}
	defer rc.Close()

	if rc.Name() != "note.txt" {
		t.Errorf("expected Name note.txt, got %q", rc.Name())
	}
	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(content) != "hello world" {
		t.Errorf("expected decrypted content %q, got %q", "hello world", string(content))
	}
}

func TestService_DeleteFiles_ConfirmDeletesAndRunsBeforeDelete(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "doomed.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	var beforeCalled bool
	err := svc.DeleteFiles(context.Background(), []FileRef{{RepoID: "repo-1", Path: "/doomed.txt"}}, func() error {
		beforeCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("DeleteFiles returned error: %v", err)
	}
	if !beforeCalled {
		t.Error("expected beforeDelete to be invoked before the remote delete")
	}

	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/doomed.txt"); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestService_DeleteFiles_BeforeDeleteErrorAbortsDelete(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "kept.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	wantErr := errors.New("details still saving")
	err := svc.DeleteFiles(context.Background(), []FileRef{{RepoID: "repo-1", Path: "/kept.txt"}}, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected beforeDelete's error to propagate, got %v", err)
	}

	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/kept.txt"); err != nil {
		t.Errorf("expected the file to survive an aborted delete, got %v", err)
	}
}

func TestService_DeleteFiles_DismissedDialogCancelsDelete(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoDeny())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "kept.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	err := svc.DeleteFiles(context.Background(), []FileRef{{RepoID: "repo-1", Path: "/kept.txt"}}, nil)
	if !errors.Is(err, vaulterrors.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}

	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/kept.txt"); err != nil {
		t.Errorf("expected the file to survive a canceled delete, got %v", err)
	}
}

func TestService_RenameFile(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "old.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	if err := svc.RenameFile(context.Background(), "repo-1", "/old.txt", "new.txt"); err != nil {
		t.Fatalf("RenameFile returned error: %v", err)
	}

	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/old.txt"); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Errorf("expected old name gone, got %v", err)
	}
	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/new.txt"); err != nil {
		t.Errorf("expected new name readable, got %v", err)
	}
}

func TestService_CopyFile_CreatesDestinationAndKeepsSource(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "src.txt", []byte("payload")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	if err := svc.CopyFile(context.Background(), "repo-1", "/src.txt", "/dst", "copy.txt"); err != nil {
		t.Fatalf("CopyFile returned error: %v", err)
	}

	for _, path := range []string{"/src.txt", "/dst/copy.txt"} {
		rc, err := svc.GetFileReader(context.Background(), "repo-1", path)
		if err != nil {
			t.Fatalf("expected %q to exist, got %v", path, err)
		}
		rc.Close()
	}
}

func TestService_MoveFile_RefreshesBothListings(t *testing.T) {
	svc, st, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if err := svc.CreateFile(context.Background(), "repo-1", "/", "src.txt", []byte("payload")); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	if err := svc.MoveFile(context.Background(), "repo-1", "/src.txt", "/dst", "moved.txt"); err != nil {
		t.Fatalf("MoveFile returned error: %v", err)
	}

	if _, err := svc.GetFileReader(context.Background(), "repo-1", "/src.txt"); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Errorf("expected source gone, got %v", err)
	}

	srcNames := store.WithStateR(st, func(s *store.State) []string { return s.RepoFiles.EntryNames("repo-1", "/") })
	for _, n := range srcNames {
		if n == "src.txt" {
			t.Error("expected source listing to no longer contain src.txt")
		}
	}
	dstNames := store.WithStateR(st, func(s *store.State) []string { return s.RepoFiles.EntryNames("repo-1", "/dst") })
	if len(dstNames) != 1 || dstNames[0] != "moved.txt" {
		t.Errorf("expected destination listing [moved.txt], got %v", dstNames)
	}
}

func TestService_CreateDirName_AutorenamesOnConflict(t *testing.T) {
	svc, _, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	if _, err := svc.CreateDirName(context.Background(), "repo-1", "/", "folder"); err != nil {
		t.Fatalf("first CreateDirName returned error: %v", err)
	}
	got, err := svc.CreateDirName(context.Background(), "repo-1", "/", "folder")
	if err != nil {
		t.Fatalf("second CreateDirName returned error: %v", err)
	}
	if got != "folder (1)" {
		t.Errorf("expected autorenamed %q, got %q", "folder (1)", got)
	}
}

func TestService_GetUnusedName_ReservesInProgressUploadNames(t *testing.T) {
	svc, st, _, _ := newTestService(t, dialogs.NewAutoConfirm())

	store.Mutate(st, func(s *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		s.Transfers.Insert(func(id transfers.ID, order int64) *transfers.Transfer {
			return &transfers.Transfer{
				Kind:  transfers.KindUpload,
				State: transfers.StateWaiting,
				Size:  transfers.Unknown(),
				Upload: &transfers.UploadTransfer{
					RepoID:     "repo-1",
					ParentPath: "/",
					Name:       "file.txt",
				},
			}
		})
		return struct{}{}
	})

	name, err := svc.GetUnusedName(context.Background(), "repo-1", "/", "file.txt")
	if err != nil {
		t.Fatalf("GetUnusedName returned error: %v", err)
	}
	if name != "file (1).txt" {
		t.Errorf("expected the in-progress upload's name to be reserved, got %q", name)
	}
}

func TestService_CipherFor_RepoLocked(t *testing.T) {
	svc, _, _, resolver := newTestService(t, dialogs.NewAutoConfirm())
	resolver.locked["repo-1"] = true

	if err := svc.EnsureDirs(context.Background(), "repo-1", "/a"); !errors.Is(err, vaulterrors.ErrRepoLocked) {
		t.Fatalf("expected ErrRepoLocked, got %v", err)
	}
}
