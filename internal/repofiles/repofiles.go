// Package repofiles is the RepoFiles service: encrypted naming,
// parent-directory materialization (ensure_dirs), directory listing
// refresh, and the thin wrappers over RemoteApi that every other file
// operation (rename/copy/move/create/delete) boils down to.
//
// Its directory-materialization pipeline follows a
// make-sure-the-remote-parent-exists-before-uploading discipline, adapted
// from a plaintext-folder-id model to this module's
// encrypted-name-per-segment model.
package repofiles

import ("context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/koofr/vault-core/internal/cipher"
	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/logging"
	"github.com/koofr/vault-core/internal/remoteapi"
	"github.com/koofr/vault-core/internal/repofilesstate"
	"github.com/koofr/vault-core/internal/store"
	paths "github.com/koofr/vault-core/internal/util/paths"
	"github.com/koofr/vault-core/internal/vaulterrors")

func nowMs() int64 { return time.Now().UnixMilli() }

// RepoResolver is the slice of the repos service this package depends on:
// per-repo Cipher resolution and the mount/root-path address a repo
// resolves to. Declared here rather than importing internal/repos
// directly so repofiles only ever depends on a capability, not a
// concrete service, keeping the store-mediated dependency graph acyclic.
type RepoResolver interface {
	cipher.Locker
	MountOf(repoID string) (mountID, rootPath string, ok bool)
}

// inflight is the shared-future entry behind EnsureDirs' dedup cache:
// concurrent callers for the same path await the same future instead of
// each issuing their own remote directory-create call.
type inflight struct {
	done chan struct{}
	err error
}

// Service implements RepoFiles operations plus the unused-name resolver
// consulted by uploads and CreateDirName. One Service wraps one
// Store/RemoteApi pair.
type Service struct {
	store *store.Store
	remote remoteapi.RemoteApi
	resolve RepoResolver
	dlg dialogs.Dialogs
	log *logging.Logger

	mu sync.Mutex
	ensureDirsFlight map[string]*inflight
}

// New builds a repofiles Service.
func New(st *store.Store, remote remoteapi.RemoteApi, resolve RepoResolver, dlg dialogs.Dialogs, log *logging.Logger) *Service {
	return &Service{
		store: st,
		remote: remote,
		resolve: resolve,
		dlg: dlg,
		log: log,
		ensureDirsFlight: make(map[string]*inflight),
	}
}

// cipherFor resolves repoID's Cipher, translating the missing-repo case
// into ErrRepoLocked the same way a not-yet-unlocked repo would.
func (s *Service) cipherFor(repoID string) (cipher.Cipher, string, string, error) {
	c, err := s.resolve.Cipher(repoID)
	if err != nil {
		return nil, "", "", err
	}
	mountID, rootPath, ok := s.resolve.MountOf(repoID)
	if !ok {
		return nil, "", "", vaulterrors.ErrNotFound
	}
	return c, mountID, rootPath, nil
}

// encryptPath translates a decrypted repo-relative path into its remote
// (encrypted-per-segment) address, rooted at rootPath. Each path segment
// is encrypted independently so a directory's remote name never reveals
// anything about its children, matching EncryptFilename's per-segment
// contract.
func encryptPath(c cipher.Cipher, rootPath, decryptedPath string) string {
	segs := splitNonEmpty(decryptedPath)
	out := strings.TrimRight(rootPath, "/")
	for _, seg := range segs {
		out += "/" + string(c.EncryptFilename(cipher.DecryptedName(seg)))
	}
	if out == "" {
		return "/"
	}
	return out
}

func splitNonEmpty(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ancestors returns every ancestor directory path of p, root first,
// including p itself, e.g. "/a/b/c" -> ["/", "/a", "/a/b", "/a/b/c"].
func ancestors(p string) []string {
	segs := splitNonEmpty(p)
	out := make([]string, 0, len(segs)+1)
	cur := "/"
	out = append(out, cur)
	for _, seg := range segs {
		cur = paths.Join(cur, seg)
		out = append(out, cur)
	}
	return out
}

// EnsureDirs materializes every ancestor of path under repoID: idempotent,
// and concurrent calls for the same path
// share one in-flight future rather than issuing duplicate remote
// creates.
func (s *Service) EnsureDirs(ctx context.Context, repoID, path string) error {
	if path == "" || path == "/" {
		return nil
	}
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}

	for _, ancestor := range ancestors(path)[1:] {
		encPath := encryptPath(c, rootPath, ancestor)
		if err := s.ensureOneDir(ctx, mountID, repoID, ancestor, encPath); err != nil {
			return err
		}
	}
	return nil
}

// ensureOneDir applies the directory-ensuring policy for a single
// ancestor: load it; if present and a file, error; if missing, create it;
// if create reports AlreadyExists, re-load only rather than retrying
// creation, since a concurrent caller already won the race.
func (s *Service) ensureOneDir(ctx context.Context, mountID, repoID, decryptedPath, encPath string) error {
	s.mu.Lock()
	if fl, ok := s.ensureDirsFlight[encPath]; ok {
		s.mu.Unlock()
		<-fl.done
		return fl.err
	}
	fl := &inflight{done: make(chan struct{})}
	s.ensureDirsFlight[encPath] = fl
	s.mu.Unlock()

	err := s.ensureOneDirInner(ctx, mountID, decryptedPath, encPath)

	s.mu.Lock()
	delete(s.ensureDirsFlight, encPath)
	s.mu.Unlock()
	fl.err = err
	close(fl.done)
	return err
}

func (s *Service) ensureOneDirInner(ctx context.Context, mountID, decryptedPath, encPath string) error {
	file, err := s.remote.LoadFile(ctx, mountID, encPath)
	switch {
	case err == nil:
		if !file.IsDir {
			return vaulterrors.NewLocalFileError("path is a file, not a directory", nil)
		}
		return nil
	case !vaulterrorsIsNotFound(err):
		return err
	}

	parent, name := paths.Split(encPath)
	_, createErr := s.remote.CreateDirName(ctx, mountID, parent, name)
	if createErr == nil {
		return nil
	}
	if vaulterrorsIsAlreadyExists(createErr) {
		_, reloadErr := s.remote.LoadFile(ctx, mountID, encPath)
		return reloadErr
	}
	return createErr
}

func vaulterrorsIsNotFound(err error) bool {
	return errors.Is(err, vaulterrors.ErrNotFound)
}

func vaulterrorsIsAlreadyExists(err error) bool {
	return errors.Is(err, vaulterrors.ErrAlreadyExists)
}

// RefreshListing reloads repoID's directory at path and stores the
// decrypted result, firing EventRepoFiles so repofilesdetails'
// subscription can notice removed/changed files.
func (s *Service) RefreshListing(ctx context.Context, repoID, path string) error {
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}
	encPath := encryptPath(c, rootPath, path)
	remoteFiles, err := s.remote.LoadFiles(ctx, mountID, encPath)
	if err != nil {
		return err
	}

	entries := make([]repofilesstate.Entry, 0, len(remoteFiles))
	for _, rf := range remoteFiles {
		name, derr := c.DecryptFilename(cipher.EncryptedName(rf.Name))
		if derr != nil {
			// A name this repo's key can't decrypt is not one of ours;
			// skip it rather than failing the whole listing.
			continue
		}
		typ := repofilesstate.EntryFile
		if rf.IsDir {
			typ = repofilesstate.EntryDir
		}
		entries = append(entries, repofilesstate.Entry{
			Name: string(name),
			Type: typ,
			Size: rf.Size,
			Modified: rf.Modified,
			Hash: rf.Hash,
			ContentType: rf.ContentType,
			RemoteFileMeta: rf,
		})
	}

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		st.RepoFiles.SetListing(repoID, path, entries, nowMs())
		notify.Add(store.EventRepoFiles)
		return struct{}{}
	})
	return nil
}
