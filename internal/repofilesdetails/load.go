package repofilesdetails

import ("context"
	"errors"
	"io"

	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	paths "github.com/koofr/vault-core/internal/util/paths")

// errDetailsNotFound is returned by operations given a details id the
// registry no longer holds (e.g. raced against a concurrent Destroy).
var errDetailsNotFound = errors.New("repofilesdetails: details not found")

// LoadFile refreshes a details entry's metadata and fencing fields from
// the repo's directory listing, implementing `load_file`.
func (s *Service) LoadFile(ctx context.Context, id int32) error {
	repoID, path, ok := s.snapshotTarget(id)
	if !ok {
		return nil
	}
	parent, name := paths.Split(path)

	if err := s.files.RefreshListing(ctx, repoID, parent); err != nil {
		s.markError(id, err)
		return err
	}

	type entryLookup struct {
		size int64
		modified int64
		hash string
		found bool
	}
	lookup := store.WithStateR(s.store, func(st *store.State) entryLookup {
		e, ok := st.RepoFiles.FindEntry(repoID, parent, name)
		if !ok {
			return entryLookup{}
		}
		return entryLookup{size: e.Size, modified: e.Modified, hash: e.Hash, found: true}
	})

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return struct{}{}
		}
		if !lookup.found {
			d.IsDeleted = true
			d.Status = repofilesdetailsstate.StatusError
		} else {
			sz, mod, h := lookup.size, lookup.modified, lookup.hash
			d.Status = repofilesdetailsstate.StatusLoaded
			d.Fence = repofilesdetailsstate.RemoteFence{Size: &sz, Modified: &mod, Hash: &h}
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return nil
}

func (s *Service) markError(id int32, err error) {
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.Status = repofilesdetailsstate.StatusError
			d.Error = err
			notify.Add(store.EventRepoFilesDetails)
		}
		return struct{}{}
	})
}

type targetSnapshot struct {
	repoID string
	path string
	ok bool
}

func (s *Service) snapshotTarget(id int32) (repoID, path string, ok bool) {
	snap := store.WithStateR(s.store, func(st *store.State) targetSnapshot {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return targetSnapshot{}
		}
		return targetSnapshot{repoID: d.RepoID, path: d.Path, ok: true}
	})
	return snap.repoID, snap.path, snap.ok
}

// LoadContent loads and decrypts the file body. A dirty (unsaved edit)
// entry is never clobbered.
func (s *Service) LoadContent(ctx context.Context, id int32) error {
	type loadContentTarget struct {
		dirty bool
		repoID string
		path string
		ok bool
	}
	target := store.WithStateR(s.store, func(st *store.State) loadContentTarget {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return loadContentTarget{}
		}
		return loadContentTarget{dirty: d.IsDirty, repoID: d.RepoID, path: d.Path, ok: true}
	})
	if !target.ok || target.dirty {
		return nil
	}
	repoID, path := target.repoID, target.path

	reader, err := s.files.GetFileReader(ctx, repoID, path)
	if err != nil {
		s.markError(id, err)
		return err
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		s.markError(id, err)
		return err
	}

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.Content = content
			d.Status = repofilesdetailsstate.StatusLoaded
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return nil
}

// GetFileReader opens a fresh decrypted read of the underlying file,
// independent of whatever content this details entry may have cached —
// used for previewing binary content the editor itself doesn't buffer.
func (s *Service) GetFileReader(ctx context.Context, id int32) (adapters.RepoFileReader, error) {
	repoID, path, ok := s.snapshotTarget(id)
	if !ok {
		return nil, errDetailsNotFound
	}
	return s.files.GetFileReader(ctx, repoID, path)
}
