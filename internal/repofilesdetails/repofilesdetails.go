// Package repofilesdetails is the RepoFilesDetails service: a
// one-entry-per-open-file editor, tracking load/edit/save/conflict state
// and reacting to repo-lock and listing changes. Grounded on
// internal/services/file_service.go's open-document bookkeeping
// (load-then-edit-then-save around a single in-memory buffer), generalized
// to the encrypted per-repo addressing repofiles.Service already handles.
package repofilesdetails

import ("context"
	"sync"
	"time"

	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/logging"
	"github.com/koofr/vault-core/internal/repofiles"
	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/transfers/engine"
	paths "github.com/koofr/vault-core/internal/util/paths")

// LoadFuture is the handle Create hands back for its initial LoadFile
// attempt, mirroring engine.Future's single-resolution channel shape.
type LoadFuture struct {
	done chan struct{}
	err error
}

func newLoadFuture() *LoadFuture {
	return &LoadFuture{done: make(chan struct{})}
}

func (f *LoadFuture) resolve(err error) {
	select {
	case <-f.done:
		return
	default:
	}
	f.err = err
	close(f.done)
}

// Wait blocks until the initial load completes or ctx is canceled.
func (f *LoadFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateOptions tunes what Create does besides loading metadata.
type CreateOptions struct {
	// LoadContent eagerly loads and decrypts the file body (e.g. opening
	// a text editor immediately rather than on first Edit).
	LoadContent bool
}

// Service implements RepoFilesDetails operations.
type Service struct {
	store *store.Store
	files *repofiles.Service
	dlg dialogs.Dialogs
	log *logging.Logger

	autosaveInterval time.Duration
	abortTransfer Engine

	mu sync.Mutex
	autosaveTimers map[int32]*time.Timer
	savingLocks map[int32]*sync.Mutex
	subID int64
}

// New builds a RepoFilesDetails service and installs its store
// subscriptions once: they react to process-wide state changes, not to
// any single entry, so per-entry installation would only duplicate work.
func New(st *store.Store, files *repofiles.Service, dlg dialogs.Dialogs, log *logging.Logger, autosaveInterval time.Duration) *Service {
	s := &Service{
		store: st,
		files: files,
		dlg: dlg,
		log: log,
		autosaveInterval: autosaveInterval,
		autosaveTimers: make(map[int32]*time.Timer),
		savingLocks: make(map[int32]*sync.Mutex),
	}
	s.subID = st.On([]store.Event{store.EventRepos, store.EventRepoFiles}, s.onStoreEvent)
	return s
}

// SetEngine wires the transfer engine so Download can start a tracked
// preview transfer and Destroy can abort it. Optional: callers that never
// call Download need not set this.
func (s *Service) SetEngine(e Engine) {
	s.abortTransfer = e
}

func (s *Service) savingLock(id int32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.savingLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.savingLocks[id] = m
	}
	return m
}

// Create opens a new details entry for (repoID, path) and kicks off its
// initial load, returning immediately with the details id and a future
// for that load's outcome.
func (s *Service) Create(ctx context.Context, repoID, path string, isEditing bool, opts CreateOptions) (int32, *LoadFuture) {
	_, name := paths.Split(path)

	var id int32
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		d := st.RepoFilesDetails.Insert(func(did int32) *repofilesdetailsstate.Details {
			return &repofilesdetailsstate.Details{
				RepoID: repoID,
				Path: path,
				Name: name,
				IsEditing: isEditing,
				Status: repofilesdetailsstate.StatusLoading,
			}
		})
		id = d.ID
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})

	future := newLoadFuture()
	go func() {
		err := s.LoadFile(ctx, id)
		if err == nil && opts.LoadContent {
			err = s.LoadContent(ctx, id)
		}
		future.resolve(err)
	}()
	return id, future
}

// onStoreEvent implements the two process-wide subscriptions installed by
// New: reload on repo-unlock, and file-removed / content-reload on a
// RepoFiles listing change.
func (s *Service) onStoreEvent(st *store.State) {
	for id, d := range st.RepoFilesDetails.Entries {
		if d.IsDeleted || d.Discarded {
			continue
		}

		repo, ok := st.Repos.Get(d.RepoID)
		if ok && !repo.Locked && d.Status == repofilesdetailsstate.StatusError {
			go func(id int32) { _ = s.LoadFile(context.Background(), id) }(id)
		}

		parent, name := paths.Split(d.Path)
		if _, haveListing := st.RepoFiles.Listing(d.RepoID, parent); !haveListing {
			continue
		}
		entry, present := st.RepoFiles.FindEntry(d.RepoID, parent, name)
		if !present {
			go func(id int32) { s.handleFileRemoved(id) }(id)
			continue
		}
		if !d.IsDirty && entry.Hash != "" && d.Fence.Hash != nil && entry.Hash != *d.Fence.Hash {
			go func(id int32) { _ = s.LoadContent(context.Background(), id) }(id)
		}
	}
}

// handleFileRemoved implements file_removed: a modal telling
// the user their open file is gone, unless this details entry is already
// on its way out.
func (s *Service) handleFileRemoved(id int32) {
	still := store.WithStateR(s.store, func(st *store.State) bool {
		d, ok := st.RepoFilesDetails.Get(id)
		return ok && !d.IsDeleted && !d.Discarded
	})
	if !still {
		return
	}
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.IsDeleted = true
			notify.Add(store.EventRepoFilesDetails)
		}
		return struct{}{}
	})
	_, _, _ = s.dlg.Show(context.Background(), dialogs.Request{
		Title: "File removed",
		Message: "This file has been removed.",
		Options: []dialogs.Option{{ID: dialogs.OptionConfirm, Label: "OK"}},
	})
}

// Destroy implements destroy: loop attempting edit_cancel
// until it succeeds or the user discards, then unlink and abort any
// tracked preview transfer.
func (s *Service) Destroy(ctx context.Context, id int32) error {
	for {
		err := s.EditCancel(ctx, id)
		if err == nil {
			break
		}
		optionID, ok, derr := s.dlg.Show(ctx, dialogs.Request{
			Title: "Close file",
			Message: "The file could not be saved. Try again or discard your changes?",
			Options: []dialogs.Option{
				{ID: "retry", Label: "Try again"},
				{ID: dialogs.OptionDiscard, Label: "Discard"},
			},
		})
		if derr != nil {
			return derr
		}
		if !ok || optionID == dialogs.OptionDiscard {
			break
		}
	}

	s.cancelAutosave(id)

	transferID, hasTransfer := int32(0), false
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			transferID, hasTransfer = d.ActiveTransferID, d.HasActiveTransfer
		}
		st.RepoFilesDetails.Remove(id)
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})

	if hasTransfer && s.abortTransfer != nil {
		_ = s.abortTransfer.Abort(transfers.ID(transferID))
	}
	return nil
}

// Engine is the narrow slice of *engine.Engine that Download and Destroy
// need, declared here (rather than imported as a concrete type) so this
// package depends only on a capability, matching repofiles' RepoResolver
// pattern.
type Engine interface {
	Download(ctx context.Context, provider adapters.ReaderProvider, downloadable adapters.Downloadable) (transfers.ID, *engine.Future[engine.DownloadResult], error)
	Abort(id transfers.ID) error
}
