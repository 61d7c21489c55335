package repofilesdetails

import ("context"
	"errors"
	"time"

	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/vaulterrors")

// Edit marks a details entry as being edited, loading content first if it
// hasn't been loaded yet.
func (s *Service) Edit(ctx context.Context, id int32) error {
	if err := s.LoadContent(ctx, id); err != nil {
		return err
	}
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.IsEditing = true
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return nil
}

// SetContent replaces the in-memory buffer, marks the entry dirty, and
// arms the autosave timer: every edit while autosaveInterval > 0 schedules
// a save unless one is already pending.
func (s *Service) SetContent(ctx context.Context, id int32, content []byte) error {
	ok := store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) bool {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return false
		}
		d.Content = content
		d.IsDirty = true
		notify.Add(store.EventRepoFilesDetails)
		return true
	})
	if !ok {
		return errDetailsNotFound
	}
	s.armAutosave(id)
	return nil
}

// armAutosave schedules a single saveIfDirty(Autosave) timer for id,
// coalescing repeated edits into the one pending timer: if a timer is
// already armed for this details id, a further edit does not reset it.
func (s *Service) armAutosave(id int32) {
	if s.autosaveInterval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.autosaveTimers[id]; exists {
		return
	}
	s.autosaveTimers[id] = time.AfterFunc(s.autosaveInterval, func() {
		s.mu.Lock()
		delete(s.autosaveTimers, id)
		s.mu.Unlock()
		_ = s.saveIfDirty(context.Background(), id, repofilesdetailsstate.InitiatorAutosave)
	})
}

// cancelAutosave aborts any pending autosave timer for id.
func (s *Service) cancelAutosave(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.autosaveTimers[id]; ok {
		t.Stop()
		delete(s.autosaveTimers, id)
	}
}

// EditCancel aborts any pending autosave, attempts saveIfDirty(Cancel)
// tolerating NotDirty/InvalidState, marks the entry discarded on
// DiscardChanges, then clears IsEditing regardless of the save outcome.
func (s *Service) EditCancel(ctx context.Context, id int32) error {
	s.cancelAutosave(id)

	err := s.saveIfDirty(ctx, id, repofilesdetailsstate.InitiatorCancel)

	var discard *vaulterrors.DiscardChangesError
	switch {
	case err == nil:
	case errors.Is(err, vaulterrors.ErrNotDirty), errors.Is(err, vaulterrors.ErrInvalidState):
		err = nil
	case errors.As(err, &discard):
		store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			if d, ok := st.RepoFilesDetails.Get(id); ok {
				d.Discarded = true
			}
			notify.Add(store.EventRepoFilesDetails)
			return struct{}{}
		})
		err = nil
	}

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.IsEditing = false
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return err
}
