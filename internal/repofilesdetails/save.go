package repofilesdetails

import ("bytes"
	"context"
	"errors"

	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/repofiles"
	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/engine"
	paths "github.com/koofr/vault-core/internal/util/paths"
	"github.com/koofr/vault-core/internal/vaulterrors")

// savingSnapshot is everything needed to attempt the upload without touching the
// store again until the result is ready to commit.
type savingSnapshot struct {
	repoID string
	parentPath string
	name string
	content []byte
	version int64
	isDeleted bool
	fence repofilesdetailsstate.RemoteFence
}

// Save implements user-initiated `save`.
func (s *Service) Save(ctx context.Context, id int32) error {
	return s.save(ctx, id, repofilesdetailsstate.InitiatorUser)
}

// saveIfDirty is save_if_dirty: a no-op (ErrNotDirty) unless the entry has
// an unsaved edit, used by autosave and edit_cancel.
func (s *Service) saveIfDirty(ctx context.Context, id int32, initiator repofilesdetailsstate.SaveInitiator) error {
	type dirtyCheck struct {
		dirty bool
		ok bool
	}
	check := store.WithStateR(s.store, func(st *store.State) dirtyCheck {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return dirtyCheck{}
		}
		return dirtyCheck{dirty: d.IsDirty, ok: true}
	})
	if !check.ok {
		return vaulterrors.ErrInvalidState
	}
	if !check.dirty {
		return vaulterrors.ErrNotDirty
	}
	return s.save(ctx, id, initiator)
}

// save runs the full saving/save-inner/saved pipeline, serialized per
// details id by savingLock so a concurrent caller waits for any save
// already in flight rather than racing it.
func (s *Service) save(ctx context.Context, id int32, initiator repofilesdetailsstate.SaveInitiator) error {
	lock := s.savingLock(id)
	lock.Lock()
	defer lock.Unlock()

	snap, ok, err := s.beginSaving(id, initiator)
	if err != nil {
		return err
	}
	if !ok {
		return vaulterrors.ErrInvalidState
	}

	result, savedParent, saveErr := s.saveInner(ctx, id, snap, initiator)
	s.commitSaved(id, snap.version, savedParent, result, saveErr)
	return saveErr
}

// beginSaving atomically transitions the entry to "saving" and snapshots
// everything save_inner needs.
func (s *Service) beginSaving(id int32, initiator repofilesdetailsstate.SaveInitiator) (savingSnapshot, bool, error) {
	type result struct {
		snap savingSnapshot
		ok bool
		err error
	}
	r := store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) result {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return result{err: vaulterrors.ErrInvalidState}
		}
		if d.IsSaving {
			return result{err: vaulterrors.ErrInvalidState}
		}
		d.IsSaving = true
		d.Version++
		notify.Add(store.EventRepoFilesDetails)

		parent, name := paths.Split(d.Path)
		content := make([]byte, len(d.Content))
		copy(content, d.Content)
		return result{ok: true, snap: savingSnapshot{
			repoID: d.RepoID,
			parentPath: parent,
			name: name,
			content: content,
			version: d.Version,
			isDeleted: d.IsDeleted,
			fence: d.Fence,
		}}
	})
	return r.snap, r.ok, r.err
}

// saveInner implements step 2: the deleted-file relocation
// prompt followed by the autorename/overwrite retry loop.
func (s *Service) saveInner(ctx context.Context, id int32, snap savingSnapshot, initiator repofilesdetailsstate.SaveInitiator) (engine.UploadResult, string, error) {
	parentPath, autorename := snap.parentPath, false

	if snap.isDeleted {
		np, ar, err := s.promptSaveDeleted(ctx, initiator)
		if err != nil {
			return engine.UploadResult{}, parentPath, err
		}
		parentPath, autorename = np, ar
	}

	name := snap.name
	for {
		var cr engine.ConflictResolution
		if autorename {
			unused, err := s.files.GetUnusedName(ctx, snap.repoID, parentPath, name)
			if err != nil {
				return engine.UploadResult{}, parentPath, err
			}
			name = unused
			cr = engine.ConflictResolutionError()
		} else {
			cr = engine.ConflictResolutionOverwrite(engine.OverwriteFence{
				IfRemoteSize: snap.fence.Size,
				IfRemoteModified: snap.fence.Modified,
				IfRemoteHash: snap.fence.Hash,
			})
		}

		result, err := s.files.UploadFileReader(ctx, snap.repoID, parentPath, name, bytes.NewReader(snap.content), transfers.Exact(int64(len(snap.content))), cr, nil)
		if err == nil {
			return result, parentPath, nil
		}
		if !errors.Is(err, vaulterrors.ErrConflict) {
			return engine.UploadResult{}, parentPath, err
		}

		switch initiator {
		case repofilesdetailsstate.InitiatorUser:
			optionID, ok, derr := s.dlg.Show(ctx, dialogs.Request{
				Title: "Conflict",
				Message: "Save as a new file?",
				Options: []dialogs.Option{
					{ID: dialogs.OptionConfirm, Label: "Save as new file"},
					{ID: dialogs.OptionCancel, Label: "Cancel"},
				},
			})
			if derr != nil {
				return engine.UploadResult{}, parentPath, derr
			}
			if !ok || optionID != dialogs.OptionConfirm {
				return engine.UploadResult{}, parentPath, err
			}
			autorename = true
			continue

		case repofilesdetailsstate.InitiatorAutosave:
			// Unreachable: autosave always overwrites with the fence it
			// last loaded, so it can never hit a conflict.
			panic("repofilesdetails: conflict during autosave save_inner")

		case repofilesdetailsstate.InitiatorCancel:
			optionID, ok, derr := s.dlg.Show(ctx, dialogs.Request{
				Title: "Conflict",
				Message: "Save as a new file or discard your changes?",
				Options: []dialogs.Option{
					{ID: dialogs.OptionConfirm, Label: "Save as new file"},
					{ID: dialogs.OptionDiscard, Label: "Discard"},
				},
			})
			if derr != nil {
				return engine.UploadResult{}, parentPath, derr
			}
			switch {
			case ok && optionID == dialogs.OptionConfirm:
				autorename = true
				continue
			case ok && optionID == dialogs.OptionDiscard:
				return engine.UploadResult{}, parentPath, &vaulterrors.DiscardChangesError{ShouldDestroy: false}
			default:
				return engine.UploadResult{}, parentPath, err
			}
		}
	}
}

// promptSaveDeleted implements save_inner step 1's deleted-file handling:
// the target directory entry is gone, so ask where (if anywhere) the
// content should land.
func (s *Service) promptSaveDeleted(ctx context.Context, initiator repofilesdetailsstate.SaveInitiator) (parentPath string, autorename bool, err error) {
	switch initiator {
	case repofilesdetailsstate.InitiatorAutosave:
		return "", false, vaulterrors.ErrCanceled

	case repofilesdetailsstate.InitiatorUser:
		optionID, ok, derr := s.dlg.Show(ctx, dialogs.Request{
			Title: "File removed",
			Message: "Save to a new location?",
			Options: []dialogs.Option{
				{ID: dialogs.OptionConfirm, Label: "Save to new location"},
				{ID: dialogs.OptionCancel, Label: "Cancel"},
			},
		})
		if derr != nil {
			return "", false, derr
		}
		if !ok || optionID != dialogs.OptionConfirm {
			return "", false, vaulterrors.ErrCanceled
		}
		return "/", true, nil

	default: // InitiatorCancel
		optionID, ok, derr := s.dlg.Show(ctx, dialogs.Request{
			Title: "File removed",
			Message: "Save to a new location or discard your changes?",
			Options: []dialogs.Option{
				{ID: dialogs.OptionConfirm, Label: "Save to new location"},
				{ID: dialogs.OptionDiscard, Label: "Discard"},
			},
		})
		if derr != nil {
			return "", false, derr
		}
		switch {
		case ok && optionID == dialogs.OptionConfirm:
			return "/", true, nil
		case ok && optionID == dialogs.OptionDiscard:
			return "", false, &vaulterrors.DiscardChangesError{ShouldDestroy: false}
		default:
			return "", false, vaulterrors.ErrCanceled
		}
	}
}

// commitSaved implements step 3: commit only if version still
// matches the latest save attempt, else discard the (now-stale) outcome.
func (s *Service) commitSaved(id int32, version int64, savedParent string, result engine.UploadResult, saveErr error) {
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok || d.Version != version {
			return struct{}{}
		}
		d.IsSaving = false
		if saveErr == nil {
			d.IsDirty = false
			d.IsDeleted = false
			d.Name = result.Name
			d.Path = paths.Join(savedParent, result.Name)
			d.Error = nil
		} else {
			d.Error = saveErr
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
}

// Delete removes the underlying file through the RepoFiles service,
// confirming via Dialogs exactly like repofiles.DeleteFiles, and marks
// this details entry deleted on success.
func (s *Service) Delete(ctx context.Context, id int32) error {
	repoID, path, ok := s.snapshotTarget(id)
	if !ok {
		return errDetailsNotFound
	}
	err := s.files.DeleteFiles(ctx, []repofiles.FileRef{{RepoID: repoID, Path: path}}, nil)
	if err != nil {
		return err
	}
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.IsDeleted = true
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return nil
}
