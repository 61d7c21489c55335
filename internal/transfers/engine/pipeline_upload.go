package engine

import ("context"
	"errors"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/vaulterrors")

// runUploadAttempt drives one scheduler attempt of an upload transfer
// already marked Processing: upload pipeline steps 3-7,
// including the in-place autorename retry loop of step 5 (which does not
// consume a scheduler "attempt" — only a transport-level failure that
// sends the transfer back through the Waiting queue does).
func (e *Engine) runUploadAttempt(id transfers.ID) {
	e.mu.Lock()
	uploadable := e.uploadSources[id]
	cr := e.conflictResolutions[id]
	autoRename := e.autoRename[id]
	e.mu.Unlock()
	if uploadable == nil {
		// Aborted between dequeue and here.
		return
	}

	attemptCtx, cancel := context.WithCancel(e.ctx)
	e.setCancel(id, cancel)
	defer cancel()
	defer e.clearCancel(id)

	t := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok || tt.Upload == nil {
			return nil
		}
		cp := *tt
		return &cp
	})
	if t == nil {
		e.finishUploadAttempt(id, UploadResult{}, vaulterrors.ErrTransferNotFound)
		return
	}
	repoID, parentPath := t.Upload.RepoID, t.Upload.ParentPath
	curName := t.Upload.Name

	progress := func(transferred int64) {
		store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			if st.Transfers.UpdateProgress(id, transferred, nowMs(), ProgressIntervalMs) {
				notify.Add(store.EventTransfers)
			}
			return struct{}{}
		})
	}

	const maxRenameAttempts = 1000
	var result UploadResult
	var err error
	firstAttempt := true

	for attempt := 0; attempt < maxRenameAttempts; attempt++ {
		reader, size, rerr := uploadable.Reader(attemptCtx)
		if rerr != nil {
			err = rerr
			break
		}

		if firstAttempt {
			store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
				if st.Transfers.RefineSize(id, size) {
					notify.Add(store.EventTransfers)
				}
				st.Transfers.MarkTransferring(id)
				notify.Add(store.EventTransfers)
				return struct{}{}
			})
			firstAttempt = false
		}

		result, err = e.uploader.UploadFileReader(attemptCtx, repoID, parentPath, curName, reader, size, cr, progress)
		closeErr := reader.Close()
		if err == nil {
			err = closeErr
		}

		if err == nil {
			break
		}

		if autoRename && errors.Is(err, vaulterrors.ErrConflict) {
			next, nerr := e.uploader.GetUnusedName(attemptCtx, repoID, parentPath, curName)
			if nerr != nil {
				err = nerr
				break
			}
			curName = next
			store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
				if tt, ok := st.Transfers.Get(id); ok && tt.Upload != nil {
					tt.Upload.Name = curName
					tt.Name = curName
				}
				notify.Add(store.EventTransfers)
				return struct{}{}
			})
			continue
		}

		break
	}

	if err != nil {
		e.finishUploadAttempt(id, UploadResult{}, err)
		return
	}
	if result.Name == "" {
		result.Name = curName
	}
	e.finishUploadAttempt(id, result, nil)
}

func (e *Engine) finishUploadAttempt(id transfers.ID, result UploadResult, err error) {
	if err == nil {
		store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			t, ok := st.Transfers.Get(id)
			if ok && t.Upload != nil {
				t.Upload.Name = result.Name
				t.Name = result.Name
			}
			st.Transfers.Complete(id)
			notify.Add(store.EventTransfers)
			return struct{}{}
		})
		e.resolveUpload(id, result, nil)
		e.cleanupUpload(id)
		e.signalWake()
		return
	}

	terminal := e.handleAttemptFailure(id, err)
	if terminal {
		// The real failure is already recorded on the transfer by
		// handleAttemptFailure (visible via the Failed{error} snapshot in
		// state); the creation Future itself always resolves Aborted once
		// autoretry is exhausted, matching a manual abort's outcome.
		e.resolveUpload(id, UploadResult{}, vaulterrors.ErrAborted)
		e.cleanupUpload(id)
	}
	e.signalWake()
}
