package engine

import ("context"
	"io"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/vaulterrors")

// countingWriter tees every Write through to onProgress with the
// cumulative byte count, the same shape the upload pipeline feeds from
// uploader.UploadFileReader's onProgress callback.
type countingWriter struct {
	w io.Writer
	total int64
	onProgress func(total int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.total += int64(n)
		c.onProgress(c.total)
	}
	return n, err
}

// runDownloadAttempt drives one scheduler attempt of a download transfer
// already marked Processing: download pipeline steps 3-6.
func (e *Engine) runDownloadAttempt(id transfers.ID) {
	e.mu.Lock()
	downloadable := e.downloadSinks[id]
	provider := e.readerProviders[id]
	e.mu.Unlock()
	if downloadable == nil {
		return
	}

	attemptCtx, cancel := context.WithCancel(e.ctx)
	e.setCancel(id, cancel)
	defer cancel()
	defer e.clearCancel(id)

	reader, err := provider.ReaderBuilder(attemptCtx)
	if err != nil {
		_ = downloadable.Done(attemptCtx, err)
		e.finishDownloadAttempt(id, DownloadResult{}, err)
		return
	}
	defer reader.Close()

	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if st.Transfers.RefineSize(id, reader.Size()) {
			notify.Add(store.EventTransfers)
		}
		if t, ok := st.Transfers.Get(id); ok && t.Download != nil {
			t.Download.Name = reader.Name()
			t.Name = reader.Name()
		}
		st.Transfers.MarkTransferring(id)
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	writer, finalName, err := downloadable.Writer(attemptCtx, reader.Name(), reader.Size(), reader.ContentType(), provider.UniqueName)
	if err != nil {
		_ = downloadable.Done(attemptCtx, err)
		e.finishDownloadAttempt(id, DownloadResult{}, err)
		return
	}

	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if t, ok := st.Transfers.Get(id); ok && t.Download != nil {
			t.Download.Name = finalName
			t.Name = finalName
		}
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	progress := func(transferred int64) {
		store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			if st.Transfers.UpdateProgress(id, transferred, nowMs(), ProgressIntervalMs) {
				notify.Add(store.EventTransfers)
			}
			return struct{}{}
		})
	}

	_, copyErr := io.Copy(&countingWriter{w: writer, onProgress: progress}, reader)
	closeErr := writer.Close()
	finalErr := copyErr
	if finalErr == nil {
		finalErr = closeErr
	}

	doneErr := downloadable.Done(attemptCtx, finalErr)
	if finalErr == nil {
		finalErr = doneErr
	}

	if finalErr != nil {
		e.finishDownloadAttempt(id, DownloadResult{}, finalErr)
		return
	}
	e.finishDownloadAttempt(id, DownloadResult{Name: finalName}, nil)
}

func (e *Engine) finishDownloadAttempt(id transfers.ID, result DownloadResult, err error) {
	if err == nil {
		store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			st.Transfers.Complete(id)
			notify.Add(store.EventTransfers)
			return struct{}{}
		})
		e.resolveDownload(id, result, nil)
		e.cleanupDownload(id)
		e.signalWake()
		return
	}

	terminal := e.handleAttemptFailure(id, err)
	if terminal {
		// The real failure is already recorded on the transfer by
		// handleAttemptFailure (visible via the Failed{error} snapshot in
		// state); the creation Future itself always resolves Aborted once
		// autoretry is exhausted, matching a manual abort's outcome.
		e.resolveDownload(id, DownloadResult{}, vaulterrors.ErrAborted)
		e.cleanupDownload(id)
	}
	e.signalWake()
}
