// Package engine implements the transfer scheduler: a fixed-parallelism
// worker pool that admits Waiting transfers in FIFO order, drives each
// through its upload or download pipeline, and reconciles retries,
// progress, and cancellation against the shared store. It is grounded on
// a fixed-worker-count transfer scheduler, generalized from concrete
// upload/download implementations to the capability interfaces in
// internal/transfers/adapters.
package engine

import ("context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/koofr/vault-core/internal/logging"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/vaulterrors")

// MaxAttempts bounds autoretry: a transfer that has failed this many
// times stops retrying and stays Failed.
const MaxAttempts = 5

// ProgressIntervalMs throttles progress notifications to at most one
// per this many milliseconds across all transfers (the last-update time
// is kept on the aggregate TransfersState).
const ProgressIntervalMs int64 = 100

// UploadResult is the artifact an upload pipeline resolves its Future
// with: the final (possibly autorenamed) display name and whatever
// provider-specific remote metadata the uploader chooses to surface.
type UploadResult struct {
	Name string
	RemoteFileMeta interface{}
}

// DownloadResult is the artifact a download pipeline resolves its Future
// with.
type DownloadResult struct {
	Name string
}

// RepoFilesUploader is the narrow slice of the RepoFiles service the
// engine's upload pipeline depends on. The engine declares this
// interface itself so repofiles can depend on engine's types without the
// reverse import ever existing.
type RepoFilesUploader interface {
	UploadFileReader(ctx context.Context, repoID, parentPath, name string, r io.Reader, size transfers.SizeInfo, cr ConflictResolution, onProgress func(transferredBytes int64)) (UploadResult, error)
}

// UnusedNameResolver implements name-collision resolver,
// consulted by the upload pipeline when autorename is in effect.
type UnusedNameResolver interface {
	GetUnusedName(ctx context.Context, repoID, parentPath, name string) (string, error)
}

// RepoFilesClient is everything the engine needs from the RepoFiles
// service.
type RepoFilesClient interface {
	RepoFilesUploader
	UnusedNameResolver
}

// Engine is the process-wide transfer scheduler. One Engine Store.
type Engine struct {
	store *store.Store
	uploader RepoFilesClient
	log *logging.Logger

	maxConcurrent int
	wake chan struct{}

	ctx context.Context
	cancel context.CancelFunc
	wg sync.WaitGroup

	mu sync.Mutex
	uploadSources map[transfers.ID]adapters.Uploadable
	conflictResolutions map[transfers.ID]ConflictResolution
	autoRename map[transfers.ID]bool
	uploadFutures map[transfers.ID]*Future[UploadResult]

	downloadSinks map[transfers.ID]adapters.Downloadable
	readerProviders map[transfers.ID]adapters.ReaderProvider
	downloadFutures map[transfers.ID]*Future[DownloadResult]

	cancelFuncs map[transfers.ID]context.CancelFunc
}

// New builds an Engine. Start must be called before any transfer created
// through it will actually run.
func New(st *store.Store, uploader RepoFilesClient, maxConcurrent int, log *logging.Logger) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Engine{
		store: st,
		uploader: uploader,
		log: log,
		maxConcurrent: maxConcurrent,
		wake: make(chan struct{}, 1),
		uploadSources: make(map[transfers.ID]adapters.Uploadable),
		conflictResolutions: make(map[transfers.ID]ConflictResolution),
		autoRename: make(map[transfers.ID]bool),
		uploadFutures: make(map[transfers.ID]*Future[UploadResult]),
		downloadSinks: make(map[transfers.ID]adapters.Downloadable),
		readerProviders: make(map[transfers.ID]adapters.ReaderProvider),
		downloadFutures: make(map[transfers.ID]*Future[DownloadResult]),
		cancelFuncs: make(map[transfers.ID]context.CancelFunc),
	}
}

// Start spawns maxConcurrent worker goroutines. ctx bounds the engine's
// entire lifetime; canceling it (or calling Stop) drains the pool.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.maxConcurrent; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}
}

// Stop cancels every in-flight attempt and waits for all workers to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) setCancel(id transfers.ID, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancelFuncs[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) clearCancel(id transfers.ID) {
	e.mu.Lock()
	delete(e.cancelFuncs, id)
	e.mu.Unlock()
}

// workerLoop is one of maxConcurrent permanent goroutines implementing
// the fixed-parallelism pool ("transferring_count ==
// max_concurrent" backpressure): idle workers block on wake rather than
// busy-polling.
func (e *Engine) workerLoop() {
	defer e.wg.Done()
	for {
		id, kind, ok := e.dequeue()
		if !ok {
			select {
			case <-e.wake:
			case <-e.ctx.Done():
				return
			}
			continue
		}

		switch kind {
		case transfers.KindUpload:
			e.runUploadAttempt(id)
		case transfers.KindDownload:
			e.runDownloadAttempt(id)
		}

		if e.ctx.Err() != nil {
			return
		}
	}
}

// dequeue atomically picks the smallest-order Waiting transfer and marks
// it Processing, all inside one Mutate call so concurrent workers never
// race over the same row.
func (e *Engine) dequeue() (transfers.ID, transfers.Kind, bool) {
	type picked struct {
		id transfers.ID
		kind transfers.Kind
		found bool
	}
	p := store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) picked {
		if st.Transfers.TransferringCount >= e.maxConcurrent {
			return picked{}
		}
		t := st.Transfers.Waiting()
		if t == nil {
			return picked{}
		}
		id, kind := t.ID, t.Kind
		st.Transfers.MarkProcessing(id, nowMs())
		notify.Add(store.EventTransfers)
		return picked{id: id, kind: kind, found: true}
	})
	return p.id, p.kind, p.found
}

// handleAttemptFailure records a failed attempt and, if autoretry policy
// allows it, immediately transitions the transfer back to Waiting. It
// returns true when the failure is terminal (no
// further autoretry will happen), meaning the caller should resolve the
// transfer's Future now.
func (e *Engine) handleAttemptFailure(id transfers.ID, err error) bool {
	if errors.Is(err, vaulterrors.ErrAborted) {
		return true
	}

	isRetriableAttempt := vaulterrors.IsRetriable(err)
	willRetry := false

	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		t, ok := st.Transfers.Get(id)
		if !ok {
			return struct{}{}
		}
		st.Transfers.Fail(id, err, isRetriableAttempt)
		notify.Add(store.EventTransfers)
		if t.IsRetriable && t.Attempts < MaxAttempts {
			willRetry = true
			st.Transfers.Retry(id)
		}
		return struct{}{}
	})

	if willRetry {
		e.signalWake()
		return false
	}
	return true
}

func (e *Engine) resolveUpload(id transfers.ID, result UploadResult, err error) {
	e.mu.Lock()
	f := e.uploadFutures[id]
	e.mu.Unlock()
	if f != nil {
		f.resolve(result, err)
	}
}

func (e *Engine) resolveDownload(id transfers.ID, result DownloadResult, err error) {
	e.mu.Lock()
	f := e.downloadFutures[id]
	e.mu.Unlock()
	if f != nil {
		f.resolve(result, err)
	}
}

func (e *Engine) cleanupUpload(id transfers.ID) {
	e.mu.Lock()
	delete(e.uploadSources, id)
	delete(e.conflictResolutions, id)
	delete(e.autoRename, id)
	delete(e.uploadFutures, id)
	delete(e.cancelFuncs, id)
	e.mu.Unlock()
}

func (e *Engine) cleanupDownload(id transfers.ID) {
	e.mu.Lock()
	delete(e.downloadSinks, id)
	delete(e.readerProviders, id)
	delete(e.downloadFutures, id)
	delete(e.cancelFuncs, id)
	e.mu.Unlock()
}

// Upload admits a new upload transfer. The adapter's pre-checks (size,
// retriability) run synchronously here, before any Transfer exists: a
// failure here never produces a tracked transfer.
func (e *Engine) Upload(ctx context.Context, repoID, parentPath, nameRelPath, name string, uploadable adapters.Uploadable, cr ConflictResolution, autoRename bool) (transfers.ID, *Future[UploadResult], error) {
	size, err := uploadable.Size(ctx)
	if err != nil {
		return 0, nil, err
	}
	isRetriable, err := uploadable.IsRetriable(ctx)
	if err != nil {
		return 0, nil, err
	}

	future := newFuture[UploadResult]()

	var id transfers.ID
	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		t := st.Transfers.Insert(func(tid transfers.ID, order int64) *transfers.Transfer {
			return &transfers.Transfer{
				Kind: transfers.KindUpload,
				Upload: &transfers.UploadTransfer{
					RepoID: repoID,
					ParentPath: parentPath,
					NameRelPath: nameRelPath,
					OriginalName: name,
					Name: name,
				},
				Name: name,
				Size: size,
				Category: transfers.CategoryFromName(name),
				IsPersistent: true,
				IsRetriable: isRetriable,
				State: transfers.StateWaiting,
			}
		})
		id = t.ID
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	e.mu.Lock()
	e.uploadSources[id] = uploadable
	e.conflictResolutions[id] = cr
	e.autoRename[id] = autoRename
	e.uploadFutures[id] = future
	e.mu.Unlock()

	e.signalWake()
	return id, future, nil
}

// Download admits a new download transfer, running Downloadable's
// pre-checks (including Exists) before any Transfer is recorded.
func (e *Engine) Download(ctx context.Context, provider adapters.ReaderProvider, downloadable adapters.Downloadable) (transfers.ID, *Future[DownloadResult], error) {
	isRetriable, err := downloadable.IsRetriable(ctx)
	if err != nil {
		return 0, nil, err
	}
	isOpenable, err := downloadable.IsOpenable(ctx)
	if err != nil {
		return 0, nil, err
	}
	exists, err := downloadable.Exists(ctx, provider.Name, provider.UniqueName)
	if err != nil {
		return 0, nil, err
	}
	if exists {
		_ = downloadable.Done(ctx, vaulterrors.ErrAlreadyExists)
		return 0, nil, vaulterrors.ErrAlreadyExists
	}

	future := newFuture[DownloadResult]()

	var id transfers.ID
	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		t := st.Transfers.Insert(func(tid transfers.ID, order int64) *transfers.Transfer {
			return &transfers.Transfer{
				Kind: transfers.KindDownload,
				Download: &transfers.DownloadTransfer{Name: provider.Name},
				Name: provider.Name,
				Size: provider.Size,
				Category: transfers.CategoryFromName(provider.Name),
				IsPersistent: true,
				IsRetriable: isRetriable,
				IsOpenable: isOpenable,
				State: transfers.StateWaiting,
			}
		})
		id = t.ID
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	e.mu.Lock()
	e.downloadSinks[id] = downloadable
	e.readerProviders[id] = provider
	e.downloadFutures[id] = future
	e.mu.Unlock()

	e.signalWake()
	return id, future, nil
}

// DownloadReader builds the decrypted content stream immediately and
// returns it directly to the caller, bypassing the pool entirely. The
// transfer exists purely for UI visibility (progress, speed) and is
// non-persistent: it disappears from TransfersState as soon as the
// caller closes the stream.
func (e *Engine) DownloadReader(ctx context.Context, provider adapters.ReaderProvider) (transfers.ID, io.ReadCloser, error) {
	rc, err := provider.ReaderBuilder(ctx)
	if err != nil {
		return 0, nil, err
	}

	var id transfers.ID
	store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		t := st.Transfers.Insert(func(tid transfers.ID, order int64) *transfers.Transfer {
			return &transfers.Transfer{
				Kind: transfers.KindDownloadReader,
				Download: &transfers.DownloadTransfer{Name: rc.Name()},
				Name: rc.Name(),
				Size: rc.Size(),
				Category: transfers.CategoryFromName(rc.Name()),
				IsPersistent: false,
				IsRetriable: false,
				State: transfers.StateWaiting,
			}
		})
		id = t.ID
		st.Transfers.MarkTransferring(id)
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	wrapper := &inlineReader{engine: e, id: id, rc: rc, startedAt: nowMs()}
	return id, wrapper, nil
}

// inlineReader streams rc through to the caller while updating
// TransferredBytes on every Read and resolving the transfer to Done or
// removing it (as Aborted) on Close.
type inlineReader struct {
	engine *Engine
	id transfers.ID
	rc adapters.RepoFileReader
	total int64
	reachedEOF bool
	startedAt int64
}

func (r *inlineReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.total += int64(n)
		store.Mutate(r.engine.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
			if st.Transfers.UpdateProgress(r.id, r.total, nowMs(), ProgressIntervalMs) {
				notify.Add(store.EventTransfers)
			}
			return struct{}{}
		})
	}
	if err == io.EOF {
		r.reachedEOF = true
	}
	return n, err
}

func (r *inlineReader) Close() error {
	closeErr := r.rc.Close()
	store.Mutate(r.engine.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if r.reachedEOF {
			st.Transfers.Complete(r.id)
		} else {
			st.Transfers.Abort(r.id)
		}
		notify.Add(store.EventTransfers)
		return struct{}{}
	})
	return closeErr
}

// Abort removes id in any pre-Done state and resolves its Future with
// ErrAborted (Cancellation).
func (e *Engine) Abort(id transfers.ID) error {
	type picked struct {
		kind transfers.Kind
		found bool
	}
	p := store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) picked {
		t, ok := st.Transfers.Get(id)
		if !ok {
			return picked{}
		}
		kind := t.Kind
		st.Transfers.Abort(id)
		notify.Add(store.EventTransfers)
		return picked{kind: kind, found: true}
	})
	if !p.found {
		return vaulterrors.ErrTransferNotFound
	}

	e.mu.Lock()
	cancel, hasCancel := e.cancelFuncs[id]
	e.mu.Unlock()
	if hasCancel {
		cancel()
	}

	switch p.kind {
	case transfers.KindUpload:
		e.resolveUpload(id, UploadResult{}, vaulterrors.ErrAborted)
		e.cleanupUpload(id)
	case transfers.KindDownload, transfers.KindDownloadReader:
		e.resolveDownload(id, DownloadResult{}, vaulterrors.ErrAborted)
		e.cleanupDownload(id)
	}
	e.signalWake()
	return nil
}

// AbortAll aborts every currently tracked transfer, snapshotting the id
// set first so it never races the maps it iterates.
func (e *Engine) AbortAll() {
	ids := store.WithStateR(e.store, func(st *store.State) []transfers.ID {
		return st.Transfers.AllIDsSnapshot()
	})
	for _, id := range ids {
		_ = e.Abort(id)
	}
}

// Retry moves a Failed transfer back to Waiting. It does not return a new
// Future: the original creation's Future already resolved once this
// transfer reached a terminal Failed state (see handleAttemptFailure); a
// caller wanting to observe the outcome of a user-initiated retry polls
// TransfersState via the selectors instead.
func (e *Engine) Retry(id transfers.ID) error {
	ok := store.Mutate(e.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) bool {
		ok := st.Transfers.Retry(id)
		if ok {
			notify.Add(store.EventTransfers)
		}
		return ok
	})
	if !ok {
		return vaulterrors.ErrTransferNotFound
	}
	e.signalWake()
	return nil
}

// RetryAll retries every currently Failed transfer in order.
func (e *Engine) RetryAll() {
	ids := store.WithStateR(e.store, func(st *store.State) []transfers.ID {
		return st.Transfers.FailedIDsSnapshot()
	})
	for _, id := range ids {
		_ = e.Retry(id)
	}
}

// Open invokes Downloadable.Open for a transfer that is Done, persistent,
// and IsOpenable.
func (e *Engine) Open(ctx context.Context, id transfers.ID) error {
	t := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok {
			return nil
		}
		cp := *tt
		return &cp
	})
	if t == nil {
		return vaulterrors.ErrTransferNotFound
	}
	if t.State != transfers.StateDone || !t.IsOpenable || !t.IsPersistent {
		return vaulterrors.ErrInvalidState
	}

	e.mu.Lock()
	downloadable := e.downloadSinks[id]
	e.mu.Unlock()
	if downloadable == nil {
		return vaulterrors.ErrInvalidState
	}
	return downloadable.Open(ctx)
}
