package transfers

// TransfersState is the aggregate tracking every in-flight and completed
// transfer. All mutation goes through the methods below so the invariants
// in the package doc never need to be re-derived by a caller; each method
// documents which counters it is allowed to touch, so a diff affects
// exactly the counters its change justifies.
type TransfersState struct {
	Transfers map[ID]*Transfer
	NextID ID
	order int64

	StartedAtMs int64
	LastProgressUpdate int64

	TransferringCount int
	TransferringUploadsCount int
	TransferringDownloadsCount int
	DoneCount int
	FailedCount int
	RetriableCount int
	TotalCount int

	DoneBytes int64
	FailedBytes int64
	TotalBytes int64
}

// New returns a zero-value TransfersState; NextID starts at 1 so id 0
// never collides with "no transfer".
func New() TransfersState {
	return TransfersState{Transfers: make(map[ID]*Transfer), NextID: 1}
}

func (s *TransfersState) ensureMap() {
	if s.Transfers == nil {
		s.Transfers = make(map[ID]*Transfer)
	}
}

// nextOrder returns a strictly increasing tie-breaker for FIFO scheduling.
func (s *TransfersState) nextOrder() int64 {
	s.order++
	return s.order
}

// Insert adds a newly created transfer (always Waiting) and assigns it an
// id from the state's monotonic, never-reset allocator, mirroring the
// store's own NextID discipline at the TransfersState level so the engine
// can operate on this aggregate directly in unit tests without a Store.
func (s *TransfersState) Insert(build func(id ID, order int64) *Transfer) *Transfer {
	s.ensureMap()
	id := s.NextID
	s.NextID++
	order := s.nextOrder()
	t := build(id, order)
	t.ID = id
	t.Order = order
	s.Transfers[id] = t

	s.TotalCount++
	s.TotalBytes += t.Size.BytesOrZero()
	return t
}

// Get returns the transfer for id, if present.
func (s *TransfersState) Get(id ID) (*Transfer, bool) {
	if s.Transfers == nil {
		return nil, false
	}
	t, ok := s.Transfers[id]
	return t, ok
}

// Waiting returns the Waiting transfer with the smallest Order, or nil.
// This is the scheduler's FIFO selection policy.
func (s *TransfersState) Waiting() *Transfer {
	var best *Transfer
	for _, t := range s.Transfers {
		if t.State != StateWaiting {
			continue
		}
		if best == nil || t.Order < best.Order || (t.Order == best.Order && t.ID < best.ID) {
			best = t
		}
	}
	return best
}

// MarkProcessing transitions a Waiting transfer to Processing: bumps
// attempts, occupies a transferring slot, and stamps the attempt start
// time.
func (s *TransfersState) MarkProcessing(id ID, nowMs int64) {
	t, ok := s.Transfers[id]
	if !ok {
		return
	}
	t.State = StateProcessing
	t.Attempts++
	t.StartedAtMs = nowMs
	t.TransferredBytes = 0
	s.occupySlot(t)
	if s.TransferringCount == 1 {
		s.StartedAtMs = nowMs
	}
	s.recomputeDoneBytes()
}

func (s *TransfersState) occupySlot(t *Transfer) {
	s.TransferringCount++
	if t.IsUpload() {
		s.TransferringUploadsCount++
	} else {
		s.TransferringDownloadsCount++
	}
}

func (s *TransfersState) releaseSlot(t *Transfer) {
	if !t.IsInProgress() {
		return
	}
	s.TransferringCount--
	if t.IsUpload() {
		s.TransferringUploadsCount--
	} else {
		s.TransferringDownloadsCount--
	}
	if s.TransferringCount == 0 {
		s.StartedAtMs = 0
	}
}

// MarkTransferring transitions Processing -> Transferring once
// adapter-side preparation succeeds; it does not touch any counter since
// Processing and Transferring are both "in progress" for counting
// purposes.
func (s *TransfersState) MarkTransferring(id ID) {
	if t, ok := s.Transfers[id]; ok {
		t.State = StateTransferring
	}
}

// RefineSize applies SizeInfo.Refine to id's size, keeping TotalBytes in
// sync with the delta, and returns whether it changed.
func (s *TransfersState) RefineSize(id ID, next SizeInfo) bool {
	t, ok := s.Transfers[id]
	if !ok {
		return false
	}
	before := t.Size.BytesOrZero()
	refined, changed := t.Size.Refine(next)
	if !changed {
		return false
	}
	t.Size = refined
	s.TotalBytes += t.Size.BytesOrZero() - before
	return true
}

// UpdateProgress sets transferred-bytes progress on an in-flight transfer
// and recomputes its EMA speed estimate. Returns whether enough wall-clock
// time has elapsed since LastProgressUpdate to justify emitting
// Event::Transfers ("PROGRESS_INTERVAL ~= 100ms" throttle);
// the final byte count on completion is always reflected regardless of
// this return value — callers finalizing a transfer should not gate on it.
func (s *TransfersState) UpdateProgress(id ID, transferredBytes int64, nowMs int64, progressIntervalMs int64) bool {
	t, ok := s.Transfers[id]
	if !ok {
		return false
	}
	t.TransferredBytes = transferredBytes
	t.updateSpeed(transferredBytes, nowMs)
	s.recomputeDoneBytes()

	if nowMs-s.LastProgressUpdate >= progressIntervalMs {
		s.LastProgressUpdate = nowMs
		return true
	}
	return false
}

// recomputeDoneBytes derives done_bytes directly from 's
// definition ("transferred_bytes of non-failed transfers + size of Done
// persistent transfers") rather than trying to maintain it incrementally
// — transferred_bytes changes on every chunk, so an incremental counter
// would have to duplicate this same logic at every call site anyway.
func (s *TransfersState) recomputeDoneBytes() {
	var total int64
	for _, t := range s.Transfers {
		if t.State != StateFailed {
			total += t.TransferredBytes
		}
		if t.State == StateDone && t.IsPersistent {
			total += t.Size.BytesOrZero()
		}
	}
	s.DoneBytes = total
}

// Fail transitions an in-progress transfer to Failed, releases its
// scheduler slot, and updates FailedCount/FailedBytes. isRetriable
// reflects the adapter/transport's classification for *this* attempt;
// Transfer.IsRetriable is ANDed with it (once cleared, it stays cleared).
func (s *TransfersState) Fail(id ID, err error, isRetriable bool) {
	t, ok := s.Transfers[id]
	if !ok {
		return
	}
	s.releaseSlot(t)
	t.State = StateFailed
	t.Error = err
	t.StartedAtMs = 0
	if !isRetriable {
		t.IsRetriable = false
	}
	s.FailedCount++
	s.FailedBytes += t.Size.BytesOrZero()
	if t.IsRetriable {
		s.RetriableCount++
	}
	s.recomputeDoneBytes()
}

// Retry transitions a Failed transfer back to Waiting (user-initiated or
// automatic), reversing the failed counters it contributed.
func (s *TransfersState) Retry(id ID) bool {
	t, ok := s.Transfers[id]
	if !ok || t.State != StateFailed {
		return false
	}
	s.FailedCount--
	s.FailedBytes -= t.Size.BytesOrZero()
	if t.IsRetriable {
		s.RetriableCount--
	}
	t.State = StateWaiting
	t.Error = nil
	t.TransferredBytes = 0
	t.Order = s.nextOrder()
	s.recomputeDoneBytes()
	return true
}

// Complete transitions an in-progress transfer to Done. If persistent, it
// remains in the map (counted in done_count/done_bytes); otherwise it is
// removed, and if that empties the map the aggregate collapses back to its
// zero value except NextID, which is preserved.
func (s *TransfersState) Complete(id ID) {
	t, ok := s.Transfers[id]
	if !ok {
		return
	}
	s.releaseSlot(t)
	t.State = StateDone
	t.StartedAtMs = 0

	if t.IsPersistent {
		s.DoneCount++
		s.recomputeDoneBytes()
		return
	}

	s.remove(t)
}

// Abort removes a transfer in any pre-Done state, regardless of whether
// it was Waiting, in progress, or Failed. Idempotent: aborting an id not
// present is a no-op, so aborting the same id twice has the same effect
// as aborting it once.
func (s *TransfersState) Abort(id ID) bool {
	t, ok := s.Transfers[id]
	if !ok {
		return false
	}
	switch t.State {
	case StateProcessing, StateTransferring:
		s.releaseSlot(t)
	case StateFailed:
		s.FailedCount--
		s.FailedBytes -= t.Size.BytesOrZero()
		if t.IsRetriable {
			s.RetriableCount--
		}
	}
	s.remove(t)
	s.recomputeDoneBytes()
	return true
}

// remove deletes t from the map and its contribution to DoneBytes is NOT
// touched here (done transfers removed via Complete(non-persistent) never
// incremented DoneBytes/DoneCount in the first place — see Complete).
// TransferredBytes of an aborted, non-failed transfer never entered
// done_bytes either, matching the invariant definition in which
// sums transferred_bytes only implicitly via the running total; aborting
// simply drops the row.
func (s *TransfersState) remove(t *Transfer) {
	delete(s.Transfers, t.ID)
	s.TotalCount--
	s.TotalBytes -= t.Size.BytesOrZero()

	if len(s.Transfers) == 0 {
		nextID := s.NextID
		*s = New()
		s.NextID = nextID
	}
}

// AllIDsSnapshot returns a stable snapshot of every tracked id, used by
// AbortAll/RetryAll so iteration never races a concurrent mutation of the
// map.
func (s *TransfersState) AllIDsSnapshot() []ID {
	ids := make([]ID, 0, len(s.Transfers))
	for id := range s.Transfers {
		ids = append(ids, id)
	}
	return ids
}

// FailedIDsSnapshot returns every currently Failed transfer's id, ordered
// by Order, for RetryAll to retry in the order the transfers were
// originally queued.
func (s *TransfersState) FailedIDsSnapshot() []ID {
	type pair struct {
		id ID
		order int64
	}
	var pairs []pair
	for id, t := range s.Transfers {
		if t.State == StateFailed {
			pairs = append(pairs, pair{id, t.Order})
		}
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].order > pairs[j].order; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	ids := make([]ID, len(pairs))
	for i, p := range pairs {
		ids[i] = p.id
	}
	return ids
}
