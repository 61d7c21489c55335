package transfers

import "testing"

func newUploadTransfer(s *TransfersState, size SizeInfo, persistent bool) *Transfer {
	return s.Insert(func(id ID, order int64) *Transfer {
		return &Transfer{
			Kind: KindUpload,
			Upload: &UploadTransfer{RepoID: "repo-1", ParentPath: "/", Name: "file.txt"},
			Name: "file.txt",
			Size: size,
			IsRetriable: true,
			IsPersistent: persistent,
			State: StateWaiting,
		}
	})
}

func TestTransfersState_InsertAssignsMonotonicIDs(t *testing.T) {
	s := New()

	t1 := newUploadTransfer(&s, Exact(10), false)
	t2 := newUploadTransfer(&s, Exact(20), false)

	if t1.ID == t2.ID {
		t.Fatalf("expected distinct ids, got %d twice", t1.ID)
	}
	if t2.ID <= t1.ID {
		t.Errorf("expected ids to increase, got %d then %d", t1.ID, t2.ID)
	}
	if s.TotalCount != 2 {
		t.Errorf("expected TotalCount 2, got %d", s.TotalCount)
	}
	if s.TotalBytes != 30 {
		t.Errorf("expected TotalBytes 30, got %d", s.TotalBytes)
	}
}

func TestTransfersState_WaitingPicksSmallestOrder(t *testing.T) {
	s := New()
	t1 := newUploadTransfer(&s, Exact(10), false)
	t2 := newUploadTransfer(&s, Exact(10), false)

	got := s.Waiting()
	if got == nil || got.ID != t1.ID {
		t.Fatalf("expected Waiting() to return the first-inserted transfer %d, got %v", t1.ID, got)
	}

	s.MarkProcessing(t1.ID, 1000)
	got = s.Waiting()
	if got == nil || got.ID != t2.ID {
		t.Fatalf("expected Waiting() to return %d once %d is Processing, got %v", t2.ID, t1.ID, got)
	}
}

func TestTransfersState_MarkProcessingOccupiesSlot(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)

	s.MarkProcessing(tr.ID, 500)

	if tr.State != StateProcessing {
		t.Errorf("expected StateProcessing, got %v", tr.State)
	}
	if tr.Attempts != 1 {
		t.Errorf("expected Attempts 1, got %d", tr.Attempts)
	}
	if s.TransferringCount != 1 || s.TransferringUploadsCount != 1 {
		t.Errorf("expected one occupied upload slot, got TransferringCount=%d TransferringUploadsCount=%d", s.TransferringCount, s.TransferringUploadsCount)
	}
	if s.StartedAtMs != 500 {
		t.Errorf("expected StartedAtMs 500, got %d", s.StartedAtMs)
	}
}

func TestTransfersState_UpdateProgressThrottles(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(100), false)
	s.MarkProcessing(tr.ID, 0)

	if !s.UpdateProgress(tr.ID, 10, 100, 100) {
		t.Error("expected the first UpdateProgress call to cross the throttle interval")
	}
	if s.UpdateProgress(tr.ID, 20, 150, 100) {
		t.Error("expected a call within progressIntervalMs of the last update to be throttled")
	}
	if !s.UpdateProgress(tr.ID, 30, 250, 100) {
		t.Error("expected a call past progressIntervalMs to cross the throttle interval again")
	}
	if tr.TransferredBytes != 30 {
		t.Errorf("expected TransferredBytes to always reflect the latest value, got %d", tr.TransferredBytes)
	}
}

func TestTransfersState_FailReleasesSlotAndCountsRetriable(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)

	s.Fail(tr.ID, errBoom, true)

	if tr.State != StateFailed {
		t.Errorf("expected StateFailed, got %v", tr.State)
	}
	if s.TransferringCount != 0 {
		t.Errorf("expected the processing slot to be released, got TransferringCount=%d", s.TransferringCount)
	}
	if s.FailedCount != 1 {
		t.Errorf("expected FailedCount 1, got %d", s.FailedCount)
	}
	if s.RetriableCount != 1 {
		t.Errorf("expected RetriableCount 1 since isRetriable=true, got %d", s.RetriableCount)
	}
}

func TestTransfersState_FailNotRetriableClearsFlagPermanently(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)

	s.Fail(tr.ID, errBoom, false)
	if tr.IsRetriable {
		t.Error("expected IsRetriable to clear once an attempt reports non-retriable")
	}
	if s.RetriableCount != 0 {
		t.Errorf("expected RetriableCount 0, got %d", s.RetriableCount)
	}

	// Once cleared, a later retriable attempt must not re-set it.
	s.Retry(tr.ID)
	s.MarkProcessing(tr.ID, 0)
	s.Fail(tr.ID, errBoom, true)
	if tr.IsRetriable {
		t.Error("IsRetriable should stay cleared once false, regardless of a later attempt's classification")
	}
}

func TestTransfersState_RetryReversesFailedCounters(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)
	s.Fail(tr.ID, errBoom, true)

	if ok := s.Retry(tr.ID); !ok {
		t.Fatal("expected Retry on a Failed transfer to succeed")
	}
	if tr.State != StateWaiting {
		t.Errorf("expected StateWaiting, got %v", tr.State)
	}
	if s.FailedCount != 0 || s.RetriableCount != 0 {
		t.Errorf("expected failed counters reversed, got FailedCount=%d RetriableCount=%d", s.FailedCount, s.RetriableCount)
	}
	if tr.Error != nil {
		t.Error("expected Error cleared on retry")
	}
}

func TestTransfersState_RetryOnNonFailedIsNoop(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)

	if ok := s.Retry(tr.ID); ok {
		t.Error("expected Retry on a Waiting transfer to report false")
	}
}

func TestTransfersState_CompleteNonPersistentRemoves(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)

	s.Complete(tr.ID)

	if _, ok := s.Get(tr.ID); ok {
		t.Error("expected a non-persistent completed transfer to be removed")
	}
	if s.DoneCount != 0 {
		t.Errorf("expected DoneCount 0 for a removed transfer, got %d", s.DoneCount)
	}
}

func TestTransfersState_CompletePersistentStaysAndCounts(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), true)
	s.MarkProcessing(tr.ID, 0)

	s.Complete(tr.ID)

	got, ok := s.Get(tr.ID)
	if !ok {
		t.Fatal("expected a persistent completed transfer to remain")
	}
	if got.State != StateDone {
		t.Errorf("expected StateDone, got %v", got.State)
	}
	if s.DoneCount != 1 {
		t.Errorf("expected DoneCount 1, got %d", s.DoneCount)
	}
}

func TestTransfersState_EmptyCollapsePreservesNextID(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	nextIDBefore := s.NextID

	s.Complete(tr.ID) // non-persistent -> removed -> map empties -> collapse

	if s.NextID != nextIDBefore {
		t.Errorf("expected NextID preserved across collapse, got %d want %d", s.NextID, nextIDBefore)
	}
	if s.TotalCount != 0 || s.TotalBytes != 0 {
		t.Errorf("expected a fully collapsed aggregate, got TotalCount=%d TotalBytes=%d", s.TotalCount, s.TotalBytes)
	}
}

func TestTransfersState_AbortIsIdempotent(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)

	if ok := s.Abort(tr.ID); !ok {
		t.Fatal("expected first Abort to report true")
	}
	if ok := s.Abort(tr.ID); ok {
		t.Error("expected Abort on an already-removed id to report false")
	}
}

func TestTransfersState_AbortFailedReversesFailedCounters(t *testing.T) {
	s := New()
	tr := newUploadTransfer(&s, Exact(10), false)
	s.MarkProcessing(tr.ID, 0)
	s.Fail(tr.ID, errBoom, true)

	s.Abort(tr.ID)

	if s.FailedCount != 0 || s.RetriableCount != 0 {
		t.Errorf("expected failed counters reversed by Abort, got FailedCount=%d RetriableCount=%d", s.FailedCount, s.RetriableCount)
	}
}

func TestTransfersState_FailedIDsSnapshotIsOrdered(t *testing.T) {
	s := New()
	t1 := newUploadTransfer(&s, Exact(10), false)
	t2 := newUploadTransfer(&s, Exact(10), false)
	t3 := newUploadTransfer(&s, Exact(10), false)

	s.MarkProcessing(t1.ID, 0)
	s.Fail(t1.ID, errBoom, true)
	s.MarkProcessing(t2.ID, 0)
	s.Fail(t2.ID, errBoom, true)
	// t3 stays Waiting, never failed.

	ids := s.FailedIDsSnapshot()
	if len(ids) != 2 || ids[0] != t1.ID || ids[1] != t2.ID {
		t.Errorf("expected failed ids [%d %d] in order, got %v", t1.ID, t2.ID, ids)
	}
	_ = t3
}

func TestSizeInfo_RefineMonotonic(t *testing.T) {
	tests := []struct {
		name string
		start SizeInfo
		next SizeInfo
		wantKind SizeKind
		wantChanged bool
	}{
		{"unknown accepts estimate", Unknown(), Estimate(5), SizeEstimate, true},
		{"unknown accepts exact", Unknown(), Exact(5), SizeExact, true},
		{"unknown rejects unknown", Unknown(), Unknown(), SizeUnknown, false},
		{"estimate accepts newer estimate", Estimate(5), Estimate(10), SizeEstimate, true},
		{"estimate accepts exact", Estimate(5), Exact(10), SizeExact, true},
		{"estimate rejects unknown", Estimate(5), Unknown(), SizeEstimate, false},
		{"exact never changes", Exact(5), Exact(99), SizeExact, false},
		{"exact ignores unknown", Exact(5), Unknown(), SizeExact, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.start.Refine(tt.next)
			if got.Kind != tt.wantKind {
				t.Errorf("got kind %v, want %v", got.Kind, tt.wantKind)
			}
			if changed != tt.wantChanged {
				t.Errorf("got changed %v, want %v", changed, tt.wantChanged)
			}
		})
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
