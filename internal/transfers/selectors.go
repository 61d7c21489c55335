package transfers

import "sort"

// Summary is the pure, derived view over TransfersState described in
// ("selectors... counts, percentage, ETA, per-transfer view")
// and supplemented in §12 ("exposes these as pure functions over a Store
// snapshot"). It carries no pointers into TransfersState so a caller can
// hold it after the originating Store.WithState call returns.
type Summary struct {
	Count int
	TransferringCount int
	DoneCount int
	FailedCount int
	RetriableCount int
	BytesDone int64
	BytesTotal int64
	Percentage float64 // 0.0-100.0; 0 when BytesTotal == 0
	SpeedBytesPerSecond float64 // sum of in-progress transfers' Speed
	IsTransferring bool
}

// SelectSummary derives a Summary from a TransfersState snapshot.
func SelectSummary(s *TransfersState) Summary {
	sum := Summary{
		Count: s.TotalCount,
		TransferringCount: s.TransferringCount,
		DoneCount: s.DoneCount,
		FailedCount: s.FailedCount,
		RetriableCount: s.RetriableCount,
		BytesDone: s.DoneBytes,
		BytesTotal: s.TotalBytes,
		IsTransferring: s.TransferringCount > 0,
	}
	if sum.BytesTotal > 0 {
		sum.Percentage = 100 * float64(sum.BytesDone) / float64(sum.BytesTotal)
	}
	for _, t := range s.Transfers {
		if t.IsInProgress() {
			sum.SpeedBytesPerSecond += t.Speed
		}
	}
	return sum
}

// SelectIsTransferring is the narrow selector autosave/UI polling loops
// use to decide whether to keep rendering a busy indicator.
func SelectIsTransferring(s *TransfersState) bool {
	return s.TransferringCount > 0
}

// SelectTransfer returns a defensive copy of a single transfer for
// display, so a subscriber can't mutate engine state through the pointer.
func SelectTransfer(s *TransfersState, id ID) (Transfer, bool) {
	t, ok := s.Transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// ETASeconds estimates remaining time for t from its current Speed and
// remaining bytes. Returns (0, false) when the size isn't known yet or
// the transfer isn't moving.
func ETASeconds(t *Transfer) (float64, bool) {
	if t.Size.Kind == SizeUnknown || t.Speed <= 0 {
		return 0, false
	}
	remaining := t.Size.Bytes - t.TransferredBytes
	if remaining <= 0 {
		return 0, true
	}
	return float64(remaining) / t.Speed, true
}

// SelectAllOrdered returns every tracked transfer sorted by Order, the
// per-transfer view a transfers list UI renders.
func SelectAllOrdered(s *TransfersState) []Transfer {
	out := make([]Transfer, 0, len(s.Transfers))
	for _, t := range s.Transfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
