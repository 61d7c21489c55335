// Package progress renders live transfer progress on the CLI. Grounded
// on internal/progress/downloadui.go's mpb-driven multi-bar UI: EwmaIncrBy
// fed from delta bytes (never SetCurrent alone, so EwmaSpeed/EwmaETA track
// real elapsed time), SetTotal(..., true) plus BarRemoveOnComplete on
// success, Abort(false) to leave a failed bar visible. Generalized from a
// fixed download-file list known up front to an arbitrary, growing/
// shrinking set of upload and download transfers read straight off the
// store via transfers.SelectAllOrdered.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
)

// UI owns one mpb.Progress and a bar per live transfer, kept in sync with
// TransfersState by subscribing to store.EventTransfers.
type UI struct {
	progress   *mpb.Progress
	isTerminal bool

	mu   sync.Mutex
	bars map[transfers.ID]*barState

	subID int64
}

type barState struct {
	bar        *mpb.Bar
	total      int64
	lastBytes  int64
	lastUpdate time.Time
	terminal   bool // true once Done/Failed has been rendered
}

// New builds a UI attached to st. When stdout isn't a terminal, bars are
// suppressed and the caller should fall back to line-oriented logging
// (mirroring internal/cli/prompt.go's non-interactive fallback).
func New(st *store.Store) *UI {
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stdout),
			mpb.WithRefreshRate(180*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	u := &UI{
		progress:   p,
		isTerminal: isTerminal,
		bars:       make(map[transfers.ID]*barState),
	}
	u.subID = st.On([]store.Event{store.EventTransfers}, u.onStoreEvent)
	return u
}

// IsTerminal reports whether bars are actually being rendered.
func (u *UI) IsTerminal() bool { return u.isTerminal }

func (u *UI) onStoreEvent(s *store.State) {
	live := transfers.SelectAllOrdered(&s.Transfers)

	seen := make(map[transfers.ID]bool, len(live))
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, t := range live {
		seen[t.ID] = true
		bs, ok := u.bars[t.ID]
		if !ok {
			bs = u.newBarState(t)
			u.bars[t.ID] = bs
		}
		u.updateBar(bs, t)
	}

	for id, bs := range u.bars {
		if !seen[id] {
			if !bs.terminal {
				bs.bar.Abort(true)
			}
			delete(u.bars, id)
		}
	}
}

func (u *UI) newBarState(t transfers.Transfer) *barState {
	direction := "↑"
	if t.IsDownload() {
		direction = "↓"
	}
	total := t.Size.BytesOrZero()
	if total <= 0 {
		total = 1
	}

	if !u.isTerminal {
		fmt.Printf("%s %s (%.1f MiB)\n", direction, t.DisplayName(), float64(total)/(1024*1024))
	}

	bar := u.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("%s %s", direction, t.DisplayName()), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return &barState{bar: bar, total: total, lastUpdate: time.Now()}
}

// updateBar feeds EwmaIncrBy with the delta since the last observed byte
// count, exactly as downloadui.go/uploadui.go do, so the speed/ETA
// decorators track real elapsed time rather than jumping discontinuously.
func (u *UI) updateBar(bs *barState, t transfers.Transfer) {
	if bs.terminal {
		return
	}

	if t.Size.Kind != transfers.SizeUnknown && t.Size.Bytes != bs.total {
		bs.total = t.Size.Bytes
		bs.bar.SetTotal(bs.total, false)
	}

	now := time.Now()
	elapsed := now.Sub(bs.lastUpdate)
	delta := t.TransferredBytes - bs.lastBytes
	bs.bar.EwmaIncrBy(int(delta), elapsed)
	bs.lastBytes = t.TransferredBytes
	bs.lastUpdate = now

	switch t.State {
	case transfers.StateDone:
		bs.bar.SetCurrent(bs.total)
		bs.bar.SetTotal(bs.total, true)
		bs.terminal = true
	case transfers.StateFailed:
		// The engine only ever lets an observer see StateFailed once
		// autoretry has given up (a retryable failure is moved straight
		// back to Waiting inside the same mutation), so this is always
		// terminal.
		bs.bar.Abort(false)
		bs.terminal = true
	}
}

// Wait blocks until every rendered bar has completed or been aborted.
func (u *UI) Wait() {
	u.progress.Wait()
}

// Close tears down the store subscription.
func (u *UI) Close(st *store.Store) {
	st.RemoveListener(u.subID)
}
