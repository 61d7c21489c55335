package progress

import (
	"testing"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
)

// insertUpload adds a Waiting upload transfer directly to the store,
// mirroring how internal/transfers/engine.Engine.Upload seeds one.
func insertUpload(t *testing.T, st *store.Store, name string, size int64) transfers.ID {
	t.Helper()
	var id transfers.ID
	store.Mutate(st, func(s *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		tr := s.Transfers.Insert(func(tid transfers.ID, order int64) *transfers.Transfer {
			return &transfers.Transfer{
				Kind: transfers.KindUpload,
				Upload: &transfers.UploadTransfer{
					Name: name,
				},
				Name:  name,
				Size:  transfers.Exact(size),
				State: transfers.StateWaiting,
			}
		})
		id = tr.ID
		notify.Add(store.EventTransfers)
		return struct{}{}
	})
	return id
}

func TestNewUICreatesBarForWaitingTransfer(t *testing.T) {
	st := store.New()
	ui := New(st)
	defer ui.Close(st)

	insertUpload(t, st, "report.pdf", 2048)

	ui.mu.Lock()
	n := len(ui.bars)
	ui.mu.Unlock()

	if n != 1 {
		t.Errorf("bars = %d, want 1", n)
	}
}

func TestUIRemovesBarWhenTransferDisappears(t *testing.T) {
	st := store.New()
	ui := New(st)
	defer ui.Close(st)

	id := insertUpload(t, st, "dataset.csv", 4096)

	store.Mutate(st, func(s *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		delete(s.Transfers.Transfers, id)
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	ui.mu.Lock()
	n := len(ui.bars)
	ui.mu.Unlock()

	if n != 0 {
		t.Errorf("bars = %d after removal, want 0", n)
	}
}

func TestUIMarksBarTerminalOnDone(t *testing.T) {
	st := store.New()
	ui := New(st)
	defer ui.Close(st)

	id := insertUpload(t, st, "archive.zip", 1024)

	store.Mutate(st, func(s *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		tr, _ := s.Transfers.Get(id)
		tr.TransferredBytes = tr.Size.BytesOrZero()
		tr.State = transfers.StateDone
		notify.Add(store.EventTransfers)
		return struct{}{}
	})

	ui.mu.Lock()
	bs, ok := ui.bars[id]
	ui.mu.Unlock()

	if !ok {
		t.Fatal("bar for done transfer was removed instead of kept terminal")
	}
	if !bs.terminal {
		t.Error("bar not marked terminal after StateDone")
	}
}

func TestIsTerminalMatchesUnderlyingState(t *testing.T) {
	st := store.New()
	ui := New(st)
	defer ui.Close(st)

	if ui.IsTerminal() != ui.isTerminal {
		t.Error("IsTerminal() does not reflect internal isTerminal field")
	}
}
