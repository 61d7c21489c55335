package store

import (
	"testing"

	"github.com/koofr/vault-core/internal/reposstate"
)

func TestNewState_ZeroValuesUsable(t *testing.T) {
	st := NewState()
	if st.Transfers.Transfers == nil {
		t.Error("Transfers.Transfers map should be non-nil")
	}
	if st.Repos.Repos == nil {
		t.Error("Repos.Repos should be non-nil")
	}
}

func TestStore_MutateDispatchesEvent(t *testing.T) {
	s := New()

	var gotEvent Event
	fired := make(chan struct{}, 1)
	s.On([]Event{EventTransfers}, func(st *State) {
		gotEvent = EventTransfers
		fired <- struct{}{}
	})

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		notify.Add(EventTransfers)
		return struct{}{}
	})

	select {
	case <-fired:
	default:
		t.Fatal("event listener was not invoked")
	}
	if gotEvent != EventTransfers {
		t.Errorf("expected EventTransfers, got %q", gotEvent)
	}
}

func TestStore_MutateSkipsUnmatchedListener(t *testing.T) {
	s := New()

	called := false
	s.On([]Event{EventRepos}, func(st *State) {
		called = true
	})

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		notify.Add(EventTransfers)
		return struct{}{}
	})

	if called {
		t.Error("listener subscribed to a different event should not fire")
	}
}

func TestStore_MutateNoEventsSkipsDispatch(t *testing.T) {
	s := New()

	called := false
	s.On([]Event{EventTransfers, EventRepos, EventRepoFiles, EventRepoFilesDetails}, func(st *State) {
		called = true
	})

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		return struct{}{}
	})

	if called {
		t.Error("no Notify.Add call should mean no listener fires")
	}
}

func TestStore_MutationOnFiresWithMutationState(t *testing.T) {
	s := New()

	var gotPayload interface{}
	fired := make(chan struct{}, 1)
	s.MutationOn([]Event{EventRepoFiles}, func(st *State, m *MutationState) {
		v, _ := m.Get("key")
		gotPayload = v
		fired <- struct{}{}
	})

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		notify.Add(EventRepoFiles)
		mutation.Set("key", "value")
		return struct{}{}
	})

	select {
	case <-fired:
	default:
		t.Fatal("mutation listener was not invoked")
	}
	if gotPayload != "value" {
		t.Errorf("expected payload %q, got %v", "value", gotPayload)
	}
}

func TestStore_RemoveListenerStopsDelivery(t *testing.T) {
	s := New()

	called := false
	id := s.On([]Event{EventTransfers}, func(st *State) {
		called = true
	})
	s.RemoveListener(id)

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		notify.Add(EventTransfers)
		return struct{}{}
	})

	if called {
		t.Error("removed listener should not fire")
	}
}

func TestStore_SideEffectsRunAfterUnlock(t *testing.T) {
	s := New()

	ran := false
	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		addSideEffect(func() { ran = true })
		return struct{}{}
	})

	if !ran {
		t.Error("side effect should have run")
	}
}

func TestStore_MutateReentrantPanics(t *testing.T) {
	s := New()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected re-entrant Mutate to panic")
		}
	}()

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
			return struct{}{}
		})
		return struct{}{}
	})
}

func TestStore_NextIDNeverReused(t *testing.T) {
	s := New()

	seen := make(map[int32]struct{})
	for i := 0; i < 100; i++ {
		id := s.NextID()
		if _, dup := seen[id]; dup {
			t.Fatalf("NextID returned a duplicate value %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestStore_WithStateR(t *testing.T) {
	s := New()

	Mutate(s, func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) struct{} {
		st.Repos.Upsert(&reposstate.Repo{ID: "repo-1", Locked: true})
		return struct{}{}
	})

	locked := WithStateR(s, func(st *State) bool {
		r, ok := st.Repos.Get("repo-1")
		return ok && r.Locked
	})
	if !locked {
		t.Error("expected WithStateR to observe the committed mutation")
	}
}
