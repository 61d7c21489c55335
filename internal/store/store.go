// Package store provides the process-wide, single-threaded-cooperative
// state container every service in this module shares. It owns the
// canonical State, serializes mutations behind a single mutex, and
// dispatches events and cross-module reactions after each mutation
// commits.
//
// It is built on the publish/subscribe shape of internal/events.EventBus
// (a registry of per-event-kind subscriber lists, dispatched synchronously
// under a lock boundary) generalized with two things EventBus doesn't need:
// a typed State the mutator gets exclusive write access to, and a second
// "mutation observed" listener class that runs after every Event listener,
// carrying a MutationState snapshot instead of a single Event value.
package store

import ("sync"
	"sync/atomic"

	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/repofilesstate"
	"github.com/koofr/vault-core/internal/reposstate"
	"github.com/koofr/vault-core/internal/transfers")

// Event identifies a class of state change. Unlike events.EventType this
// module reuses, Event values here key Store subscriptions, not the
// transport-facing EventBus.
type Event string

const (// EventRepos fires when the repos collection (lock state, mount
	// metadata) changes.
	EventRepos Event = "repos"
	// EventRepoFiles fires when a directory listing or a single file's
	// metadata changes.
	EventRepoFiles Event = "repo_files"
	// EventRepoFilesDetails fires when a RepoFilesDetails entry's state
	// changes (load/edit/save/conflict).
	EventRepoFilesDetails Event = "repo_files_details"
	// EventTransfers fires when TransfersState changes: new transfer,
	// progress (rate-limited), state transition, or removal.
	EventTransfers Event = "transfers")

// State is the single aggregate root. Concrete submodules (transfers,
// repos, repo files, repo files details) each own one field here and
// mutate it only from inside Store.Mutate.
type State struct {
	Transfers transfers.TransfersState
	Repos reposstate.State
	RepoFiles repofilesstate.State
	RepoFilesDetails repofilesdetailsstate.State
}

// NewState builds a State with every submodule's zero-value constructor,
// so map fields are non-nil from the start (Store.New uses this).
func NewState() State {
	return State{
		Transfers: transfers.New(),
		Repos: reposstate.New(),
		RepoFiles: repofilesstate.New(),
		RepoFilesDetails: repofilesdetailsstate.New(),
	}
}

// Notify accumulates the distinct Event kinds raised during one Mutate
// call. Dispatch happens once distinct kind after the mutator returns.
type Notify struct {
	events map[Event]struct{}
}

func newNotify() *Notify {
	return &Notify{events: make(map[Event]struct{}, 4)}
}

// Add records that ev occurred during this mutation.
func (n *Notify) Add(ev Event) {
	n.events[ev] = struct{}{}
}

// Has reports whether ev was recorded.
func (n *Notify) Has(ev Event) bool {
	_, ok := n.events[ev]
	return ok
}

func (n *Notify) list() []Event {
	out := make([]Event, 0, len(n.events))
	for ev := range n.events {
		out = append(out, ev)
	}
	return out
}

// MutationState is a free-form description of what changed during one
// mutation, built by the mutator and handed to mutation_on listeners and
// MutationState subscribers. Concrete mutators (transfers, repo files,
// etc.) attach their own typed payloads under a string key so listeners
// from different subsystems don't collide.
type MutationState struct {
	Payloads map[string]interface{}
}

func newMutationState() *MutationState {
	return &MutationState{Payloads: make(map[string]interface{}, 2)}
}

// Set attaches a typed payload under key (conventionally the owning
// package's name, e.g. "transfers").
func (m *MutationState) Set(key string, payload interface{}) {
	m.Payloads[key] = payload
}

// Get retrieves a payload previously attached with Set.
func (m *MutationState) Get(key string) (interface{}, bool) {
	v, ok := m.Payloads[key]
	return v, ok
}

// SideEffect is a closure scheduled from inside Mutate that must run after
// the write lock is released — the mechanism calls out for
// breaking synchronous cross-service call cycles ("services never call
// each other synchronously under the store lock").
type SideEffect func()

// EventListener observes committed state after a matching Event fired.
type EventListener func(s *State)

// MutationListener observes the accumulated MutationState after a
// mutation commits, once call to Mutate (not once Event).
type MutationListener func(s *State, m *MutationState)

type eventSub struct {
	id int64
	events map[Event]struct{}
	cb EventListener
}

type mutationSub struct {
	id int64
	events map[Event]struct{}
	cb MutationListener
}

// Store serializes all reads and writes to State behind a single mutex,
// ("the store is protected by a single mutex and released
// promptly; no.await occurs while holding it"). Go has no async/await,
// so the equivalent discipline here is: never perform blocking I/O, and
// never call back into a listener's own Mutate, while mu is held.
type Store struct {
	mu sync.Mutex
	state State

	nextSubID int64
	nextID int64 // process-wide entity id allocator, shared by Store.NextID

	eventListenersMu sync.Mutex
	eventListeners []*eventSub
	mutationSubs []*mutationSub

	mutating atomic.Bool
}

// New constructs an empty Store. A process holds exactly one Store; every
// service attaches to it rather than keeping private copies of State.
func New() *Store {
	return &Store{state: NewState()}
}

// WithState runs f against a read-only snapshot of State while holding the
// lock briefly. f must not mutate *State and must not call back into
// Mutate (that would deadlock, matching "re-entrant mutate is
// disallowed").
func (s *Store) WithState(f func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.state)
}

// WithStateR is WithState for callers that want to return a value out of
// the closure without a captured variable.
func WithStateR[R any](s *Store, f func(st *State) R) R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(&s.state)
}

// Mutate runs f with exclusive write access to State. f receives the
// Notify set to record which Event kinds fired, the MutationState being
// built for this call, and addSideEffect to queue post-commit work. Mutate
// panics if called re-entrantly (from inside another Mutate on the same
// Store) rather than deadlocking silently, since the single mutex used
// here would otherwise hang forever instead of erroring the way a
// re-entrant RefCell/Mutex would in the source design.
func Mutate[R any](s *Store, f func(st *State, notify *Notify, mutation *MutationState, addSideEffect func(SideEffect)) R) R {
	if s.mutating.Load() {
		panic("store: re-entrant Mutate call")
	}

	s.mu.Lock()
	s.mutating.Store(true)

	notify := newNotify()
	mutation := newMutationState()
	var sideEffects []SideEffect
	addSideEffect := func(se SideEffect) { sideEffects = append(sideEffects, se) }

	result := f(&s.state, notify, mutation, addSideEffect)

	s.mutating.Store(false)
	s.mu.Unlock()

	s.dispatch(notify, mutation)

	for _, se := range sideEffects {
		se()
	}

	return result
}

// dispatch runs Event listeners (once distinct event recorded),
// then mutation_on listeners (once Mutate call, if any of their
// subscribed events fired), which also observe the MutationState
// snapshot. Both phases run with the lock released.
func (s *Store) dispatch(notify *Notify, mutation *MutationState) {
	firedEvents := notify.list()
	if len(firedEvents) == 0 {
		return
	}

	s.eventListenersMu.Lock()
	eventListeners := append([]*eventSub(nil), s.eventListeners...)
	mutationSubs := append([]*mutationSub(nil), s.mutationSubs...)
	s.eventListenersMu.Unlock()

	for _, ev := range firedEvents {
		for _, sub := range eventListeners {
			if _, ok := sub.events[ev]; ok {
				s.WithState(sub.cb)
			}
		}
	}

	fired := make(map[Event]struct{}, len(firedEvents))
	for _, ev := range firedEvents {
		fired[ev] = struct{}{}
	}
	for _, sub := range mutationSubs {
		matched := false
		for ev := range sub.events {
			if _, ok := fired[ev]; ok {
				matched = true
				break
			}
		}
		if matched {
			s.WithState(func(st *State) { sub.cb(st, mutation) })
		}
	}
}

// On registers an Event listener and returns a subscription id usable
// with RemoveListener.
func (s *Store) On(events []Event, cb EventListener) int64 {
	id := atomic.AddInt64(&s.nextSubID, 1)
	set := make(map[Event]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}

	s.eventListenersMu.Lock()
	s.eventListeners = append(s.eventListeners, &eventSub{id: id, events: set, cb: cb})
	s.eventListenersMu.Unlock()
	return id
}

// MutationOn registers a cross-module reaction that observes the
// accumulated MutationState once Mutate call whose Notify set
// intersects events.
func (s *Store) MutationOn(events []Event, cb MutationListener) int64 {
	id := atomic.AddInt64(&s.nextSubID, 1)
	set := make(map[Event]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}

	s.eventListenersMu.Lock()
	s.mutationSubs = append(s.mutationSubs, &mutationSub{id: id, events: set, cb: cb})
	s.eventListenersMu.Unlock()
	return id
}

// RemoveListener unregisters a subscription previously returned by On or
// MutationOn, whichever class it belongs to.
func (s *Store) RemoveListener(id int64) {
	s.eventListenersMu.Lock()
	defer s.eventListenersMu.Unlock()

	for i, sub := range s.eventListeners {
		if sub.id == id {
			s.eventListeners = append(s.eventListeners[:i], s.eventListeners[i+1:]...)
			return
		}
	}
	for i, sub := range s.mutationSubs {
		if sub.id == id {
			s.mutationSubs = append(s.mutationSubs[:i], s.mutationSubs[i+1:]...)
			return
		}
	}
}

// NextID is a process-wide monotonic id allocator. Subscription ids come
// from a separate counter, and transfer and details ids from their own
// states' NextID. Never reuses a value within the process lifetime.
func (s *Store) NextID() int32 {
	v := atomic.AddInt64(&s.nextID, 1)
	return int32(v)
}

// String renders an Event for log fields.
func (e Event) String() string { return string(e) }
