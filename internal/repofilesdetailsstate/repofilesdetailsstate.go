// Package repofilesdetailsstate is the pure data model behind one
// open-file editor entry. Like internal/transfers and
// internal/repofilesstate, it has no dependency on store; the
// internal/repofilesdetails service owns the store-level wiring
// (Mutate/subscriptions/autosave timers) around this struct.
package repofilesdetailsstate

// Status is where a details entry sits in its load/edit/save lifecycle.
type Status int

const (StatusLoading Status = iota
	StatusLoaded
	StatusError)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "Loading"
	case StatusLoaded:
		return "Loaded"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SaveInitiator distinguishes who triggered a save attempt: the policy
// for prompting on a deleted/conflicting file differs by initiator.
type SaveInitiator int

const (InitiatorUser SaveInitiator = iota
	InitiatorAutosave
	InitiatorCancel)

// RemoteFence is the optimistic-concurrency guard captured at content-load
// time and threaded through to Save's upload_file_reader call as the
// overwrite conflict-resolution fence.
type RemoteFence struct {
	Size *int64
	Modified *int64
	Hash *string
}

// Details is one open-file editor entry, identified by ID.
type Details struct {
	ID int32
	RepoID string
	Path string // decrypted path at load time; may be stale after a move
	Name string // decrypted base name

	IsEditing bool
	IsDirty bool
	IsSaving bool
	IsDeleted bool // the underlying file disappeared from its listing
	Discarded bool // edit_cancel observed DiscardChanges

	Status Status
	Error error

	Content []byte

	// Version increments on every save attempt; a saved completion only
	// commits if Version still matches.
	Version int64

	Fence RemoteFence

	// ActiveTransferID tracks a download preview transfer (e.g. Download)
	// started on behalf of this details entry, so Destroy can abort it.
	ActiveTransferID int32
	HasActiveTransfer bool
}

// State is the registry of open details entries, keyed by ID.
type State struct {
	Entries map[int32]*Details
	NextID int32
}

// New returns an empty registry; NextID starts at 1 like transfers.New.
func New() State {
	return State{Entries: make(map[int32]*Details), NextID: 1}
}

func (s *State) ensureMap() {
	if s.Entries == nil {
		s.Entries = make(map[int32]*Details)
	}
}

// Insert allocates an id and stores a newly created Details entry.
func (s *State) Insert(build func(id int32) *Details) *Details {
	s.ensureMap()
	id := s.NextID
	s.NextID++
	d := build(id)
	d.ID = id
	s.Entries[id] = d
	return d
}

// Get returns the entry for id.
func (s *State) Get(id int32) (*Details, bool) {
	if s.Entries == nil {
		return nil, false
	}
	d, ok := s.Entries[id]
	return d, ok
}

// Remove deletes an entry (Destroy's final step).
func (s *State) Remove(id int32) {
	if s.Entries == nil {
		return
	}
	delete(s.Entries, id)
}

// AllForRepoPath returns every details entry open against (repoID, path),
// used by the RepoFiles-listing subscription to find entries whose
// underlying file just disappeared or changed.
func (s *State) AllForRepoPath(repoID, path string) []*Details {
	var out []*Details
	for _, d := range s.Entries {
		if d.RepoID == repoID && d.Path == path {
			out = append(out, d)
		}
	}
	return out
}
