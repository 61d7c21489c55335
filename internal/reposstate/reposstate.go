// Package reposstate is the pure data model backing "on Repos
// change: if the repo transitions to unlocked, re-load the file"
// subscription: a registry of known repos and their lock state. It has no
// dependency on the store package, mirroring internal/transfers' leaf-model
// role for the engine — internal/repos (the service that resolves Cipher
// capabilities and flips lock state) depends on this package and on store,
// not the other way around.
package reposstate

// Repo is one mounted, possibly-locked encrypted namespace (glossary:
// "Repo", "Mount").
type Repo struct {
	ID string
	MountID string
	RootPath string // remote path the repo is mounted at
	Locked bool
}

// State is the registry of repos known to this process.
type State struct {
	Repos map[string]*Repo
}

// New returns an empty registry.
func New() State {
	return State{Repos: make(map[string]*Repo)}
}

func (s *State) ensureMap() {
	if s.Repos == nil {
		s.Repos = make(map[string]*Repo)
	}
}

// Upsert adds or replaces a repo entry.
func (s *State) Upsert(r *Repo) {
	s.ensureMap()
	s.Repos[r.ID] = r
}

// Get returns the repo for id, if known.
func (s *State) Get(id string) (*Repo, bool) {
	if s.Repos == nil {
		return nil, false
	}
	r, ok := s.Repos[id]
	return r, ok
}

// SetLocked updates a repo's lock state and reports whether it actually
// changed (the signal repofilesdetails' "Repos change -> unlocked" reload
// subscription keys on).
func (s *State) SetLocked(id string, locked bool) bool {
	r, ok := s.Get(id)
	if !ok {
		return false
	}
	if r.Locked == locked {
		return false
	}
	r.Locked = locked
	return true
}

// IsLocked reports a repo's current lock state; an unknown repo is
// treated as locked (no Cipher can be resolved for it).
func (s *State) IsLocked(id string) bool {
	r, ok := s.Get(id)
	if !ok {
		return true
	}
	return r.Locked
}
