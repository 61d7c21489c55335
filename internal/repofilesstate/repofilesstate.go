// Package repofilesstate is the pure data model behind the directory
// listings the repofiles service populates and repofilesdetails
// subscribes to, so a file that disappears from a directory listing can
// notify anyone viewing its details. Like internal/transfers, it has no
// dependency on
// the store package; internal/repofiles (the service that calls RemoteApi
// and decrypts names into this cache) and internal/repofilesdetails (the
// subscriber) both depend on this package and on store, never the reverse.
package repofilesstate

import "strings"

// EntryType distinguishes a regular file from a directory in a decrypted
// listing.
type EntryType int

const (EntryFile EntryType = iota
	EntryDir)

// Entry is one decrypted directory-listing row.
type Entry struct {
	Name string // decrypted
	Type EntryType
	Size int64
	Modified int64 // wall-clock ms
	Hash string
	ContentType string
	RemoteFileMeta interface{} // provider-specific RemoteFile, opaque here
}

// Listing is one decrypted directory's contents plus when it was loaded.
type Listing struct {
	Entries []Entry
	LoadedAtMs int64
}

// State caches decrypted listings keyed by "repoID:path".
type State struct {
	Listings map[string]*Listing
}

// New returns an empty cache.
func New() State {
	return State{Listings: make(map[string]*Listing)}
}

func key(repoID, path string) string { return repoID + ":" + path }

func (s *State) ensureMap() {
	if s.Listings == nil {
		s.Listings = make(map[string]*Listing)
	}
}

// SetListing replaces the cached listing for (repoID, path).
func (s *State) SetListing(repoID, path string, entries []Entry, loadedAtMs int64) {
	s.ensureMap()
	s.Listings[key(repoID, path)] = &Listing{Entries: entries, LoadedAtMs: loadedAtMs}
}

// Listing returns the cached listing for (repoID, path), if any.
func (s *State) Listing(repoID, path string) (*Listing, bool) {
	if s.Listings == nil {
		return nil, false
	}
	l, ok := s.Listings[key(repoID, path)]
	return l, ok
}

// HasEntry reports whether name is present in the cached listing for
// (repoID, path). Returns false (not "unknown") when the listing itself
// hasn't been loaded — callers needing to distinguish "not loaded" from
// "loaded and absent" should check Listing first.
func (s *State) HasEntry(repoID, path, name string) bool {
	l, ok := s.Listing(repoID, path)
	if !ok {
		return false
	}
	for _, e := range l.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// EntryNames returns every decrypted name currently listed for (repoID,
// path), used by the unused-name resolver.
func (s *State) EntryNames(repoID, path string) []string {
	l, ok := s.Listing(repoID, path)
	if !ok {
		return nil
	}
	names := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		names[i] = e.Name
	}
	return names
}

// FindEntry returns the entry named name in (repoID, path), if listed.
func (s *State) FindEntry(repoID, path, name string) (Entry, bool) {
	l, ok := s.Listing(repoID, path)
	if !ok {
		return Entry{}, false
	}
	for _, e := range l.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// CachedPaths returns every decrypted path currently cached for repoID,
// used by the eventstream subscription to know which listings a
// whole-repo change notification should invalidate.
func (s *State) CachedPaths(repoID string) []string {
	prefix := repoID + ":"
	var out []string
	for k := range s.Listings {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k[len(prefix):])
		}
	}
	return out
}
