// Package repos is the small service resolving per-repo Cipher
// capabilities and tracking lock state ("Cipher (consumed, per
// repo)" and the "on Repos change: if the repo transitions to unlocked"
// subscription trigger named in). Grounded on
// internal/transfers/engine's store-mutation shape: state lives in the
// reposstate leaf package, this service only ever touches it from inside
// store.Mutate.
package repos

import ("context"
	"sync"

	"github.com/koofr/vault-core/internal/cipher"
	"github.com/koofr/vault-core/internal/reposstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/vaulterrors")

// Service registers repos, unlocks/locks them with a per-repo key, and
// implements cipher.Locker for repofiles/repofilesdetails.
type Service struct {
	store *store.Store

	mu sync.Mutex
	ciphers map[string]cipher.Cipher // set only while the repo is unlocked
}

// New builds a repos Service attached to st.
func New(st *store.Store) *Service {
	return &Service{store: st, ciphers: make(map[string]cipher.Cipher)}
}

// Register adds a repo in the locked state. Re-registering an id replaces
// its mount metadata but preserves lock/unlock state if already known.
func (s *Service) Register(ctx context.Context, id, mountID, rootPath string) {
	store.Mutate(s.store, func(st *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		existing, ok := st.Repos.Get(id)
		locked := true
		if ok {
			locked = existing.Locked
		}
		st.Repos.Upsert(&reposstate.Repo{ID: id, MountID: mountID, RootPath: rootPath, Locked: locked})
		notify.Add(store.EventRepos)
		return struct{}{}
	})
}

// Unlock derives a Cipher from key and marks the repo unlocked, firing
// EventRepos (which repofilesdetails' create-time subscription reacts to
// by re-loading any open file for this repo) only if the lock state
// actually changed.
func (s *Service) Unlock(ctx context.Context, id string, key []byte) error {
	c, err := cipher.NewAESCBCCipher(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ciphers[id] = c
	s.mu.Unlock()

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		if st.Repos.SetLocked(id, false) {
			notify.Add(store.EventRepos)
		}
		return struct{}{}
	})
	return nil
}

// Lock discards the repo's Cipher and marks it locked.
func (s *Service) Lock(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.ciphers, id)
	s.mu.Unlock()

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, mutation *store.MutationState, addSideEffect func(store.SideEffect)) struct{} {
		if st.Repos.SetLocked(id, true) {
			notify.Add(store.EventRepos)
		}
		return struct{}{}
	})
}

// Cipher implements cipher.Locker: it returns ErrRepoLocked rather than a
// nil Cipher so callers can use errors.Is without an extra nil check.
func (s *Service) Cipher(repoID string) (cipher.Cipher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.ciphers[repoID]
	if !ok {
		return nil, vaulterrors.ErrRepoLocked
	}
	return c, nil
}

// MountOf returns the mount id and remote root path a repo resolves to,
// used by repofiles to translate decrypted repo-relative paths into
// RemoteApi's (mount_id, remote_path) addressing.
func (s *Service) MountOf(repoID string) (mountID, rootPath string, ok bool) {
	var r *reposstate.Repo
	s.store.WithState(func(st *store.State) {
		r, ok = st.Repos.Get(repoID)
	})
	if !ok {
		return "", "", false
	}
	return r.MountID, r.RootPath, true
}
