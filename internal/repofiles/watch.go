package repofiles

import ("context"

	"github.com/koofr/vault-core/internal/events"
	"github.com/koofr/vault-core/internal/store")

// WatchEventStream subscribes to an events.EventBus for
// events.RemoteChangeEvent and re-issues RefreshListing for whatever
// cached listing each notification affects, implementing "an
// EventStream pushes remote-change notifications that cause load_files
// to be re-issued." Runs until ctx is canceled. The engine itself never
// imports internal/events or internal/eventstream directly — this is the
// one place their outputs reach back into the core state machine.
func (s *Service) WatchEventStream(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(events.EventRemoteChange)
	defer bus.Unsubscribe(events.EventRemoteChange, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			change, ok := evt.(*events.RemoteChangeEvent)
			if !ok {
				continue
			}
			s.handleRemoteChange(ctx, change)
		}
	}
}

func (s *Service) handleRemoteChange(ctx context.Context, change *events.RemoteChangeEvent) {
	if change.Path != "" {
		_ = s.RefreshListing(ctx, change.RepoID, change.Path)
		return
	}

	paths := store.WithStateR(s.store, func(st *store.State) []string {
		return st.RepoFiles.CachedPaths(change.RepoID)
	})
	for _, p := range paths {
		if err := s.RefreshListing(ctx, change.RepoID, p); err != nil {
			if s.log != nil {
				s.log.Warn().Err(err).Str("repo_id", change.RepoID).Str("path", p).Msg("repofiles: refresh after remote change failed")
			}
			continue
		}
	}
}
