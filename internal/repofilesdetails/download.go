package repofilesdetails

import ("context"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/transfers/engine"
	paths "github.com/koofr/vault-core/internal/util/paths"
	"github.com/koofr/vault-core/internal/vaulterrors")

// Download implements `download(downloadable)`: stream this
// details entry's underlying file through the transfer engine into
// downloadable, tracking the resulting transfer id on the entry so
// Destroy can abort it.
func (s *Service) Download(ctx context.Context, id int32, downloadable adapters.Downloadable) (transfers.ID, *engine.Future[engine.DownloadResult], error) {
	if s.abortTransfer == nil {
		return 0, nil, vaulterrors.ErrInvalidState
	}

	type downloadTarget struct {
		repoID string
		path string
		size transfers.SizeInfo
		ok bool
	}
	target := store.WithStateR(s.store, func(st *store.State) downloadTarget {
		d, ok := st.RepoFilesDetails.Get(id)
		if !ok {
			return downloadTarget{size: transfers.Unknown()}
		}
		size := transfers.Unknown()
		if d.Fence.Size != nil {
			size = transfers.Exact(*d.Fence.Size)
		}
		return downloadTarget{repoID: d.RepoID, path: d.Path, size: size, ok: true}
	})
	if !target.ok {
		return 0, nil, errDetailsNotFound
	}
	repoID, path, size := target.repoID, target.path, target.size

	_, name := paths.Split(path)
	provider := adapters.ReaderProvider{
		Name: name,
		Size: size,
		UniqueName: name,
		ReaderBuilder: func(ctx context.Context) (adapters.RepoFileReader, error) {
			return s.files.GetFileReader(ctx, repoID, path)
		},
	}

	transferID, future, err := s.abortTransfer.Download(ctx, provider, downloadable)
	if err != nil {
		return 0, nil, err
	}

	store.Mutate(s.store, func(st *store.State, notify *store.Notify, _ *store.MutationState, _ func(store.SideEffect)) struct{} {
		if d, ok := st.RepoFilesDetails.Get(id); ok {
			d.ActiveTransferID = int32(transferID)
			d.HasActiveTransfer = true
		}
		notify.Add(store.EventRepoFilesDetails)
		return struct{}{}
	})
	return transferID, future, nil
}
