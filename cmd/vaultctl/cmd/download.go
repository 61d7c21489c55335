package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koofr/vault-core/internal/localfs"
	"github.com/koofr/vault-core/internal/progress"
	"github.com/koofr/vault-core/internal/repofilesstate"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/util/paths"
)

// newDownloadCmd resolves a remote path's size via a listing refresh,
// then wires a ReaderProvider backed by repofiles.GetFileReader into
// engine.Download with a localfs.FileDownloadable sink. Grounded on
// repofilesdetails.Service.Download's own provider-construction shape
// (internal/repofilesdetails/download.go), generalized here to write
// into a local directory instead of feeding repofilesdetailsstate.
func newDownloadCmd(f *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <remote-path> <local-dir>",
		Short: "Download a vault file to a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.close()

			remotePath := args[0]
			localDir := args[1]
			parentPath, name := paths.Split(remotePath)

			if err := a.files.RefreshListing(ctx, a.repoID, parentPath); err != nil {
				return fmt.Errorf("list %s: %w", parentPath, err)
			}
			type found struct {
				entry repofilesstate.Entry
				ok    bool
			}
			fr := store.WithStateR(a.st, func(st *store.State) found {
				e, ok := st.RepoFiles.FindEntry(a.repoID, parentPath, name)
				return found{entry: e, ok: ok}
			})
			if !fr.ok {
				return fmt.Errorf("remote file not found: %s", remotePath)
			}
			entry := fr.entry

			ui := progress.New(a.st)

			provider := adapters.ReaderProvider{
				Name:       entry.Name,
				Size:       transfers.Exact(entry.Size),
				UniqueName: entry.Name,
				ReaderBuilder: func(ctx context.Context) (adapters.RepoFileReader, error) {
					return a.files.GetFileReader(ctx, a.repoID, remotePath)
				},
			}

			_, fut, err := a.eng.Download(ctx, provider, localfs.NewFileDownloadable(localDir))
			if err != nil {
				return fmt.Errorf("start download: %w", err)
			}

			result, err := fut.Wait(ctx)
			ui.Wait()
			ui.Close(a.st)
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			a.log.Info().Str("path", remotePath).Str("name", result.Name).Msg("download complete")
			return nil
		},
	}
	return cmd
}
