package cmd

import ("context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koofr/vault-core/internal/localfs"
	"github.com/koofr/vault-core/internal/progress"
	"github.com/koofr/vault-core/internal/transfers/engine"
	"github.com/koofr/vault-core/internal/util/paths")

// newUploadCmd wires localfs.FileUploadable into engine.Upload, grounded
// on internal/cli/files.go upload handler's "resolve a
// local path, hand it to the transfer layer, wait on the result" shape.
func newUploadCmd(f *globalFlags) *cobra.Command {
	var autoRename bool
	var overwrite bool

	cmd := &cobra.Command{
		Use: "upload <local-file> <remote-path>",
		Short: "Upload a local file into the vault",
		Args: cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.close()

			localPath := args[0]
			remotePath := args[1]
			parentPath, name := paths.Split(remotePath)

			ui := progress.New(a.st)

			cr := engine.ConflictResolutionError()
			if overwrite {
				cr = engine.ConflictResolutionOverwrite(engine.OverwriteFence{})
			}

			_, fut, err := a.eng.Upload(ctx, a.repoID, parentPath, "", name,
				localfs.NewFileUploadable(localPath), cr, autoRename)
			if err != nil {
				return fmt.Errorf("start upload: %w", err)
			}

			result, err := fut.Wait(ctx)
			ui.Wait()
			ui.Close(a.st)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			a.log.Info().Str("path", remotePath).Str("name", result.Name).Msg("upload complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoRename, "auto-rename", false, "rename on name collision instead of failing")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing remote file")
	return cmd
}
