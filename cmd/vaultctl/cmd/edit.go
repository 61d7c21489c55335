package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/repofilesdetails"
	"github.com/koofr/vault-core/internal/repofilesdetailsstate"
	"github.com/koofr/vault-core/internal/store"
)

// newEditCmd exercises the repofilesdetails edit/save round trip directly
// from the CLI: load a file's current content, prompt for replacement
// text, Save it. Grounded on repofilesdetails.Service's own edit.go/
// save.go state machine (Create -> Edit -> SetContent -> Save -> Destroy),
// the same sequence a desktop editor integration would drive.
func newEditCmd(f *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <remote-path>",
		Short: "Load, edit, and save a vault file's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.close()

			path := args[0]

			id, loadFut := a.details.Create(ctx, a.repoID, path, true, repofilesdetails.CreateOptions{LoadContent: true})
			if err := loadFut.Wait(ctx); err != nil {
				a.details.Destroy(ctx, id)
				return fmt.Errorf("load %s: %w", path, err)
			}
			defer a.details.Destroy(ctx, id)

			type loaded struct {
				details repofilesdetailsstate.Details
				ok      bool
			}
			cur := store.WithStateR(a.st, func(st *store.State) loaded {
				d, ok := st.RepoFilesDetails.Get(id)
				if !ok {
					return loaded{}
				}
				return loaded{details: *d, ok: true}
			})
			if !cur.ok {
				return fmt.Errorf("details entry %d vanished after load", id)
			}
			current := cur.details

			value, ok, err := a.dlg.ShowValidator(ctx, dialogs.ValidatorRequest{
				Title:   "Edit " + path,
				Message: "New content (leave default to keep unchanged)",
				Default: string(current.Content),
				Validator: func(input string) error {
					return nil
				},
			})
			if err != nil {
				return err
			}
			if !ok {
				a.log.Info().Str("path", path).Msg("edit cancelled")
				return nil
			}

			if err := a.details.SetContent(ctx, id, []byte(value)); err != nil {
				return fmt.Errorf("set content: %w", err)
			}
			if err := a.details.Save(ctx, id); err != nil {
				return fmt.Errorf("save: %w", err)
			}

			a.log.Info().Str("path", path).Msg("edit saved")
			return nil
		},
	}
	return cmd
}
