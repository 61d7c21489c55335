package cmd

import ("context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/koofr/vault-core/internal/localfs"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/engine")

// newTransfersCmd is a self-contained demonstration of the transfers
// selectors API (/§12): it runs one real upload end to end against
// this process's own in-memory vault and prints transfers.SelectSummary/
// SelectAllOrdered/ETASeconds output as it progresses. It is not a queue
// inspector: MemoryRemoteApi keeps no state across separate vaultctl
// invocations, so there is nothing persistent to list here the way a
// real client's background transfer queue would have.
func newTransfersCmd(f *globalFlags) *cobra.Command {
	var sizeMB int

	cmd := &cobra.Command{
		Use: "transfers",
		Short: "Demonstrate the transfers selectors API against a synthetic upload",
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.close()

			tmp, err := os.CreateTemp("", "vaultctl-demo-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())
			if _, err := tmp.Write(make([]byte, sizeMB*1024*1024)); err != nil {
				tmp.Close()
				return err
			}
			tmp.Close()

			done := make(chan struct{})
			subID := a.st.On([]store.Event{store.EventTransfers}, func(st *store.State) {
				sum := transfers.SelectSummary(&st.Transfers)
				fmt.Printf("\rtransfers=%d done=%d failed=%d %.1f%% %.1f KiB/s",
					sum.Count, sum.DoneCount, sum.FailedCount, sum.Percentage, sum.SpeedBytesPerSecond/1024)
				if !sum.IsTransferring && sum.Count > 0 {
					select {
					case <-done:
					default:
						close(done)
					}
				}
			})
			defer a.st.RemoveListener(subID)

			id, fut, err := a.eng.Upload(ctx, a.repoID, "/", "", "transfers-demo.bin",
				localfs.NewFileUploadable(tmp.Name()), engine.ConflictResolutionOverwrite(engine.OverwriteFence{}), true)
			if err != nil {
				return fmt.Errorf("start demo upload: %w", err)
			}

			if _, err := fut.Wait(ctx); err != nil {
				fmt.Println()
				return fmt.Errorf("demo upload failed: %w", err)
			}
			fmt.Println()

			type finalLook struct {
				t transfers.Transfer
				ok bool
			}
			fl := store.WithStateR(a.st, func(st *store.State) finalLook {
				t, ok := transfers.SelectTransfer(&st.Transfers, id)
				return finalLook{t: t, ok: ok}
			})
			if fl.ok {
				if eta, ok := transfers.ETASeconds(&fl.t); ok {
					fmt.Printf("final ETA estimate: %.1fs (transfer already finished; shown for illustration)\n", eta)
				}
			}

			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sizeMB, "size-mb", 8, "size in MiB of the synthetic file to upload")
	return cmd
}
