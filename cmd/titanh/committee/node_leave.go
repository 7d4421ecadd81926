package committee

import (
	"fmt"

	"github.com/spf13/cobra"

	"titanh/cmd/titanh/cmdutil"
	"titanh/cmd/titanh/ui"
	"titanh/internal/adapter/ipfs"
	"titanh/internal/adapter/sqlite"
	"titanh/internal/pinning"
	"titanh/pkg/sdk"
)

func nodeLeaveCmd(opts *options) *cobra.Command {
	var (
		checkpointDir string
		ipfsRPC       string
		retries       uint8
	)

	cmd := &cobra.Command{
		Use:   "node-leave",
		Short: "Announce a pinning node's departure, handing its keytable off through IPFS",
		Long: `Reads the node's local checkpoint, uploads every keytable row to IPFS
(unpinned: the successors pin what they adopt) and submits the removal
extrinsic carrying the checkpoint block and the row cids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := sqlite.Open(checkpointDir)
			if err != nil {
				return err
			}
			defer store.Close()
			cp, err := store.Load()
			if err != nil {
				return err
			}
			if len(cp.Rows) == 0 {
				return fmt.Errorf("checkpoint at %s holds no keytable; nothing to hand off", checkpointDir)
			}

			gateway, err := ipfs.New([]string{ipfsRPC}, retries)
			if err != nil {
				return err
			}

			rowCids := make([]string, len(cp.Rows))
			for r, pairs := range cp.Rows {
				encoded, err := pinning.EncodeRow(pairs)
				if err != nil {
					return fmt.Errorf("encode row %d: %w", r, err)
				}
				cid, err := gateway.Add(ctx, encoded)
				if err != nil {
					return fmt.Errorf("upload row %d: %w", r, err)
				}
				rowCids[r] = string(cid)
			}

			client, err := sdk.Connect(ctx, sdk.Options{RPC: opts.rpc, Seed: opts.seed})
			if err != nil {
				return err
			}
			txHash, err := client.Committee().NodeLeave(ctx, cp.Block, rowCids, sdk.High)
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("node leave announced at keytable block %d, tx %#x", cp.Block, txHash))
			rows := make([][]string, len(rowCids))
			for r, cid := range rowCids {
				rows[r] = []string{fmt.Sprint(r), cid}
			}
			fmt.Println(ui.Table([]string{"row", "cid"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", cmdutil.DefaultCheckpointDir, "Directory of the node's checkpoint database")
	cmd.Flags().StringVar(&ipfsRPC, "ipfs-rpc", "", "IPFS gateway receiving the keytable rows")
	cmd.Flags().Uint8Var(&retries, "retries", cmdutil.DefaultRetries, "Retry budget for failed IPFS calls")
	_ = cmd.MarkFlagRequired("ipfs-rpc")
	return cmd
}
