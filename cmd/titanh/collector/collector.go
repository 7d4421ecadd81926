// Package collector implements `titanh collector`, the garbage-collection
// consumer that tears down destroyed capsules on chain.
package collector

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"titanh/cmd/titanh/cmdutil"
	"titanh/internal/adapter/chain"
	"titanh/internal/gc"
	"titanh/internal/pinning"
)

type options struct {
	seed     string
	rpc      string
	retries  uint8
	keyStart string
	keyEnd   string
}

// Cmd returns the collector command tree.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Run a capsule garbage collector",
	}
	cmd.AddCommand(startCmd())
	return cmd
}

func startCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the garbage collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			collector := &gc.Collector{}
			if (opts.keyStart == "") != (opts.keyEnd == "") {
				return fmt.Errorf("--key-start and --key-end must be set together")
			}
			if opts.keyStart != "" {
				start, err := pinning.ParseHash(opts.keyStart)
				if err != nil {
					return fmt.Errorf("parse --key-start: %w", err)
				}
				end, err := pinning.ParseHash(opts.keyEnd)
				if err != nil {
					return fmt.Errorf("parse --key-end: %w", err)
				}
				startKey, endKey := pinning.CapsuleKey(start), pinning.CapsuleKey(end)
				collector.Start, collector.End = &startKey, &endKey
			}

			client, err := chain.New(ctx, opts.rpc, opts.seed, opts.retries)
			if err != nil {
				return err
			}
			collector.Chain = client

			if err := collector.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.seed, "seed", "", "Seed phrase of the collector account")
	cmd.Flags().StringVar(&opts.rpc, "rpc", cmdutil.DefaultRPC, "Chain rpc endpoint")
	cmd.Flags().Uint8Var(&opts.retries, "retries", cmdutil.DefaultRetries, "Retry budget for failed chain calls")
	cmd.Flags().StringVar(&opts.keyStart, "key-start", "", "Inclusive start of the collector's key range (hex)")
	cmd.Flags().StringVar(&opts.keyEnd, "key-end", "", "Inclusive end of the collector's key range (hex)")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}
