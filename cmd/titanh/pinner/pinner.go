// Package pinner implements `titanh pinner`, the pinning-node runtime.
package pinner

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"titanh/cmd/titanh/cmdutil"
	"titanh/internal/adapter/chain"
	"titanh/internal/adapter/ipfs"
	"titanh/internal/adapter/sqlite"
	"titanh/internal/daemon"
)

type options struct {
	seed            string
	idx             uint32
	rpc             string
	retries         uint8
	ipfsPeersConfig string
	repFactor       uint32
	checkpointDir   string
	keytableFile    string
	latency         bool
}

// Cmd returns the pinner command tree.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pinner",
		Short: "Run a pinning node",
	}
	cmd.AddCommand(startCmd())
	return cmd
}

func startCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the pinning node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.seed, "seed", "", "Seed phrase of the validator bound to this node")
	cmd.Flags().Uint32Var(&opts.idx, "idx", 0, "Node index among the validator's pinning nodes")
	cmd.Flags().StringVar(&opts.rpc, "rpc", cmdutil.DefaultRPC, "Chain rpc endpoint")
	cmd.Flags().Uint8Var(&opts.retries, "retries", cmdutil.DefaultRetries, "Retry budget for failed chain/IPFS calls")
	cmd.Flags().StringVar(&opts.ipfsPeersConfig, "ipfs-peers-config", "", "JSON file listing the node's IPFS peers")
	cmd.Flags().Uint32Var(&opts.repFactor, "rep-factor", 0, "Expected content replication factor")
	cmd.Flags().StringVar(&opts.checkpointDir, "checkpoint-dir", cmdutil.DefaultCheckpointDir, "Directory of the checkpoint database")
	cmd.Flags().StringVar(&opts.keytableFile, "keytable-file", "", "Optional file receiving a keytable dump after every checkpoint")
	cmd.Flags().BoolVar(&opts.latency, "latency", false, "Track and log batch dispatch latency")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("ipfs-peers-config")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	peers, err := loadPeers(opts.ipfsPeersConfig)
	if err != nil {
		return err
	}

	chainClient, err := chain.New(ctx, opts.rpc, opts.seed, opts.retries)
	if err != nil {
		return err
	}

	peerPubs := make([][]byte, len(peers.IpfsPeers))
	urls := make([]string, len(peers.IpfsPeers))
	for i, p := range peers.IpfsPeers {
		pub, err := hex.DecodeString(p.PeerPubkey)
		if err != nil {
			return fmt.Errorf("peer %d: invalid pubkey hex: %w", i, err)
		}
		peerPubs[i] = pub
		urls[i] = p.RPCURL
	}
	self := chain.DeriveNodeID(chainClient.PublicKey(), opts.idx, peerPubs)

	ipfsClient, err := ipfs.New(urls, opts.retries)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(opts.checkpointDir)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := daemon.Config{
		Self:                self,
		TrackLatency:        opts.latency,
		ExpectedReplication: int(opts.repFactor),
	}
	if opts.keytableFile != "" {
		cfg.KeytableDump = dumpKeytable(opts.keytableFile)
	}
	if opts.latency {
		probeClockOffset()
	}

	slog.Info("starting pinning node", "node", self, "rpc", opts.rpc, "ipfs_replicas", len(urls))
	if err := daemon.Run(ctx, cfg, chainClient, ipfsClient, store); err != nil {
		if ctx.Err() != nil {
			slog.Info("pinning node stopped")
			return nil
		}
		return err
	}
	return nil
}
