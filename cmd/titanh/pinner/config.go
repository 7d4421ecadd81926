package pinner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/beevik/ntp"

	"titanh/internal/pinning"
)

// PeersConfig is the JSON file binding the node to its IPFS replicas.
type PeersConfig struct {
	IpfsPeers []IpfsPeer `json:"ipfs_peers"`
}

// IpfsPeer is one replica gateway: its RPC endpoint and the hex-encoded
// ed25519 public key of the IPFS identity.
type IpfsPeer struct {
	RPCURL     string `json:"rpc_url"`
	PeerPubkey string `json:"peer_pubkey"`
}

func loadPeers(path string) (PeersConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PeersConfig{}, fmt.Errorf("read ipfs peers config: %w", err)
	}
	var cfg PeersConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return PeersConfig{}, fmt.Errorf("parse ipfs peers config %s: %w", path, err)
	}
	if len(cfg.IpfsPeers) == 0 {
		return PeersConfig{}, fmt.Errorf("ipfs peers config %s lists no peers", path)
	}
	return cfg, nil
}

// dumpKeytable writes a human-readable table snapshot after every
// checkpoint, replacing the previous dump.
func dumpKeytable(path string) func(block pinning.BlockNumber, rows [][]pinning.KeyCid) {
	return func(block pinning.BlockNumber, rows [][]pinning.KeyCid) {
		f, err := os.Create(path)
		if err != nil {
			slog.Warn("keytable dump failed", "path", path, "err", err)
			return
		}
		defer f.Close()
		fmt.Fprintf(f, "keytable at block %d\n", block)
		for r, pairs := range rows {
			fmt.Fprintf(f, "row %d (%d keys)\n", r, len(pairs))
			for _, p := range pairs {
				fmt.Fprintf(f, "  %s -> %s\n", p.Key, p.Cid)
			}
		}
	}
}

// ntpServer answers the one-shot clock sanity probe used when latency
// tracking is on.
const ntpServer = "pool.ntp.org"

// probeClockOffset logs the local clock's NTP offset once, so logged batch
// latencies can be compared across committee nodes.
func probeClockOffset() {
	resp, err := ntp.Query(ntpServer)
	if err != nil {
		slog.Warn("ntp probe failed; latency figures use the local clock", "server", ntpServer, "err", err)
		return
	}
	offset := resp.ClockOffset.Round(time.Millisecond)
	if offset.Abs() > 500*time.Millisecond {
		slog.Warn("local clock skewed; latency figures will be biased", "offset", offset)
		return
	}
	slog.Info("clock offset within bounds", "offset", offset)
}
