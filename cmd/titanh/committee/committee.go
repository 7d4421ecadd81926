// Package committee implements `titanh committee`, the on-chain
// administration CLI for the pinning committee.
package committee

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"titanh/cmd/titanh/cmdutil"
	"titanh/cmd/titanh/ui"
	"titanh/pkg/sdk"
)

type options struct {
	seed string
	rpc  string
}

// Cmd returns the committee command tree.
func Cmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "committee",
		Short: "Administer the pinning committee",
	}
	cmd.PersistentFlags().StringVar(&opts.seed, "seed-phrase", "", "Seed phrase of the signing account")
	cmd.PersistentFlags().StringVar(&opts.rpc, "rpc", cmdutil.DefaultRPC, "Chain rpc endpoint")
	_ = cmd.MarkPersistentFlagRequired("seed-phrase")

	cmd.AddCommand(configCmd(opts))
	cmd.AddCommand(registerCmd(opts))
	cmd.AddCommand(nodeLeaveCmd(opts))
	return cmd
}

// committeeConfig is the YAML alternative to the sizing flags.
type committeeConfig struct {
	RepFactor         uint32 `yaml:"rep_factor"`
	IpfsReplicas      uint32 `yaml:"ipfs_replicas"`
	NodesPerValidator uint32 `yaml:"pinning_nodes"`
}

func configCmd(opts *options) *cobra.Command {
	var (
		file         string
		repFactor    uint32
		ipfsReplicas uint32
		pinningNodes uint32
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Set the committee sizing parameters (sudo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := committeeConfig{
				RepFactor:         repFactor,
				IpfsReplicas:      ipfsReplicas,
				NodesPerValidator: pinningNodes,
			}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read committee config: %w", err)
				}
				if err := yaml.Unmarshal(raw, &cfg); err != nil {
					return fmt.Errorf("parse committee config %s: %w", file, err)
				}
			}
			if cfg.RepFactor == 0 || cfg.IpfsReplicas == 0 || cfg.NodesPerValidator == 0 {
				return fmt.Errorf("rep_factor, ipfs_replicas and pinning_nodes must all be positive")
			}

			client, err := sdk.Connect(cmd.Context(), sdk.Options{RPC: opts.rpc, Seed: opts.seed})
			if err != nil {
				return err
			}
			txHash, err := client.Committee().SetConfig(cmd.Context(),
				cfg.RepFactor, cfg.IpfsReplicas, cfg.NodesPerValidator, sdk.Medium)
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("committee configured"))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("replication factor", fmt.Sprint(cfg.RepFactor)),
				ui.KV("ipfs replicas", fmt.Sprint(cfg.IpfsReplicas)),
				ui.KV("nodes per validator", fmt.Sprint(cfg.NodesPerValidator)),
				ui.KV("tx", fmt.Sprintf("%#x", txHash)),
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML committee config (overrides the sizing flags)")
	cmd.Flags().Uint32Var(&repFactor, "rep-factor", 0, "Content replication factor")
	cmd.Flags().Uint32Var(&ipfsReplicas, "ipfs-replicas", 0, "IPFS replicas per pinning node")
	cmd.Flags().Uint32Var(&pinningNodes, "pinning-nodes", 0, "Pinning nodes per validator")
	return cmd
}

func registerCmd(opts *options) *cobra.Command {
	var seedsFile string

	cmd := &cobra.Command{
		Use:   "register-node",
		Short: "Register a pinning node's IPFS identities (validator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := readHexSeeds(seedsFile)
			if err != nil {
				return err
			}
			client, err := sdk.Connect(cmd.Context(), sdk.Options{RPC: opts.rpc, Seed: opts.seed})
			if err != nil {
				return err
			}
			txHash, err := client.Committee().RegisterNodes(cmd.Context(), seeds, sdk.Medium)
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("registered %d ipfs identities, tx %#x", len(seeds), txHash))
			return nil
		},
	}

	cmd.Flags().StringVar(&seedsFile, "seeds-file", "", "File of hex-encoded ed25519 seeds, one per line")
	_ = cmd.MarkFlagRequired("seeds-file")
	return cmd
}

// readHexSeeds parses a file of hex seeds, one per line, skipping blanks.
func readHexSeeds(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	var seeds [][]byte
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		seed, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("seeds file line %d: %w", line, err)
		}
		seeds = append(seeds, seed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seeds file: %w", err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seeds file %s is empty", path)
	}
	return seeds, nil
}
