// Package keygen implements `titanh keygen`, generating the ed25519
// identities IPFS nodes register with.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"titanh/cmd/titanh/ui"
)

// Cmd returns the keygen command tree.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate IPFS node identities",
	}
	cmd.AddCommand(ipfsCmd())
	return cmd
}

func ipfsCmd() *cobra.Command {
	var (
		count int
		out   string
	)

	cmd := &cobra.Command{
		Use:   "ipfs",
		Short: "Generate ed25519 seeds for IPFS nodes",
		Long: `Generates ed25519 seeds and writes them hex-encoded, one per line, to
the output file. The printed public keys go into the pinning node's
--ipfs-peers-config and into the validator's register-node call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}

			var (
				seedLines []string
				rows      [][]string
			)
			for i := 0; i < count; i++ {
				seed := make([]byte, ed25519.SeedSize)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("generate seed: %w", err)
				}
				pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
				seedLines = append(seedLines, hex.EncodeToString(seed))
				rows = append(rows, []string{fmt.Sprint(i), hex.EncodeToString(pub)})
			}

			if err := os.WriteFile(out, []byte(strings.Join(seedLines, "\n")+"\n"), 0o600); err != nil {
				return fmt.Errorf("write seeds file: %w", err)
			}

			fmt.Println(ui.SuccessMsg("wrote %d seeds to %s", count, out))
			fmt.Println(ui.Table([]string{"idx", "public key"}, rows))
			fmt.Println(ui.Muted("keep the seeds file private; only the public keys are shared"))
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of identities to generate")
	cmd.Flags().StringVar(&out, "out", "ipfs-seeds.txt", "Output file for the hex seeds")
	return cmd
}
