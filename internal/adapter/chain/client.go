// Package chain adapts the substrate node RPC to the interfaces the pinning
// runtime and the garbage collector consume. SCALE wire types are treated as
// opaque codecs: encodings must match the runtime byte for byte.
package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"golang.org/x/crypto/blake2b"

	"titanh/internal/pinning"
)

// ss58Network is the address encoding of the chain.
const ss58Network = 42

// retryInterval spaces RPC retries.
const retryInterval = time.Second

// Client wraps the substrate RPC connection with the chain's metadata and
// the caller's keyring.
type Client struct {
	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
	kp   signature.KeyringPair

	genesisHash types.Hash
	rv          *types.RuntimeVersion

	eventRegistry registry.EventRegistry

	retries uint64

	// nonce serialises extrinsic signing per keyring.
	nonceMu sync.Mutex
}

// New connects to the chain RPC endpoint and loads metadata. seedPhrase
// signs every extrinsic the client submits; retries is the per-call retry
// budget.
func New(ctx context.Context, rpcURL, seedPhrase string, retries uint8) (*Client, error) {
	kp, err := signature.KeyringPairFromSecret(seedPhrase, ss58Network)
	if err != nil {
		return nil, fmt.Errorf("derive keyring from seed: %w", err)
	}

	api, err := gsrpc.NewSubstrateAPI(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect to chain rpc %s: %w", rpcURL, err)
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("fetch chain metadata: %w", err)
	}

	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("fetch genesis hash: %w", err)
	}

	rv, err := api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, fmt.Errorf("fetch runtime version: %w", err)
	}

	eventRegistry, err := registry.NewFactory().CreateEventRegistry(meta)
	if err != nil {
		return nil, fmt.Errorf("build event registry: %w", err)
	}

	return &Client{
		api:           api,
		meta:          meta,
		kp:            kp,
		genesisHash:   genesisHash,
		rv:            rv,
		eventRegistry: eventRegistry,
		retries:       uint64(retries),
	}, nil
}

// PublicKey returns the signer's raw public key.
func (c *Client) PublicKey() []byte { return c.kp.PublicKey }

// withRetry runs op within the client's retry budget.
func (c *Client) withRetry(ctx context.Context, what string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), c.retries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("chain %s: %w", what, err)
	}
	return nil
}

// LatestFinalized returns the chain's finalized tip.
func (c *Client) LatestFinalized(ctx context.Context) (pinning.BlockInfo, error) {
	var info pinning.BlockInfo
	err := c.withRetry(ctx, "latest finalized", func() error {
		hash, err := c.api.RPC.Chain.GetFinalizedHead()
		if err != nil {
			return err
		}
		header, err := c.api.RPC.Chain.GetHeader(hash)
		if err != nil {
			return err
		}
		info = pinning.BlockInfo{Number: pinning.BlockNumber(header.Number), Hash: pinning.Hash(hash)}
		return nil
	})
	return info, err
}

// BlockHash resolves a block number to its hash.
func (c *Client) BlockHash(ctx context.Context, number pinning.BlockNumber) (pinning.Hash, error) {
	var out pinning.Hash
	err := c.withRetry(ctx, "block hash", func() error {
		hash, err := c.api.RPC.Chain.GetBlockHash(uint64(number))
		if err != nil {
			return err
		}
		out = pinning.Hash(hash)
		return nil
	})
	return out, err
}

// SubscribeFinalized streams finalized blocks until ctx is cancelled. The
// returned channel closes when the underlying subscription dies.
func (c *Client) SubscribeFinalized(ctx context.Context) (<-chan pinning.BlockInfo, error) {
	sub, err := c.api.RPC.Chain.SubscribeFinalizedHeads()
	if err != nil {
		return nil, fmt.Errorf("subscribe finalized heads: %w", err)
	}

	out := make(chan pinning.BlockInfo)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case header, ok := <-sub.Chan():
				if !ok {
					return
				}
				number := pinning.BlockNumber(header.Number)
				hash, err := c.BlockHash(ctx, number)
				if err != nil {
					// The consumer treats a closed channel as fatal and the
					// process restarts from the checkpoint.
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- pinning.BlockInfo{Number: number, Hash: hash}:
				}
			}
		}
	}()
	return out, nil
}

// DeriveNodeID computes a pinning node's ring identifier:
// blake2b-256(validator_pubkey || scale(index) || ipfs_peer_pubkeys...).
func DeriveNodeID(validatorPub []byte, index uint32, peerPubs [][]byte) pinning.NodeID {
	h, _ := blake2b.New256(nil)
	h.Write(validatorPub)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	h.Write(idx[:])
	for _, pub := range peerPubs {
		h.Write(pub)
	}
	var id pinning.NodeID
	copy(id[:], h.Sum(nil))
	return id
}
