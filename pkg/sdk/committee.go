package sdk

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// RegistrationMessage is the fixed payload every IPFS node signs to prove
// key ownership when it registers; the chain verifies the signature against
// the declared public key.
const RegistrationMessage = "Pinning node registration"

// Committee administers the pinning committee: sizing parameters (sudo) and
// node registration (validators).
type Committee struct {
	client *Client
}

// registrationWire mirrors the runtime's RegistrationMessage type.
type registrationWire struct {
	Key       [32]byte
	Signature [64]byte
}

// SetConfig submits the three committee sizing calls as one atomic batch:
// content replication factor, IPFS replicas per node, pinning nodes per
// validator.
func (c *Committee) SetConfig(ctx context.Context, repFactor, ipfsReplicas, nodesPerValidator uint32, level ConsistencyLevel) (types.Hash, error) {
	factor, err := c.client.chain.NewCall("PinningCommittee.set_content_replication_factor", types.U32(repFactor))
	if err != nil {
		return types.Hash{}, err
	}
	replicas, err := c.client.chain.NewCall("PinningCommittee.set_ipfs_replicas", types.U32(ipfsReplicas))
	if err != nil {
		return types.Hash{}, err
	}
	nodes, err := c.client.chain.NewCall("PinningCommittee.set_pinning_nodes_per_validator", types.U32(nodesPerValidator))
	if err != nil {
		return types.Hash{}, err
	}
	batch, err := c.client.chain.BatchAll([]types.Call{factor, replicas, nodes})
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, batch, level)
}

// RegisterNodes registers the IPFS identities of one pinning node, one
// register_ipfs_node call per seed, batched atomically. Each 32-byte seed
// derives an ed25519 pair that signs the fixed registration message.
func (c *Committee) RegisterNodes(ctx context.Context, ipfsSeeds [][]byte, level ConsistencyLevel) (types.Hash, error) {
	if len(ipfsSeeds) == 0 {
		return types.Hash{}, fmt.Errorf("no ipfs seeds provided")
	}
	calls := make([]types.Call, 0, len(ipfsSeeds))
	for i, seed := range ipfsSeeds {
		reg, err := registrationFromSeed(seed)
		if err != nil {
			return types.Hash{}, fmt.Errorf("seed %d: %w", i, err)
		}
		call, err := c.client.chain.NewCall("PinningCommittee.register_ipfs_node", reg)
		if err != nil {
			return types.Hash{}, err
		}
		calls = append(calls, call)
	}
	batch, err := c.client.chain.BatchAll(calls)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, batch, level)
}

// NodeLeave announces a node's departure, publishing the block its keytable
// was checkpointed at and the IPFS cids of its encoded rows.
func (c *Committee) NodeLeave(ctx context.Context, keytableAt uint32, rowCids []string, level ConsistencyLevel) (types.Hash, error) {
	cids := make([]types.Bytes, len(rowCids))
	for i, cid := range rowCids {
		cids[i] = types.Bytes(cid)
	}
	call, err := c.client.chain.NewCall("PinningCommittee.remove_pinning_node",
		types.U32(keytableAt), cids)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

func registrationFromSeed(seed []byte) (registrationWire, error) {
	if len(seed) != ed25519.SeedSize {
		return registrationWire{}, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	var reg registrationWire
	copy(reg.Key[:], pub)
	copy(reg.Signature[:], ed25519.Sign(priv, []byte(RegistrationMessage)))
	return reg, nil
}
