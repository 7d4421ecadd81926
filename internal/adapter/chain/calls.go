package chain

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/gc"
	"titanh/internal/pinning"
)

// Level is the writer-side consistency of an extrinsic submission.
type Level uint8

const (
	// LevelLow returns after transaction-pool inclusion.
	LevelLow Level = iota
	// LevelMedium waits for the transaction to land in a block.
	LevelMedium
	// LevelHigh waits for the transaction's block to finalize.
	LevelHigh
)

// NewCall builds a runtime call by its "Pallet.call" name.
func (c *Client) NewCall(name string, args ...interface{}) (types.Call, error) {
	call, err := types.NewCall(c.meta, name, args...)
	if err != nil {
		return types.Call{}, fmt.Errorf("build call %s: %w", name, err)
	}
	return call, nil
}

// BatchAll wraps calls in Utility.batch_all so they apply atomically.
func (c *Client) BatchAll(calls []types.Call) (types.Call, error) {
	return c.NewCall("Utility.batch_all", calls)
}

// Submit signs and submits a call at the requested consistency level and
// returns the transaction hash.
func (c *Client) Submit(ctx context.Context, call types.Call, level Level) (types.Hash, error) {
	if level == LevelLow {
		return c.submitAsync(call)
	}
	txHash, _, err := c.submitAndWatch(ctx, call, level == LevelHigh)
	return txHash, err
}

// SubmitWaitFinalized signs and submits a call, waits for finalization, and
// returns the hash of the including block.
func (c *Client) SubmitWaitFinalized(ctx context.Context, call types.Call) (types.Hash, error) {
	_, blockHash, err := c.submitAndWatch(ctx, call, true)
	return blockHash, err
}

func (c *Client) signedExtrinsic(call types.Call) (types.Extrinsic, error) {
	ext := types.NewExtrinsic(call)

	accountKey, err := types.CreateStorageKey(c.meta, "System", "Account", c.kp.PublicKey)
	if err != nil {
		return ext, fmt.Errorf("build account storage key: %w", err)
	}
	var account types.AccountInfo
	if _, err := c.api.RPC.State.GetStorageLatest(accountKey, &account); err != nil {
		return ext, fmt.Errorf("read account nonce: %w", err)
	}

	opts := types.SignatureOptions{
		BlockHash:          c.genesisHash,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        c.genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(account.Nonce)),
		SpecVersion:        c.rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: c.rv.TransactionVersion,
	}
	if err := ext.Sign(c.kp, opts); err != nil {
		return ext, fmt.Errorf("sign extrinsic: %w", err)
	}
	return ext, nil
}

func (c *Client) submitAsync(call types.Call) (types.Hash, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	ext, err := c.signedExtrinsic(call)
	if err != nil {
		return types.Hash{}, err
	}
	txHash, err := c.api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return types.Hash{}, fmt.Errorf("submit extrinsic: %w", err)
	}
	return txHash, nil
}

// submitAndWatch submits and waits for in-block or finalized status,
// returning the transaction hash and the including block's hash.
func (c *Client) submitAndWatch(ctx context.Context, call types.Call, finalized bool) (types.Hash, types.Hash, error) {
	c.nonceMu.Lock()
	ext, err := c.signedExtrinsic(call)
	if err != nil {
		c.nonceMu.Unlock()
		return types.Hash{}, types.Hash{}, err
	}
	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	c.nonceMu.Unlock()
	if err != nil {
		return types.Hash{}, types.Hash{}, fmt.Errorf("submit extrinsic: %w", err)
	}
	defer sub.Unsubscribe()

	txHash, err := extrinsicHash(ext)
	if err != nil {
		return types.Hash{}, types.Hash{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return types.Hash{}, types.Hash{}, ctx.Err()
		case status, ok := <-sub.Chan():
			if !ok {
				return types.Hash{}, types.Hash{}, fmt.Errorf("extrinsic watch closed")
			}
			switch {
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return types.Hash{}, types.Hash{}, fmt.Errorf("extrinsic rejected by pool")
			case status.IsInBlock && !finalized:
				return txHash, status.AsInBlock, nil
			case status.IsFinalized:
				return txHash, status.AsFinalized, nil
			}
		}
	}
}

func extrinsicHash(ext types.Extrinsic) (types.Hash, error) {
	enc, err := codecEncode(ext)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode extrinsic: %w", err)
	}
	return types.NewHash(blake2Hash(enc)), nil
}

// --- garbage-collector surface ---

func destroyCallName(phase gc.Phase) (string, error) {
	switch phase {
	case gc.PhaseOwnershipApprovals:
		return "Capsules.destroy_capsule_ownership_approvals", nil
	case gc.PhaseFollowers:
		return "Capsules.destroy_capsule_followers", nil
	case gc.PhaseContainerKeys:
		return "Capsules.destroy_capsule_container_keys", nil
	default:
		return "", fmt.Errorf("phase %s has no deletion call", phase)
	}
}

// SubmitDestroyStep submits one bounded deletion extrinsic, waits for
// finalization and reads the chain's removal_completion answer from the
// block's CapsuleItemsDeleted event.
func (c *Client) SubmitDestroyStep(ctx context.Context, phase gc.Phase, key pinning.CapsuleKey) (bool, error) {
	name, err := destroyCallName(phase)
	if err != nil {
		return false, err
	}
	call, err := c.NewCall(name, types.NewH256(key[:]))
	if err != nil {
		return false, err
	}
	blockHash, err := c.SubmitWaitFinalized(ctx, call)
	if err != nil {
		return false, err
	}

	parsed, err := c.parsedEventsAt(ctx, pinning.Hash(blockHash))
	if err != nil {
		return false, err
	}
	done, found := itemsDeleted(parsed, key)
	if !found {
		return false, fmt.Errorf("no deletion event for capsule %s in block %#x", key, blockHash)
	}
	return done, nil
}

// SubmitFinishDestroy submits the terminal teardown call.
func (c *Client) SubmitFinishDestroy(ctx context.Context, key pinning.CapsuleKey) error {
	call, err := c.NewCall("Capsules.finish_destroy_capsule", types.NewH256(key[:]))
	if err != nil {
		return err
	}
	_, err = c.SubmitWaitFinalized(ctx, call)
	return err
}
