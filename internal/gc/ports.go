package gc

import (
	"context"

	"titanh/internal/pinning"
)

// Phase is one step of the capsule teardown state machine.
type Phase int

const (
	PhaseOwnershipApprovals Phase = iota
	PhaseFollowers
	PhaseContainerKeys
	PhaseFinishDestroy
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseOwnershipApprovals:
		return "ownership-approvals"
	case PhaseFollowers:
		return "followers"
	case PhaseContainerKeys:
		return "container-keys"
	case PhaseFinishDestroy:
		return "finish-destroy"
	case PhaseExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Chain is the on-chain surface the collector drives.
// Production: adapter/chain.Client
// Testing: adapter/fake.Chain
type Chain interface {
	// SubscribeFinalized streams finalized blocks.
	SubscribeFinalized(ctx context.Context) (<-chan pinning.BlockInfo, error)
	// EventsAt returns a block's node events in on-chain order; capsule
	// destruction surfaces as remove-pin events.
	EventsAt(ctx context.Context, block pinning.BlockInfo) ([]pinning.NodeEvent, error)
	// SubmitDestroyStep submits the bounded deletion extrinsic for one of
	// the first three phases, waits for finalization, and reports whether
	// the chain marked the removal complete.
	SubmitDestroyStep(ctx context.Context, phase Phase, key pinning.CapsuleKey) (bool, error)
	// SubmitFinishDestroy submits the terminal teardown call.
	SubmitFinishDestroy(ctx context.Context, key pinning.CapsuleKey) error
}
