package sdk

import (
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/adapter/chain"
)

func sizeOf(data []byte) *big.Int {
	return new(big.Int).SetUint64(uint64(len(data)))
}

// ConsistencyLevel selects how long a write waits: pool inclusion, block
// inclusion or finalization.
type ConsistencyLevel = chain.Level

const (
	// Low returns after transaction-pool inclusion.
	Low = chain.LevelLow
	// Medium waits for block inclusion. The default.
	Medium = chain.LevelMedium
	// High waits for finalization.
	High = chain.LevelHigh
)

// FollowersStatus mirrors the runtime's capsule follower policy.
type FollowersStatus uint8

const (
	FollowersNone FollowersStatus = iota
	FollowersBasic
	FollowersPrivileged
	FollowersAll
)

// DefaultRetentionBlocks keeps content pinned for roughly a month of
// 3-second blocks unless the caller chooses otherwise.
const DefaultRetentionBlocks = 864_000

// PutOptions tune a capsule upload.
type PutOptions struct {
	// RetentionBlocks added to the current finalized height give the
	// capsule's ending retention block. Zero means DefaultRetentionBlocks.
	RetentionBlocks uint32
	Followers       FollowersStatus
	Level           ConsistencyLevel
}

func (o PutOptions) retention() uint32 {
	if o.RetentionBlocks == 0 {
		return DefaultRetentionBlocks
	}
	return o.RetentionBlocks
}

// capsuleUploadData mirrors the runtime's CapsuleUploadData layout.
type capsuleUploadData struct {
	Cid                  types.Bytes
	Size                 types.U128
	EndingRetentionBlock types.U32
	FollowersStatus      uint8
	EncodedMetadata      types.Bytes
}

// optionAccountID is a SCALE Option<AccountId>.
type optionAccountID struct {
	HasValue bool
	Value    types.AccountID
}

func (o optionAccountID) Encode(encoder scale.Encoder) error {
	if !o.HasValue {
		return encoder.PushByte(0)
	}
	if err := encoder.PushByte(1); err != nil {
		return err
	}
	return encoder.Encode(o.Value)
}

func (o *optionAccountID) Decode(decoder scale.Decoder) error {
	b, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	if b == 0 {
		o.HasValue = false
		return nil
	}
	o.HasValue = true
	return decoder.Decode(&o.Value)
}
