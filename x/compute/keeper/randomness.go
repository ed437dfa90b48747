package keeper

import (
	"bytes"
	"context"
	"encoding/binary"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// blockProofLength is header hash, height and unix time.
const blockProofLength = 32 + 8 + 8

// BlockEntropySource derives sampling seeds from the current block header.
// The proof is the header material the seed was hashed from, so any observer
// holding the block can recompute it.
type BlockEntropySource struct{}

var _ types.RandomnessSource = BlockEntropySource{}

// Seed returns keccak(proof || domain) and the proof.
func (BlockEntropySource) Seed(ctx context.Context, domain []byte) ([]byte, []byte, error) {
	proof := blockProof(sdk.UnwrapSDKContext(ctx))
	return types.Keccak256(proof, domain), proof, nil
}

// VerifySeed checks that proof is the current block's and seed follows from it.
func (BlockEntropySource) VerifySeed(ctx context.Context, domain, seed, proof []byte) bool {
	if len(proof) != blockProofLength {
		return false
	}
	if !bytes.Equal(proof, blockProof(sdk.UnwrapSDKContext(ctx))) {
		return false
	}
	return bytes.Equal(seed, types.Keccak256(proof, domain))
}

func blockProof(sdkCtx sdk.Context) []byte {
	proof := make([]byte, 0, blockProofLength)

	headerHash := make([]byte, 32)
	copy(headerHash, sdkCtx.HeaderHash())
	proof = append(proof, headerHash...)

	proof = binary.BigEndian.AppendUint64(proof, types.SaturateInt64ToUint64(sdkCtx.BlockHeight()))
	proof = binary.BigEndian.AppendUint64(proof, types.SaturateInt64ToUint64(sdkCtx.BlockTime().Unix()))
	return proof
}

// taskSeed draws and checks the sampling seed of a task.
func (k Keeper) taskSeed(ctx context.Context, taskID uint64) ([]byte, error) {
	domain := uint64Bytes(taskID)
	seed, proof, err := k.randomness.Seed(ctx, domain)
	if err != nil {
		return nil, types.ErrInvalidRandomness.Wrapf("task %d: %s", taskID, err)
	}
	if !k.randomness.VerifySeed(ctx, domain, seed, proof) {
		return nil, types.ErrInvalidRandomness.Wrapf("task %d: seed proof rejected", taskID)
	}
	return seed, nil
}
