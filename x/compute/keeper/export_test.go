package keeper

import (
	"context"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// SetNodeForTesting writes a registry record without touching the indexes.
func (k Keeper) SetNodeForTesting(ctx context.Context, node types.Node) error {
	return k.setNode(ctx, node)
}

// DropFromIndexForTesting removes an available node from the GPU index only.
func (k Keeper) DropFromIndexForTesting(ctx context.Context, addr sdk.AccAddress) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	k.removeFromIndex(ctx, node)
	return nil
}

// SetQueueSizeForTesting overwrites the queue size counter.
func (k Keeper) SetQueueSizeForTesting(ctx context.Context, size uint64) {
	k.setQueueSize(ctx, size)
}

// AvailableCountForTesting returns the stored available node counter.
func (k Keeper) AvailableCountForTesting(ctx context.Context) uint64 {
	return k.availableCount(ctx)
}
