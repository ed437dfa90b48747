package types

import (
	"context"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// ComputeHooks defines the interface for compute module callbacks.
type ComputeHooks interface {
	// AfterTaskResolved is called once a task reaches Success or Aborted.
	AfterTaskResolved(ctx context.Context, task Task) error

	// AfterNodeSlashed is called when a node forfeits its stake.
	AfterNodeSlashed(ctx context.Context, node sdk.AccAddress, amount sdkmath.Int, reason string) error

	// AfterNodeKickedOut is called when repeated failures evict a node.
	AfterNodeKickedOut(ctx context.Context, node sdk.AccAddress) error
}

// MultiComputeHooks combines multiple compute hooks into a single hook that calls all of them.
type MultiComputeHooks []ComputeHooks

// NewMultiComputeHooks creates a new MultiComputeHooks from a list of hooks.
func NewMultiComputeHooks(hooks ...ComputeHooks) MultiComputeHooks {
	return hooks
}

// AfterTaskResolved calls AfterTaskResolved on all registered hooks.
func (h MultiComputeHooks) AfterTaskResolved(ctx context.Context, task Task) error {
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.AfterTaskResolved(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// AfterNodeSlashed calls AfterNodeSlashed on all registered hooks.
func (h MultiComputeHooks) AfterNodeSlashed(ctx context.Context, node sdk.AccAddress, amount sdkmath.Int, reason string) error {
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.AfterNodeSlashed(ctx, node, amount, reason); err != nil {
			return err
		}
	}
	return nil
}

// AfterNodeKickedOut calls AfterNodeKickedOut on all registered hooks.
func (h MultiComputeHooks) AfterNodeKickedOut(ctx context.Context, node sdk.AccAddress) error {
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.AfterNodeKickedOut(ctx, node); err != nil {
			return err
		}
	}
	return nil
}
