package keeper

import (
	"fmt"

	"cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// RegisterInvariants registers all compute module invariants
func RegisterInvariants(ir sdk.InvariantRegistry, k Keeper) {
	ir.RegisterRoute(types.ModuleName, "escrow-balance",
		EscrowBalanceInvariant(k))
	ir.RegisterRoute(types.ModuleName, "node-index",
		NodeIndexInvariant(k))
	ir.RegisterRoute(types.ModuleName, "node-task",
		NodeTaskInvariant(k))
	ir.RegisterRoute(types.ModuleName, "queue-consistency",
		QueueConsistencyInvariant(k))
}

// AllInvariants runs all invariants of the compute module
func AllInvariants(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		res, stop := EscrowBalanceInvariant(k)(ctx)
		if stop {
			return res, stop
		}
		res, stop = NodeIndexInvariant(k)(ctx)
		if stop {
			return res, stop
		}
		res, stop = NodeTaskInvariant(k)(ctx)
		if stop {
			return res, stop
		}
		return QueueConsistencyInvariant(k)(ctx)
	}
}

// EscrowBalanceInvariant checks that the module account holds at least every
// node stake plus the fee of every unresolved task
func EscrowBalanceInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		params, err := k.GetParams(ctx)
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "escrow-balance",
				fmt.Sprintf("error getting params: %v", err)), true
		}

		totalEscrow := math.ZeroInt()
		err = k.IterateNodes(ctx, func(node types.Node) (bool, error) {
			totalEscrow = totalEscrow.Add(node.Stake)
			return false, nil
		})
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "escrow-balance",
				fmt.Sprintf("error iterating nodes: %v", err)), true
		}

		err = k.IterateTasks(ctx, func(task types.Task) (bool, error) {
			if task.Status == types.TaskStatusPending || task.Status == types.TaskStatusStarted {
				totalEscrow = totalEscrow.Add(task.Fee)
			}
			return false, nil
		})
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "escrow-balance",
				fmt.Sprintf("error iterating tasks: %v", err)), true
		}

		var (
			broken bool
			msg    string
		)
		moduleBalance := k.bankKeeper.GetBalance(ctx, k.ModuleAddress(), params.Denom)
		if moduleBalance.Amount.LT(totalEscrow) {
			broken = true
			msg = fmt.Sprintf(
				"module balance below escrow\n"+
					"\ttotal escrow: %s\n"+
					"\tmodule balance: %s\n",
				totalEscrow, moduleBalance.Amount,
			)
		}

		return sdk.FormatInvariant(
			types.ModuleName, "escrow-balance",
			msg,
		), broken
	}
}

// NodeIndexInvariant checks that the gpu and vram indexes hold exactly the
// available nodes
func NodeIndexInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var (
			broken    bool
			msg       string
			available uint64
		)

		err := k.IterateNodes(ctx, func(node types.Node) (bool, error) {
			indexed := k.isIndexed(ctx, node)
			addr := sdk.MustAccAddressFromBech32(node.Address)
			inGroup := k.getStore(ctx).Has(GPUIndexKey(node.GPUID(), node.GPUVram, addr))
			if node.Status == types.NodeStatusAvailable {
				available++
			}
			if (node.Status == types.NodeStatusAvailable) != indexed || indexed != inGroup {
				broken = true
				msg += fmt.Sprintf("node %s is %s but indexed=%t grouped=%t\n", node.Address, node.Status, indexed, inGroup)
			}
			return false, nil
		})
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "node-index",
				fmt.Sprintf("error iterating nodes: %v", err)), true
		}

		if count := k.indexedCount(ctx); count != available {
			broken = true
			msg += fmt.Sprintf("vram index holds %d entries, %d nodes are available\n", count, available)
		}
		if count := k.availableCount(ctx); count != available {
			broken = true
			msg += fmt.Sprintf("available counter %d, %d nodes are available\n", count, available)
		}
		var grouped uint64
		for _, g := range k.gpuGroups(ctx, nil) {
			grouped += uint64(len(g.members))
		}
		if grouped != available {
			broken = true
			msg += fmt.Sprintf("gpu index holds %d entries, %d nodes are available\n", grouped, available)
		}

		return sdk.FormatInvariant(
			types.ModuleName, "node-index",
			msg,
		), broken
	}
}

// NodeTaskInvariant checks that busy nodes point at a live task holding an
// unreleased round for them, and that idle nodes point at none
func NodeTaskInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var (
			broken bool
			msg    string
		)

		err := k.IterateNodes(ctx, func(node types.Node) (bool, error) {
			if !node.Status.IsBusy() {
				if node.PendingTaskID != 0 {
					broken = true
					msg += fmt.Sprintf("idle node %s bound to task %d\n", node.Address, node.PendingTaskID)
				}
				return false, nil
			}
			task, err := k.GetTask(ctx, node.PendingTaskID)
			if err != nil {
				return true, err
			}
			idx, ok := task.RoundOf(node.Address)
			if !task.Exists() || !ok || task.Rounds[idx].Released {
				broken = true
				msg += fmt.Sprintf("busy node %s has no open round in task %d\n", node.Address, node.PendingTaskID)
			}
			return false, nil
		})
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "node-task",
				fmt.Sprintf("error iterating nodes: %v", err)), true
		}

		return sdk.FormatInvariant(
			types.ModuleName, "node-task",
			msg,
		), broken
	}
}

// QueueConsistencyInvariant checks that the queue holds exactly the pending
// tasks and that its size counter matches
func QueueConsistencyInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var (
			broken  bool
			msg     string
			pending uint64
		)

		store := k.getStore(ctx)
		err := k.IterateTasks(ctx, func(task types.Task) (bool, error) {
			if task.Status != types.TaskStatusPending {
				return false, nil
			}
			pending++
			if !store.Has(QueueKey(task.Fee, task.ID)) {
				broken = true
				msg += fmt.Sprintf("pending task %d is not queued\n", task.ID)
			}
			return false, nil
		})
		if err != nil {
			return sdk.FormatInvariant(types.ModuleName, "queue-consistency",
				fmt.Sprintf("error iterating tasks: %v", err)), true
		}

		var entries uint64
		iterator := storetypes.KVStorePrefixIterator(store, QueueKeyPrefix)
		defer iterator.Close()
		for ; iterator.Valid(); iterator.Next() {
			entries++
		}

		if entries != pending {
			broken = true
			msg += fmt.Sprintf("queue holds %d entries for %d pending tasks\n", entries, pending)
		}
		if size := k.QueueSize(ctx); size != entries {
			broken = true
			msg += fmt.Sprintf("queue size counter %d, entries %d\n", size, entries)
		}

		return sdk.FormatInvariant(
			types.ModuleName, "queue-consistency",
			msg,
		), broken
	}
}
