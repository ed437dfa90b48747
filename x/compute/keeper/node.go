package keeper

import (
	"context"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
	"github.com/gpunet/gpunet/x/shared/abci"
)

// Join registers addr as a worker, escrowing the minimum stake.
func (k Keeper) Join(ctx context.Context, addr sdk.AccAddress, gpuName string, vram uint64) error {
	sdkCtx := sdk.UnwrapSDKContext(ctx)

	if err := types.ValidateGPU(gpuName, vram); err != nil {
		return err
	}
	params, err := k.GetParams(ctx)
	if err != nil {
		return err
	}

	existing, found, err := k.getNode(ctx, addr)
	if err != nil {
		return err
	}
	from := types.NodeStatusQuit
	if found {
		from = existing.Status
	}
	to, err := from.OnJoin()
	if err != nil {
		return err
	}
	if found && existing.Stake.IsPositive() {
		return types.ErrStakeAlreadyLocked.Wrapf("node %s holds %s", addr, existing.Stake)
	}

	if err := k.checkFunds(ctx, addr, params.Denom, params.MinStake, types.ErrInsufficientStake); err != nil {
		return err
	}
	if err := k.bankKeeper.SendCoinsFromAccountToModule(ctx, addr, types.ModuleName, params.StakeCoins()); err != nil {
		return types.ErrTransferFailed.Wrapf("stake escrow: %s", err)
	}

	node := types.Node{
		Address:      addr.String(),
		Status:       to,
		GPUName:      gpuName,
		GPUVram:      vram,
		Stake:        params.MinStake,
		JoinedHeight: sdkCtx.BlockHeight(),
	}
	if err := k.setNode(ctx, node); err != nil {
		return err
	}
	k.addToIndex(ctx, node)
	if _, err := k.ensureQosRecord(ctx, addr, params); err != nil {
		return err
	}

	k.emitNodeStatus(ctx, node.Address, from, to,
		sdk.NewAttribute(types.AttributeKeyGPUName, gpuName),
		sdk.NewAttribute(types.AttributeKeyGPUVram, fmt.Sprintf("%d", vram)),
	)
	k.metrics.NodesJoined.WithLabelValues(gpuName).Inc()
	k.Logger(ctx).Info("node joined", "node", node.Address, "gpu", gpuName, "vram", vram)

	k.popEligible(ctx)
	return nil
}

// Pause takes an available node out of selection, or latches the request
// until a busy node finishes its task.
func (k Keeper) Pause(ctx context.Context, addr sdk.AccAddress) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	from := node.Status
	to, err := from.OnPause()
	if err != nil {
		return err
	}
	if from == types.NodeStatusAvailable {
		k.removeFromIndex(ctx, node)
	}
	node.Status = to
	if err := k.setNode(ctx, node); err != nil {
		return err
	}
	k.emitNodeStatus(ctx, node.Address, from, to)
	return nil
}

// Resume returns a paused node to the available pool.
func (k Keeper) Resume(ctx context.Context, addr sdk.AccAddress) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	from := node.Status
	to, err := from.OnResume()
	if err != nil {
		return err
	}
	node.Status = to
	if err := k.setNode(ctx, node); err != nil {
		return err
	}
	k.addToIndex(ctx, node)
	k.emitNodeStatus(ctx, node.Address, from, to)

	k.popEligible(ctx)
	return nil
}

// Quit leaves the network and returns the stake, or latches the request
// until a busy node finishes its task.
func (k Keeper) Quit(ctx context.Context, addr sdk.AccAddress) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	from := node.Status
	to, err := from.OnQuit()
	if err != nil {
		return err
	}
	if to == types.NodeStatusQuit {
		k.removeFromIndex(ctx, node)
		if err := k.releaseNode(ctx, addr, node); err != nil {
			return err
		}
	} else {
		node.Status = to
		if err := k.setNode(ctx, node); err != nil {
			return err
		}
	}
	k.emitNodeStatus(ctx, node.Address, from, to)
	return nil
}

// startTask binds an available node to a task.
func (k Keeper) startTask(ctx context.Context, addr sdk.AccAddress, taskID uint64) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return types.ErrNodeNotAvailable.Wrapf("node %s not joined", addr)
	}
	from := node.Status
	to, err := from.OnStartTask()
	if err != nil {
		return err
	}
	k.removeFromIndex(ctx, node)
	node.Status = to
	node.PendingTaskID = taskID
	if err := k.setNode(ctx, node); err != nil {
		return err
	}
	k.emitNodeStatus(ctx, node.Address, from, to)
	return nil
}

// finishTask unbinds a node from its task, honoring a latched pause or quit.
// The caller runs popEligible once all releases of the operation are done.
func (k Keeper) finishTask(ctx context.Context, addr sdk.AccAddress) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	from := node.Status
	to, err := from.OnFinishTask()
	if err != nil {
		return err
	}
	node.Status = to
	node.PendingTaskID = 0

	switch to {
	case types.NodeStatusQuit:
		if err := k.releaseNode(ctx, addr, node); err != nil {
			return err
		}
	case types.NodeStatusAvailable:
		if err := k.setNode(ctx, node); err != nil {
			return err
		}
		k.addToIndex(ctx, node)
	default:
		if err := k.setNode(ctx, node); err != nil {
			return err
		}
	}
	k.emitNodeStatus(ctx, node.Address, from, to)
	return nil
}

// slashNode forfeits the stake of a busy node and forces it to quit.
func (k Keeper) slashNode(ctx context.Context, addr sdk.AccAddress, taskID uint64, reason string) (math.Int, error) {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return math.ZeroInt(), err
	}
	from := node.Status
	to, err := from.OnSlash()
	if err != nil {
		return math.ZeroInt(), err
	}
	if _, err := k.recordSlash(ctx, addr, taskID, node.Stake, reason); err != nil {
		return math.ZeroInt(), err
	}
	k.getStore(ctx).Delete(NodeKey(addr))
	k.emitNodeStatus(ctx, node.Address, from, to)
	k.metrics.NodesSlashed.WithLabelValues(reason).Inc()
	k.Logger(ctx).Info("node slashed", "node", node.Address, "task_id", taskID, "stake", node.Stake.String())
	if k.hooks != nil {
		err := k.hooks.AfterNodeSlashed(ctx, addr, node.Stake, reason)
		k.suppressed.Report(ctx, "after_node_slashed", abci.SeverityLow, err, "node", node.Address)
	}
	return node.Stake, nil
}

// evictNode forces a chronically unreliable node to quit with its stake
// returned.
func (k Keeper) evictNode(ctx context.Context, addr sdk.AccAddress, streak uint32) error {
	node, err := k.mustGetNode(ctx, addr)
	if err != nil {
		return err
	}
	from := node.Status
	if from == types.NodeStatusAvailable {
		k.removeFromIndex(ctx, node)
	}
	if err := k.releaseNode(ctx, addr, node); err != nil {
		return err
	}
	k.emitNodeStatus(ctx, node.Address, from, types.NodeStatusQuit)
	emit(ctx, types.EventTypeNodeKickedOut,
		sdk.NewAttribute(types.AttributeKeyNode, node.Address),
		sdk.NewAttribute(types.AttributeKeyStreak, fmt.Sprintf("%d", streak)),
	)
	k.metrics.NodesKickedOut.Inc()
	k.Logger(ctx).Info("node kicked out", "node", node.Address, "negative_streak", streak)
	if k.hooks != nil {
		err := k.hooks.AfterNodeKickedOut(ctx, addr)
		k.suppressed.Report(ctx, "after_node_kicked_out", abci.SeverityLow, err, "node", node.Address)
	}
	return nil
}

// releaseNode returns the stake and removes the registry record.
func (k Keeper) releaseNode(ctx context.Context, addr sdk.AccAddress, node types.Node) error {
	params, err := k.GetParams(ctx)
	if err != nil {
		return err
	}
	if node.Stake.IsPositive() {
		coins := sdk.NewCoins(sdk.NewCoin(params.Denom, node.Stake))
		if err := k.bankKeeper.SendCoinsFromModuleToAccount(ctx, types.ModuleName, addr, coins); err != nil {
			sdk.UnwrapSDKContext(ctx).Logger().Error("failed to return stake", "node", node.Address, "error", err)
			return types.ErrTransferFailed.Wrapf("stake return: %s", err)
		}
	}
	k.getStore(ctx).Delete(NodeKey(addr))
	return nil
}

// checkFunds distinguishes a short balance from locked funds.
func (k Keeper) checkFunds(ctx context.Context, addr sdk.AccAddress, denom string, amount math.Int, short error) error {
	balance := k.bankKeeper.GetBalance(ctx, addr, denom)
	if balance.Amount.LT(amount) {
		return errorsmod.Wrapf(short, "balance %s%s below required %s%s", balance.Amount, denom, amount, denom)
	}
	spendable := k.bankKeeper.SpendableCoins(ctx, addr).AmountOf(denom)
	if spendable.LT(amount) {
		return types.ErrInsufficientAllowance.Wrapf("spendable %s%s below required %s%s", spendable, denom, amount, denom)
	}
	return nil
}

func (k Keeper) emitNodeStatus(ctx context.Context, addr string, from, to types.NodeStatus, extra ...sdk.Attribute) {
	attrs := append([]sdk.Attribute{
		sdk.NewAttribute(types.AttributeKeyNode, addr),
		sdk.NewAttribute(types.AttributeKeyFromStatus, from.String()),
		sdk.NewAttribute(types.AttributeKeyToStatus, to.String()),
	}, extra...)
	emit(ctx, types.EventTypeNodeStatusChanged, attrs...)
}

func (k Keeper) setNode(ctx context.Context, node types.Node) error {
	addr, err := sdk.AccAddressFromBech32(node.Address)
	if err != nil {
		return err
	}
	return setJSON(k.getStore(ctx), NodeKey(addr), node)
}

func (k Keeper) getNode(ctx context.Context, addr sdk.AccAddress) (types.Node, bool, error) {
	var node types.Node
	found, err := getJSON(k.getStore(ctx), NodeKey(addr), &node)
	return node, found, err
}

func (k Keeper) mustGetNode(ctx context.Context, addr sdk.AccAddress) (types.Node, error) {
	node, found, err := k.getNode(ctx, addr)
	if err != nil {
		return types.Node{}, err
	}
	if !found {
		return types.Node{}, types.ErrIllegalStatus.Wrapf("node %s has not joined", addr)
	}
	return node, nil
}

// GetNodeStatus returns the status of addr; unknown addresses are Quit.
func (k Keeper) GetNodeStatus(ctx context.Context, addr sdk.AccAddress) (types.NodeStatus, error) {
	node, found, err := k.getNode(ctx, addr)
	if err != nil || !found {
		return types.NodeStatusQuit, err
	}
	return node.Status, nil
}

// GetNodeInfo returns the registry record of addr joined with its QoS score.
func (k Keeper) GetNodeInfo(ctx context.Context, addr sdk.AccAddress) (types.NodeInfo, error) {
	node, found, err := k.getNode(ctx, addr)
	if err != nil {
		return types.NodeInfo{}, err
	}
	if !found {
		node = types.Node{Address: addr.String(), Status: types.NodeStatusQuit, Stake: math.ZeroInt()}
	}
	rec, _, err := k.GetQosRecord(ctx, addr)
	if err != nil {
		return types.NodeInfo{}, err
	}
	return types.NodeInfo{Node: node, QosScore: rec.Score}, nil
}

// GetNodeTask returns the id of the task addr is bound to, or zero.
func (k Keeper) GetNodeTask(ctx context.Context, addr sdk.AccAddress) (uint64, error) {
	node, _, err := k.getNode(ctx, addr)
	return node.PendingTaskID, err
}

// IterateNodes visits every registered node in address order.
func (k Keeper) IterateNodes(ctx context.Context, cb func(node types.Node) (stop bool, err error)) error {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), NodeKeyPrefix)
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		var node types.Node
		if err := jsonUnmarshal(iterator.Value(), &node); err != nil {
			return err
		}
		stop, err := cb(node)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}
