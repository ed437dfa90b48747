package keeper

import (
	"context"
	"encoding/hex"
	"math/big"
	"strconv"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
	"github.com/gpunet/gpunet/x/shared/abci"
)

// majority returns the result disclosed by at least Quorum rounds.
func majority(task types.Task) ([]byte, bool) {
	counts := make(map[string]int, len(task.Rounds))
	for _, r := range task.Rounds {
		if r.Outcome != types.RoundDisclosed {
			continue
		}
		counts[string(r.Result)]++
		if counts[string(r.Result)] >= types.Quorum {
			return r.Result, true
		}
	}
	return nil, false
}

// exceedsResultCap reports whether the disclosed results already number more
// distinct values than the task accepts while none of them holds a quorum.
func exceedsResultCap(task types.Task) bool {
	if _, ok := majority(task); ok {
		return false
	}
	distinct := make(map[string]struct{}, len(task.Rounds))
	for _, r := range task.Rounds {
		if r.Outcome == types.RoundDisclosed {
			distinct[string(r.Result)] = struct{}{}
		}
	}
	return uint32(len(distinct)) > task.ResultCap
}

// resolveTask settles a started task. With a majority result the winners are
// paid and the task waits for their uploads, dissenting disclosures are
// slashed. Otherwise the task is aborted and its fee refunded. When cancelled,
// rounds that never disclosed are treated as timed out.
func (k Keeper) resolveTask(ctx context.Context, task *types.Task, cancelled bool) error {
	if cancelled {
		if err := k.timeOutOpenRounds(ctx, task); err != nil {
			return err
		}
	}

	result, ok := majority(*task)
	if !ok {
		reason := types.AbortReasonNoMajority
		switch {
		case exceedsResultCap(*task):
			reason = types.AbortReasonResultCap
		case task.Participants() < types.Quorum && task.CountOutcome(types.RoundDisclosed) == 0:
			reason = types.AbortReasonAllErrors
		case cancelled && task.CountOutcome(types.RoundDisclosed) == 0:
			reason = types.AbortReasonCancelled
		}
		return k.abortTask(ctx, task, reason)
	}
	return k.succeedTask(ctx, task, result)
}

// timeOutOpenRounds releases the nodes of rounds that neither disclosed nor
// reported an error. Before the reveal phase opens only rounds that never
// committed are charged with the timeout.
func (k Keeper) timeOutOpenRounds(ctx context.Context, task *types.Task) error {
	revealOpen := task.CommitmentsReady()
	for i := range task.Rounds {
		r := &task.Rounds[i]
		if r.Released || (r.Outcome != types.RoundPending && r.Outcome != types.RoundCommitted) {
			continue
		}
		addr, err := sdk.AccAddressFromBech32(r.Node)
		if err != nil {
			return err
		}
		timedOut := revealOpen || r.Outcome == types.RoundPending
		r.Verdict = types.VerdictReleased
		if timedOut {
			r.Verdict = types.VerdictTimedOut
		}
		r.Released = true
		if err := k.finishTask(ctx, addr); err != nil {
			return err
		}
		emit(ctx, types.EventTypeTaskNodeCancelled,
			sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
			sdk.NewAttribute(types.AttributeKeyNode, r.Node),
			sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(r.Index), 10)),
		)
		if !timedOut {
			continue
		}
		if err := k.applyOutcome(ctx, addr, types.QosOutcomeTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (k Keeper) succeedTask(ctx context.Context, task *types.Task, result []byte) error {
	sdkCtx := sdk.UnwrapSDKContext(ctx)
	params, err := k.GetParams(ctx)
	if err != nil {
		return err
	}

	var winners []*types.Round
	for i := range task.Rounds {
		r := &task.Rounds[i]
		if r.Outcome == types.RoundDisclosed && string(r.Result) == string(result) {
			r.Verdict = types.VerdictWinner
			winners = append(winners, r)
		}
	}

	shares := payoutShares(task.Fee, params.PayoutWeights, winners)
	paid := math.ZeroInt()
	for i, r := range winners {
		addr, err := sdk.AccAddressFromBech32(r.Node)
		if err != nil {
			return err
		}
		r.Payout = shares[i]
		if shares[i].IsPositive() {
			if err := k.payout(ctx, addr, shares[i], params.Denom); err != nil {
				return err
			}
			paid = paid.Add(shares[i])
		}
		emit(ctx, types.EventTypeTaskNodeSuccess,
			sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
			sdk.NewAttribute(types.AttributeKeyNode, r.Node),
			sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(r.Index), 10)),
			sdk.NewAttribute(types.AttributeKeyAmount, shares[i].String()),
		)
		if _, _, err := k.recordOutcome(ctx, addr, types.QosOutcomeSuccess); err != nil {
			return err
		}
	}

	for i := range task.Rounds {
		r := &task.Rounds[i]
		if r.Outcome != types.RoundDisclosed || r.Verdict == types.VerdictWinner {
			continue
		}
		addr, err := sdk.AccAddressFromBech32(r.Node)
		if err != nil {
			return err
		}
		forfeited, err := k.slashNode(ctx, addr, task.ID, SlashReasonMinorityResult)
		if err != nil {
			return err
		}
		r.Verdict = types.VerdictSlashed
		r.Released = true
		emit(ctx, types.EventTypeTaskNodeSlashed,
			sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
			sdk.NewAttribute(types.AttributeKeyNode, r.Node),
			sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(r.Index), 10)),
			sdk.NewAttribute(types.AttributeKeyAmount, forfeited.String()),
		)
		if _, _, err := k.recordOutcome(ctx, addr, types.QosOutcomeSlashed); err != nil {
			return err
		}
	}

	refund := task.Fee.Sub(paid)
	if err := k.refund(ctx, task, refund, params.Denom); err != nil {
		return err
	}

	task.Status = types.TaskStatusSuccess
	task.Deadline = sdkCtx.BlockTime().Add(params.TaskTimeout())
	if err := k.setTask(ctx, *task); err != nil {
		return err
	}
	emit(ctx, types.EventTypeTaskSuccess,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
		sdk.NewAttribute(types.AttributeKeyResult, hex.EncodeToString(result)),
		sdk.NewAttribute(types.AttributeKeyAmount, paid.String()),
		sdk.NewAttribute(types.AttributeKeyRefund, refund.String()),
	)
	k.metrics.RecordResolution("success", intToFloat(paid), intToFloat(refund))
	incrTaskCounter("success", task.TaskType)
	k.Logger(ctx).Info("task succeeded", "task_id", task.ID, "winners", len(winners), "paid", paid.String())
	k.afterTaskResolved(ctx, *task)
	return nil
}

// abortTask refunds the whole fee, frees every node still bound to the task
// and removes the record. It also serves tasks that were never stored.
func (k Keeper) abortTask(ctx context.Context, task *types.Task, reason string) error {
	params, err := k.GetParams(ctx)
	if err != nil {
		return err
	}

	for i := range task.Rounds {
		r := &task.Rounds[i]
		if r.Released {
			continue
		}
		addr, err := sdk.AccAddressFromBech32(r.Node)
		if err != nil {
			return err
		}
		if r.Verdict == types.VerdictNone {
			r.Verdict = types.VerdictReleased
		}
		r.Released = true
		if err := k.finishTask(ctx, addr); err != nil {
			return err
		}
	}

	if err := k.refund(ctx, task, task.Fee, params.Denom); err != nil {
		return err
	}
	stored := task.Status != types.TaskStatusNone && k.getStore(ctx).Has(TaskKey(task.ID))
	task.Status = types.TaskStatusAborted

	emit(ctx, types.EventTypeTaskAborted,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
		sdk.NewAttribute(types.AttributeKeyCreator, task.Creator),
		sdk.NewAttribute(types.AttributeKeyReason, reason),
		sdk.NewAttribute(types.AttributeKeyRefund, task.Fee.String()),
	)
	if stored {
		k.deleteTask(ctx, *task)
	}
	k.metrics.RecordResolution(reason, 0, intToFloat(task.Fee))
	incrTaskCounter("aborted", task.TaskType)
	k.Logger(ctx).Info("task aborted", "task_id", task.ID, "reason", reason)
	k.afterTaskResolved(ctx, *task)
	return nil
}

func (k Keeper) payout(ctx context.Context, to sdk.AccAddress, amount math.Int, denom string) error {
	coins := sdk.NewCoins(sdk.NewCoin(denom, amount))
	if err := k.bankKeeper.SendCoinsFromModuleToAccount(ctx, types.ModuleName, to, coins); err != nil {
		k.Logger(ctx).Error("failed to pay node", "node", to.String(), "error", err)
		return types.ErrTransferFailed.Wrapf("payout to %s: %s", to, err)
	}
	return nil
}

func (k Keeper) refund(ctx context.Context, task *types.Task, amount math.Int, denom string) error {
	if !amount.IsPositive() {
		return nil
	}
	creator, err := sdk.AccAddressFromBech32(task.Creator)
	if err != nil {
		return err
	}
	coins := sdk.NewCoins(sdk.NewCoin(denom, amount))
	if err := k.bankKeeper.SendCoinsFromModuleToAccount(ctx, types.ModuleName, creator, coins); err != nil {
		k.Logger(ctx).Error("failed to refund creator", "task_id", task.ID, "error", err)
		return types.ErrTransferFailed.Wrapf("refund task %d: %s", task.ID, err)
	}
	return nil
}

// payoutShares splits fee between winners in proportion to the weight of
// their disclosure rank. Integer remainders are left unpaid.
func payoutShares(fee math.Int, weights []uint64, winners []*types.Round) []math.Int {
	shares := make([]math.Int, len(winners))
	total := math.ZeroInt()
	for _, r := range winners {
		total = total.Add(math.NewIntFromUint64(rankWeight(weights, r.DisclosureRank)))
	}
	for i, r := range winners {
		if total.IsZero() {
			shares[i] = math.ZeroInt()
			continue
		}
		shares[i] = fee.Mul(math.NewIntFromUint64(rankWeight(weights, r.DisclosureRank))).Quo(total)
	}
	return shares
}

func rankWeight(weights []uint64, rank uint32) uint64 {
	if rank == 0 || int(rank) > len(weights) {
		return 0
	}
	return weights[rank-1]
}

func intToFloat(i math.Int) float64 {
	f, _ := new(big.Float).SetInt(i.BigInt()).Float64()
	return f
}

// Hook failures are logged; the resolution they observe is already final.
func (k Keeper) afterTaskResolved(ctx context.Context, task types.Task) {
	if k.hooks == nil {
		return
	}
	err := k.hooks.AfterTaskResolved(ctx, task)
	k.suppressed.Report(ctx, "after_task_resolved", abci.SeverityLow, err, "task_id", task.ID)
}
