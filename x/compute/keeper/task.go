package keeper

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// CreateTask escrows the fee and starts the task on freshly sampled nodes, or
// queues it when the pool cannot satisfy it. A task rejected by a full queue
// is returned with status Aborted and its fee refunded. The seed is drawn and
// the nodes are sampled before any funds move.
func (k Keeper) CreateTask(ctx context.Context, creator sdk.AccAddress, spec types.TaskSpec) (types.Task, error) {
	sdkCtx := sdk.UnwrapSDKContext(ctx)

	if err := spec.ValidateBasic(); err != nil {
		return types.Task{}, err
	}
	params, err := k.GetParams(ctx)
	if err != nil {
		return types.Task{}, err
	}
	if err := k.checkFunds(ctx, creator, params.Denom, spec.Fee, types.ErrNotEnoughTokensForTask); err != nil {
		return types.Task{}, err
	}

	task := types.NewTask(k.PeekNextTaskID(ctx), creator.String(), spec, sdkCtx.BlockTime(), params.TaskTimeout())

	// Capacity errors queue the task; anything else rejects it untouched.
	plan, poolErr := k.planAssignment(ctx, params, task)
	if poolErr != nil && !types.IsCapacityError(poolErr) {
		return types.Task{}, poolErr
	}

	coins := sdk.NewCoins(sdk.NewCoin(params.Denom, spec.Fee))
	if err := k.bankKeeper.SendCoinsFromAccountToModule(ctx, creator, types.ModuleName, coins); err != nil {
		return types.Task{}, types.ErrTransferFailed.Wrapf("fee escrow: %s", err)
	}
	k.nextTaskID(ctx)

	emit(ctx, types.EventTypeTaskCreated,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
		sdk.NewAttribute(types.AttributeKeyTaskType, task.TaskType.String()),
		sdk.NewAttribute(types.AttributeKeyCreator, task.Creator),
		sdk.NewAttribute(types.AttributeKeyFee, task.Fee.String()),
		sdk.NewAttribute(types.AttributeKeyVramLimit, strconv.FormatUint(task.VramLimit, 10)),
	)
	k.metrics.TasksCreated.WithLabelValues(task.TaskType.String()).Inc()
	incrTaskCounter("created", task.TaskType)

	if poolErr == nil {
		if err := k.assignTask(ctx, params, &task, plan, false); err != nil {
			return types.Task{}, err
		}
		return task, nil
	}

	queued, err := k.pushQueue(ctx, params, task)
	if err != nil {
		return types.Task{}, err
	}
	if !queued {
		if err := k.abortTask(ctx, &task, types.AbortReasonQueueFull); err != nil {
			return types.Task{}, err
		}
		return task, nil
	}

	if err := k.setTask(ctx, task); err != nil {
		return types.Task{}, err
	}
	emit(ctx, types.EventTypeTaskPending,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
		sdk.NewAttribute(types.AttributeKeyTaskType, task.TaskType.String()),
		sdk.NewAttribute(types.AttributeKeyFee, task.Fee.String()),
		sdk.NewAttribute(types.AttributeKeyReason, poolErr.Error()),
	)
	k.Logger(ctx).Info("task queued", "task_id", task.ID, "fee", task.Fee.String(), "reason", poolErr.Error())
	return task, nil
}

// assignTask binds the planned nodes and opens the rounds. The deadline
// restarts from the assignment time.
func (k Keeper) assignTask(ctx context.Context, params types.Params, task *types.Task, plan assignment, fromQueue bool) error {
	sdkCtx := sdk.UnwrapSDKContext(ctx)

	rounds := make([]types.Round, 0, len(plan.nodes))
	for i, addr := range plan.nodes {
		if err := k.startTask(ctx, addr, task.ID); err != nil {
			return err
		}
		rounds = append(rounds, types.Round{
			Index:   uint32(i),
			Node:    addr.String(),
			Outcome: types.RoundPending,
			Payout:  math.ZeroInt(),
		})
	}
	task.Rounds = rounds
	task.Seed = plan.seed
	task.Status = types.TaskStatusStarted
	task.StartedAt = sdkCtx.BlockTime()
	task.Deadline = sdkCtx.BlockTime().Add(params.TaskTimeout())
	if err := k.setTask(ctx, *task); err != nil {
		return err
	}

	for _, r := range task.Rounds {
		emit(ctx, types.EventTypeTaskStarted,
			sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
			sdk.NewAttribute(types.AttributeKeyTaskType, task.TaskType.String()),
			sdk.NewAttribute(types.AttributeKeyNode, r.Node),
			sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(r.Index), 10)),
			sdk.NewAttribute(types.AttributeKeySeed, hex.EncodeToString(plan.seed)),
			sdk.NewAttribute(types.AttributeKeyQueued, strconv.FormatBool(fromQueue)),
		)
	}
	k.metrics.TasksStarted.WithLabelValues(strconv.FormatBool(fromQueue)).Inc()
	incrTaskCounter("started", task.TaskType)
	k.Logger(ctx).Info("task started", "task_id", task.ID, "from_queue", fromQueue)
	return nil
}

// roundOf loads a started task and the round addressed by node.
func (k Keeper) roundOf(ctx context.Context, node sdk.AccAddress, taskID uint64, round uint32) (types.Task, *types.Round, error) {
	task, err := k.mustGetTask(ctx, taskID)
	if err != nil {
		return types.Task{}, nil, err
	}
	r, err := task.Round(round)
	if err != nil {
		return types.Task{}, nil, err
	}
	if r.Node != node.String() {
		return types.Task{}, nil, types.ErrNotSelectedNode.Wrapf("round %d of task %d belongs to %s", round, taskID, r.Node)
	}
	return task, r, nil
}

// SubmitTaskResultCommitment records the commitment of a round.
func (k Keeper) SubmitTaskResultCommitment(ctx context.Context, node sdk.AccAddress, taskID uint64, round uint32, commitment, nonce []byte) error {
	task, r, err := k.roundOf(ctx, node, taskID, round)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusStarted {
		return types.ErrIllegalTaskStatus.Wrapf("task %d is %s", taskID, task.Status)
	}
	if r.Outcome != types.RoundPending {
		return types.ErrAlreadySubmitted.Wrapf("round %d of task %d is %s", round, taskID, r.Outcome)
	}
	if len(commitment) != types.CommitmentLength {
		return types.ErrInvalidCommitment.Wrapf("commitment must be %d bytes, got %d", types.CommitmentLength, len(commitment))
	}
	if len(nonce) == 0 {
		return types.ErrInvalidCommitment.Wrap("nonce cannot be empty")
	}
	if err := k.nonces.Use(ctx, node.String(), nonce); err != nil {
		return err
	}

	r.Commitment = commitment
	r.Nonce = nonce
	r.Outcome = types.RoundCommitted
	if err := k.setTask(ctx, task); err != nil {
		return err
	}

	emit(ctx, types.EventTypeTaskResultCommitment,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(taskID, 10)),
		sdk.NewAttribute(types.AttributeKeyNode, r.Node),
		sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(round), 10)),
	)
	k.metrics.Commitments.Inc()
	if task.CommitmentsReady() {
		k.emitCommitmentsReady(ctx, task)
	}
	return nil
}

func (k Keeper) emitCommitmentsReady(ctx context.Context, task types.Task) {
	emit(ctx, types.EventTypeTaskResultCommitmentsReady,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
	)
}

// DiscloseTaskResult reveals the result behind a round's commitment.
func (k Keeper) DiscloseTaskResult(ctx context.Context, node sdk.AccAddress, taskID uint64, round uint32, result []byte) error {
	task, r, err := k.roundOf(ctx, node, taskID, round)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusStarted {
		return types.ErrIllegalTaskStatus.Wrapf("task %d is %s", taskID, task.Status)
	}
	if !task.CommitmentsReady() {
		return types.ErrCommitmentsNotReady.Wrapf("task %d", taskID)
	}
	if r.Outcome != types.RoundCommitted {
		return types.ErrAlreadySubmitted.Wrapf("round %d of task %d is %s", round, taskID, r.Outcome)
	}
	params, err := k.GetParams(ctx)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return types.ErrInvalidResult.Wrap("result cannot be empty")
	}
	if uint64(len(result)) > params.MaxResultSize {
		return types.ErrInvalidResult.Wrapf("result of %d bytes exceeds %d", len(result), params.MaxResultSize)
	}
	if !types.VerifyCommitment(r.Commitment, result, r.Nonce) {
		return types.ErrMismatchResultAndCommitment.Wrapf("round %d of task %d", round, taskID)
	}

	task.Disclosures++
	r.Result = result
	r.Outcome = types.RoundDisclosed
	r.DisclosureRank = task.Disclosures

	emit(ctx, types.EventTypeTaskResultDisclosed,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(taskID, 10)),
		sdk.NewAttribute(types.AttributeKeyNode, r.Node),
		sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(round), 10)),
		sdk.NewAttribute(types.AttributeKeyResult, hex.EncodeToString(result)),
	)
	k.metrics.Disclosures.Inc()

	if task.AllDisclosed() || exceedsResultCap(task) {
		if err := k.resolveTask(ctx, &task, false); err != nil {
			return err
		}
		k.popEligible(ctx)
		return nil
	}
	return k.setTask(ctx, task)
}

// ReportTaskError marks a round as failed and releases its node.
func (k Keeper) ReportTaskError(ctx context.Context, node sdk.AccAddress, taskID uint64, round uint32) error {
	task, r, err := k.roundOf(ctx, node, taskID, round)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusStarted {
		return types.ErrIllegalTaskStatus.Wrapf("task %d is %s", taskID, task.Status)
	}
	if r.Outcome == types.RoundDisclosed || r.Outcome == types.RoundError {
		return types.ErrAlreadySubmitted.Wrapf("round %d of task %d is %s", round, taskID, r.Outcome)
	}
	wasReady := task.CommitmentsReady()

	r.Outcome = types.RoundError
	r.Verdict = types.VerdictReleased
	r.Released = true
	if err := k.finishTask(ctx, node); err != nil {
		return err
	}
	emit(ctx, types.EventTypeTaskErrorReported,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(taskID, 10)),
		sdk.NewAttribute(types.AttributeKeyNode, r.Node),
		sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(round), 10)),
	)
	k.metrics.ErrorReports.Inc()
	if err := k.applyOutcome(ctx, node, types.QosOutcomeError); err != nil {
		return err
	}

	switch {
	case task.Participants() < types.Quorum || task.AllDisclosed():
		if err := k.resolveTask(ctx, &task, false); err != nil {
			return err
		}
	default:
		if !wasReady && task.CommitmentsReady() {
			k.emitCommitmentsReady(ctx, task)
		}
		if err := k.setTask(ctx, task); err != nil {
			return err
		}
	}
	k.popEligible(ctx)
	return nil
}

// ReportResultsUploaded releases a winning node once it has delivered the
// result. The task record is removed after the last winner reports.
func (k Keeper) ReportResultsUploaded(ctx context.Context, node sdk.AccAddress, taskID uint64, round uint32) error {
	task, r, err := k.roundOf(ctx, node, taskID, round)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusSuccess {
		return types.ErrIllegalTaskStatus.Wrapf("task %d is %s", taskID, task.Status)
	}
	if r.Verdict != types.VerdictWinner {
		return types.ErrIllegalStatus.Wrapf("round %d of task %d is not a majority winner", round, taskID)
	}
	if r.Released {
		return types.ErrAlreadySubmitted.Wrapf("round %d of task %d already reported upload", round, taskID)
	}

	r.Released = true
	if err := k.finishTask(ctx, node); err != nil {
		return err
	}
	emit(ctx, types.EventTypeTaskResultUploaded,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(taskID, 10)),
		sdk.NewAttribute(types.AttributeKeyNode, r.Node),
		sdk.NewAttribute(types.AttributeKeyRound, strconv.FormatUint(uint64(round), 10)),
	)
	k.metrics.Uploads.Inc()
	if err := k.applyOutcome(ctx, node, types.QosOutcomeUpload); err != nil {
		return err
	}

	if task.AwaitingUpload() {
		if err := k.setTask(ctx, task); err != nil {
			return err
		}
	} else {
		k.deleteTask(ctx, task)
	}
	k.popEligible(ctx)
	return nil
}

// CancelTask resolves a task past its deadline from whatever rounds have
// disclosed. Only the creator or a selected node may cancel.
func (k Keeper) CancelTask(ctx context.Context, caller sdk.AccAddress, taskID uint64) error {
	task, err := k.mustGetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if caller.String() != task.Creator && !task.IsSelected(caller.String()) {
		return types.ErrUnauthorized.Wrapf("%s may not cancel task %d", caller, taskID)
	}
	now := sdk.UnwrapSDKContext(ctx).BlockTime()
	if !now.After(task.Deadline) {
		return types.ErrDeadlineNotExceeded.Wrapf("task %d deadline %s", taskID, task.Deadline)
	}

	switch task.Status {
	case types.TaskStatusPending:
		k.removeFromQueue(ctx, task)
		if err := k.abortTask(ctx, &task, types.AbortReasonCancelled); err != nil {
			return err
		}
	case types.TaskStatusStarted:
		if err := k.resolveTask(ctx, &task, true); err != nil {
			return err
		}
	case types.TaskStatusSuccess:
		if err := k.releaseStragglers(ctx, &task); err != nil {
			return err
		}
		k.deleteTask(ctx, task)
	default:
		return types.ErrIllegalTaskStatus.Wrapf("task %d is %s", taskID, task.Status)
	}
	k.popEligible(ctx)
	return nil
}

// releaseStragglers frees every unreleased node of a task as timed out.
func (k Keeper) releaseStragglers(ctx context.Context, task *types.Task) error {
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
		if err := k.applyOutcome(ctx, addr, types.QosOutcomeTimeout); err != nil {
			return err
		}
	}
	return nil
}

// GetTask returns the task with the given id, or the zero task when absent.
func (k Keeper) GetTask(ctx context.Context, id uint64) (types.Task, error) {
	var task types.Task
	if _, err := getJSON(k.getStore(ctx), TaskKey(id), &task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func (k Keeper) mustGetTask(ctx context.Context, id uint64) (types.Task, error) {
	task, err := k.GetTask(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	if !task.Exists() {
		return types.Task{}, types.ErrTaskNotExist.Wrapf("task %d", id)
	}
	return task, nil
}

func (k Keeper) setTask(ctx context.Context, task types.Task) error {
	if err := setJSON(k.getStore(ctx), TaskKey(task.ID), task); err != nil {
		return fmt.Errorf("store task %d: %w", task.ID, err)
	}
	return nil
}

// deleteTask garbage-collects a finished task.
func (k Keeper) deleteTask(ctx context.Context, task types.Task) {
	k.getStore(ctx).Delete(TaskKey(task.ID))
	emit(ctx, types.EventTypeTaskFinished,
		sdk.NewAttribute(types.AttributeKeyTaskID, strconv.FormatUint(task.ID, 10)),
	)
}

// IterateTasks visits every live task in id order.
func (k Keeper) IterateTasks(ctx context.Context, cb func(task types.Task) (stop bool, err error)) error {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), TaskKeyPrefix)
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		var task types.Task
		if err := jsonUnmarshal(iterator.Value(), &task); err != nil {
			return err
		}
		stop, err := cb(task)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

func (k Keeper) nextTaskID(ctx context.Context) uint64 {
	store := k.getStore(ctx)
	bz := store.Get(NextTaskIDKey)
	var nextID uint64 = 1
	if bz != nil {
		nextID = binary.BigEndian.Uint64(bz)
	}
	store.Set(NextTaskIDKey, uint64Bytes(nextID+1))
	return nextID
}

// PeekNextTaskID returns the id the next task will receive.
func (k Keeper) PeekNextTaskID(ctx context.Context) uint64 {
	bz := k.getStore(ctx).Get(NextTaskIDKey)
	if bz == nil {
		return 1
	}
	return binary.BigEndian.Uint64(bz)
}
