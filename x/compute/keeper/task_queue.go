package keeper

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
	"github.com/gpunet/gpunet/x/shared/abci"
)

// QueueEntry is one task waiting for capacity.
type QueueEntry struct {
	TaskID uint64
	Fee    math.Int
}

// QueueSize returns the number of queued tasks.
func (k Keeper) QueueSize(ctx context.Context) uint64 {
	bz := k.getStore(ctx).Get(QueueSizeKey)
	if bz == nil {
		return 0
	}
	return binary.BigEndian.Uint64(bz)
}

func (k Keeper) setQueueSize(ctx context.Context, size uint64) {
	k.getStore(ctx).Set(QueueSizeKey, uint64Bytes(size))
	k.metrics.TaskQueueSize.Set(float64(size))
}

// IterateQueue visits queued tasks from the highest fee down, oldest first
// among equal fees.
func (k Keeper) IterateQueue(ctx context.Context, cb func(entry QueueEntry) (stop bool, err error)) error {
	iterator := storetypes.KVStoreReversePrefixIterator(k.getStore(ctx), QueueKeyPrefix)
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		stop, err := cb(decodeQueueEntry(iterator.Key()))
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

// QueueTop returns the queued task that would be considered first.
func (k Keeper) QueueTop(ctx context.Context) (QueueEntry, bool) {
	iterator := storetypes.KVStoreReversePrefixIterator(k.getStore(ctx), QueueKeyPrefix)
	defer iterator.Close()
	if !iterator.Valid() {
		return QueueEntry{}, false
	}
	return decodeQueueEntry(iterator.Key()), true
}

// QueueMin returns the queued task that would be evicted first: the lowest
// fee, newest among equal fees.
func (k Keeper) QueueMin(ctx context.Context) (QueueEntry, bool) {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), QueueKeyPrefix)
	defer iterator.Close()
	if !iterator.Valid() {
		return QueueEntry{}, false
	}
	return decodeQueueEntry(iterator.Key()), true
}

func decodeQueueEntry(key []byte) QueueEntry {
	body := key[len(QueueKeyPrefix):]
	return QueueEntry{
		Fee:    math.NewIntFromBigInt(new(big.Int).SetBytes(body[:32])),
		TaskID: ^binary.BigEndian.Uint64(body[32:]),
	}
}

// pushQueue enqueues a pending task. A full queue admits the task only when
// its fee beats the minimum entry, which is then evicted. It reports false
// when the task was rejected.
func (k Keeper) pushQueue(ctx context.Context, params types.Params, task types.Task) (bool, error) {
	size := k.QueueSize(ctx)
	if size >= params.QueueSizeLimit {
		victim, ok := k.QueueMin(ctx)
		if !ok || task.Fee.LTE(victim.Fee) {
			return false, nil
		}
		if err := k.evictQueued(ctx, victim.TaskID); err != nil {
			return false, err
		}
		size = k.QueueSize(ctx)
	}
	k.getStore(ctx).Set(QueueKey(task.Fee, task.ID), uint64Bytes(task.ID))
	k.setQueueSize(ctx, size+1)
	return true, nil
}

// removeFromQueue drops a task from the queue if present.
func (k Keeper) removeFromQueue(ctx context.Context, task types.Task) {
	store := k.getStore(ctx)
	key := QueueKey(task.Fee, task.ID)
	if !store.Has(key) {
		return
	}
	store.Delete(key)
	if size := k.QueueSize(ctx); size > 0 {
		k.setQueueSize(ctx, size-1)
	}
}

// evictQueued aborts a queued task to make room for a higher fee.
func (k Keeper) evictQueued(ctx context.Context, taskID uint64) error {
	task, err := k.mustGetTask(ctx, taskID)
	if err != nil {
		return err
	}
	k.removeFromQueue(ctx, task)
	return k.abortTask(ctx, &task, types.AbortReasonEvicted)
}

// popEligible starts queued tasks, best first, while any of them can be
// satisfied by the available nodes. A task that cannot be satisfied does not
// block cheaper tasks with looser constraints. A task that fails to start
// stays queued; the failure is reported and does not fail the operation that
// freed the capacity.
func (k Keeper) popEligible(ctx context.Context) {
	for {
		started, err := k.popOne(ctx)
		if err != nil {
			k.suppressed.Report(ctx, "pop_queue", abci.SeverityMedium, err)
			return
		}
		if !started {
			return
		}
	}
}

// popOne starts the best satisfiable queued task. Its writes land only when
// the task started.
func (k Keeper) popOne(ctx context.Context) (bool, error) {
	if k.QueueSize(ctx) == 0 {
		return false, nil
	}
	params, err := k.GetParams(ctx)
	if err != nil {
		return false, err
	}
	if k.availableCount(ctx) < types.NumRounds {
		return false, nil
	}

	var next *types.Task
	err = k.IterateQueue(ctx, func(entry QueueEntry) (bool, error) {
		task, err := k.mustGetTask(ctx, entry.TaskID)
		if err != nil {
			return true, err
		}
		if _, err := k.candidatePools(ctx, params, task.TaskType, task.VramLimit); err != nil {
			if types.IsCapacityError(err) {
				return false, nil
			}
			return true, err
		}
		next = &task
		return true, nil
	})
	if err != nil || next == nil {
		return false, err
	}

	plan, err := k.planAssignment(ctx, params, *next)
	if err != nil {
		return false, fmt.Errorf("start queued task %d: %w", next.ID, err)
	}
	cacheCtx, write := sdk.UnwrapSDKContext(ctx).CacheContext()
	if err := k.assignTask(cacheCtx, params, next, plan, true); err != nil {
		return false, fmt.Errorf("start queued task %d: %w", next.ID, err)
	}
	k.removeFromQueue(cacheCtx, *next)
	write()
	return true, nil
}
