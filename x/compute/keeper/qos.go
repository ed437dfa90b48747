package keeper

import (
	"context"
	"fmt"

	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// GetQosRecord returns the QoS record of addr. Nodes without history get a
// fresh record at the initial score.
func (k Keeper) GetQosRecord(ctx context.Context, addr sdk.AccAddress) (types.QosRecord, bool, error) {
	var rec types.QosRecord
	found, err := getJSON(k.getStore(ctx), QosKey(addr), &rec)
	if err != nil {
		return types.QosRecord{}, false, err
	}
	if !found {
		params, err := k.GetParams(ctx)
		if err != nil {
			return types.QosRecord{}, false, err
		}
		return types.QosRecord{Address: addr.String(), Score: params.QosInitialScore}, false, nil
	}
	return rec, true, nil
}

func (k Keeper) setQosRecord(ctx context.Context, rec types.QosRecord) error {
	addr, err := sdk.AccAddressFromBech32(rec.Address)
	if err != nil {
		return err
	}
	return setJSON(k.getStore(ctx), QosKey(addr), rec)
}

// ensureQosRecord creates the record of a first-time node.
func (k Keeper) ensureQosRecord(ctx context.Context, addr sdk.AccAddress, params types.Params) (types.QosRecord, error) {
	rec, found, err := k.GetQosRecord(ctx, addr)
	if err != nil || found {
		return rec, err
	}
	rec.Score = params.QosInitialScore
	return rec, k.setQosRecord(ctx, rec)
}

// recordOutcome applies a task outcome to the QoS record of addr and reports
// whether the node crossed the kick-out threshold. The streak is reset when
// that happens.
func (k Keeper) recordOutcome(ctx context.Context, addr sdk.AccAddress, outcome types.QosOutcome) (evict bool, streak uint32, err error) {
	params, err := k.GetParams(ctx)
	if err != nil {
		return false, 0, err
	}
	rec, _, err := k.GetQosRecord(ctx, addr)
	if err != nil {
		return false, 0, err
	}

	switch outcome {
	case types.QosOutcomeSuccess:
		rec.Score = addClamped(rec.Score, params.QosSuccessDelta, params.QosMaxScore)
		rec.NegativeStreak = 0
		rec.Successes++
	case types.QosOutcomeUpload:
		rec.Score = addClamped(rec.Score, params.QosUploadDelta, params.QosMaxScore)
	case types.QosOutcomeError:
		rec.Score = subClamped(rec.Score, params.QosErrorPenalty)
		rec.NegativeStreak++
		rec.Failures++
	case types.QosOutcomeTimeout:
		rec.Score = subClamped(rec.Score, params.QosTimeoutPenalty)
		rec.NegativeStreak++
		rec.Failures++
	case types.QosOutcomeSlashed:
		rec.Score = 0
		rec.NegativeStreak = 0
		rec.Slashes++
	default:
		return false, 0, fmt.Errorf("unknown qos outcome %d", outcome)
	}

	streak = rec.NegativeStreak
	if outcome.IsNegative() && params.KickoutThreshold > 0 && streak >= params.KickoutThreshold {
		evict = true
		rec.NegativeStreak = 0
	}
	if err := k.setQosRecord(ctx, rec); err != nil {
		return false, 0, err
	}

	emit(ctx, types.EventTypeQosUpdated,
		sdk.NewAttribute(types.AttributeKeyNode, rec.Address),
		sdk.NewAttribute(types.AttributeKeyReason, outcome.String()),
		sdk.NewAttribute(types.AttributeKeyScore, fmt.Sprintf("%d", rec.Score)),
		sdk.NewAttribute(types.AttributeKeyStreak, fmt.Sprintf("%d", rec.NegativeStreak)),
	)
	k.metrics.QosScore.WithLabelValues(rec.Address).Set(float64(rec.Score))
	return evict, streak, nil
}

// applyOutcome records outcome and evicts the node when its streak demands
// it. Eviction only touches nodes that are still registered and not busy with
// another task.
func (k Keeper) applyOutcome(ctx context.Context, addr sdk.AccAddress, outcome types.QosOutcome) error {
	evict, streak, err := k.recordOutcome(ctx, addr, outcome)
	if err != nil || !evict {
		return err
	}
	node, found, err := k.getNode(ctx, addr)
	if err != nil || !found || node.Status.IsBusy() {
		return err
	}
	return k.evictNode(ctx, addr, streak)
}

// IterateQosRecords visits every QoS record in address order.
func (k Keeper) IterateQosRecords(ctx context.Context, cb func(rec types.QosRecord) (stop bool, err error)) error {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), QosKeyPrefix)
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		var rec types.QosRecord
		if err := jsonUnmarshal(iterator.Value(), &rec); err != nil {
			return err
		}
		stop, err := cb(rec)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

func addClamped(score, delta, limit uint64) uint64 {
	if score >= limit || delta >= limit-score {
		return limit
	}
	return score + delta
}

func subClamped(score, delta uint64) uint64 {
	if delta >= score {
		return 0
	}
	return score - delta
}
