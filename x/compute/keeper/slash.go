package keeper

import (
	"context"
	"encoding/binary"

	"cosmossdk.io/math"
	storeprefix "cosmossdk.io/store/prefix"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/query"

	"github.com/gpunet/gpunet/x/compute/types"
)

// Slash reasons recorded on SlashRecord.
const (
	SlashReasonMinorityResult = "minority_result"
)

func (k Keeper) nextSlashID(ctx context.Context) uint64 {
	store := k.getStore(ctx)
	bz := store.Get(NextSlashIDKey)
	var nextID uint64 = 1
	if bz != nil {
		nextID = binary.BigEndian.Uint64(bz)
	}
	store.Set(NextSlashIDKey, uint64Bytes(nextID+1))
	return nextID
}

func (k Keeper) peekNextSlashID(ctx context.Context) uint64 {
	bz := k.getStore(ctx).Get(NextSlashIDKey)
	if bz == nil {
		return 1
	}
	return binary.BigEndian.Uint64(bz)
}

func (k Keeper) setSlashRecord(ctx context.Context, record types.SlashRecord) error {
	store := k.getStore(ctx)
	if err := setJSON(store, SlashRecordKey(record.ID), record); err != nil {
		return err
	}

	// index by node
	node, err := sdk.AccAddressFromBech32(record.Node)
	if err != nil {
		return err
	}
	store.Set(SlashRecordByNodeKey(node, record.ID), []byte{})
	return nil
}

// GetSlashRecord returns the slash record with the given id.
func (k Keeper) GetSlashRecord(ctx context.Context, id uint64) (types.SlashRecord, bool, error) {
	var record types.SlashRecord
	found, err := getJSON(k.getStore(ctx), SlashRecordKey(id), &record)
	return record, found, err
}

func (k Keeper) recordSlash(ctx context.Context, node sdk.AccAddress, taskID uint64, amount math.Int, reason string) (uint64, error) {
	sdkCtx := sdk.UnwrapSDKContext(ctx)
	record := types.SlashRecord{
		ID:     k.nextSlashID(ctx),
		Node:   node.String(),
		TaskID: taskID,
		Amount: amount,
		Reason: reason,
		Height: sdkCtx.BlockHeight(),
		Time:   sdkCtx.BlockTime(),
	}
	if err := k.setSlashRecord(ctx, record); err != nil {
		return 0, err
	}
	return record.ID, nil
}

// ListSlashRecords paginates slash records globally or by node if an address is provided.
func (k Keeper) ListSlashRecords(ctx context.Context, node sdk.AccAddress, pageReq *query.PageRequest) ([]types.SlashRecord, *query.PageResponse, error) {
	store := k.getStore(ctx)
	var (
		records []types.SlashRecord
		pageRes *query.PageResponse
		err     error
	)

	if node.Empty() {
		view := storeprefix.NewStore(store, SlashRecordKeyPrefix)
		pageRes, err = query.Paginate(view, pageReq, func(key []byte, value []byte) error {
			var rec types.SlashRecord
			if err := jsonUnmarshal(value, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	} else {
		view := storeprefix.NewStore(store, SlashRecordsByNodeKey(node))
		pageRes, err = query.Paginate(view, pageReq, func(key []byte, value []byte) error {
			if len(key) < 8 {
				return nil
			}
			rec, found, err := k.GetSlashRecord(ctx, binary.BigEndian.Uint64(key[len(key)-8:]))
			if err != nil {
				return err
			}
			if !found {
				return types.ErrCorruptedState.Wrapf("dangling slash index for %s", node)
			}
			records = append(records, rec)
			return nil
		})
	}

	if err != nil {
		return nil, nil, err
	}

	return records, pageRes, nil
}

func (k Keeper) iterateSlashRecords(ctx context.Context, cb func(record types.SlashRecord) (stop bool, err error)) error {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), SlashRecordKeyPrefix)
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		var record types.SlashRecord
		if err := jsonUnmarshal(iterator.Value(), &record); err != nil {
			return err
		}
		stop, err := cb(record)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}
