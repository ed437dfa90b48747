package keeper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"

	storeprefix "cosmossdk.io/store/prefix"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// The GPU index holds exactly the Available nodes, once under their gpu group
// (gpu id, vram) and once under their vram tier. Values carry the gpu name.

func (k Keeper) addToIndex(ctx context.Context, node types.Node) {
	addr := sdk.MustAccAddressFromBech32(node.Address)
	store := k.getStore(ctx)
	vramKey := VramIndexKey(node.GPUVram, addr)
	if !store.Has(vramKey) {
		k.setAvailableCount(ctx, k.availableCount(ctx)+1)
	}
	store.Set(GPUIndexKey(node.GPUID(), node.GPUVram, addr), []byte(node.GPUName))
	store.Set(vramKey, []byte(node.GPUName))
}

func (k Keeper) removeFromIndex(ctx context.Context, node types.Node) {
	addr := sdk.MustAccAddressFromBech32(node.Address)
	store := k.getStore(ctx)
	vramKey := VramIndexKey(node.GPUVram, addr)
	if store.Has(vramKey) {
		if n := k.availableCount(ctx); n > 0 {
			k.setAvailableCount(ctx, n-1)
		}
	}
	store.Delete(GPUIndexKey(node.GPUID(), node.GPUVram, addr))
	store.Delete(vramKey)
}

// isIndexed reports whether node is present in the vram tier index.
func (k Keeper) isIndexed(ctx context.Context, node types.Node) bool {
	addr := sdk.MustAccAddressFromBech32(node.Address)
	return k.getStore(ctx).Has(VramIndexKey(node.GPUVram, addr))
}

// availableByVram lists available nodes with at least minVram, ordered by
// vram then address.
func (k Keeper) availableByVram(ctx context.Context, minVram uint64) []sdk.AccAddress {
	store := storeprefix.NewStore(k.getStore(ctx), VramIndexPrefix)
	iterator := store.Iterator(uint64Bytes(minVram), nil)
	defer iterator.Close()

	var nodes []sdk.AccAddress
	for ; iterator.Valid(); iterator.Next() {
		nodes = append(nodes, sdk.AccAddress(bytes.Clone(iterator.Key()[8:])))
	}
	return nodes
}

// availableCount is the number of available nodes.
func (k Keeper) availableCount(ctx context.Context) uint64 {
	bz := k.getStore(ctx).Get(AvailableCountKey)
	if bz == nil {
		return 0
	}
	return binary.BigEndian.Uint64(bz)
}

func (k Keeper) setAvailableCount(ctx context.Context, n uint64) {
	k.getStore(ctx).Set(AvailableCountKey, uint64Bytes(n))
}

// indexedCount counts the entries of the vram tier index.
func (k Keeper) indexedCount(ctx context.Context) uint64 {
	iterator := storetypes.KVStorePrefixIterator(k.getStore(ctx), VramIndexPrefix)
	defer iterator.Close()

	var n uint64
	for ; iterator.Valid(); iterator.Next() {
		n++
	}
	return n
}

// gpuGroup is one (gpu id, vram) bucket of the index with its members in
// address order.
type gpuGroup struct {
	gpuID   []byte
	name    string
	vram    uint64
	members []sdk.AccAddress
}

func (g gpuGroup) info() types.GPUGroup {
	return types.GPUGroup{
		GPUID: hex.EncodeToString(g.gpuID),
		Name:  g.name,
		Vram:  g.vram,
		Count: uint64(len(g.members)),
	}
}

// gpuGroups walks the gpu index in key order and buckets it by group.
func (k Keeper) gpuGroups(ctx context.Context, prefix []byte) []gpuGroup {
	store := storeprefix.NewStore(k.getStore(ctx), GPUIndexPrefix)
	iterator := storetypes.KVStorePrefixIterator(store, prefix)
	defer iterator.Close()

	var groups []gpuGroup
	for ; iterator.Valid(); iterator.Next() {
		gpuID, vram, addr := splitGPUIndexKey(iterator.Key())
		n := len(groups)
		if n == 0 || !bytes.Equal(groups[n-1].gpuID, gpuID) || groups[n-1].vram != vram {
			groups = append(groups, gpuGroup{
				gpuID: bytes.Clone(gpuID),
				name:  string(iterator.Value()),
				vram:  vram,
			})
			n++
		}
		groups[n-1].members = append(groups[n-1].members, sdk.AccAddress(bytes.Clone(addr)))
	}
	return groups
}

// qualifyingGroups are the gpu groups with enough vram and members.
func (k Keeper) qualifyingGroups(ctx context.Context, minVram uint64, count int) []gpuGroup {
	var out []gpuGroup
	for _, g := range k.gpuGroups(ctx, nil) {
		if g.vram >= minVram && len(g.members) >= count {
			out = append(out, g)
		}
	}
	return out
}

// GetAvailableNodes lists the addresses of all available nodes.
func (k Keeper) GetAvailableNodes(ctx context.Context) []string {
	nodes := k.availableByVram(ctx, 0)
	out := make([]string, len(nodes))
	for i, addr := range nodes {
		out[i] = addr.String()
	}
	return out
}

// GetAvailableGPUs lists the gpu groups that have at least one available node.
func (k Keeper) GetAvailableGPUs(ctx context.Context) []types.GPUGroup {
	groups := k.gpuGroups(ctx, nil)
	out := make([]types.GPUGroup, len(groups))
	for i, g := range groups {
		out[i] = g.info()
	}
	return out
}

// FilterGPUID lists the gpu groups with at least vram and count available
// nodes. ErrNoAvailableNode is returned when none qualifies.
func (k Keeper) FilterGPUID(ctx context.Context, vram uint64, count uint64) ([]types.GPUGroup, error) {
	var out []types.GPUGroup
	for _, g := range k.qualifyingGroups(ctx, vram, int(types.SaturateUint64ToUint32(count))) {
		out = append(out, g.info())
	}
	if len(out) == 0 {
		return nil, types.ErrNoAvailableNode.Wrapf("no gpu group of %d nodes with vram >= %d", count, vram)
	}
	return out, nil
}

// FilterNodesByGPUID lists the available nodes whose gpu model hashes to
// gpuID. ErrNoAvailableNode is returned when there are none.
func (k Keeper) FilterNodesByGPUID(ctx context.Context, gpuID []byte) ([]string, error) {
	if len(gpuID) != gpuIDLength {
		return nil, types.ErrInvalidGPU.Wrapf("gpu id must be %d bytes, got %d", gpuIDLength, len(gpuID))
	}
	var out []string
	for _, g := range k.gpuGroups(ctx, gpuID) {
		for _, addr := range g.members {
			out = append(out, addr.String())
		}
	}
	if len(out) == 0 {
		return nil, types.ErrNoAvailableNode.Wrapf("gpu %x", gpuID)
	}
	return out, nil
}
