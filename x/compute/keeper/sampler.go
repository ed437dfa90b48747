package keeper

import (
	"context"
	"encoding/binary"
	"math/big"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// groupDomain separates the group pick from the member draws of a seed.
var groupDomain = []byte("gpu-group")

// Sample draws k distinct members of pool without replacement. Draw i takes
// index keccak(seed || i) mod the remaining size and swap-removes the pick, so
// the result depends only on the seed and the order of pool. pool is not
// modified.
func Sample(seed []byte, pool []sdk.AccAddress, k int) ([]sdk.AccAddress, error) {
	if k < 0 || len(pool) < k {
		return nil, types.ErrNoAvailableNode.Wrapf("need %d nodes, %d candidates", k, len(pool))
	}
	remaining := make([]sdk.AccAddress, len(pool))
	copy(remaining, pool)

	selected := make([]sdk.AccAddress, 0, k)
	for i := 0; i < k; i++ {
		idx := drawIndex(seed, uint64(i), len(remaining))
		selected = append(selected, remaining[idx])
		last := len(remaining) - 1
		remaining[idx] = remaining[last]
		remaining = remaining[:last]
	}
	return selected, nil
}

func drawIndex(seed []byte, draw uint64, n int) int {
	h := types.Keccak256(seed, binary.BigEndian.AppendUint64(nil, draw))
	mod := new(big.Int).Mod(new(big.Int).SetBytes(h), big.NewInt(int64(n)))
	return int(mod.Int64())
}

// pickPool chooses one of pools with probability proportional to its size.
func pickPool(seed []byte, pools [][]sdk.AccAddress) []sdk.AccAddress {
	if len(pools) == 1 {
		return pools[0]
	}
	total := 0
	for _, p := range pools {
		total += len(p)
	}
	h := types.Keccak256(seed, groupDomain)
	r := new(big.Int).Mod(new(big.Int).SetBytes(h), big.NewInt(int64(total))).Int64()
	for _, p := range pools {
		if r < int64(len(p)) {
			return p
		}
		r -= int64(len(p))
	}
	return pools[len(pools)-1]
}

// candidatePools resolves the node pools a task may be sampled from. Tasks
// needing identical hardware get one pool per qualifying gpu group; otherwise,
// or on fallback, the single vram tier pool is returned.
func (k Keeper) candidatePools(ctx context.Context, params types.Params, taskType types.TaskType, vramLimit uint64) ([][]sdk.AccAddress, error) {
	if n := k.availableCount(ctx); n < types.NumRounds {
		return nil, types.ErrNoAvailableNode.Wrapf("%d available nodes, need %d", n, types.NumRounds)
	}

	if taskType.RequiresIdenticalGPU() {
		groups := k.qualifyingGroups(ctx, vramLimit, types.NumRounds)
		if len(groups) > 0 {
			pools := make([][]sdk.AccAddress, len(groups))
			for i, g := range groups {
				pools[i] = g.members
			}
			return pools, nil
		}
		if !params.AllowGPUFallback {
			return nil, types.ErrNoKindOfGpuMeetsCondition.Wrapf("no gpu group of %d nodes with vram >= %d", types.NumRounds, vramLimit)
		}
	}

	pool := k.availableByVram(ctx, vramLimit)
	if len(pool) < types.NumRounds {
		return nil, types.ErrNoKindOfGpuMeetsCondition.Wrapf("%d nodes with vram >= %d, need %d", len(pool), vramLimit, types.NumRounds)
	}
	return [][]sdk.AccAddress{pool}, nil
}

// assignment is the seed of a task and the nodes sampled with it.
type assignment struct {
	seed  []byte
	nodes []sdk.AccAddress
}

// planAssignment samples the rounds of a task from the current index without
// writing state. Capacity is resolved before the seed is drawn.
func (k Keeper) planAssignment(ctx context.Context, params types.Params, task types.Task) (assignment, error) {
	pools, err := k.candidatePools(ctx, params, task.TaskType, task.VramLimit)
	if err != nil {
		return assignment{}, err
	}
	seed, err := k.taskSeed(ctx, task.ID)
	if err != nil {
		return assignment{}, err
	}
	nodes, err := Sample(seed, pickPool(seed, pools), types.NumRounds)
	if err != nil {
		return assignment{}, err
	}
	return assignment{seed: seed, nodes: nodes}, nil
}
