package keeper

import (
	"context"

	"github.com/gpunet/gpunet/x/compute/types"
)

// GetNetworkStats derives the network counters from the registry and the
// live tasks. A task counts as running from assignment until its last winner
// reports upload.
func (k Keeper) GetNetworkStats(ctx context.Context) (types.NetworkStats, error) {
	var stats types.NetworkStats

	err := k.IterateNodes(ctx, func(node types.Node) (bool, error) {
		stats.TotalNodes++
		switch {
		case node.Status == types.NodeStatusAvailable:
			stats.AvailableNodes++
		case node.Status.IsBusy():
			stats.BusyNodes++
		}
		return false, nil
	})
	if err != nil {
		return types.NetworkStats{}, err
	}

	err = k.IterateTasks(ctx, func(task types.Task) (bool, error) {
		switch task.Status {
		case types.TaskStatusPending:
			stats.QueuedTasks++
		case types.TaskStatusStarted, types.TaskStatusSuccess:
			stats.RunningTasks++
		}
		return false, nil
	})
	if err != nil {
		return types.NetworkStats{}, err
	}

	stats.TotalTasks = k.PeekNextTaskID(ctx) - 1
	return stats, nil
}
