package keeper

import (
	"context"
	"fmt"

	"github.com/gpunet/gpunet/x/compute/types"
)

// InitGenesis initializes the compute module's state from a genesis state.
// The GPU index and the task queue are rebuilt from nodes and pending tasks.
func (k Keeper) InitGenesis(ctx context.Context, data types.GenesisState) error {
	// Set params
	if err := k.SetParams(ctx, data.Params); err != nil {
		return fmt.Errorf("failed to set params: %w", err)
	}

	// Initialize nodes
	for _, node := range data.Nodes {
		if err := k.setNode(ctx, node); err != nil {
			return fmt.Errorf("failed to initialize node %s: %w", node.Address, err)
		}
		if node.Status == types.NodeStatusAvailable {
			k.addToIndex(ctx, node)
		}
	}

	var maxTaskID uint64

	// Initialize tasks
	var queued uint64
	store := k.getStore(ctx)
	for _, task := range data.Tasks {
		if err := k.setTask(ctx, task); err != nil {
			return fmt.Errorf("failed to initialize task %d: %w", task.ID, err)
		}
		if task.ID > maxTaskID {
			maxTaskID = task.ID
		}
		if task.Status == types.TaskStatusPending {
			store.Set(QueueKey(task.Fee, task.ID), uint64Bytes(task.ID))
			queued++
		}
	}
	k.setQueueSize(ctx, queued)

	// Set next task ID
	nextTaskID := data.NextTaskID
	if nextTaskID == 0 || nextTaskID <= maxTaskID {
		nextTaskID = maxTaskID + 1
	}
	store.Set(NextTaskIDKey, uint64Bytes(nextTaskID))

	// Initialize QoS records
	for _, rec := range data.QosRecords {
		if err := k.setQosRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to initialize qos record %s: %w", rec.Address, err)
		}
	}

	// Initialize used nonces
	for _, used := range data.UsedNonces {
		if err := k.nonces.MarkUsedHash(ctx, used.Node, used.Hash); err != nil {
			return fmt.Errorf("failed to initialize nonce of %s: %w", used.Node, err)
		}
	}

	var maxSlashID uint64

	// Initialize slash records
	for _, record := range data.SlashRecords {
		if record.ID > maxSlashID {
			maxSlashID = record.ID
		}
		if err := k.setSlashRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to initialize slash record %d: %w", record.ID, err)
		}
	}

	nextSlashID := data.NextSlashID
	if nextSlashID == 0 || nextSlashID <= maxSlashID {
		nextSlashID = maxSlashID + 1
	}
	store.Set(NextSlashIDKey, uint64Bytes(nextSlashID))

	return nil
}

// ExportGenesis exports the compute module's state to a genesis state
func (k Keeper) ExportGenesis(ctx context.Context) (*types.GenesisState, error) {
	params, err := k.GetParams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get params: %w", err)
	}

	genesis := types.DefaultGenesis()
	genesis.Params = params

	if err := k.IterateNodes(ctx, func(node types.Node) (bool, error) {
		genesis.Nodes = append(genesis.Nodes, node)
		return false, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to export nodes: %w", err)
	}

	if err := k.IterateTasks(ctx, func(task types.Task) (bool, error) {
		genesis.Tasks = append(genesis.Tasks, task)
		return false, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to export tasks: %w", err)
	}

	if err := k.IterateQosRecords(ctx, func(rec types.QosRecord) (bool, error) {
		genesis.QosRecords = append(genesis.QosRecords, rec)
		return false, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to export qos records: %w", err)
	}

	k.nonces.Iterate(ctx, func(owner string, hash []byte) bool {
		genesis.UsedNonces = append(genesis.UsedNonces, types.UsedNonce{Node: owner, Hash: hash})
		return false
	})

	if err := k.iterateSlashRecords(ctx, func(record types.SlashRecord) (bool, error) {
		genesis.SlashRecords = append(genesis.SlashRecords, record)
		return false, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to export slash records: %w", err)
	}

	genesis.NextTaskID = k.PeekNextTaskID(ctx)
	genesis.NextSlashID = k.peekNextSlashID(ctx)

	return genesis, nil
}
