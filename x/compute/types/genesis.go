package types

import (
	"encoding/json"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// GenesisState is the exported state of the compute module. GPU index and
// queue entries are derived from nodes and pending tasks on import.
type GenesisState struct {
	Params       Params        `json:"params"`
	Nodes        []Node        `json:"nodes"`
	Tasks        []Task        `json:"tasks"`
	QosRecords   []QosRecord   `json:"qos_records"`
	UsedNonces   []UsedNonce   `json:"used_nonces"`
	SlashRecords []SlashRecord `json:"slash_records"`
	NextTaskID   uint64        `json:"next_task_id"`
	NextSlashID  uint64        `json:"next_slash_id"`
}

// DefaultGenesis returns the default genesis state
func DefaultGenesis() *GenesisState {
	return &GenesisState{
		Params:       DefaultParams(),
		Nodes:        []Node{},
		Tasks:        []Task{},
		QosRecords:   []QosRecord{},
		UsedNonces:   []UsedNonce{},
		SlashRecords: []SlashRecord{},
		NextTaskID:   1,
		NextSlashID:  1,
	}
}

// Validate performs basic genesis state validation returning an error upon any
// failure.
func (gs GenesisState) Validate() error {
	if err := gs.Params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	nodes := make(map[string]Node, len(gs.Nodes))
	for i, node := range gs.Nodes {
		if _, err := sdk.AccAddressFromBech32(node.Address); err != nil {
			return fmt.Errorf("node %d: invalid address %s: %w", i, node.Address, err)
		}
		if _, dup := nodes[node.Address]; dup {
			return fmt.Errorf("node %d: duplicate address %s", i, node.Address)
		}
		if err := node.Validate(); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		nodes[node.Address] = node
	}

	seenTasks := make(map[uint64]bool, len(gs.Tasks))
	var maxTaskID uint64
	queued := uint64(0)
	for i, task := range gs.Tasks {
		if seenTasks[task.ID] {
			return fmt.Errorf("task %d: duplicate task id %d", i, task.ID)
		}
		seenTasks[task.ID] = true
		if task.ID > maxTaskID {
			maxTaskID = task.ID
		}
		if _, err := sdk.AccAddressFromBech32(task.Creator); err != nil {
			return fmt.Errorf("task %d (id=%d): invalid creator %s: %w", i, task.ID, task.Creator, err)
		}
		if err := task.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if task.Status == TaskStatusPending {
			queued++
			continue
		}
		for _, round := range task.Rounds {
			if round.Released {
				continue
			}
			node, ok := nodes[round.Node]
			if !ok || node.PendingTaskID != task.ID {
				return fmt.Errorf("task %d (id=%d): round %d node %s is not bound to the task", i, task.ID, round.Index, round.Node)
			}
		}
	}
	if queued > gs.Params.QueueSizeLimit {
		return fmt.Errorf("%d queued tasks exceed queue size limit %d", queued, gs.Params.QueueSizeLimit)
	}

	for addr, node := range nodes {
		if node.PendingTaskID != 0 && !seenTasks[node.PendingTaskID] {
			return fmt.Errorf("node %s: pending task %d not found", addr, node.PendingTaskID)
		}
	}

	if gs.NextTaskID <= maxTaskID {
		return fmt.Errorf("next task id %d must be greater than max task id %d", gs.NextTaskID, maxTaskID)
	}

	seenQos := make(map[string]bool, len(gs.QosRecords))
	for i, rec := range gs.QosRecords {
		if seenQos[rec.Address] {
			return fmt.Errorf("qos record %d: duplicate address %s", i, rec.Address)
		}
		seenQos[rec.Address] = true
		if rec.Score > gs.Params.QosMaxScore {
			return fmt.Errorf("qos record %d: score %d exceeds max %d", i, rec.Score, gs.Params.QosMaxScore)
		}
	}

	for i, n := range gs.UsedNonces {
		if n.Node == "" || len(n.Hash) != CommitmentLength {
			return fmt.Errorf("used nonce %d: malformed entry", i)
		}
	}

	var maxSlashID uint64
	for i, rec := range gs.SlashRecords {
		if rec.ID == 0 {
			return fmt.Errorf("slash record %d: id cannot be zero", i)
		}
		if rec.ID > maxSlashID {
			maxSlashID = rec.ID
		}
	}
	if gs.NextSlashID <= maxSlashID {
		return fmt.Errorf("next slash id %d must be greater than max slash id %d", gs.NextSlashID, maxSlashID)
	}

	return nil
}

// GetGenesisStateFromAppState returns the compute genesis from raw app state.
func GetGenesisStateFromAppState(appState map[string]json.RawMessage) (*GenesisState, error) {
	var gs GenesisState
	if raw, ok := appState[ModuleName]; ok {
		if err := json.Unmarshal(raw, &gs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s genesis: %w", ModuleName, err)
		}
		return &gs, nil
	}
	return DefaultGenesis(), nil
}
