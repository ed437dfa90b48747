// Package netstats rebuilds the compute network counters from emitted events
// alone, so that off-ledger consumers can follow the network without state
// queries.
package netstats

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// Position orders event batches by block height, then by transaction index
// within the block.
type Position struct {
	Height  int64  `json:"height"`
	TxIndex uint32 `json:"tx_index"`
}

// After reports whether p comes strictly after o.
func (p Position) After(o Position) bool {
	if p.Height != o.Height {
		return p.Height > o.Height
	}
	return p.TxIndex > o.TxIndex
}

// State is the serialisable form of a Tracker.
type State struct {
	Position   Position          `json:"position"`
	TotalTasks uint64            `json:"total_tasks"`
	Nodes      map[string]string `json:"nodes"`
	Queued     []uint64          `json:"queued"`
	Running    []uint64          `json:"running"`
}

// Tracker applies compute events in emission order. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	applied    bool
	position   Position
	totalTasks uint64
	nodes      map[string]types.NodeStatus
	queued     map[uint64]struct{}
	running    map[uint64]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		nodes:   make(map[string]types.NodeStatus),
		queued:  make(map[uint64]struct{}),
		running: make(map[uint64]struct{}),
	}
}

// NewTrackerFromState restores a tracker saved with State.
func NewTrackerFromState(state State) (*Tracker, error) {
	t := NewTracker()
	t.position = state.Position
	t.applied = state.Position != (Position{})
	t.totalTasks = state.TotalTasks
	for addr, name := range state.Nodes {
		status, err := types.ParseNodeStatus(name)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", addr, err)
		}
		t.nodes[addr] = status
	}
	for _, id := range state.Queued {
		t.queued[id] = struct{}{}
	}
	for _, id := range state.Running {
		t.running[id] = struct{}{}
	}
	return t, nil
}

// ApplyAt applies a batch of events found at pos. Batches at or before the
// last applied position are ignored, so replays after a reconnect are safe.
// It reports whether the batch was applied.
func (t *Tracker) ApplyAt(pos Position, events []abci.Event) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.applied && !pos.After(t.position) {
		return false, nil
	}
	for _, ev := range events {
		if err := t.apply(ev); err != nil {
			return false, fmt.Errorf("height %d tx %d: %w", pos.Height, pos.TxIndex, err)
		}
	}
	t.position = pos
	t.applied = true
	return true, nil
}

// Apply applies a single event without moving the position.
func (t *Tracker) Apply(ev abci.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(ev)
}

func (t *Tracker) apply(ev abci.Event) error {
	attrs := make(map[string]string, len(ev.Attributes))
	for _, attr := range ev.Attributes {
		attrs[attr.Key] = attr.Value
	}

	switch ev.Type {
	case types.EventTypeNodeStatusChanged:
		addr := attrs[types.AttributeKeyNode]
		if addr == "" {
			return fmt.Errorf("%s without node", ev.Type)
		}
		to, err := types.ParseNodeStatus(attrs[types.AttributeKeyToStatus])
		if err != nil {
			return err
		}
		if to == types.NodeStatusQuit {
			delete(t.nodes, addr)
		} else {
			t.nodes[addr] = to
		}

	case types.EventTypeTaskCreated:
		if _, err := taskID(ev.Type, attrs); err != nil {
			return err
		}
		t.totalTasks++

	case types.EventTypeTaskPending:
		id, err := taskID(ev.Type, attrs)
		if err != nil {
			return err
		}
		t.queued[id] = struct{}{}

	case types.EventTypeTaskStarted:
		id, err := taskID(ev.Type, attrs)
		if err != nil {
			return err
		}
		delete(t.queued, id)
		t.running[id] = struct{}{}

	case types.EventTypeTaskAborted, types.EventTypeTaskFinished:
		id, err := taskID(ev.Type, attrs)
		if err != nil {
			return err
		}
		delete(t.queued, id)
		delete(t.running, id)
	}
	return nil
}

func taskID(eventType string, attrs map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(attrs[types.AttributeKeyTaskID], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid task id: %w", eventType, err)
	}
	return id, nil
}

// Stats returns the current counters.
func (t *Tracker) Stats() types.NetworkStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := types.NetworkStats{
		TotalNodes:   uint64(len(t.nodes)),
		TotalTasks:   t.totalTasks,
		RunningTasks: uint64(len(t.running)),
		QueuedTasks:  uint64(len(t.queued)),
	}
	for _, status := range t.nodes {
		switch {
		case status == types.NodeStatusAvailable:
			stats.AvailableNodes++
		case status.IsBusy():
			stats.BusyNodes++
		}
	}
	return stats
}

// Position returns the last applied position.
func (t *Tracker) Position() Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// State returns a copy of the tracker contents.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := State{
		Position:   t.position,
		TotalTasks: t.totalTasks,
		Nodes:      make(map[string]string, len(t.nodes)),
		Queued:     sortedIDs(t.queued),
		Running:    sortedIDs(t.running),
	}
	for addr, status := range t.nodes {
		state.Nodes[addr] = status.String()
	}
	return state
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
