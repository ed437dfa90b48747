package types

import (
	"encoding/hex"
	"fmt"

	"cosmossdk.io/math"
)

// NodeStatus is the lifecycle state of a worker node.
type NodeStatus uint8

const (
	NodeStatusQuit NodeStatus = iota
	NodeStatusAvailable
	NodeStatusBusy
	NodeStatusPendingPause
	NodeStatusPendingQuit
	NodeStatusPaused
)

var nodeStatusNames = map[NodeStatus]string{
	NodeStatusQuit:         "quit",
	NodeStatusAvailable:    "available",
	NodeStatusBusy:         "busy",
	NodeStatusPendingPause: "pending_pause",
	NodeStatusPendingQuit:  "pending_quit",
	NodeStatusPaused:       "paused",
}

func (s NodeStatus) String() string {
	if name, ok := nodeStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// ParseNodeStatus is the inverse of NodeStatus.String.
func ParseNodeStatus(name string) (NodeStatus, error) {
	for status, n := range nodeStatusNames {
		if n == name {
			return status, nil
		}
	}
	return NodeStatusQuit, fmt.Errorf("unknown node status %q", name)
}

// IsBusy reports whether the node is executing a task. Latched pause and quit
// requests still count as busy.
func (s NodeStatus) IsBusy() bool {
	return s == NodeStatusBusy || s == NodeStatusPendingPause || s == NodeStatusPendingQuit
}

// OnJoin returns the status after a join request.
func (s NodeStatus) OnJoin() (NodeStatus, error) {
	if s != NodeStatusQuit {
		return s, ErrIllegalStatus.Wrapf("cannot join from %s", s)
	}
	return NodeStatusAvailable, nil
}

// OnPause returns the status after a pause request.
func (s NodeStatus) OnPause() (NodeStatus, error) {
	switch s {
	case NodeStatusAvailable:
		return NodeStatusPaused, nil
	case NodeStatusBusy:
		return NodeStatusPendingPause, nil
	default:
		return s, ErrIllegalStatus.Wrapf("cannot pause from %s", s)
	}
}

// OnResume returns the status after a resume request.
func (s NodeStatus) OnResume() (NodeStatus, error) {
	if s != NodeStatusPaused {
		return s, ErrIllegalStatus.Wrapf("cannot resume from %s", s)
	}
	return NodeStatusAvailable, nil
}

// OnQuit returns the status after a quit request.
func (s NodeStatus) OnQuit() (NodeStatus, error) {
	switch s {
	case NodeStatusAvailable:
		return NodeStatusQuit, nil
	case NodeStatusBusy:
		return NodeStatusPendingQuit, nil
	default:
		return s, ErrIllegalStatus.Wrapf("cannot quit from %s", s)
	}
}

// OnStartTask returns the status of a node selected for a task.
func (s NodeStatus) OnStartTask() (NodeStatus, error) {
	if s != NodeStatusAvailable {
		return s, ErrNodeNotAvailable.Wrapf("node is %s", s)
	}
	return NodeStatusBusy, nil
}

// OnFinishTask returns the status of a node released from its task, honoring
// a latched pause or quit request.
func (s NodeStatus) OnFinishTask() (NodeStatus, error) {
	switch s {
	case NodeStatusBusy:
		return NodeStatusAvailable, nil
	case NodeStatusPendingPause:
		return NodeStatusPaused, nil
	case NodeStatusPendingQuit:
		return NodeStatusQuit, nil
	default:
		return s, ErrIllegalStatus.Wrapf("cannot finish task from %s", s)
	}
}

// OnSlash returns the status of a busy node whose stake is forfeited.
func (s NodeStatus) OnSlash() (NodeStatus, error) {
	if !s.IsBusy() {
		return s, ErrIllegalStatus.Wrapf("cannot slash from %s", s)
	}
	return NodeStatusQuit, nil
}

// Node is the registry record of a worker.
type Node struct {
	Address       string     `json:"address"`
	Status        NodeStatus `json:"status"`
	GPUName       string     `json:"gpu_name"`
	GPUVram       uint64     `json:"gpu_vram"`
	Stake         math.Int   `json:"stake"`
	PendingTaskID uint64     `json:"pending_task_id"`
	JoinedHeight  int64      `json:"joined_height"`
}

// GPUID returns the identifier of the node's GPU model.
func (n Node) GPUID() []byte {
	return GPUID(n.GPUName)
}

// Validate checks the record is internally consistent.
func (n Node) Validate() error {
	if n.Address == "" {
		return fmt.Errorf("empty node address")
	}
	if err := ValidateGPU(n.GPUName, n.GPUVram); err != nil {
		return err
	}
	if n.Stake.IsNil() || n.Stake.IsNegative() {
		return fmt.Errorf("node %s: invalid stake", n.Address)
	}
	if n.Status.IsBusy() != (n.PendingTaskID != 0) {
		return fmt.Errorf("node %s: status %s with pending task %d", n.Address, n.Status, n.PendingTaskID)
	}
	if n.Status == NodeStatusQuit {
		return fmt.Errorf("node %s: quit nodes are not stored", n.Address)
	}
	return nil
}

// NodeInfo is the query view of a node, joined with its QoS score.
type NodeInfo struct {
	Node
	QosScore uint64 `json:"qos_score"`
}

// GPUGroup describes the available nodes sharing a GPU model and VRAM size.
type GPUGroup struct {
	GPUID string `json:"gpu_id"`
	Name  string `json:"name"`
	Vram  uint64 `json:"vram"`
	Count uint64 `json:"count"`
}

// GPUID hashes a GPU model name into its index identifier.
func GPUID(name string) []byte {
	return Keccak256([]byte(name))
}

// GPUIDHex is the printable form of GPUID.
func GPUIDHex(name string) string {
	return hex.EncodeToString(GPUID(name))
}
