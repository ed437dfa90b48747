package types

import (
	"time"

	"cosmossdk.io/math"
)

// QosRecord is the reputation accumulator of a node. It outlives the node's
// registry record so a rejoining node keeps its history.
type QosRecord struct {
	Address string `json:"address"`
	Score   uint64 `json:"score"`
	// NegativeStreak counts errors and timeouts since the last success.
	NegativeStreak uint32 `json:"negative_streak"`
	Successes      uint64 `json:"successes"`
	Failures       uint64 `json:"failures"`
	Slashes        uint64 `json:"slashes"`
}

// QosOutcome is a task outcome fed to the QoS tracker.
type QosOutcome uint8

const (
	QosOutcomeSuccess QosOutcome = iota
	QosOutcomeUpload
	QosOutcomeError
	QosOutcomeTimeout
	QosOutcomeSlashed
)

func (o QosOutcome) String() string {
	switch o {
	case QosOutcomeSuccess:
		return "success"
	case QosOutcomeUpload:
		return "upload"
	case QosOutcomeError:
		return "error"
	case QosOutcomeTimeout:
		return "timeout"
	case QosOutcomeSlashed:
		return "slashed"
	default:
		return "unknown"
	}
}

// IsNegative reports whether the outcome counts toward soft eviction.
func (o QosOutcome) IsNegative() bool {
	return o == QosOutcomeError || o == QosOutcomeTimeout
}

// SlashRecord documents a forfeited stake.
type SlashRecord struct {
	ID     uint64    `json:"id"`
	Node   string    `json:"node"`
	TaskID uint64    `json:"task_id"`
	Amount math.Int  `json:"amount"`
	Reason string    `json:"reason"`
	Height int64     `json:"height"`
	Time   time.Time `json:"time"`
}

// UsedNonce marks a nonce a node has consumed, stored by hash.
type UsedNonce struct {
	Node string `json:"node"`
	Hash []byte `json:"hash"`
}

// NetworkStats summarises the registry and task state.
type NetworkStats struct {
	TotalNodes     uint64 `json:"total_nodes"`
	AvailableNodes uint64 `json:"available_nodes"`
	BusyNodes      uint64 `json:"busy_nodes"`
	TotalTasks     uint64 `json:"total_tasks"`
	RunningTasks   uint64 `json:"running_tasks"`
	QueuedTasks    uint64 `json:"queued_tasks"`
}
