package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
)

// TaskType selects how nodes are matched to a task.
type TaskType uint8

const (
	// TaskTypeSD tasks run on any GPU with enough VRAM.
	TaskTypeSD TaskType = iota
	// TaskTypeLLM tasks need identical hardware on all rounds to reproduce results.
	TaskTypeLLM
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeSD:
		return "sd"
	case TaskTypeLLM:
		return "llm"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// RequiresIdenticalGPU reports whether all selected nodes must share a GPU model.
func (t TaskType) RequiresIdenticalGPU() bool {
	return t == TaskTypeLLM
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t == TaskTypeSD || t == TaskTypeLLM
}

// TaskStatus is the lifecycle state of a task. The zero value marks an absent task.
type TaskStatus uint8

const (
	TaskStatusNone TaskStatus = iota
	TaskStatusPending
	TaskStatusStarted
	TaskStatusSuccess
	TaskStatusAborted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusNone:
		return "none"
	case TaskStatusPending:
		return "pending"
	case TaskStatusStarted:
		return "started"
	case TaskStatusSuccess:
		return "success"
	case TaskStatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// RoundOutcome is the commit-reveal progress of one round.
type RoundOutcome uint8

const (
	RoundPending RoundOutcome = iota
	RoundCommitted
	RoundDisclosed
	RoundError
)

func (o RoundOutcome) String() string {
	switch o {
	case RoundPending:
		return "pending"
	case RoundCommitted:
		return "committed"
	case RoundDisclosed:
		return "disclosed"
	case RoundError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// RoundVerdict is how a round was settled at resolution.
type RoundVerdict uint8

const (
	VerdictNone RoundVerdict = iota
	VerdictWinner
	VerdictSlashed
	VerdictTimedOut
	VerdictReleased
)

// Round is one node's execution of a task.
type Round struct {
	Index      uint32       `json:"index"`
	Node       string       `json:"node"`
	Commitment []byte       `json:"commitment,omitempty"`
	Nonce      []byte       `json:"nonce,omitempty"`
	Result     []byte       `json:"result,omitempty"`
	Outcome    RoundOutcome `json:"outcome"`
	// DisclosureRank is the 1-based order in which the round disclosed.
	DisclosureRank uint32       `json:"disclosure_rank,omitempty"`
	Verdict        RoundVerdict `json:"verdict,omitempty"`
	Payout         math.Int     `json:"payout"`
	Released       bool         `json:"released"`
}

// TaskSpec is the caller-supplied description of a new task.
type TaskSpec struct {
	TaskType  TaskType `json:"task_type"`
	TaskHash  []byte   `json:"task_hash"`
	DataHash  []byte   `json:"data_hash"`
	VramLimit uint64   `json:"vram_limit"`
	Fee       math.Int `json:"fee"`
	ResultCap uint32   `json:"result_cap"`
}

// ValidateBasic performs stateless checks.
func (s TaskSpec) ValidateBasic() error {
	if !s.TaskType.Valid() {
		return ErrInvalidTask.Wrapf("unknown task type %d", s.TaskType)
	}
	if err := ValidateHash("task hash", s.TaskHash, true); err != nil {
		return ErrInvalidTask.Wrap(err.Error())
	}
	if err := ValidateHash("data hash", s.DataHash, false); err != nil {
		return ErrInvalidTask.Wrap(err.Error())
	}
	if s.VramLimit == 0 {
		return ErrInvalidTask.Wrap("vram limit must be positive")
	}
	if s.Fee.IsNil() || !s.Fee.IsPositive() {
		return ErrInvalidTask.Wrap("fee must be positive")
	}
	if s.ResultCap == 0 || s.ResultCap > NumRounds {
		return ErrInvalidTask.Wrapf("result cap must be between 1 and %d", NumRounds)
	}
	return nil
}

// Task is a unit of work executed redundantly by NumRounds nodes.
type Task struct {
	ID        uint64     `json:"id"`
	TaskType  TaskType   `json:"task_type"`
	Creator   string     `json:"creator"`
	TaskHash  []byte     `json:"task_hash"`
	DataHash  []byte     `json:"data_hash"`
	VramLimit uint64     `json:"vram_limit"`
	Fee       math.Int   `json:"fee"`
	ResultCap uint32     `json:"result_cap"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt time.Time  `json:"started_at"`
	Deadline  time.Time  `json:"deadline"`
	Status    TaskStatus `json:"status"`
	Seed      []byte     `json:"seed,omitempty"`
	Rounds    []Round    `json:"rounds"`
	// Disclosures counts disclosed rounds and ranks the next one.
	Disclosures uint32 `json:"disclosures"`
}

// NewTask builds a task record from a spec.
func NewTask(id uint64, creator string, spec TaskSpec, now time.Time, timeout time.Duration) Task {
	return Task{
		ID:        id,
		TaskType:  spec.TaskType,
		Creator:   creator,
		TaskHash:  spec.TaskHash,
		DataHash:  spec.DataHash,
		VramLimit: spec.VramLimit,
		Fee:       spec.Fee,
		ResultCap: spec.ResultCap,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		Status:    TaskStatusPending,
	}
}

// Exists reports whether t is a live task rather than the zero sentinel.
func (t Task) Exists() bool {
	return t.ID != 0 && t.Status != TaskStatusNone
}

// Round returns the round with the given index.
func (t *Task) Round(index uint32) (*Round, error) {
	if t.Status == TaskStatusPending || index >= uint32(len(t.Rounds)) {
		return nil, ErrRoundNotExist.Wrapf("task %d round %d", t.ID, index)
	}
	return &t.Rounds[index], nil
}

// RoundOf returns the index of the round assigned to node.
func (t Task) RoundOf(node string) (uint32, bool) {
	for i, r := range t.Rounds {
		if r.Node == node {
			return uint32(i), true
		}
	}
	return 0, false
}

// IsSelected reports whether node executes one of the rounds.
func (t Task) IsSelected(node string) bool {
	_, ok := t.RoundOf(node)
	return ok
}

// CountOutcome counts rounds with the given outcome.
func (t Task) CountOutcome(outcome RoundOutcome) int {
	n := 0
	for _, r := range t.Rounds {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Participants is the number of rounds that did not report an error.
func (t Task) Participants() int {
	return len(t.Rounds) - t.CountOutcome(RoundError)
}

// CommitmentsReady reports whether every participating round has committed.
func (t Task) CommitmentsReady() bool {
	if t.Participants() == 0 {
		return false
	}
	return t.CountOutcome(RoundPending) == 0
}

// AllDisclosed reports whether every participating round has disclosed.
func (t Task) AllDisclosed() bool {
	return t.Participants() > 0 && t.CountOutcome(RoundDisclosed) == t.Participants()
}

// AwaitingUpload reports whether a winner has not confirmed its upload yet.
func (t Task) AwaitingUpload() bool {
	for _, r := range t.Rounds {
		if r.Verdict == VerdictWinner && !r.Released {
			return true
		}
	}
	return false
}

// Validate checks the record is internally consistent.
func (t Task) Validate() error {
	if t.ID == 0 {
		return fmt.Errorf("task id cannot be zero")
	}
	if t.Creator == "" {
		return fmt.Errorf("task %d: empty creator", t.ID)
	}
	if t.Fee.IsNil() || !t.Fee.IsPositive() {
		return fmt.Errorf("task %d: fee must be positive", t.ID)
	}
	switch t.Status {
	case TaskStatusPending:
		if len(t.Rounds) != 0 {
			return fmt.Errorf("task %d: pending task with rounds", t.ID)
		}
	case TaskStatusStarted, TaskStatusSuccess:
		if len(t.Rounds) != NumRounds {
			return fmt.Errorf("task %d: %d rounds, want %d", t.ID, len(t.Rounds), NumRounds)
		}
		seen := make(map[string]struct{}, NumRounds)
		for _, r := range t.Rounds {
			if _, dup := seen[r.Node]; dup {
				return fmt.Errorf("task %d: node %s selected twice", t.ID, r.Node)
			}
			seen[r.Node] = struct{}{}
		}
	default:
		return fmt.Errorf("task %d: status %s is not stored", t.ID, t.Status)
	}
	return nil
}
