package simulation

import (
	"sort"

	"cosmossdk.io/math"

	"github.com/gpunet/gpunet/x/compute/types"
)

// Report is the outcome of a simulation run.
type Report struct {
	Blocks         int                `json:"blocks"`
	Height         int64              `json:"height"`
	TasksCreated   uint64             `json:"tasks_created"`
	TasksSucceeded uint64             `json:"tasks_succeeded"`
	TasksAborted   map[string]uint64  `json:"tasks_aborted"`
	Slashes        uint64             `json:"slashes"`
	KickOuts       uint64             `json:"kick_outs"`
	Rejected       map[string]uint64  `json:"rejected"`
	Stats          types.NetworkStats `json:"stats"`
	Escrow         math.Int           `json:"escrow"`
	Behaviors      []BehaviorSummary  `json:"behaviors"`
	Workers        []WorkerReport     `json:"workers"`
}

// WorkerReport is the final state of one worker.
type WorkerReport struct {
	Address   string   `json:"address"`
	Behavior  Behavior `json:"behavior"`
	GPU       string   `json:"gpu"`
	Status    string   `json:"status"`
	Joins     int      `json:"joins"`
	Balance   math.Int `json:"balance"`
	Score     uint64   `json:"score"`
	Successes uint64   `json:"successes"`
	Failures  uint64   `json:"failures"`
	Slashes   uint64   `json:"slashes"`
}

// BehaviorSummary aggregates workers sharing a behavior.
type BehaviorSummary struct {
	Behavior  Behavior `json:"behavior"`
	Workers   int      `json:"workers"`
	Active    int      `json:"active"`
	Balance   math.Int `json:"balance"`
	MeanScore float64  `json:"mean_score"`
	Successes uint64   `json:"successes"`
	Failures  uint64   `json:"failures"`
	Slashes   uint64   `json:"slashes"`
}

func newReport() Report {
	return Report{
		TasksAborted: make(map[string]uint64),
		Rejected:     make(map[string]uint64),
		Escrow:       math.ZeroInt(),
	}
}

// TasksAbortedTotal sums aborts over every reason.
func (r Report) TasksAbortedTotal() uint64 {
	var total uint64
	for _, n := range r.TasksAborted {
		total += n
	}
	return total
}

func (r Report) clone() Report {
	out := r
	out.TasksAborted = make(map[string]uint64, len(r.TasksAborted))
	for k, v := range r.TasksAborted {
		out.TasksAborted[k] = v
	}
	out.Rejected = make(map[string]uint64, len(r.Rejected))
	for k, v := range r.Rejected {
		out.Rejected[k] = v
	}
	out.Workers = nil
	out.Behaviors = nil
	return out
}

func summarise(workers []WorkerReport) []BehaviorSummary {
	byBehavior := make(map[Behavior]*BehaviorSummary)
	scores := make(map[Behavior]uint64)
	for _, w := range workers {
		s, ok := byBehavior[w.Behavior]
		if !ok {
			s = &BehaviorSummary{Behavior: w.Behavior, Balance: math.ZeroInt()}
			byBehavior[w.Behavior] = s
		}
		s.Workers++
		if w.Status != types.NodeStatusQuit.String() {
			s.Active++
		}
		s.Balance = s.Balance.Add(w.Balance)
		s.Successes += w.Successes
		s.Failures += w.Failures
		s.Slashes += w.Slashes
		scores[w.Behavior] += w.Score
	}

	out := make([]BehaviorSummary, 0, len(byBehavior))
	for b, s := range byBehavior {
		s.MeanScore = float64(scores[b]) / float64(s.Workers)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Behavior < out[j].Behavior })
	return out
}
