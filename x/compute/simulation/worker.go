package simulation

import (
	"fmt"
	"math/rand"

	sdk "github.com/cosmos/cosmos-sdk/types"
	simtypes "github.com/cosmos/cosmos-sdk/types/simulation"

	"github.com/gpunet/gpunet/x/compute/types"
)

// Worker is a simulated GPU node.
type Worker struct {
	Account  simtypes.Account
	Behavior Behavior
	GPU      GPUProfile
	Joins    int

	// results holds what the worker committed to, by task.
	results map[uint64][]byte
}

func newWorker(acc simtypes.Account, behavior Behavior, gpu GPUProfile) *Worker {
	return &Worker{
		Account:  acc,
		Behavior: behavior,
		GPU:      gpu,
		results:  make(map[uint64][]byte),
	}
}

// Address is the worker's account address.
func (w *Worker) Address() sdk.AccAddress {
	return w.Account.Address
}

// expectedResult is what every honest worker computes for task.
func expectedResult(task types.Task) []byte {
	return types.Keccak256(task.TaskHash, task.DataHash, task.Seed)
}

// answer decides the worker's response to a round. ok is false when the
// worker stays silent, fail when it reports an error.
func (w *Worker) answer(r *rand.Rand, task types.Task, errorRate float64) (result []byte, fail, ok bool) {
	switch w.Behavior {
	case BehaviorIdle:
		return nil, false, false
	case BehaviorCheater:
		return types.Keccak256(expectedResult(task), w.Address()), false, true
	case BehaviorFlaky:
		if r.Float64() < errorRate {
			return nil, true, true
		}
	}
	return expectedResult(task), false, true
}

func nonce(taskID uint64, round uint32, height int64) []byte {
	return []byte(fmt.Sprintf("sim-%d-%d-%d", taskID, round, height))
}
