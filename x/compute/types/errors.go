package types

import (
	"errors"

	sdkerrors "cosmossdk.io/errors"
)

// Compute module sentinel errors with recovery suggestions

var (
	// Precondition violations
	ErrIllegalStatus       = sdkerrors.Register(ModuleName, 2, "illegal node status")
	ErrNodeNotAvailable    = sdkerrors.Register(ModuleName, 3, "node is not available")
	ErrTaskNotExist        = sdkerrors.Register(ModuleName, 4, "task not exist")
	ErrRoundNotExist       = sdkerrors.Register(ModuleName, 5, "round not exist")
	ErrNotSelectedNode     = sdkerrors.Register(ModuleName, 6, "not selected node")
	ErrUnauthorized        = sdkerrors.Register(ModuleName, 7, "unauthorized")
	ErrDeadlineNotExceeded = sdkerrors.Register(ModuleName, 8, "task has not exceeded the deadline yet")
	ErrIllegalTaskStatus   = sdkerrors.Register(ModuleName, 9, "illegal task status")
	ErrInvalidGPU          = sdkerrors.Register(ModuleName, 10, "invalid gpu descriptor")
	ErrInvalidTask         = sdkerrors.Register(ModuleName, 11, "invalid task")

	// Economic violations
	ErrInsufficientStake      = sdkerrors.Register(ModuleName, 20, "insufficient stake")
	ErrInsufficientAllowance  = sdkerrors.Register(ModuleName, 21, "insufficient allowance")
	ErrNotEnoughTokensForTask = sdkerrors.Register(ModuleName, 22, "not enough tokens for task")
	ErrStakeAlreadyLocked     = sdkerrors.Register(ModuleName, 23, "staking still locked")
	ErrTransferFailed         = sdkerrors.Register(ModuleName, 24, "token transfer failed")

	// Protocol violations
	ErrAlreadySubmitted            = sdkerrors.Register(ModuleName, 30, "already submitted")
	ErrNonceAlreadyUsed            = sdkerrors.Register(ModuleName, 31, "nonce already used")
	ErrMismatchResultAndCommitment = sdkerrors.Register(ModuleName, 32, "mismatch result and commitment")
	ErrInvalidResult               = sdkerrors.Register(ModuleName, 33, "invalid result")
	ErrCommitmentsNotReady         = sdkerrors.Register(ModuleName, 34, "commitments not ready")
	ErrInvalidCommitment           = sdkerrors.Register(ModuleName, 35, "invalid commitment")
	ErrInvalidNonce                = sdkerrors.Register(ModuleName, 36, "invalid nonce")

	// Capacity violations
	ErrNoAvailableNode           = sdkerrors.Register(ModuleName, 40, "no available node")
	ErrNoKindOfGpuMeetsCondition = sdkerrors.Register(ModuleName, 41, "no kind of gpu meets condition")
	ErrTaskQueueFull             = sdkerrors.Register(ModuleName, 42, "task queue is full")

	// Module state errors
	ErrInvalidRandomness = sdkerrors.Register(ModuleName, 50, "invalid randomness")
	ErrInvalidParams     = sdkerrors.Register(ModuleName, 51, "invalid params")
	ErrInvalidGenesis    = sdkerrors.Register(ModuleName, 52, "invalid genesis state")
	ErrCorruptedState    = sdkerrors.Register(ModuleName, 53, "corrupted module state")
)

// IsCapacityError reports whether err means sampling could not be satisfied
// with the current pool. Such tasks are queued instead of failing.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrNoAvailableNode) || errors.Is(err, ErrNoKindOfGpuMeetsCondition)
}

// ErrorWithRecovery wraps an error with recovery suggestions
type ErrorWithRecovery struct {
	Err      error
	Recovery string
}

func (e *ErrorWithRecovery) Error() string {
	return e.Err.Error()
}

func (e *ErrorWithRecovery) Unwrap() error {
	return e.Err
}

// RecoverySuggestions provides actionable recovery steps for each error type
var RecoverySuggestions = map[error]string{
	ErrIllegalStatus:       "The node is in a status that does not permit this operation. Query the node status first; pause and quit of a busy node are latched until its task finishes.",
	ErrNodeNotAvailable:    "The node is not available for selection. It may be paused, busy or not joined.",
	ErrTaskNotExist:        "The task id is unknown or the task has already been resolved and removed.",
	ErrRoundNotExist:       "Round index must be 0, 1 or 2.",
	ErrNotSelectedNode:     "Only the node assigned to the round may submit for it. Check the task_started events.",
	ErrUnauthorized:        "Only the task creator or one of its selected nodes may cancel a task. Params updates need the module authority.",
	ErrDeadlineNotExceeded: "Wait until the block time passes the task deadline before cancelling.",
	ErrIllegalTaskStatus:   "The task is not in a status that permits this operation.",
	ErrInvalidGPU:          "Provide a non-empty GPU model name and a positive VRAM amount.",
	ErrInvalidTask:         "Check task type, vram limit, result cap and that the fee is positive.",

	ErrInsufficientStake:      "Fund the account with at least the minimum stake (query params) before joining.",
	ErrInsufficientAllowance:  "Part of the balance is locked. Unlock or top up spendable funds.",
	ErrNotEnoughTokensForTask: "The creator balance does not cover the task fee.",
	ErrStakeAlreadyLocked:     "The previous stake has not been released yet. Wait for the running task to finish.",

	ErrAlreadySubmitted:            "The round already holds a commitment or disclosure. Each is accepted once.",
	ErrNonceAlreadyUsed:            "Generate a fresh random nonce. A node may never reuse a nonce.",
	ErrMismatchResultAndCommitment: "The disclosed result with the committed nonce does not hash to the commitment.",
	ErrInvalidResult:               "The disclosed result must not be empty or exceed the max result size (query params).",
	ErrCommitmentsNotReady:         "Wait for the task_result_commitments_ready event before disclosing.",
	ErrInvalidCommitment:           "A commitment is a 32 byte Keccak-256 digest and the nonce must not be empty.",

	ErrNoAvailableNode:           "Not enough nodes are available. The task has been queued.",
	ErrNoKindOfGpuMeetsCondition: "No GPU group satisfies the vram limit. The task has been queued.",
	ErrTaskQueueFull:             "Raise the task fee above the lowest queued fee or retry later.",
}

// WrapWithRecovery wraps an error with recovery suggestion
func WrapWithRecovery(err error, msg string, args ...interface{}) error {
	wrapped := sdkerrors.Wrapf(err, msg, args...)

	if suggestion, ok := RecoverySuggestions[err]; ok {
		return &ErrorWithRecovery{
			Err:      wrapped,
			Recovery: suggestion,
		}
	}

	return wrapped
}

// GetRecoverySuggestion returns the recovery suggestion for an error
func GetRecoverySuggestion(err error) string {
	for target, suggestion := range RecoverySuggestions {
		if errors.Is(err, target) {
			return suggestion
		}
	}

	return "No recovery suggestion available. Check error message for details."
}
