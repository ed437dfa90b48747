package types

// Event types for the Compute module
// All event types use lowercase with underscore separator (module_action format)
const (
	// Task lifecycle events
	EventTypeTaskCreated                = "task_created"
	EventTypeTaskPending                = "task_pending"
	EventTypeTaskStarted                = "task_started"
	EventTypeTaskResultCommitmentsReady = "task_result_commitments_ready"
	EventTypeTaskSuccess                = "task_success"
	EventTypeTaskAborted                = "task_aborted"
	EventTypeTaskFinished               = "task_finished"
	EventTypeTaskResultCommitment       = "task_result_commitment"
	EventTypeTaskResultDisclosed        = "task_result_disclosed"
	EventTypeTaskErrorReported          = "task_error_reported"

	// Per-node task outcome events
	EventTypeTaskNodeSuccess    = "task_node_success"
	EventTypeTaskNodeSlashed    = "task_node_slashed"
	EventTypeTaskNodeCancelled  = "task_node_cancelled"
	EventTypeTaskResultUploaded = "task_result_uploaded"

	// Node events
	EventTypeNodeStatusChanged = "node_status_changed"
	EventTypeNodeKickedOut     = "node_kicked_out"
	EventTypeQosUpdated        = "qos_updated"
)

// Event attribute keys
const (
	AttributeKeyTaskID     = "task_id"
	AttributeKeyTaskType   = "task_type"
	AttributeKeyCreator    = "creator"
	AttributeKeyFee        = "fee"
	AttributeKeyVramLimit  = "vram_limit"
	AttributeKeyNode       = "node"
	AttributeKeyRound      = "round"
	AttributeKeySeed       = "seed"
	AttributeKeyReason     = "reason"
	AttributeKeyAmount     = "amount"
	AttributeKeyRefund     = "refund"
	AttributeKeyResult     = "result"
	AttributeKeyFromStatus = "from_status"
	AttributeKeyToStatus   = "to_status"
	AttributeKeyGPUName    = "gpu_name"
	AttributeKeyGPUVram    = "gpu_vram"
	AttributeKeyScore      = "score"
	AttributeKeyStreak     = "negative_streak"
	AttributeKeyQueued     = "from_queue"
)

// Abort reasons carried by task_aborted.
const (
	AbortReasonNoMajority = "no_majority"
	AbortReasonAllErrors  = "all_errors"
	AbortReasonQueueFull  = "queue_full"
	AbortReasonEvicted    = "evicted"
	AbortReasonCancelled  = "cancelled"
	AbortReasonResultCap  = "result_cap"
)
