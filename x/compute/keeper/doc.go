// Package keeper implements the Compute module keeper for task assignment and
// result consensus among staked GPU nodes.
//
// Nodes stake collateral to join and are sampled for tasks with seeded
// randomness. Each task runs on three nodes that commit to their result and
// then disclose it; a result shared by two nodes wins. Winners are paid,
// dissenting disclosures are slashed and unreliable nodes are evicted through
// their QoS record.
//
// # Core Functionality
//
// Node Registry: Join, Pause, Resume and Quit drive the node status machine.
// Pause and quit requests of a busy node are latched until its task finishes.
//
// GPU Index: Available nodes are indexed by GPU model hash and VRAM, both in
// key order, so sampling is a pure function of seed and store contents.
//
// Task Queue: Tasks that cannot be satisfied wait in a bounded queue ordered
// by fee. Every node release retries the queue from the highest fee down.
//
// Consensus: SubmitTaskResultCommitment, DiscloseTaskResult, ReportTaskError,
// ReportResultsUploaded and CancelTask move a task to Success or Aborted.
// Cancellation is lazy; nothing expires tasks in the background.
//
// # Key Types
//
// Keeper: Main module keeper holding the store key, bank keeper, seed source
// and one-time nonce registry.
//
// types.Node, types.Task, types.Round: registry and task records, JSON encoded
// in the module store.
//
// # Usage Patterns
//
// Creating a task:
//
//	task, err := keeper.CreateTask(ctx, creator, types.TaskSpec{TaskType: types.TaskTypeLLM, TaskHash: h, VramLimit: 16, Fee: fee, ResultCap: 1})
//
// Committing and disclosing a round:
//
//	err := keeper.SubmitTaskResultCommitment(ctx, node, task.ID, round, types.ComputeCommitment(result, nonce), nonce)
//	err = keeper.DiscloseTaskResult(ctx, node, task.ID, round, result)
//
// # Metrics
//
// Exposes Prometheus metrics for task lifecycle, fees, slashing and node
// counts via ComputeMetrics, and telemetry counters for task transitions.
package keeper
