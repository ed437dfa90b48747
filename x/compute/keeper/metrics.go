package keeper

import (
	"sync"

	"github.com/cosmos/cosmos-sdk/telemetry"
	"github.com/hashicorp/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gpunet/gpunet/x/compute/types"
)

// ComputeMetrics holds all Prometheus metrics for the Compute module
type ComputeMetrics struct {
	// Task metrics
	TasksCreated  *prometheus.CounterVec
	TasksStarted  *prometheus.CounterVec
	TasksResolved *prometheus.CounterVec
	TaskQueueSize prometheus.Gauge
	Commitments   prometheus.Counter
	Disclosures   prometheus.Counter
	ErrorReports  prometheus.Counter
	Uploads       prometheus.Counter

	// Escrow metrics
	FeesPaid     prometheus.Counter
	FeesRefunded prometheus.Counter

	// Node metrics
	NodesJoined    *prometheus.CounterVec
	NodesSlashed   *prometheus.CounterVec
	NodesKickedOut prometheus.Counter
	QosScore       *prometheus.GaugeVec

	// Network gauges
	NodesTotal     prometheus.Gauge
	NodesAvailable prometheus.Gauge
	NodesBusy      prometheus.Gauge
	TasksRunning   prometheus.Gauge
}

var (
	computeMetricsOnce sync.Once
	computeMetrics     *ComputeMetrics
)

// NewComputeMetrics creates and registers Compute metrics (singleton pattern)
func NewComputeMetrics() *ComputeMetrics {
	computeMetricsOnce.Do(func() {
		computeMetrics = &ComputeMetrics{
			// Task metrics
			TasksCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "tasks_created_total",
					Help:      "Total tasks created",
				},
				[]string{"task_type"},
			),
			TasksStarted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "tasks_started_total",
					Help:      "Total tasks assigned to nodes",
				},
				[]string{"from_queue"},
			),
			TasksResolved: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "tasks_resolved_total",
					Help:      "Total tasks resolved by outcome",
				},
				[]string{"outcome"},
			),
			TaskQueueSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "task_queue_size",
					Help:      "Number of tasks waiting for capacity",
				},
			),
			Commitments: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "result_commitments_total",
					Help:      "Total result commitments accepted",
				},
			),
			Disclosures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "result_disclosures_total",
					Help:      "Total result disclosures accepted",
				},
			),
			ErrorReports: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "error_reports_total",
					Help:      "Total task errors reported by nodes",
				},
			),
			Uploads: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "result_uploads_total",
					Help:      "Total result uploads confirmed by winners",
				},
			),

			// Escrow metrics
			FeesPaid: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "fees_paid_total",
					Help:      "Total task fees paid to winning nodes",
				},
			),
			FeesRefunded: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "fees_refunded_total",
					Help:      "Total task fees refunded to creators",
				},
			),

			// Node metrics
			NodesJoined: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_joined_total",
					Help:      "Total node joins by gpu model",
				},
				[]string{"gpu"},
			),
			NodesSlashed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_slashed_total",
					Help:      "Total stakes forfeited",
				},
				[]string{"reason"},
			),
			NodesKickedOut: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_kicked_out_total",
					Help:      "Total nodes evicted for repeated failures",
				},
			),
			QosScore: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "node_qos_score",
					Help:      "Current QoS score per node",
				},
				[]string{"node"},
			),

			// Network gauges
			NodesTotal: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_total",
					Help:      "Number of registered nodes",
				},
			),
			NodesAvailable: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_available",
					Help:      "Number of nodes available for selection",
				},
			),
			NodesBusy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "nodes_busy",
					Help:      "Number of nodes bound to a task",
				},
			),
			TasksRunning: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gpunet",
					Subsystem: "compute",
					Name:      "tasks_running",
					Help:      "Number of tasks assigned and not yet finished",
				},
			),
		}
	})
	return computeMetrics
}

// GetComputeMetrics returns the singleton Compute metrics instance
func GetComputeMetrics() *ComputeMetrics {
	if computeMetrics == nil {
		return NewComputeMetrics()
	}
	return computeMetrics
}

// RecordResolution records a resolved task.
func (m *ComputeMetrics) RecordResolution(outcome string, paid, refunded float64) {
	if m == nil {
		return
	}
	m.TasksResolved.WithLabelValues(outcome).Inc()
	m.FeesPaid.Add(paid)
	m.FeesRefunded.Add(refunded)
}

// RecordNetworkStats updates the network gauges.
func (m *ComputeMetrics) RecordNetworkStats(stats types.NetworkStats) {
	if m == nil {
		return
	}
	m.NodesTotal.Set(float64(stats.TotalNodes))
	m.NodesAvailable.Set(float64(stats.AvailableNodes))
	m.NodesBusy.Set(float64(stats.BusyNodes))
	m.TasksRunning.Set(float64(stats.RunningTasks))
	m.TaskQueueSize.Set(float64(stats.QueuedTasks))
}

// incrTaskCounter mirrors task lifecycle counts into the node telemetry sink.
func incrTaskCounter(event string, taskType types.TaskType) {
	telemetry.IncrCounterWithLabels(
		[]string{types.ModuleName, "task", event},
		1,
		[]metrics.Label{
			telemetry.NewLabel("task_type", taskType.String()),
		},
	)
}
