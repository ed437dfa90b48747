package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpunet/gpunet/x/compute/netstats"
	"github.com/gpunet/gpunet/x/compute/types"
)

var (
	nodesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netstats_nodes",
		Help: "Worker nodes by state",
	}, []string{"state"})

	tasksGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netstats_tasks",
		Help: "Tasks by state; total counts every task ever created",
	}, []string{"state"})

	heightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netstats_applied_height",
		Help: "Height of the last applied transaction",
	})

	batchesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstats_tx_batches_applied_total",
		Help: "Transactions whose events were applied",
	})

	batchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstats_tx_batches_failed_total",
		Help: "Transactions whose events could not be applied",
	})

	snapshotsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netstats_snapshots_total",
		Help: "Snapshot persistence attempts by result",
	}, []string{"result"})
)

// RecordStats publishes the tracker counters.
func RecordStats(stats types.NetworkStats, pos netstats.Position) {
	nodesGauge.WithLabelValues("total").Set(float64(stats.TotalNodes))
	nodesGauge.WithLabelValues("available").Set(float64(stats.AvailableNodes))
	nodesGauge.WithLabelValues("busy").Set(float64(stats.BusyNodes))
	tasksGauge.WithLabelValues("total").Set(float64(stats.TotalTasks))
	tasksGauge.WithLabelValues("running").Set(float64(stats.RunningTasks))
	tasksGauge.WithLabelValues("queued").Set(float64(stats.QueuedTasks))
	heightGauge.Set(float64(pos.Height))
}

// RecordBatch counts an applied or failed transaction.
func RecordBatch(err error) {
	if err != nil {
		batchesFailed.Inc()
		return
	}
	batchesApplied.Inc()
}

// RecordSnapshot counts a snapshot save.
func RecordSnapshot(err error) {
	if err != nil {
		snapshotsSaved.WithLabelValues("error").Inc()
		return
	}
	snapshotsSaved.WithLabelValues("ok").Inc()
}

// Server exposes Prometheus metrics over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer builds a metrics server on the provided port.
func NewServer(port int) *Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves metrics until shutdown; returns nil when disabled.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the metrics server; no-op when disabled.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
