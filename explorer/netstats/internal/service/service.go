// Package service feeds chain transactions into a netstats tracker and
// persists its state periodically.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gpunet/gpunet/explorer/netstats/internal/metrics"
	"github.com/gpunet/gpunet/explorer/netstats/internal/store"
	"github.com/gpunet/gpunet/explorer/netstats/internal/subscriber"
	"github.com/gpunet/gpunet/explorer/netstats/pkg/logger"
	"github.com/gpunet/gpunet/x/compute/netstats"
)

// ErrSubscriptionClosed is returned by Run when the batch channel closes.
var ErrSubscriptionClosed = errors.New("subscription closed")

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap store.Snapshot) error
	LatestSnapshot(ctx context.Context) (store.Snapshot, bool, error)
}

// SnapshotCache publishes the latest snapshot.
type SnapshotCache interface {
	PutLatest(ctx context.Context, snap store.Snapshot) error
}

// Service owns the tracker.
type Service struct {
	tracker  *netstats.Tracker
	store    SnapshotStore
	cache    SnapshotCache
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time
	dirty    bool
}

// New creates a service with an empty tracker.
func New(st SnapshotStore, cache SnapshotCache, log *logger.Logger, interval time.Duration) *Service {
	return &Service{
		tracker:  netstats.NewTracker(),
		store:    st,
		cache:    cache,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Tracker returns the live tracker.
func (s *Service) Tracker() *netstats.Tracker {
	return s.tracker
}

// Restore replaces the tracker with the latest persisted state, if any.
func (s *Service) Restore(ctx context.Context) error {
	snap, found, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if !found {
		s.log.Info("No snapshot found, starting from an empty tracker")
		return nil
	}
	tracker, err := netstats.NewTrackerFromState(snap.State)
	if err != nil {
		return fmt.Errorf("failed to restore snapshot at height %d: %w", snap.Position.Height, err)
	}
	s.tracker = tracker
	metrics.RecordStats(tracker.Stats(), tracker.Position())
	s.log.Info("Restored tracker", "height", snap.Position.Height, "tx_index", snap.Position.TxIndex)
	return nil
}

// Apply feeds one transaction to the tracker.
func (s *Service) Apply(batch subscriber.TxBatch) error {
	applied, err := s.tracker.ApplyAt(batch.Position, batch.Events)
	metrics.RecordBatch(err)
	if err != nil {
		return err
	}
	if applied {
		s.dirty = true
		metrics.RecordStats(s.tracker.Stats(), batch.Position)
	}
	return nil
}

// Run applies batches until ctx ends or the channel closes, flushing every
// interval and once more on exit.
func (s *Service) Run(ctx context.Context, batches <-chan subscriber.TxBatch) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				s.flushOnExit()
				return ErrSubscriptionClosed
			}
			if err := s.Apply(batch); err != nil {
				s.log.Error("Failed to apply transaction events",
					"height", batch.Position.Height, "tx_index", batch.Position.TxIndex, "error", err)
			}
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Error("Failed to persist snapshot", "error", err)
			}
		case <-ctx.Done():
			s.flushOnExit()
			return nil
		}
	}
}

func (s *Service) flushOnExit() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Error("Failed to persist final snapshot", "error", err)
	}
}

// Flush saves the tracker state when it changed since the last save. A
// cache failure is logged; the store stays authoritative.
func (s *Service) Flush(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	state := s.tracker.State()
	snap := store.Snapshot{
		Position:  state.Position,
		Stats:     s.tracker.Stats(),
		State:     state,
		CreatedAt: s.now().UTC(),
	}

	err := s.store.SaveSnapshot(ctx, snap)
	metrics.RecordSnapshot(err)
	if err != nil {
		return err
	}
	s.dirty = false

	if err := s.cache.PutLatest(ctx, snap); err != nil {
		s.log.Warn("Failed to cache snapshot", "height", snap.Position.Height, "error", err)
	}
	s.log.Debug("Snapshot saved", "height", snap.Position.Height, "tx_index", snap.Position.TxIndex)
	return nil
}
