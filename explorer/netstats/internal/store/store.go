package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gpunet/gpunet/x/compute/netstats"
	"github.com/gpunet/gpunet/x/compute/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS netstats_snapshots (
	height          BIGINT      NOT NULL,
	tx_index        BIGINT      NOT NULL,
	total_nodes     BIGINT      NOT NULL,
	available_nodes BIGINT      NOT NULL,
	busy_nodes      BIGINT      NOT NULL,
	total_tasks     BIGINT      NOT NULL,
	running_tasks   BIGINT      NOT NULL,
	queued_tasks    BIGINT      NOT NULL,
	state           JSONB       NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (height, tx_index)
);
`

// Snapshot is a persisted tracker state with its derived counters.
type Snapshot struct {
	Position  netstats.Position  `json:"position"`
	Stats     types.NetworkStats `json:"stats"`
	State     netstats.State     `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
}

// Config holds database configuration
type Config struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// Store persists tracker snapshots in PostgreSQL
type Store struct {
	db *sql.DB
}

// Open creates a new database connection
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// InitSchema creates the snapshot table if missing
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SaveSnapshot upserts a snapshot keyed by its position
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO netstats_snapshots (height, tx_index, total_nodes, available_nodes, busy_nodes,
			total_tasks, running_tasks, queued_tasks, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (height, tx_index) DO UPDATE SET
			total_nodes = EXCLUDED.total_nodes,
			available_nodes = EXCLUDED.available_nodes,
			busy_nodes = EXCLUDED.busy_nodes,
			total_tasks = EXCLUDED.total_tasks,
			running_tasks = EXCLUDED.running_tasks,
			queued_tasks = EXCLUDED.queued_tasks,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
	`, snap.Position.Height, int64(snap.Position.TxIndex),
		int64(snap.Stats.TotalNodes), int64(snap.Stats.AvailableNodes), int64(snap.Stats.BusyNodes),
		int64(snap.Stats.TotalTasks), int64(snap.Stats.RunningTasks), int64(snap.Stats.QueuedTasks),
		state, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot at height %d: %w", snap.Position.Height, err)
	}
	return nil
}

const selectSnapshot = `
	SELECT height, tx_index, total_nodes, available_nodes, busy_nodes,
		total_tasks, running_tasks, queued_tasks, state, created_at
	FROM netstats_snapshots
	ORDER BY height DESC, tx_index DESC
`

// LatestSnapshot returns the most advanced snapshot, if any
func (s *Store) LatestSnapshot(ctx context.Context) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshot+" LIMIT 1")
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// History returns up to limit snapshots, newest first
func (s *Store) History(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshot+" LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var (
		snap    Snapshot
		txIndex int64
		counts  [6]int64
		state   []byte
	)
	err := row.Scan(&snap.Position.Height, &txIndex,
		&counts[0], &counts[1], &counts[2], &counts[3], &counts[4], &counts[5],
		&state, &snap.CreatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Position.TxIndex = uint32(txIndex)
	snap.Stats = types.NetworkStats{
		TotalNodes:     uint64(counts[0]),
		AvailableNodes: uint64(counts[1]),
		BusyNodes:      uint64(counts[2]),
		TotalTasks:     uint64(counts[3]),
		RunningTasks:   uint64(counts[4]),
		QueuedTasks:    uint64(counts[5]),
	}
	if err := json.Unmarshal(state, &snap.State); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode state at height %d: %w", snap.Position.Height, err)
	}
	return snap, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
