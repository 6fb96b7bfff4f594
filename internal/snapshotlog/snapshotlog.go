// Package snapshotlog persists one row per snapshot/process/group/decision
// to an embedded SQLite database, admitting new ticks without blocking the
// tick loop even under write pressure: a bounded queue drops the oldest
// pending tick rather than stall Enqueue.
package snapshotlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/smoothtask/smoothtask/internal/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id   INTEGER PRIMARY KEY,
	tick_seq      INTEGER NOT NULL,
	timestamp_ns  INTEGER NOT NULL,
	overrun       INTEGER NOT NULL,
	cpu_busy_pct  REAL NOT NULL,
	user_active   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processes (
	snapshot_id INTEGER NOT NULL,
	pid         INTEGER NOT NULL,
	group_id    TEXT NOT NULL,
	cpu_share_1s REAL NOT NULL,
	process_type TEXT NOT NULL,
	target_class INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	snapshot_id INTEGER NOT NULL,
	group_id    TEXT NOT NULL,
	app_name    TEXT NOT NULL,
	group_type  TEXT NOT NULL,
	target_class INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	snapshot_id INTEGER NOT NULL,
	group_id    TEXT NOT NULL,
	class       INTEGER NOT NULL,
	dry_run     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processes_snapshot ON processes(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_groups_snapshot ON groups(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_decisions_snapshot ON decisions(snapshot_id);
`

// Entry is one tick's full record, queued for the writer goroutine.
type Entry struct {
	Snapshot  *model.Snapshot
	Decisions []Decision
}

// Decision is the subset of policy.Decision this package stores; duplicated
// here (rather than importing internal/policy) to keep snapshotlog a leaf
// package with no dependency on the decision-making stages.
type Decision struct {
	GroupID string
	Class   model.PriorityClass
	DryRun  bool
}

// Store is the bounded, non-blocking append-only snapshot log.
type Store struct {
	db    *sql.DB
	queue chan Entry
	done  chan struct{}

	dropped int64
}

// Open opens (and migrates) the SQLite database at path, and starts the
// background writer goroutine draining a queue of the given depth.
func Open(ctx context.Context, path string, queueDepth int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshotlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshotlog: migrate: %w", err)
	}
	if err := ensureVersion(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		queue: make(chan Entry, queueDepth),
		done:  make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

func ensureVersion(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("snapshotlog: read schema_version: %w", err)
	}
	if count == 0 {
		_, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	}
	return nil
}

// Enqueue admits one tick's entry without blocking. If the queue is full,
// the oldest pending entry is dropped to make room, and Dropped() grows by
// one; Enqueue itself never blocks and never returns an error for this case
// (LoggerOverflow is informational, not a tick-abort condition).
func (s *Store) Enqueue(e Entry) {
	select {
	case s.queue <- e:
		return
	default:
	}
	select {
	case old := <-s.queue:
		_ = old
		s.dropped++
	default:
	}
	select {
	case s.queue <- e:
	default:
	}
}

// Dropped returns the number of entries dropped for queue pressure so far.
func (s *Store) Dropped() int64 {
	return s.dropped
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.queue:
			if err := s.write(ctx, e); err != nil {
				continue
			}
		}
	}
}

func (s *Store) write(ctx context.Context, e Entry) error {
	snap := e.Snapshot
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	overrun := 0
	if snap.Overrun {
		overrun = 1
	}
	userActive := 0
	if snap.Global.UserActive {
		userActive = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (snapshot_id, tick_seq, timestamp_ns, overrun, cpu_busy_pct, user_active) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.TickSeq, snap.Timestamp.UnixNano(), overrun, snap.Global.CPUBusyPct, userActive,
	); err != nil {
		return err
	}

	for _, p := range snap.Processes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processes (snapshot_id, pid, group_id, cpu_share_1s, process_type, target_class) VALUES (?, ?, ?, ?, ?, ?)`,
			snap.SnapshotID, p.PID, p.GroupID, p.CPUShare1s, string(p.ProcessType), int(p.TargetClass),
		); err != nil {
			return err
		}
	}

	for _, g := range snap.Groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO groups (snapshot_id, group_id, app_name, group_type, target_class) VALUES (?, ?, ?, ?, ?)`,
			snap.SnapshotID, g.GroupID, g.AppName, string(g.GroupType), int(g.TargetClass),
		); err != nil {
			return err
		}
	}

	for _, d := range e.Decisions {
		dryRun := 0
		if d.DryRun {
			dryRun = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (decision_id, snapshot_id, group_id, class, dry_run) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), snap.SnapshotID, d.GroupID, int(d.Class), dryRun,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close waits for the writer goroutine to exit, which it does once the ctx
// passed to Open is cancelled (entries still queued then are not written),
// and closes the database.
func (s *Store) Close() error {
	<-s.done
	return s.db.Close()
}
