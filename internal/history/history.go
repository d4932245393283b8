// Package history archives completed research runs to SQLite for audit
// and later inspection.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/research"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	status      TEXT NOT NULL,
	partial     INTEGER NOT NULL DEFAULT 0,
	cycles      INTEGER NOT NULL DEFAULT 0,
	findings    INTEGER NOT NULL DEFAULT 0,
	report      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	source     TEXT NOT NULL,
	identifier TEXT NOT NULL,
	relevance  REAL NOT NULL,
	cycle      INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (run_id, source, identifier)
);
`

// RunRecord is one archived run row.
type RunRecord struct {
	RunID      string    `db:"run_id" json:"run_id"`
	Query      string    `db:"query" json:"query"`
	Status     string    `db:"status" json:"status"`
	Partial    bool      `db:"partial" json:"partial"`
	Cycles     int       `db:"cycles" json:"cycles"`
	Findings   int       `db:"findings" json:"findings"`
	Report     string    `db:"report" json:"report"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// Store wraps the audit database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// RecordRun archives a finished run and its findings in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, st research.State, report string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (run_id, query, status, partial, cycles, findings, report, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.Query, string(st.Status), st.Partial, st.Cycle,
		len(st.Findings), report, st.StartedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range st.Findings {
		payload, err := json.Marshal(f.Payload)
		if err != nil {
			return fmt.Errorf("marshal finding payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO findings
			 (run_id, source, identifier, relevance, cycle, seq, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.RunID, f.Source, f.Identifier, f.Relevance, f.Cycle, f.Seq, string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	s.logger.Info("Run archived",
		zap.String("run_id", st.RunID),
		zap.Int("findings", len(st.Findings)),
	)
	return nil
}

// ListRuns returns the most recent archived runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunRecord
	err := s.db.SelectContext(ctx, &runs,
		`SELECT run_id, query, status, partial, cycles, findings, report, started_at, finished_at
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
