// Package datasetstore persists pipeline runs in PostgreSQL.
//
// Every call to [Store.SaveRun] creates a run identified by a random UUID and
// writes its records with their positions, so a dataset can be reloaded in
// exactly the order it was produced, duplicates included. Cleaning failures
// are kept per run for later inspection or a retry pass.
package datasetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// Stage distinguishes paired output from cleaned output.
type Stage string

const (
	StageRaw     Stage = "raw"
	StageCleaned Stage = "cleaned"
)

// Schema is the SQL DDL for the tables used by [Store]. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS persona_runs (
    id          UUID PRIMARY KEY,
    dataset     TEXT NOT NULL,
    stage       TEXT NOT NULL,
    persona     TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    record_count INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_persona_runs_dataset ON persona_runs(dataset, stage, created_at DESC);

CREATE TABLE IF NOT EXISTS persona_records (
    run_id        UUID NOT NULL REFERENCES persona_runs(id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    fingerprint   TEXT NOT NULL,
    conversations JSONB NOT NULL,
    PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_persona_records_fingerprint ON persona_records(fingerprint);

CREATE TABLE IF NOT EXISTS persona_failures (
    run_id      UUID NOT NULL REFERENCES persona_runs(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    turn        TEXT NOT NULL,
    error       TEXT NOT NULL,
    PRIMARY KEY (run_id, position, turn)
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Run describes one persisted dataset.
type Run struct {
	ID        uuid.UUID
	Dataset   string
	Stage     Stage
	Persona   string
	Source    string
	Records   int
	CreatedAt time.Time
}

// Failure is one turn that could not be cleaned in a run.
type Failure struct {
	Position int
	Turn     dataset.Role
	Error    string
}

// Store reads and writes runs.
type Store struct {
	db DB
}

// New returns a [Store] over db. The caller is responsible for calling
// [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, pings it and migrates the schema. The returned
// close function releases the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("datasetstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("datasetstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("datasetstore: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("datasetstore: migrate: %w", err)
	}
	return nil
}

// SaveRun stores d as a new run and returns it. run.ID is generated when
// zero; run.Records and run.CreatedAt are filled in.
func (s *Store) SaveRun(ctx context.Context, run Run, d dataset.Dataset) (Run, error) {
	if run.Dataset == "" {
		return Run{}, errors.New("datasetstore: dataset name must not be empty")
	}
	if run.Stage != StageRaw && run.Stage != StageCleaned {
		return Run{}, fmt.Errorf("datasetstore: unknown stage %q", run.Stage)
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Records = len(d)

	const insertRun = `
		INSERT INTO persona_runs (id, dataset, stage, persona, source, record_count)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`
	err := s.db.QueryRow(ctx, insertRun,
		run.ID, run.Dataset, string(run.Stage), run.Persona, run.Source, run.Records,
	).Scan(&run.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Run{}, fmt.Errorf("datasetstore: run %s already exists", run.ID)
		}
		return Run{}, fmt.Errorf("datasetstore: create run: %w", err)
	}

	const insertRecord = `
		INSERT INTO persona_records (run_id, position, fingerprint, conversations)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (run_id, position) DO NOTHING`
	for i, r := range d {
		conv, err := json.Marshal(r)
		if err != nil {
			return Run{}, fmt.Errorf("datasetstore: marshal record %d: %w", i, err)
		}
		if _, err := s.db.Exec(ctx, insertRecord, run.ID, i, r.Fingerprint(), conv); err != nil {
			return Run{}, fmt.Errorf("datasetstore: insert record %d: %w", i, err)
		}
	}
	return run, nil
}

// SaveFailures records failed turns for a run.
func (s *Store) SaveFailures(ctx context.Context, runID uuid.UUID, failures []Failure) error {
	const query = `
		INSERT INTO persona_failures (run_id, position, turn, error)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (run_id, position, turn) DO UPDATE SET error = EXCLUDED.error`
	for _, f := range failures {
		if _, err := s.db.Exec(ctx, query, runID, f.Position, string(f.Turn), f.Error); err != nil {
			return fmt.Errorf("datasetstore: save failure %d/%s: %w", f.Position, f.Turn, err)
		}
	}
	return nil
}

// LatestRun returns the newest run for a dataset and stage. It returns
// (nil, nil) if there is none.
func (s *Store) LatestRun(ctx context.Context, name string, stage Stage) (*Run, error) {
	const query = `
		SELECT id, dataset, stage, persona, source, record_count, created_at
		FROM persona_runs
		WHERE dataset = $1 AND stage = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		run      Run
		stageStr string
	)
	err := s.db.QueryRow(ctx, query, name, string(stage)).Scan(
		&run.ID, &run.Dataset, &stageStr, &run.Persona, &run.Source, &run.Records, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("datasetstore: latest run %q: %w", name, err)
	}
	run.Stage = Stage(stageStr)
	return &run, nil
}

// LoadRun returns the records of a run in their original order.
func (s *Store) LoadRun(ctx context.Context, runID uuid.UUID) (dataset.Dataset, error) {
	const query = `
		SELECT position, conversations
		FROM persona_records
		WHERE run_id = $1
		ORDER BY position`
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("datasetstore: load run %s: %w", runID, err)
	}
	defer rows.Close()

	var out dataset.Dataset
	for rows.Next() {
		var (
			pos  int
			conv []byte
		)
		if err := rows.Scan(&pos, &conv); err != nil {
			return nil, fmt.Errorf("datasetstore: load run scan: %w", err)
		}
		if pos != len(out) {
			return nil, fmt.Errorf("datasetstore: run %s has a gap at position %d", runID, len(out))
		}
		var r dataset.Record
		if err := json.Unmarshal(conv, &r); err != nil {
			return nil, fmt.Errorf("datasetstore: decode record %d: %w", pos, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datasetstore: load run %s: %w", runID, err)
	}
	return out, nil
}

// ListFailures returns the failures of a run ordered by position and turn.
func (s *Store) ListFailures(ctx context.Context, runID uuid.UUID) ([]Failure, error) {
	const query = `
		SELECT position, turn, error
		FROM persona_failures
		WHERE run_id = $1
		ORDER BY position, turn DESC`
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("datasetstore: list failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f    Failure
			turn string
		)
		if err := rows.Scan(&f.Position, &turn, &f.Error); err != nil {
			return nil, fmt.Errorf("datasetstore: list failures scan: %w", err)
		}
		f.Turn = dataset.Role(turn)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datasetstore: list failures: %w", err)
	}
	return out, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
