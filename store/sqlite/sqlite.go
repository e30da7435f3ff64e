/*
Package sqlite persists completed runs for audit and replay.

PURPOSE:
  A simulation is cheap to recompute but its books are worth keeping: the
  store writes every run's journal as an append-only record, so a past
  report can always be traced back to the exact entries behind it.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the entries or postings tables
  - A run is written once, inside a single transaction

KEY TABLES:
  runs:      One row per completed simulation (axis, currency, findings)
  accounts:  The chart of accounts the run was compiled against
  entries:   The journal, two postings each
  postings:  The account legs, amount stored as exact decimal text

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/runs.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  id, err := store.SaveRun(ctx, result, issues)

SEE ALSO:
  - scenario/scenario.go: the RunResult being persisted
  - ledger/export.go: the row shape served back for export
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/scenario"
)

// Store is a SQLite-backed run archive.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens or creates the store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		base_currency TEXT NOT NULL,
		start_month TEXT NOT NULL,
		months INTEGER NOT NULL,
		events_json TEXT NOT NULL,
		issues_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_scenario
		ON runs(scenario_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS accounts (
		run_id TEXT NOT NULL REFERENCES runs(id),
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		scope TEXT NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	-- Journal entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		run_id TEXT NOT NULL REFERENCES runs(id),
		id TEXT NOT NULL,
		month TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		brick_id TEXT NOT NULL,
		operation_id TEXT,
		memo TEXT,
		PRIMARY KEY (run_id, id)
	);

	-- Balance replay walks (run, month, seq), keep it indexed
	CREATE INDEX IF NOT EXISTS idx_entries_run_month
		ON entries(run_id, month, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_brick
		ON entries(run_id, brick_id);

	CREATE TABLE IF NOT EXISTS postings (
		run_id TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		side INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (run_id, entry_id, side),
		FOREIGN KEY (run_id, entry_id) REFERENCES entries(run_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_postings_account
		ON postings(run_id, account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RunRecord is the stored metadata of one run.
type RunRecord struct {
	ID         string
	ScenarioID string
	Base       ledger.Currency
	Start      ledger.Month
	Months     int
	Events     []RunEvent
	Issues     []scenario.Issue
	CreatedAt  time.Time
}

// RunEvent is the persisted form of a strategy lifecycle event.
type RunEvent struct {
	Month  string `json:"month"`
	Kind   string `json:"kind"`
	Brick  string `json:"brick"`
	Detail string `json:"detail"`
}

// SaveRun writes a completed run and its validation findings in one
// transaction and returns the generated run id.
func (s *Store) SaveRun(ctx context.Context, r *scenario.RunResult, issues []scenario.Issue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]RunEvent, 0, len(r.Events))
	for _, ev := range r.Events {
		events = append(events, RunEvent{
			Month:  r.Axis.At(ev.Index).String(),
			Kind:   ev.Kind,
			Brick:  ev.Brick,
			Detail: ev.Detail,
		})
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	if issues == nil {
		issues = []scenario.Issue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return "", fmt.Errorf("failed to encode issues: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario_id, base_currency, start_month, months, events_json, issues_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.ScenarioID, string(r.Base), r.Axis.Start.String(), r.Axis.N,
		string(eventsJSON), string(issuesJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	acctStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (run_id, id, name, type, scope, currency)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer acctStmt.Close()
	for _, a := range r.Accounts.Accounts() {
		if _, err := acctStmt.ExecContext(ctx, runID, string(a.ID), a.Name,
			a.Type.String(), a.Scope.String(), string(a.Currency)); err != nil {
			return "", fmt.Errorf("failed to insert account %s: %w", a.ID, err)
		}
	}

	entryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (run_id, id, month, seq, kind, brick_id, operation_id, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer entryStmt.Close()
	postStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO postings (run_id, entry_id, side, account_id, amount, currency)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer postStmt.Close()

	for _, e := range r.Journal.Entries() {
		if _, err := entryStmt.ExecContext(ctx, runID, e.ID, e.Month.String(), e.Sequence,
			string(e.Kind), e.BrickID, e.OperationID, e.Memo); err != nil {
			return "", fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
		for side, p := range e.Postings {
			if _, err := postStmt.ExecContext(ctx, runID, e.ID, side,
				string(p.Account), p.Amount.Value.String(), string(p.Amount.Currency)); err != nil {
				return "", fmt.Errorf("failed to insert posting %s/%d: %w", e.ID, side, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// GetRun loads one run's metadata.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, base_currency, start_month, months, events_json, issues_json, created_at
		FROM runs WHERE id = ?`, runID)

	var rec RunRecord
	var base, start, eventsJSON, issuesJSON, createdAt string
	if err := row.Scan(&rec.ID, &rec.ScenarioID, &base, &start, &rec.Months,
		&eventsJSON, &issuesJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	rec.Base = ledger.Currency(base)
	m, err := ledger.ParseMonth(start)
	if err != nil {
		return nil, fmt.Errorf("corrupt start month %q: %w", start, err)
	}
	rec.Start = m
	if err := json.Unmarshal([]byte(eventsJSON), &rec.Events); err != nil {
		return nil, fmt.Errorf("corrupt events: %w", err)
	}
	if err := json.Unmarshal([]byte(issuesJSON), &rec.Issues); err != nil {
		return nil, fmt.Errorf("corrupt issues: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// ListRuns returns run metadata for a scenario, newest first. An empty
// scenario id lists everything.
func (s *Store) ListRuns(ctx context.Context, scenarioID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id FROM runs ORDER BY created_at DESC`
	args := []any{}
	if scenarioID != "" {
		query = `SELECT id FROM runs WHERE scenario_id = ? ORDER BY created_at DESC`
		args = append(args, scenarioID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.getRunLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// getRunLocked is GetRun without re-taking the read lock.
func (s *Store) getRunLocked(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, base_currency, start_month, months, events_json, issues_json, created_at
		FROM runs WHERE id = ?`, runID)

	var rec RunRecord
	var base, start, eventsJSON, issuesJSON, createdAt string
	if err := row.Scan(&rec.ID, &rec.ScenarioID, &base, &start, &rec.Months,
		&eventsJSON, &issuesJSON, &createdAt); err != nil {
		return nil, err
	}
	rec.Base = ledger.Currency(base)
	m, err := ledger.ParseMonth(start)
	if err != nil {
		return nil, err
	}
	rec.Start = m
	if err := json.Unmarshal([]byte(eventsJSON), &rec.Events); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(issuesJSON), &rec.Issues); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// EntryRows loads a run's journal flattened to export rows, ordered by
// (month, sequence), one row per posting with its counterpart account.
func (s *Store) EntryRows(ctx context.Context, runID string) ([]ledger.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.month, e.seq, e.kind, e.brick_id,
		       p.account_id, cp.account_id, p.currency, p.amount
		FROM entries e
		JOIN postings p ON p.run_id = e.run_id AND p.entry_id = e.id
		JOIN postings cp ON cp.run_id = e.run_id AND cp.entry_id = e.id AND cp.side != p.side
		WHERE e.run_id = ?
		ORDER BY e.month, e.seq, p.side`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Row
	for rows.Next() {
		var r ledger.Row
		var month, currency, amount string
		if err := rows.Scan(&r.EntryID, &month, &r.Sequence, &r.Kind, &r.BrickID,
			&r.Account, &r.Counterpart, &currency, &amount); err != nil {
			return nil, err
		}
		m, err := ledger.ParseMonth(month)
		if err != nil {
			return nil, fmt.Errorf("corrupt month %q: %w", month, err)
		}
		r.Month = m
		r.Currency = ledger.Currency(currency)
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		r.Amount = v
		out = append(out, r)
	}
	return out, rows.Err()
}
