package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// _ import for sqlite driver registration
	_ "modernc.org/sqlite"

	"github.com/tidegate/stevedore/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// defaultListLimit caps List results when the filter does not set one.
const defaultListLimit = 50

// Entry is one recorded package attempt, the unit the history command
// displays.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"runId"`
	Package    string    `json:"package"`
	Version    string    `json:"version"`
	Registry   string    `json:"registry"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	DryRun     bool      `json:"dryRun"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Filter narrows a List query.
type Filter struct {
	// Package restricts results to one crate name. Empty matches all.
	Package string

	// Limit caps the number of entries returned, newest first.
	// Values below 1 fall back to defaultListLimit.
	Limit int
}

// Journal is an open publish history database.
type Journal struct {
	db *sql.DB
}

// DefaultPath returns the journal location for a workspace:
// <workspace>/target/stevedore/journal.db.
func DefaultPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "target", "stevedore", "journal.db")
}

// Open ensures the journal's directory exists, opens the SQLite
// database at path, and applies schema migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ApplyMigrations applies the embedded schema SQL to the database and
// performs lightweight post-creation migrations (adding new columns
// when needed).
func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := ensurePublishColumns(db); err != nil {
		return err
	}
	return nil
}

// ensurePublishColumns checks for columns added after the first
// release and creates them when missing, so databases written by older
// versions keep working.
func ensurePublishColumns(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(publishes)")
	if err != nil {
		return fmt.Errorf("inspect publishes table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt interface{}
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect publishes table: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect publishes table: %w", err)
	}

	if !cols["detail"] {
		if _, err := db.Exec("ALTER TABLE publishes ADD COLUMN detail TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("add detail column: %w", err)
		}
	}
	return nil
}

// Record inserts one row per package attempt from the run report.
// All rows are written in a single transaction so a partially recorded
// run never appears in history.
func (j *Journal) Record(report *model.RunReport) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("record run %s: %w", report.RunID, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO publishes
		(run_id, package, version, registry, state, detail, dry_run, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record run %s: %w", report.RunID, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, res := range report.Results {
		dryRun := 0
		if report.DryRun {
			dryRun = 1
		}
		_, err := stmt.Exec(
			report.RunID,
			res.Name,
			res.Version,
			report.Registry,
			res.State.String(),
			res.Detail,
			dryRun,
			formatTime(res.StartedAt),
			formatTime(res.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("record %s@%s: %w", res.Name, res.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run %s: %w", report.RunID, err)
	}
	return nil
}

// List returns recorded attempts, newest first, narrowed by the filter.
func (j *Journal) List(filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	query := `SELECT id, run_id, package, version, registry, state, detail, dry_run, started_at, finished_at
		FROM publishes`
	args := []interface{}{}
	if filter.Package != "" {
		query += " WHERE package = ?"
		args = append(args, filter.Package)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var dryRun int
		var started, finished string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Package, &e.Version, &e.Registry,
			&e.State, &e.Detail, &dryRun, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		// The state column is plain text; anything could have written it.
		// Reject rows that do not round-trip through the known states so
		// history output never shows an invented state.
		state, err := model.ParsePublishState(e.State)
		if err != nil {
			return nil, fmt.Errorf("journal row %d: %w", e.ID, err)
		}
		e.State = state.String()
		e.DryRun = dryRun != 0
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal rows: %w", err)
	}
	return entries, nil
}

// formatTime stores timestamps as RFC 3339 text in UTC. SQLite has no
// native time type; text keeps rows readable with the sqlite3 shell.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime. Unparseable or empty values
// yield the zero time rather than failing a whole history query.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
