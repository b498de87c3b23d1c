package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/amishk599/jobflow/internal/model"
)

var (
	_ model.RecordStore       = (*SQLiteStore)(nil)
	_ model.RecordQuerier     = (*SQLiteStore)(nil)
	_ model.ExecutionRecorder = (*SQLiteStore)(nil)
)

// SQLiteStore persists listings and execution records in a SQLite database.
// The UNIQUE(source, reference) constraint is the only concurrency control.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	source              TEXT NOT NULL,
	reference           TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	client              TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	start_date          TEXT NOT NULL DEFAULT '',
	end_date            TEXT NOT NULL DEFAULT '',
	skills              TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL DEFAULT '',
	description_summary TEXT NOT NULL DEFAULT '',
	raw_data            TEXT,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source, reference)
);
CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings (created_at);
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	workflow         TEXT NOT NULL,
	source           TEXT NOT NULL,
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	started_at       DATETIME,
	finished_at      DATETIME,
	error            TEXT NOT NULL DEFAULT '',
	failed_step      TEXT NOT NULL DEFAULT '',
	attempts         INTEGER NOT NULL DEFAULT 0,
	listings         INTEGER NOT NULL DEFAULT 0,
	inserted         INTEGER NOT NULL DEFAULT 0,
	skipped          INTEGER NOT NULL DEFAULT 0,
	failed           INTEGER NOT NULL DEFAULT 0,
	destination      TEXT NOT NULL DEFAULT ''
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single writer connection; concurrent executions queue in the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// UpsertIfAbsent inserts l unless a record with the same (source, reference) exists.
func (s *SQLiteStore) UpsertIfAbsent(ctx context.Context, l model.Listing) (model.InsertResult, error) {
	raw, err := encodeRaw(l.RawData)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO listings
		(source, reference, title, client, location, start_date, end_date, skills, url, description_summary, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, reference) DO NOTHING`,
		string(l.Source), l.Reference, l.Title, l.Client, l.Location, l.StartDate, l.EndDate,
		l.Skills, l.URL, l.DescriptionSummary, raw,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return model.Duplicate, nil
		}
		return 0, fmt.Errorf("inserting listing %s: %w", l.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("inserting listing %s: %w", l.Key(), err)
	}
	if n == 0 {
		return model.Duplicate, nil
	}
	return model.Inserted, nil
}

func isSQLiteUnique(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Exists reports whether a record with key is stored.
func (s *SQLiteStore) Exists(ctx context.Context, key model.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM listings WHERE source = ? AND reference = ?",
		string(key.Source), key.Reference,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, nil
}

// ListRecords returns stored records, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, f model.RecordFilter) ([]model.StoredRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, source, reference, title, client, location, start_date, end_date,
		skills, url, description_summary, raw_data, created_at FROM listings`
	args := []any{}
	if f.Source != "" {
		query += " WHERE source = ?"
		args = append(args, string(f.Source))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		var (
			rec    model.StoredRecord
			source string
			raw    sql.NullString
		)
		l := &rec.Listing
		if err := rows.Scan(&rec.ID, &source, &l.Reference, &l.Title, &l.Client, &l.Location,
			&l.StartDate, &l.EndDate, &l.Skills, &l.URL, &l.DescriptionSummary, &raw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		l.Source = model.Source(source)
		if raw.Valid {
			l.RawData, err = decodeRaw(raw.String)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountBySource returns the number of stored records per source.
func (s *SQLiteStore) CountBySource(ctx context.Context) (map[model.Source]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM listings GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Source]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[model.Source(source)] = n
	}
	return counts, rows.Err()
}

// SaveExecution inserts or updates an execution record. Rows whose status is
// already final are left untouched.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec model.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions
		(id, workflow, source, status, reason, started_at, finished_at, error, failed_step,
		 attempts, listings, inserted, skipped, failed, destination)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, reason = excluded.reason, finished_at = excluded.finished_at,
			error = excluded.error, failed_step = excluded.failed_step, attempts = excluded.attempts,
			listings = excluded.listings, inserted = excluded.inserted, skipped = excluded.skipped,
			failed = excluded.failed, destination = excluded.destination
		WHERE executions.status NOT IN ('succeeded', 'failed', 'partial')`,
		rec.ID, rec.Workflow, string(rec.Source), string(rec.Status), string(rec.Reason),
		nullTime(rec.StartedAt), nullTime(rec.FinishedAt), rec.Error, rec.FailedStep,
		rec.Attempts, rec.Listings, rec.Persistence.Inserted, rec.Persistence.SkippedDuplicate,
		rec.Persistence.Failed, rec.Destination,
	)
	if err != nil {
		return fmt.Errorf("saving execution %s: %w", rec.ID, err)
	}
	return nil
}

// Execution loads one execution record by ID.
func (s *SQLiteStore) Execution(ctx context.Context, id string) (model.ExecutionRecord, error) {
	var (
		rec                   model.ExecutionRecord
		source, status        string
		reason                string
		startedAt, finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, workflow, source, status, reason, started_at, finished_at,
		error, failed_step, attempts, listings, inserted, skipped, failed, destination
		FROM executions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Workflow, &source, &status, &reason, &startedAt, &finishedAt,
		&rec.Error, &rec.FailedStep, &rec.Attempts, &rec.Listings, &rec.Persistence.Inserted,
		&rec.Persistence.SkippedDuplicate, &rec.Persistence.Failed, &rec.Destination,
	)
	if err != nil {
		return rec, fmt.Errorf("loading execution %s: %w", id, err)
	}
	rec.Source = model.Source(source)
	rec.Status = model.ExecutionStatus(status)
	rec.Reason = model.FailureReason(reason)
	rec.StartedAt = startedAt.Time
	rec.FinishedAt = finishedAt.Time
	return rec, nil
}

// Cleanup deletes execution records finished before olderThan ago.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE finished_at IS NOT NULL AND finished_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up executions older than %v: %w", olderThan, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func encodeRaw(raw map[string]any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding raw data: %w", err)
	}
	return string(b), nil
}

func decodeRaw(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decoding raw data: %w", err)
	}
	return raw, nil
}
