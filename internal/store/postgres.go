package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amishk599/jobflow/internal/model"
)

var (
	_ model.RecordStore       = (*PostgresStore)(nil)
	_ model.RecordQuerier     = (*PostgresStore)(nil)
	_ model.ExecutionRecorder = (*PostgresStore)(nil)
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id                  BIGSERIAL PRIMARY KEY,
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
	raw_data            JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, reference)
);
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error       TEXT NOT NULL DEFAULT '',
	failed_step TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	listings    INTEGER NOT NULL DEFAULT 0,
	inserted    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	destination TEXT NOT NULL DEFAULT ''
);`

// PostgresStore is the shared-database variant of SQLiteStore, for deployments
// where several workers write concurrently.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// PostgresConfig sizes the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPostgresStore connects, pings, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) UpsertIfAbsent(ctx context.Context, l model.Listing) (model.InsertResult, error) {
	var raw []byte
	if l.RawData != nil {
		var err error
		raw, err = json.Marshal(l.RawData)
		if err != nil {
			return 0, fmt.Errorf("encoding raw data: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO listings
		(source, reference, title, client, location, start_date, end_date, skills, url, description_summary, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source, reference) DO NOTHING`,
		string(l.Source), l.Reference, l.Title, l.Client, l.Location, l.StartDate, l.EndDate,
		l.Skills, l.URL, l.DescriptionSummary, raw,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.Duplicate, nil
		}
		return 0, fmt.Errorf("inserting listing %s: %w", l.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return model.Duplicate, nil
	}
	return model.Inserted, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key model.Key) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM listings WHERE source = $1 AND reference = $2",
		string(key.Source), key.Reference,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, f model.RecordFilter) ([]model.StoredRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, source, reference, title, client, location, start_date,
		end_date, skills, url, description_summary, raw_data, created_at
		FROM listings WHERE ($1 = '' OR source = $1)
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		string(f.Source), limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		var (
			rec    model.StoredRecord
			source string
			raw    []byte
		)
		l := &rec.Listing
		if err := rows.Scan(&rec.ID, &source, &l.Reference, &l.Title, &l.Client, &l.Location,
			&l.StartDate, &l.EndDate, &l.Skills, &l.URL, &l.DescriptionSummary, &raw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		l.Source = model.Source(source)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &l.RawData); err != nil {
				return nil, fmt.Errorf("decoding raw data: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountBySource(ctx context.Context) (map[model.Source]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT source, COUNT(*) FROM listings GROUP BY source")
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

func (s *PostgresStore) SaveExecution(ctx context.Context, rec model.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO executions
		(id, workflow, source, status, reason, started_at, finished_at, error, failed_step,
		 attempts, listings, inserted, skipped, failed, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, reason = EXCLUDED.reason, finished_at = EXCLUDED.finished_at,
			error = EXCLUDED.error, failed_step = EXCLUDED.failed_step, attempts = EXCLUDED.attempts,
			listings = EXCLUDED.listings, inserted = EXCLUDED.inserted, skipped = EXCLUDED.skipped,
			failed = EXCLUDED.failed, destination = EXCLUDED.destination
		WHERE executions.status NOT IN ('succeeded', 'failed', 'partial')`,
		rec.ID, rec.Workflow, string(rec.Source), string(rec.Status), string(rec.Reason),
		pgTime(rec.StartedAt), pgTime(rec.FinishedAt), rec.Error, rec.FailedStep,
		rec.Attempts, rec.Listings, rec.Persistence.Inserted, rec.Persistence.SkippedDuplicate,
		rec.Persistence.Failed, rec.Destination,
	)
	if err != nil {
		return fmt.Errorf("saving execution %s: %w", rec.ID, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
