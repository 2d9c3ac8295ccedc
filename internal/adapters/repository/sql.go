package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/logger"
	"github.com/okian/feedtrace/pkg/metrics"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLStore is a RowStore on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	cfg    settings
}

type rowRecord struct {
	ProjectID string `db:"project_id"`
	FeedID    string `db:"feed_id"`
	SessionID string `db:"session_id"`
	RowJSON   string `db:"row_json"`
	CreatedAt int64  `db:"created_at"`
}

type nameRecord struct {
	PostID string `db:"post_id"`
	Name   string `db:"name"`
}

// NewSQLStore connects to dsn, applies pending migrations and returns the
// store. driver is DriverSQLite or DriverPostgres.
func NewSQLStore(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, ErrUnsupportedDriver
	}
	if driver == DriverSQLite && IsMemorySQLite(dsn) {
		return nil, ErrMemoryDSN
	}
	cfg := newSettings(opts)

	if err := migrateUp(driver, dsn); err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	switch {
	case driver == DriverSQLite:
		db.SetMaxOpenConns(1)
	case cfg.maxOpenConns > 0:
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}

	s := &SQLStore{db: db, driver: driver, cfg: cfg}
	cfg.logger.Info(ctx, "row store ready", logger.String("driver", driver))
	metrics.UpdateStoreRows(s.Count(ctx))
	return s, nil
}

// IsMemorySQLite reports whether dsn names a private in-memory SQLite
// database. Migrations run on a connection of their own, so such a database
// would be migrated and then thrown away.
func IsMemorySQLite(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// migrateUp runs the embedded migrations on a connection of its own; the
// migrate drivers close the handle they are given.
func migrateUp(driver, dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s for migrations: %w", driver, err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		target, err = postgres.WithInstance(conn, &postgres.Config{})
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, r StoredRow) (bool, error) { //nolint:gocritic // hugeParam
	if !validKey(r.ProjectID, r.FeedID, r.SessionID) {
		return false, ErrInvalidKey
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWrite(s.driver, sinceMs(start)) }()

	ok, err := s.insert(ctx, s.db, r)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "write_error")
		return false, err
	}
	if ok {
		metrics.UpdateStoreRows(s.Count(ctx))
	}
	return ok, nil
}

func (s *SQLStore) insert(ctx context.Context, ex sqlx.ExtContext, r StoredRow) (bool, error) { //nolint:gocritic // hugeParam
	raw, err := json.Marshal(r.Row)
	if err != nil {
		return false, fmt.Errorf("encode row %s: %w", r.SessionID, err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.cfg.now()
	}
	q := s.db.Rebind(`INSERT INTO participant_rows (project_id, feed_id, session_id, row_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, feed_id, session_id) DO NOTHING`)
	res, err := ex.ExecContext(ctx, q, r.ProjectID, r.FeedID, r.SessionID, string(raw), r.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert row %s: %w", r.SessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert row %s: %w", r.SessionID, err)
	}
	return n > 0, nil
}

func (s *SQLStore) Get(ctx context.Context, projectID, feedID, sessionID string) (StoredRow, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery(s.driver, sinceMs(start)) }()

	var rec rowRecord
	q := s.db.Rebind(`SELECT project_id, feed_id, session_id, row_json, created_at
		FROM participant_rows WHERE project_id = ? AND feed_id = ? AND session_id = ?`)
	if err := s.db.GetContext(ctx, &rec, q, projectID, feedID, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredRow{}, ErrNotFound
		}
		return StoredRow{}, fmt.Errorf("get row %s: %w", sessionID, err)
	}
	return rec.decode()
}

func (s *SQLStore) List(ctx context.Context, projectID, feedID string) ([]StoredRow, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery(s.driver, sinceMs(start)) }()

	var recs []rowRecord
	q := s.db.Rebind(`SELECT project_id, feed_id, session_id, row_json, created_at
		FROM participant_rows WHERE project_id = ? AND feed_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &recs, q, projectID, feedID); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	out := make([]StoredRow, 0, len(recs))
	for _, rec := range recs {
		r, err := rec.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) Import(ctx context.Context, projectID, feedID string, rows []types.FlatRow) (int, error) {
	if projectID == "" || feedID == "" {
		return 0, ErrInvalidKey
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWrite(s.driver, sinceMs(start)) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	n := 0
	for _, row := range rows {
		ok, err := s.insert(ctx, tx, importedRow(projectID, feedID, row, s.cfg.now()))
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if ok {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	metrics.UpdateStoreRows(s.Count(ctx))
	return n, nil
}

func (s *SQLStore) SetPostName(ctx context.Context, projectID, feedID, postID, name string) error {
	if !validKey(projectID, feedID, postID) {
		return ErrInvalidKey
	}
	q := s.db.Rebind(`INSERT INTO post_names (project_id, feed_id, post_id, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, feed_id, post_id) DO UPDATE SET name = excluded.name`)
	if _, err := s.db.ExecContext(ctx, q, projectID, feedID, postID, name); err != nil {
		return fmt.Errorf("set post name %s: %w", postID, err)
	}
	return nil
}

func (s *SQLStore) Names(ctx context.Context, projectID, feedID string) (normalize.MapNames, error) {
	var recs []nameRecord
	q := s.db.Rebind(`SELECT post_id, name FROM post_names WHERE project_id = ? AND feed_id = ?`)
	if err := s.db.SelectContext(ctx, &recs, q, projectID, feedID); err != nil {
		return nil, fmt.Errorf("list post names: %w", err)
	}
	out := make(normalize.MapNames, len(recs))
	for _, r := range recs {
		out[normalize.NameKey(projectID, feedID, r.PostID)] = r.Name
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM participant_rows`); err != nil {
		s.cfg.logger.Warn(ctx, "count rows failed", logger.Error(err))
		return 0
	}
	return n
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (r rowRecord) decode() (StoredRow, error) {
	var row types.FlatRow
	if err := json.Unmarshal([]byte(r.RowJSON), &row); err != nil {
		return StoredRow{}, fmt.Errorf("decode row %s: %w", r.SessionID, err)
	}
	return StoredRow{
		ProjectID: r.ProjectID,
		FeedID:    r.FeedID,
		SessionID: r.SessionID,
		Row:       row,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}
