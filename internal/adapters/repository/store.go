// Package repository holds live sessions and persists finished participant
// rows.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/types"
)

// StoredRow is a participant row filed under a project and feed.
type StoredRow struct {
	ProjectID string
	FeedID    string
	SessionID string
	Row       types.FlatRow
	CreatedAt time.Time
}

// RowStore persists participant rows and friendly post names.
type RowStore interface {
	// Put stores r unless a row for the same session already exists. It
	// reports whether r was written.
	Put(ctx context.Context, r StoredRow) (bool, error)

	// Get returns the row of one session. Returns ErrNotFound if absent.
	Get(ctx context.Context, projectID, feedID, sessionID string) (StoredRow, error)

	// List returns every row of a feed in insertion order.
	List(ctx context.Context, projectID, feedID string) ([]StoredRow, error)

	// Import stores historical rows of any schema variant and returns how
	// many were new.
	Import(ctx context.Context, projectID, feedID string, rows []types.FlatRow) (int, error)

	SetPostName(ctx context.Context, projectID, feedID, postID, name string) error

	// Names returns the friendly post names of a feed keyed by
	// normalize.NameKey.
	Names(ctx context.Context, projectID, feedID string) (normalize.MapNames, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) int

	Close() error
}

// Driver names accepted by NewRowStore.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NewRowStore opens the store for driver.
func NewRowStore(ctx context.Context, driver, dsn string, opts ...Option) (RowStore, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(opts...), nil
	case DriverSQLite, DriverPostgres:
		return NewSQLStore(ctx, driver, dsn, opts...)
	default:
		return nil, ErrUnsupportedDriver
	}
}

// Rows extracts the flat rows of stored.
func Rows(stored []StoredRow) []types.FlatRow {
	out := make([]types.FlatRow, len(stored))
	for i, r := range stored {
		out[i] = r.Row
	}
	return out
}

func validKey(projectID, feedID, sessionID string) bool {
	return projectID != "" && feedID != "" && sessionID != ""
}

// importedRow prepares a historical row for storage. Rows without a session
// id get a fresh one so they can still be addressed.
func importedRow(projectID, feedID string, row types.FlatRow, now time.Time) StoredRow {
	cp := make(types.FlatRow, len(row)+1)
	for k, v := range row {
		cp[k] = v
	}
	id := strings.TrimSpace(normalize.Text(cp[types.ColSessionID]))
	if id == "" {
		id = uuid.NewString()
		cp[types.ColSessionID] = id
	}
	return StoredRow{ProjectID: projectID, FeedID: feedID, SessionID: id, Row: cp, CreatedAt: now}
}
