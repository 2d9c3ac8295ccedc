package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/feedtrace/internal/adapters/repository"
	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/roster"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/metrics"
)

// Summary rolls every stored row of a feed into roster statistics.
func (s *Service) Summary(ctx context.Context, projectID, feedID string) (roster.Summary, error) {
	rows, err := s.rows(ctx, projectID, feedID)
	if err != nil {
		return roster.Summary{}, err
	}
	start := time.Now()
	sum := roster.Summarize(rows)
	metrics.RecordSummary(float64(time.Since(start).Microseconds()) / 1000)
	for kind, n := range sum.Issues {
		metrics.RecordNormalizeIssues(kind, n)
	}
	return sum, nil
}

// Export lays every stored row of a feed out as one table with friendly
// post names in the header.
func (s *Service) Export(ctx context.Context, projectID, feedID string) (normalize.Table, error) {
	rows, err := s.rows(ctx, projectID, feedID)
	if err != nil {
		return normalize.Table{}, err
	}
	names, err := s.store.Names(ctx, projectID, feedID)
	if err != nil {
		return normalize.Table{}, fmt.Errorf("export %s/%s: %w", projectID, feedID, err)
	}
	scope := types.Scope{ProjectID: projectID, FeedID: feedID}
	return normalize.ExportTable(rows, names, scope), nil
}

// RowDetail is one stored row decoded into per-post facts.
type RowDetail struct {
	SessionID string `json:"session_id"`
	// Base holds the non-post fields as stored.
	Base       map[string]any            `json:"base"`
	Posts      map[string]normalize.Post `json:"posts"`
	Structured types.FlatRow             `json:"structured"`
	// Issues lists what could not be read; the rest of the row still is.
	Issues []string `json:"issues,omitempty"`
}

// RowDetail decodes the stored row of one session, whatever schema variant
// it was written in.
func (s *Service) RowDetail(ctx context.Context, projectID, feedID, sessionID string) (RowDetail, error) {
	if !s.running() {
		return RowDetail{}, ErrNotStarted
	}
	stored, err := s.store.Get(ctx, projectID, feedID, sessionID)
	if err != nil {
		return RowDetail{}, fmt.Errorf("row %s: %w", sessionID, err)
	}

	res := normalize.Decode(stored.Row)
	detail := RowDetail{
		SessionID:  stored.SessionID,
		Base:       make(map[string]any, len(types.BaseColumns)),
		Posts:      res.Posts,
		Structured: normalize.Structured(res.Posts),
	}
	for _, col := range types.BaseColumns {
		if v, ok := stored.Row[col]; ok {
			detail.Base[col] = v
		}
	}
	for _, is := range res.Issues {
		detail.Issues = append(detail.Issues, is.Error())
	}
	return detail, nil
}

// ImportRows stores historical rows of any schema variant.
func (s *Service) ImportRows(ctx context.Context, projectID, feedID string, rows []types.FlatRow) (int, error) {
	if !s.running() {
		return 0, ErrNotStarted
	}
	if projectID == "" || feedID == "" {
		return 0, ErrInvalidScope
	}
	if len(rows) > s.maxImportRows {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyRows, len(rows), s.maxImportRows)
	}
	n, err := s.store.Import(ctx, projectID, feedID, rows)
	if err != nil {
		return 0, fmt.Errorf("import into %s/%s: %w", projectID, feedID, err)
	}
	return n, nil
}

// SetPostName records a friendly name used in export headers.
func (s *Service) SetPostName(ctx context.Context, projectID, feedID, postID, name string) error {
	if !s.running() {
		return ErrNotStarted
	}
	if err := s.store.SetPostName(ctx, projectID, feedID, postID, name); err != nil {
		return fmt.Errorf("name post %s: %w", postID, err)
	}
	return nil
}

func (s *Service) rows(ctx context.Context, projectID, feedID string) ([]types.FlatRow, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	if projectID == "" || feedID == "" {
		return nil, ErrInvalidScope
	}
	stored, err := s.store.List(ctx, projectID, feedID)
	if err != nil {
		return nil, fmt.Errorf("rows of %s/%s: %w", projectID, feedID, err)
	}
	return repository.Rows(stored), nil
}
