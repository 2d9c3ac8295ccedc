// Package roster rolls participant rows of one feed into summary
// statistics.
package roster

import (
	"errors"
	"sort"
	"strings"

	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/types"
)

// Counts is the completion breakdown.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	// CompletionRate is nil for an empty roster.
	CompletionRate *float64 `json:"completionRate"`
}

// Timing holds means and medians over completed rows. A statistic with no
// input is nil.
type Timing struct {
	AvgEnterToSubmit          *float64 `json:"avgEnterToSubmit"`
	MedEnterToSubmit          *float64 `json:"medEnterToSubmit"`
	AvgEnterToLastInteraction *float64 `json:"avgEnterToLastInteraction"`
	MedEnterToLastInteraction *float64 `json:"medEnterToLastInteraction"`
}

// PostStats aggregates one post across the roster.
type PostStats struct {
	Reacted    int `json:"reacted"`
	Expandable int `json:"expandable"`
	Expanded   int `json:"expanded"`
	// ExpandRate is nil when no row had the post expandable.
	ExpandRate *float64 `json:"expandRate"`
	Commented  int      `json:"commented"`
	Shared     int      `json:"shared"`
	Reported   int      `json:"reported"`
	AvgDwellS  *float64 `json:"avgDwellS"`
}

// Summary is the roster summary.
type Summary struct {
	Counts  Counts               `json:"counts"`
	Timing  Timing               `json:"timing"`
	PerPost map[string]PostStats `json:"perPost"`
	// Issues counts recovered row problems by kind; it is informational.
	Issues map[string]int `json:"issues,omitempty"`
}

// Posts returns the tracked post ids, sorted.
func (s Summary) Posts() []string {
	ids := make([]string, 0, len(s.PerPost))
	for id := range s.PerPost {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type postAcc struct {
	stats    PostStats
	dwellSum float64
	dwellN   int
}

// Summarize computes the summary of rows. Rows may come from different
// schema versions and carry different post sets; nothing in a row can make
// it fail.
func Summarize(rows []types.FlatRow) Summary {
	var (
		sum          = Summary{PerPost: make(map[string]PostStats)}
		toSubmit     []float64
		toLast       []float64
		posts        = make(map[string]*postAcc)
		issueCounter = make(map[string]int)
	)
	sum.Counts.Total = len(rows)

	for _, row := range rows {
		if completed(row) {
			sum.Counts.Completed++
			if v, ok := normalize.Number(row[types.ColMsEnterToSubmit]); ok {
				toSubmit = append(toSubmit, v)
			}
			if v, ok := normalize.Number(row[types.ColMsEnterToLastInteraction]); ok {
				toLast = append(toLast, v)
			}
		}

		res := normalize.Decode(row)
		for _, is := range res.Issues {
			issueCounter[kind(is)]++
		}
		for id, p := range res.Posts {
			acc, ok := posts[id]
			if !ok {
				acc = &postAcc{}
				posts[id] = acc
			}
			acc.stats.Reacted += count(p.Reacted)
			acc.stats.Expandable += count(p.Expandable)
			acc.stats.Expanded += count(p.Expanded)
			acc.stats.Commented += count(p.Commented)
			acc.stats.Shared += count(p.Shared)
			acc.stats.Reported += count(p.Reported)
			if p.DwellS != nil {
				acc.dwellSum += *p.DwellS
				acc.dwellN++
			}
		}
	}

	if sum.Counts.Total > 0 {
		r := float64(sum.Counts.Completed) / float64(sum.Counts.Total)
		sum.Counts.CompletionRate = &r
	}
	sum.Timing = Timing{
		AvgEnterToSubmit:          Mean(toSubmit),
		MedEnterToSubmit:          Median(toSubmit),
		AvgEnterToLastInteraction: Mean(toLast),
		MedEnterToLastInteraction: Median(toLast),
	}
	for id, acc := range posts {
		st := acc.stats
		if st.Expandable > 0 {
			r := float64(st.Expanded) / float64(st.Expandable)
			st.ExpandRate = &r
		}
		if acc.dwellN > 0 {
			avg := acc.dwellSum / float64(acc.dwellN)
			st.AvgDwellS = &avg
		}
		sum.PerPost[id] = st
	}
	if len(issueCounter) > 0 {
		sum.Issues = issueCounter
	}
	return sum
}

func completed(row types.FlatRow) bool {
	return strings.TrimSpace(normalize.Text(row[types.ColSubmittedAtISO])) != ""
}

func count(b bool) int {
	if b {
		return 1
	}
	return 0
}

func kind(is normalize.Issue) string {
	if errors.Is(is, normalize.ErrSchemaDrift) {
		return "schema_drift"
	}
	return "malformed_row"
}

// Mean returns the arithmetic mean, nil for no values.
func Mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	m := s / float64(len(xs))
	return &m
}

// Median returns the middle value, or the mean of the two middle values,
// nil for no values.
func Median(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	mid := len(s) / 2
	m := s[mid]
	if len(s)%2 == 0 {
		m = (s[mid-1] + s[mid]) / 2
	}
	return &m
}
