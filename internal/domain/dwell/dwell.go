// Package dwell turns enter/exit pairs into per-post visible time.
package dwell

import (
	"math"
	"sort"

	"github.com/okian/feedtrace/internal/domain/event"
)

// Record is the derived dwell of one post.
type Record struct {
	PostID          string   `json:"post_id"`
	DwellMS         int64    `json:"dwell_ms"`
	DwellS          float64  `json:"dwell_s"`
	PostHeightPxMax int      `json:"post_h_px_max"`
	DwellMSPerPx    *float64 `json:"dwell_ms_per_px,omitempty"`
	Visits          int      `json:"visits"`
}

// Seconds returns the dwell rounded to whole seconds.
func (r Record) Seconds() int64 {
	return int64(math.Round(float64(r.DwellMS) / 1000))
}

type acc struct {
	open    bool
	since   int64
	total   int64
	heightM int
	visits  int
}

// Aggregate scans events in order and returns the dwell per post id. Posts
// with no visibility events are absent.
func Aggregate(events []event.Event) map[string]Record {
	accs := make(map[string]*acc)
	for _, e := range events {
		if e.PostID == "" || (!e.Action.OpensVisit() && !e.Action.ClosesVisit()) {
			continue
		}
		a, ok := accs[e.PostID]
		if !ok {
			a = &acc{}
			accs[e.PostID] = a
		}
		if v, ok := e.Visibility(); ok && v.PostHeightPx > a.heightM {
			a.heightM = v.PostHeightPx
		}

		switch {
		case e.Action.OpensVisit():
			// A second enter while a visit is open does not restart it.
			if !a.open {
				a.open, a.since = true, e.TSMillis
			}
		case a.open:
			a.total += span(a.since, e.TSMillis)
			a.open = false
			a.visits++
		}
	}

	out := make(map[string]Record, len(accs))
	for id, a := range accs {
		if a.open {
			// Trailing visits close at the end of the log.
			a.total += span(a.since, events[len(events)-1].TSMillis)
			a.visits++
		}
		out[id] = record(id, a)
	}
	return out
}

// Sorted returns the records ordered by post id.
func Sorted(records map[string]Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostID < out[j].PostID })
	return out
}

func span(from, to int64) int64 {
	if to < from {
		return 0
	}
	return to - from
}

func record(id string, a *acc) Record {
	r := Record{
		PostID:          id,
		DwellMS:         a.total,
		DwellS:          float64(a.total) / 1000,
		PostHeightPxMax: a.heightM,
		Visits:          a.visits,
	}
	if a.heightM > 0 {
		per := float64(a.total) / float64(a.heightM)
		r.DwellMSPerPx = &per
	}
	return r
}
