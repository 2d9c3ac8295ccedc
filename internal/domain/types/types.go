// Package types contains the study-level types shared across the pipeline.
package types

// Scope is the explicit context object threaded into every component entry
// point: which project and feed a session belongs to, which app variant
// rendered it, and whether the debug overlay is on.
type Scope struct {
	ProjectID string `json:"project_id"`
	FeedID    string `json:"feed_id"`
	Variant   string `json:"variant,omitempty"`
	Debug     bool   `json:"debug,omitempty"`
}

// Post is one item of a feed as far as analytics cares.
type Post struct {
	ID       string `json:"id"`
	HasMedia bool   `json:"has_media,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Feed is the ordered list of posts a participant was shown.
type Feed struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum,omitempty"`
	Posts    []Post `json:"posts"`
}

// PostIDs returns the feed's post ids in display order.
func (f Feed) PostIDs() []string {
	ids := make([]string, 0, len(f.Posts))
	for _, p := range f.Posts {
		ids = append(ids, p.ID)
	}
	return ids
}

// FlatRow is a stored or imported roster row. Values are whatever the
// producer wrote: numbers, strings, booleans or nil.
type FlatRow map[string]any

// Base column names of a participant row.
const (
	ColSessionID                = "session_id"
	ColParticipantID            = "participant_id"
	ColEnteredAtISO             = "entered_at_iso"
	ColSubmittedAtISO           = "submitted_at_iso"
	ColMsEnterToSubmit          = "ms_enter_to_submit"
	ColMsEnterToLastInteraction = "ms_enter_to_last_interaction"
	ColFeedID                   = "feed_id"
	ColFeedChecksum             = "feed_checksum"
	ColPostsJSON                = "posts_json"
)

// BaseColumns lists the fixed participant row fields in export order.
var BaseColumns = []string{
	ColSessionID,
	ColParticipantID,
	ColEnteredAtISO,
	ColSubmittedAtISO,
	ColMsEnterToSubmit,
	ColMsEnterToLastInteraction,
	ColFeedID,
	ColFeedChecksum,
}

// IsBaseColumn reports whether key is one of the fixed non-post columns.
func IsBaseColumn(key string) bool {
	if key == ColPostsJSON {
		return true
	}
	for _, c := range BaseColumns {
		if c == key {
			return true
		}
	}
	return false
}

// Per-post metric suffixes of a participant row, in column order. A column
// key is "<post_id>_<metric>".
const (
	MetricReacted         = "reacted"
	MetricReactionType    = "reaction_type"
	MetricExpandable      = "expandable"
	MetricExpanded        = "expanded"
	MetricCommented       = "commented"
	MetricCommentTexts    = "comment_texts"
	MetricShared          = "shared"
	MetricReportedMisinfo = "reported_misinfo"
	MetricDwellS          = "dwell_s"
)

// Metrics lists the per-post metrics in column order.
var Metrics = []string{
	MetricReacted,
	MetricReactionType,
	MetricExpandable,
	MetricExpanded,
	MetricCommented,
	MetricCommentTexts,
	MetricShared,
	MetricReportedMisinfo,
	MetricDwellS,
}

// PostColumn joins a post id and a metric into a column key.
func PostColumn(postID, metric string) string {
	return postID + "_" + metric
}
