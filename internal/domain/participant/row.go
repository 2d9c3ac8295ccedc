package participant

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/okian/feedtrace/internal/domain/types"
)

// Post holds what one participant did to one post.
type Post struct {
	Reacted      bool
	ReactionType string
	Expandable   bool
	Expanded     bool
	Commented    bool
	CommentText  string
	Shared       bool
	Reported     bool
	// DwellS is nil when the post has no visibility data.
	DwellS *int64
}

// Row is the flat analytics record of one session. Missing timing
// milestones are nil, never zero.
type Row struct {
	SessionID                string
	ParticipantID            *string
	EnteredAtISO             string
	SubmittedAtISO           string
	MsEnterToSubmit          *int64
	MsEnterToLastInteraction *int64
	FeedID                   string
	FeedChecksum             string

	order []string
	posts map[string]*Post
}

// Completed reports whether the session was submitted.
func (r Row) Completed() bool { return r.SubmittedAtISO != "" }

// PostIDs returns the posts in column order.
func (r Row) PostIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Post returns the metrics of one post. Posts nobody touched are zero.
func (r Row) Post(id string) Post {
	if p, ok := r.posts[id]; ok {
		return *p
	}
	return Post{}
}

// Columns returns the column keys: base fields, then every post's metrics.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(types.BaseColumns)+len(r.order)*len(types.Metrics))
	cols = append(cols, types.BaseColumns...)
	for _, id := range r.order {
		for _, m := range types.Metrics {
			cols = append(cols, types.PostColumn(id, m))
		}
	}
	return cols
}

// Header is the CSV header row. Keys use raw post ids.
func (r Row) Header() []string { return r.Columns() }

// Flat returns the row as a key/value map in the encoded form.
func (r Row) Flat() types.FlatRow {
	out := make(types.FlatRow, len(types.BaseColumns)+len(r.order)*len(types.Metrics))
	r.each(func(k string, v any) { out[k] = v })
	return out
}

// Record returns the row as CSV fields in Columns order.
func (r Row) Record() []string {
	out := make([]string, 0, len(types.BaseColumns)+len(r.order)*len(types.Metrics))
	r.each(func(_ string, v any) { out = append(out, CSVValue(v)) })
	return out
}

// MarshalJSON writes the keys in column order so identical rows encode to
// identical bytes.
func (r Row) MarshalJSON() ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	buf.WriteByte('{')
	first := true
	r.each(func(k string, v any) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var kb, vb []byte
		if kb, err = json.Marshal(k); err != nil {
			return
		}
		if vb, err = json.Marshal(v); err != nil {
			return
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Row) each(fn func(key string, value any)) {
	var participant any
	if r.ParticipantID != nil {
		participant = *r.ParticipantID
	}
	fn(types.ColSessionID, r.SessionID)
	fn(types.ColParticipantID, participant)
	fn(types.ColEnteredAtISO, r.EnteredAtISO)
	fn(types.ColSubmittedAtISO, r.SubmittedAtISO)
	fn(types.ColMsEnterToSubmit, optional(r.MsEnterToSubmit))
	fn(types.ColMsEnterToLastInteraction, optional(r.MsEnterToLastInteraction))
	fn(types.ColFeedID, r.FeedID)
	fn(types.ColFeedChecksum, r.FeedChecksum)

	for _, id := range r.order {
		p := r.Post(id)
		fn(types.PostColumn(id, types.MetricReacted), Flag(p.Reacted))
		fn(types.PostColumn(id, types.MetricReactionType), p.ReactionType)
		fn(types.PostColumn(id, types.MetricExpandable), Flag(p.Expandable))
		fn(types.PostColumn(id, types.MetricExpanded), Flag(p.Expanded))
		fn(types.PostColumn(id, types.MetricCommented), Flag(p.Commented))
		fn(types.PostColumn(id, types.MetricCommentTexts), p.CommentText)
		fn(types.PostColumn(id, types.MetricShared), Flag(p.Shared))
		fn(types.PostColumn(id, types.MetricReportedMisinfo), Flag(p.Reported))
		fn(types.PostColumn(id, types.MetricDwellS), optional(p.DwellS))
	}
}

// Flag encodes a boolean-like field: 1 when it happened, "" otherwise.
func Flag(b bool) any {
	if b {
		return 1
	}
	return ""
}

func optional(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// CSVValue renders an encoded value as a CSV field. Null is blank.
func CSVValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return ""
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
