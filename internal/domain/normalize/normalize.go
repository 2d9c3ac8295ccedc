// Package normalize maps between flat "<post_id>_<metric>" roster rows, in
// any of the historical column schemas, and structured per-post data.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/feedtrace/internal/domain/types"
)

// Variant names a historical column schema.
type Variant string

const (
	// VariantFlags has explicit reacted/expandable/expanded/commented/shared/
	// reported flags and a free-text reaction type. Current rows use it.
	VariantFlags Variant = "flags"
	// VariantActions has one flag per UI action: like, save_post,
	// open_comments, send_comment, send_share, menu_report.
	VariantActions Variant = "actions"
)

// Column suffixes beyond the current participant row metrics.
const (
	suffixReported       = "reported"
	suffixDwellMS        = "dwell_ms"
	suffixSaved          = "saved"
	suffixCommentsOpened = "comments_opened"
	suffixLike           = "like"
	suffixSavePost       = "save_post"
	suffixOpenComments   = "open_comments"
	suffixSendComment    = "send_comment"
	suffixSendShare      = "send_share"
	suffixMenuReport     = "menu_report"
)

// Post is the structured view of one post in one row.
type Post struct {
	Reacted        bool     `json:"reacted"`
	ReactionType   string   `json:"reaction_type,omitempty"`
	Saved          bool     `json:"saved"`
	Expandable     bool     `json:"expandable"`
	Expanded       bool     `json:"expanded"`
	CommentsOpened bool     `json:"comments_opened"`
	Commented      bool     `json:"commented"`
	CommentText    string   `json:"comment_texts,omitempty"`
	Shared         bool     `json:"shared"`
	Reported       bool     `json:"reported"`
	DwellS         *float64 `json:"dwell_s,omitempty"`
}

// Result is a decoded row.
type Result struct {
	Posts  map[string]Post
	Issues []Issue
}

// PostIDs returns the decoded post ids, sorted.
func (r Result) PostIDs() []string {
	ids := make([]string, 0, len(r.Posts))
	for id := range r.Posts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// setter applies one cell to a post. Order in suffixes matters: later
// entries win when a row carries two spellings of the same fact.
type setter func(p *Post, v any)

var suffixes = []struct {
	name string
	set  setter
}{
	{suffixLike, func(p *Post, v any) { p.Reacted = Truthy(v) }},
	{types.MetricReacted, func(p *Post, v any) { p.Reacted = Truthy(v) }},
	{types.MetricReactionType, func(p *Post, v any) { p.ReactionType = strings.TrimSpace(Text(v)) }},
	{suffixSavePost, func(p *Post, v any) { p.Saved = Truthy(v) }},
	{suffixSaved, func(p *Post, v any) { p.Saved = Truthy(v) }},
	{types.MetricExpandable, func(p *Post, v any) { p.Expandable = Truthy(v) }},
	{types.MetricExpanded, func(p *Post, v any) { p.Expanded = Truthy(v) }},
	{suffixOpenComments, func(p *Post, v any) { p.CommentsOpened = Truthy(v) }},
	{suffixCommentsOpened, func(p *Post, v any) { p.CommentsOpened = Truthy(v) }},
	{suffixSendComment, func(p *Post, v any) { p.Commented = Truthy(v) }},
	{types.MetricCommented, func(p *Post, v any) { p.Commented = Truthy(v) }},
	{types.MetricCommentTexts, func(p *Post, v any) {
		if s := Text(v); !IsEmptyComment(s) {
			p.CommentText = s
		} else {
			p.CommentText = ""
		}
	}},
	{suffixSendShare, func(p *Post, v any) { p.Shared = Truthy(v) }},
	{types.MetricShared, func(p *Post, v any) { p.Shared = Truthy(v) }},
	{suffixMenuReport, func(p *Post, v any) { p.Reported = Truthy(v) }},
	{suffixReported, func(p *Post, v any) { p.Reported = Truthy(v) }},
	{types.MetricReportedMisinfo, func(p *Post, v any) { p.Reported = Truthy(v) }},
	{suffixDwellMS, func(p *Post, v any) {
		if ms, ok := Number(v); ok {
			s := ms / 1000
			p.DwellS = &s
		}
	}},
	{types.MetricDwellS, func(p *Post, v any) {
		if s, ok := Number(v); ok {
			p.DwellS = &s
		}
	}},
}

// byLength holds suffix names longest first, so "reported_misinfo" is
// matched before "reported" could be.
var byLength = func() []string {
	names := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		names = append(names, s.name)
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return names
}()

// SplitKey splits a column key into post id and metric suffix. ok is false
// for base columns and unrecognised keys.
func SplitKey(key string) (postID, metric string, ok bool) {
	if types.IsBaseColumn(key) {
		return "", "", false
	}
	for _, name := range byLength {
		if !strings.HasSuffix(key, "_"+name) {
			continue
		}
		id := strings.TrimSuffix(key, "_"+name)
		if id == "" {
			return "", "", false
		}
		return id, name, true
	}
	return "", "", false
}

// Decode reconstructs per-post data from a row of any variant. The
// posts_json blob is read first when present; flat columns then override
// it. Problems are reported on Issues and never abort decoding.
func Decode(row types.FlatRow) Result {
	res := Result{Posts: make(map[string]Post)}
	blob := map[string]map[string]any{}
	flat := make(map[string]map[string]any)

	if raw, ok := row[types.ColPostsJSON]; ok && raw != nil && raw != "" {
		parsed, err := parseBlob(raw)
		if err != nil {
			res.Issues = append(res.Issues, Issue{Key: types.ColPostsJSON, Err: fmt.Errorf("%w: %v", ErrMalformedRow, err)})
		}
		for id, fields := range parsed {
			if id != "" && fields != nil {
				blob[id] = fields
			}
		}
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if types.IsBaseColumn(k) {
			continue
		}
		id, metric, ok := SplitKey(k)
		if !ok {
			res.Issues = append(res.Issues, Issue{Key: k, Err: ErrSchemaDrift})
			continue
		}
		if row[k] == nil {
			continue
		}
		if flat[id] == nil {
			flat[id] = make(map[string]any)
		}
		flat[id][metric] = row[k]
	}

	for id := range blob {
		res.Posts[id] = Post{}
	}
	for id := range flat {
		res.Posts[id] = Post{}
	}
	for id := range res.Posts {
		var p Post
		apply(&p, blob[id])
		apply(&p, flat[id])
		if p.CommentText != "" {
			p.Commented = true
		}
		res.Posts[id] = p
	}
	return res
}

func apply(p *Post, fields map[string]any) {
	for _, s := range suffixes {
		if v, ok := fields[s.name]; ok {
			s.set(p, v)
		}
	}
}

// parseBlob reads posts_json: an object keyed by post id whose values are
// objects of metric fields. It accepts the raw string or an already decoded
// object.
func parseBlob(raw any) (map[string]map[string]any, error) {
	var data []byte
	switch x := raw.(type) {
	case string:
		data = []byte(x)
	case []byte:
		data = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var blob map[string]map[string]any
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}
