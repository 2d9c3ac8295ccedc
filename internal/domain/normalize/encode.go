package normalize

import (
	"sort"

	"github.com/okian/feedtrace/internal/domain/types"
)

// Carried keeps only the fields a variant has columns for. Decoding a row
// written in that variant reproduces exactly these.
func (v Variant) Carried(p Post) Post {
	switch v {
	case VariantActions:
		return Post{
			Reacted:        p.Reacted,
			Saved:          p.Saved,
			CommentsOpened: p.CommentsOpened,
			Commented:      p.Commented,
			Shared:         p.Shared,
			Reported:       p.Reported,
			DwellS:         p.DwellS,
		}
	default:
		out := Post{
			Reacted:      p.Reacted,
			ReactionType: p.ReactionType,
			Expandable:   p.Expandable,
			Expanded:     p.Expanded,
			Commented:    p.Commented || p.CommentText != "",
			CommentText:  p.CommentText,
			Shared:       p.Shared,
			Reported:     p.Reported,
			DwellS:       p.DwellS,
		}
		if IsEmptyComment(out.CommentText) {
			out.CommentText = ""
		}
		return out
	}
}

// Encode writes posts as flat columns in the given variant.
func Encode(posts map[string]Post, variant Variant) types.FlatRow {
	row := make(types.FlatRow, len(posts)*len(types.Metrics))
	for id, p := range posts {
		col := func(metric string, v any) { row[types.PostColumn(id, metric)] = v }
		switch variant {
		case VariantActions:
			col(suffixLike, bit(p.Reacted))
			col(suffixSavePost, bit(p.Saved))
			col(suffixOpenComments, bit(p.CommentsOpened))
			col(suffixSendComment, bit(p.Commented))
			col(suffixSendShare, bit(p.Shared))
			col(suffixMenuReport, bit(p.Reported))
			if p.DwellS != nil {
				col(suffixDwellMS, *p.DwellS*1000)
			}
		default:
			col(types.MetricReacted, flag(p.Reacted))
			col(types.MetricReactionType, p.ReactionType)
			col(types.MetricExpandable, flag(p.Expandable))
			col(types.MetricExpanded, flag(p.Expanded))
			col(types.MetricCommented, flag(p.Commented))
			col(types.MetricCommentTexts, p.CommentText)
			col(types.MetricShared, flag(p.Shared))
			col(types.MetricReportedMisinfo, flag(p.Reported))
			if p.DwellS != nil {
				col(types.MetricDwellS, *p.DwellS)
			} else {
				col(types.MetricDwellS, nil)
			}
		}
	}
	return row
}

// Structured renders the per-post detail object: every fact under one
// spelling, flags as 1 or 0.
func Structured(posts map[string]Post) types.FlatRow {
	row := make(types.FlatRow, len(posts)*11)
	ids := make([]string, 0, len(posts))
	for id := range posts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := posts[id]
		col := func(metric string, v any) { row[types.PostColumn(id, metric)] = v }
		col(types.MetricReacted, bit(p.Reacted))
		col(types.MetricReactionType, p.ReactionType)
		col(suffixSaved, bit(p.Saved))
		col(types.MetricExpandable, bit(p.Expandable))
		col(types.MetricExpanded, bit(p.Expanded))
		col(suffixCommentsOpened, bit(p.CommentsOpened))
		col(types.MetricCommented, bit(p.Commented))
		col(types.MetricCommentTexts, p.CommentText)
		col(types.MetricShared, bit(p.Shared))
		col(suffixReported, bit(p.Reported))
		if p.DwellS != nil {
			col(types.MetricDwellS, *p.DwellS)
		} else {
			col(types.MetricDwellS, nil)
		}
	}
	return row
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func flag(b bool) any {
	if b {
		return 1
	}
	return ""
}
