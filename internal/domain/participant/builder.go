// Package participant builds the flat per-session analytics row from an
// event log.
package participant

import (
	"sort"

	"github.com/okian/feedtrace/internal/domain/dwell"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/types"
)

// Build derives the participant row of one session. It is pure: the same
// events always give the same row.
func Build(scope types.Scope, feed types.Feed, events []event.Event) Row {
	row := Row{
		FeedID:       feed.ID,
		FeedChecksum: feed.Checksum,
		posts:        make(map[string]*Post),
	}
	if row.FeedID == "" {
		row.FeedID = scope.FeedID
	}

	var (
		entered, submitted *event.Event
		participant        *string
	)
	for i := range events {
		e := &events[i]
		if row.SessionID == "" {
			row.SessionID = e.SessionID
		}
		if e.ParticipantID != nil {
			participant = e.ParticipantID
		}
		switch e.Action {
		case event.ActionParticipantEntered:
			if entered == nil {
				entered = e
			}
		case event.ActionFeedSubmit:
			if submitted == nil {
				submitted = e
			}
		case event.ActionSessionStart, event.ActionFeedLoaded:
			if info, ok := e.Payload.(*event.FeedInfo); ok {
				if row.FeedID == "" {
					row.FeedID = info.FeedID
				}
				if row.FeedChecksum == "" {
					row.FeedChecksum = info.FeedChecksum
				}
			}
		}
		row.apply(e)
	}

	if entered != nil {
		row.EnteredAtISO = entered.TimestampISO
		if entered.ParticipantID != nil {
			participant = entered.ParticipantID
		}
	}
	if participant != nil {
		id := *participant
		row.ParticipantID = &id
	}
	if submitted != nil {
		row.SubmittedAtISO = submitted.TimestampISO
	}
	if entered != nil && submitted != nil {
		ms := submitted.TSMillis - entered.TSMillis
		row.MsEnterToSubmit = &ms
	}
	if entered != nil {
		if last := lastInteraction(events, entered.TSMillis); last != nil {
			ms := last.TSMillis - entered.TSMillis
			row.MsEnterToLastInteraction = &ms
		}
	}

	for id, rec := range dwell.Aggregate(events) {
		s := rec.Seconds()
		row.post(id).DwellS = &s
	}

	row.order = postOrder(feed, row.posts)
	return row
}

// lastInteraction returns the latest event at or after entry that the
// participant caused. Scrolling, lifecycle changes, synthetic exits and
// unknown actions do not count.
func lastInteraction(events []event.Event, enteredMS int64) *event.Event {
	var last *event.Event
	for i := range events {
		e := &events[i]
		if e.TSMillis < enteredMS || !e.Action.Known() {
			continue
		}
		if e.Action == event.ActionScroll || e.Action.IsLifecycle() {
			continue
		}
		if v, ok := e.Visibility(); ok && v.Synthetic() {
			continue
		}
		if last == nil || e.TSMillis >= last.TSMillis {
			last = e
		}
	}
	return last
}

func (r *Row) apply(e *event.Event) {
	if e.PostID == "" || !e.Action.Known() {
		return
	}
	switch p := e.Payload.(type) {
	case *event.ReactPick:
		post := r.post(e.PostID)
		post.Reacted, post.ReactionType = true, p.Type
	case *event.ReactClear:
		post := r.post(e.PostID)
		// A clear naming a different reaction is stale.
		if p.Type == "" || p.Type == post.ReactionType {
			post.Reacted, post.ReactionType = false, ""
		}
	case *event.CommentSubmit:
		post := r.post(e.PostID)
		post.Commented, post.CommentText = true, p.Text
	default:
		switch e.Action {
		case event.ActionTextClamped:
			r.post(e.PostID).Expandable = true
		case event.ActionExpandText:
			r.post(e.PostID).Expanded = true
		case event.ActionShare:
			r.post(e.PostID).Shared = true
		case event.ActionReportMisinfo:
			r.post(e.PostID).Reported = true
		case event.ActionVPEnter, event.ActionVPExit, event.ActionViewStart, event.ActionViewEnd, event.ActionCommentOpen:
			r.post(e.PostID)
		}
	}
}

func (r *Row) post(id string) *Post {
	p, ok := r.posts[id]
	if !ok {
		p = &Post{}
		r.posts[id] = p
	}
	return p
}

// postOrder lists feed posts in display order, then posts only seen in
// events, sorted by id.
func postOrder(feed types.Feed, seen map[string]*Post) []string {
	order := make([]string, 0, len(feed.Posts)+len(seen))
	inFeed := make(map[string]bool, len(feed.Posts))
	for _, p := range feed.Posts {
		if p.ID == "" || inFeed[p.ID] {
			continue
		}
		inFeed[p.ID] = true
		order = append(order, p.ID)
	}
	var extra []string
	for id := range seen {
		if !inFeed[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
