// Package event defines the session-scoped interaction event stream: the
// tagged event union, its wire codec, and the append-only Log.
package event

// Action names the kind of an interaction event. It is the tag of the
// Payload union.
type Action string

// Known actions.
const (
	ActionSessionStart       Action = "session_start"
	ActionFeedLoaded         Action = "feed_loaded"
	ActionParticipantEntered Action = "participant_id_entered"
	ActionFeedSubmit         Action = "feed_submit"

	ActionVPEnter Action = "vp_enter"
	ActionVPExit  Action = "vp_exit"
	// Legacy visibility markers from older builds.
	ActionViewStart Action = "view_start"
	ActionViewEnd   Action = "view_end"

	ActionReactPick     Action = "react_pick"
	ActionReactClear    Action = "react_clear"
	ActionTextClamped   Action = "text_clamped"
	ActionExpandText    Action = "expand_text"
	ActionCommentOpen   Action = "comment_open"
	ActionCommentSubmit Action = "comment_submit"
	ActionShare         Action = "share"
	ActionReportMisinfo Action = "report_misinfo"

	ActionScroll Action = "scroll"

	ActionPageHide   Action = "page_hide"
	ActionPageShow   Action = "page_show"
	ActionTabHidden  Action = "tab_hidden"
	ActionTabVisible Action = "tab_visible"
	ActionFeedSwitch Action = "feed_switch"
)

var lifecycle = map[Action]bool{
	ActionSessionStart:       true,
	ActionFeedLoaded:         true,
	ActionParticipantEntered: true,
	ActionFeedSubmit:         true,
	ActionPageHide:           true,
	ActionPageShow:           true,
	ActionTabHidden:          true,
	ActionTabVisible:         true,
	ActionFeedSwitch:         true,
}

// IsLifecycle reports whether a is a session/page lifecycle action rather
// than something the participant did to the feed.
func (a Action) IsLifecycle() bool { return lifecycle[a] }

// OpensVisit reports whether a starts a visibility visit.
func (a Action) OpensVisit() bool { return a == ActionVPEnter || a == ActionViewStart }

// ClosesVisit reports whether a ends a visibility visit.
func (a Action) ClosesVisit() bool { return a == ActionVPExit || a == ActionViewEnd }

// Known reports whether a is one of the actions this package models.
func (a Action) Known() bool {
	_, ok := newPayload(a)
	return ok
}
