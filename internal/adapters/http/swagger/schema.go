package swagger

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/okian/feedtrace/internal/domain/event"
)

// Envelope documents the fields every event carries on the wire.
type Envelope struct {
	Action        event.Action `json:"action" jsonschema:"required"`
	PostID        string       `json:"post_id,omitempty"`
	TSMillis      int64        `json:"ts_ms" jsonschema:"required,minimum=0"`
	TimestampISO  string       `json:"timestamp_iso" jsonschema:"format=date-time"`
	SessionID     string       `json:"session_id" jsonschema:"required"`
	// ParticipantID is null until the participant has entered.
	ParticipantID *string      `json:"participant_id,omitempty" jsonschema:"oneof_type=string;null"`
}

type variant struct {
	title   string
	actions []event.Action
	payload any
}

var variants = []variant{
	{"visibility", []event.Action{event.ActionVPEnter, event.ActionVPExit, event.ActionViewStart, event.ActionViewEnd}, &event.Visibility{}},
	{"react_pick", []event.Action{event.ActionReactPick}, &event.ReactPick{}},
	{"react_clear", []event.Action{event.ActionReactClear}, &event.ReactClear{}},
	{"comment_submit", []event.Action{event.ActionCommentSubmit}, &event.CommentSubmit{}},
	{"scroll", []event.Action{event.ActionScroll}, &event.Scroll{}},
	{"feed_info", []event.Action{event.ActionSessionStart, event.ActionFeedLoaded, event.ActionFeedSwitch}, &event.FeedInfo{}},
	{"marker", []event.Action{
		event.ActionParticipantEntered, event.ActionFeedSubmit,
		event.ActionTextClamped, event.ActionExpandText, event.ActionCommentOpen,
		event.ActionShare, event.ActionReportMisinfo,
		event.ActionPageHide, event.ActionPageShow, event.ActionTabHidden, event.ActionTabVisible,
	}, nil},
}

// EventSchema builds the JSON Schema of one wire event: the envelope merged
// with the payload fields of each action family.
func EventSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		ID:          "https://feedtrace.local/schemas/events.json",
		Title:       "feedtrace event",
		Description: "One entry of a session's interaction log. Unknown actions are accepted and ignored by aggregation.",
	}
	for _, v := range variants {
		root.OneOf = append(root.OneOf, variantSchema(r, v))
	}
	return root
}

func variantSchema(r *jsonschema.Reflector, v variant) *jsonschema.Schema {
	s := r.Reflect(&Envelope{})
	s.Version, s.ID = "", ""
	s.Title = v.title
	if v.payload != nil {
		p := r.Reflect(v.payload)
		for pair := p.Properties.Oldest(); pair != nil; pair = pair.Next() {
			s.Properties.Set(pair.Key, pair.Value)
		}
		s.Required = append(s.Required, p.Required...)
	}
	if action, ok := s.Properties.Get("action"); ok {
		action.Enum = make([]any, 0, len(v.actions))
		for _, a := range v.actions {
			action.Enum = append(action.Enum, string(a))
		}
	}
	return s
}

var eventSchemaJSON = sync.OnceValues(func() ([]byte, error) {
	return json.MarshalIndent(EventSchema(), "", "  ")
})
