package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Payload is the action-specific part of an Event. The concrete type is
// determined by Event.Action.
type Payload interface {
	validate() error
}

// Visibility is carried by vp_enter/vp_exit and the legacy view_start/view_end.
type Visibility struct {
	VisFrac          float64 `json:"vis_frac" jsonschema:"required,minimum=0,maximum=1"`
	PostHeightPx     int     `json:"post_h_px"`
	ViewportHeightPx int     `json:"viewport_h_px"`
	ScrollY          int     `json:"scroll_y"`
	// Reason is set on synthetic exits (tab hidden, unload, feed switch).
	Reason string `json:"reason,omitempty"`
}

func (v *Visibility) validate() error {
	if math.IsNaN(v.VisFrac) || v.VisFrac < 0 || v.VisFrac > 1 {
		return fmt.Errorf("vis_frac %v out of range", v.VisFrac)
	}
	return nil
}

// Synthetic reports whether the exit was forced by a lifecycle change
// rather than observed geometry.
func (v *Visibility) Synthetic() bool { return v.Reason != "" }

// ReactPick records a reaction choice.
type ReactPick struct {
	Type string `json:"type" jsonschema:"required"`
}

func (r *ReactPick) validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("react_pick requires type")
	}
	return nil
}

// ReactClear removes a reaction. An empty Type clears whatever is set.
type ReactClear struct {
	Type string `json:"type,omitempty"`
}

func (*ReactClear) validate() error { return nil }

// CommentSubmit carries the text of a submitted comment.
type CommentSubmit struct {
	Text string `json:"text"`
}

func (*CommentSubmit) validate() error { return nil }

// Scroll is a raw scroll sample.
type Scroll struct {
	ScrollY          int `json:"scroll_y"`
	ViewportHeightPx int `json:"viewport_h_px,omitempty"`
}

func (*Scroll) validate() error { return nil }

// FeedInfo accompanies session_start, feed_loaded and feed_switch.
type FeedInfo struct {
	FeedID       string   `json:"feed_id,omitempty"`
	FeedChecksum string   `json:"feed_checksum,omitempty"`
	PostIDs      []string `json:"post_ids,omitempty"`
}

func (*FeedInfo) validate() error { return nil }

// Marker is an action with no fields of its own.
type Marker struct{}

func (*Marker) validate() error { return nil }

// Unknown keeps the raw fields of an action this build does not model.
// Aggregation ignores it.
type Unknown struct {
	Fields map[string]any
}

func (*Unknown) validate() error { return nil }

func newPayload(a Action) (Payload, bool) {
	switch a {
	case ActionVPEnter, ActionVPExit, ActionViewStart, ActionViewEnd:
		return &Visibility{}, true
	case ActionReactPick:
		return &ReactPick{}, true
	case ActionReactClear:
		return &ReactClear{}, true
	case ActionCommentSubmit:
		return &CommentSubmit{}, true
	case ActionScroll:
		return &Scroll{}, true
	case ActionSessionStart, ActionFeedLoaded, ActionFeedSwitch:
		return &FeedInfo{}, true
	case ActionParticipantEntered, ActionFeedSubmit,
		ActionTextClamped, ActionExpandText, ActionCommentOpen,
		ActionShare, ActionReportMisinfo,
		ActionPageHide, ActionPageShow, ActionTabHidden, ActionTabVisible:
		return &Marker{}, true
	}
	return nil, false
}

var postScoped = map[Action]bool{
	ActionVPEnter: true, ActionVPExit: true, ActionViewStart: true, ActionViewEnd: true,
	ActionReactPick: true, ActionReactClear: true,
	ActionTextClamped: true, ActionExpandText: true,
	ActionCommentOpen: true, ActionCommentSubmit: true,
	ActionShare: true, ActionReportMisinfo: true,
}

// Event is one entry of a session's interaction log.
type Event struct {
	Action        Action
	PostID        string
	TSMillis      int64
	TimestampISO  string
	SessionID     string
	ParticipantID *string
	Payload       Payload
}

// Validate checks the envelope and the action's required fields.
func (e *Event) Validate() error {
	switch {
	case e.Action == "":
		return fmt.Errorf("%w: missing action", ErrInvalidEvent)
	case strings.TrimSpace(e.SessionID) == "":
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	case e.TSMillis < 0:
		return fmt.Errorf("%w: ts_ms must not be negative", ErrInvalidEvent)
	case postScoped[e.Action] && strings.TrimSpace(e.PostID) == "":
		return fmt.Errorf("%w: %s requires post_id", ErrInvalidEvent, e.Action)
	}
	if e.Payload != nil {
		if err := e.Payload.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}

// Visibility returns the visibility payload if the event carries one.
func (e *Event) Visibility() (*Visibility, bool) {
	v, ok := e.Payload.(*Visibility)
	return v, ok
}

type envelope struct {
	Action        Action  `json:"action"`
	PostID        string  `json:"post_id,omitempty"`
	TSMillis      int64   `json:"ts_ms"`
	TimestampISO  string  `json:"timestamp_iso"`
	SessionID     string  `json:"session_id"`
	ParticipantID *string `json:"participant_id"`
}

var envelopeKeys = []string{"action", "post_id", "ts_ms", "timestamp_iso", "session_id", "participant_id"}

// MarshalJSON renders the flat wire shape: envelope fields followed by the
// payload's own fields.
func (e Event) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(envelope{
		Action:        e.Action,
		PostID:        e.PostID,
		TSMillis:      e.TSMillis,
		TimestampISO:  e.TimestampISO,
		SessionID:     e.SessionID,
		ParticipantID: e.ParticipantID,
	})
	if err != nil {
		return nil, err
	}

	var body []byte
	switch p := e.Payload.(type) {
	case nil:
		return head, nil
	case *Unknown:
		extra := make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			extra[k] = v
		}
		for _, k := range envelopeKeys {
			delete(extra, k)
		}
		body, err = json.Marshal(extra)
	default:
		body, err = json.Marshal(p)
	}
	if err != nil {
		return nil, err
	}
	if bytes.Equal(body, []byte("{}")) {
		return head, nil
	}

	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// UnmarshalJSON decodes the flat wire shape into the tagged union.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*e = Event{
		Action:        env.Action,
		PostID:        env.PostID,
		TSMillis:      env.TSMillis,
		TimestampISO:  env.TimestampISO,
		SessionID:     env.SessionID,
		ParticipantID: env.ParticipantID,
	}

	if p, ok := newPayload(env.Action); ok {
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Action, err)
		}
		e.Payload = p
		return nil
	}

	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range envelopeKeys {
		delete(fields, k)
	}
	e.Payload = &Unknown{Fields: fields}
	return nil
}
