package visibility

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/types"
)

// Reason explains a synthetic exit.
type Reason string

// Lifecycle reasons that force every entered post to exit.
const (
	ReasonTabHidden  Reason = "tab_hidden"
	ReasonUnload     Reason = "page_unload"
	ReasonFeedSwitch Reason = "feed_switch"
)

// Item is a tracked feed element in one frame.
type Item struct {
	PostID   string
	Rect     Rect
	HasMedia bool
}

// Frame is one geometry observation. A frame with Lifecycle set carries no
// geometry and suspends tracking instead.
type Frame struct {
	Viewport  Viewport
	ScrollY   int
	Items     []Item
	Lifecycle Reason
}

// Sink receives the transitions. *event.Log satisfies it.
type Sink interface {
	Append(action event.Action, postID string, payload event.Payload) event.Event
}

// Source is the swappable observation primitive: a browser bridge, a
// replayed trace, or a simulator.
type Source interface {
	// Frames streams observations until ctx is done or the source ends.
	// It returns ErrObservationUnavailable when it cannot observe at all.
	Frames(ctx context.Context) (<-chan Frame, error)
}

// Overlay is the debug annotation hook. It only observes.
type Overlay interface {
	Annotate(postID string, fraction float64, threshold float64, entered bool)
}

type state struct {
	sinceMS  int64
	heightPx int
	fraction float64
}

// Detector holds the per-post entered flags and emits transitions.
type Detector struct {
	scope      types.Scope
	thresholds Thresholds
	chromeTop  float64
	chromeBot  float64
	sink       Sink
	overlay    Overlay

	entered   map[string]*state
	viewportH int
	scrollY   int
}

// Option configures a Detector.
type Option func(*Detector)

// WithThresholds sets the media and text visibility thresholds.
func WithThresholds(t Thresholds) Option {
	return func(d *Detector) {
		if t.Media > 0 && t.Media <= 1 {
			d.thresholds.Media = t.Media
		}
		if t.Text > 0 && t.Text <= 1 {
			d.thresholds.Text = t.Text
		}
	}
}

// WithChrome reserves sticky chrome at the top and bottom of every frame's
// viewport, overriding what frames report.
func WithChrome(top, bottom float64) Option {
	return func(d *Detector) {
		d.chromeTop = top
		d.chromeBot = bottom
	}
}

// WithOverlay installs a debug overlay. It is only called when the scope
// has Debug set.
func WithOverlay(o Overlay) Option {
	return func(d *Detector) {
		d.overlay = o
	}
}

// NewDetector creates a detector that writes to sink. A nil sink yields a
// detector that observes nothing.
func NewDetector(scope types.Scope, sink Sink, opts ...Option) *Detector {
	d := &Detector{
		scope:      scope,
		thresholds: DefaultThresholds,
		sink:       sink,
		entered:    make(map[string]*state),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Thresholds returns the thresholds in effect.
func (d *Detector) Thresholds() Thresholds { return d.thresholds }

// Entered returns the ids of posts currently counted as seen, sorted.
func (d *Detector) Entered() []string {
	ids := make([]string, 0, len(d.entered))
	for id := range d.entered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Update applies one frame.
func (d *Detector) Update(f Frame) {
	if d.sink == nil {
		return
	}
	if f.Lifecycle != "" {
		d.Suspend(f.Lifecycle)
		return
	}

	vp := f.Viewport
	if d.chromeTop > 0 || d.chromeBot > 0 {
		vp.ChromeTop, vp.ChromeBottom = d.chromeTop, d.chromeBot
	}
	d.viewportH = int(vp.Height)
	d.scrollY = f.ScrollY

	present := make(map[string]bool, len(f.Items))
	for _, it := range f.Items {
		if it.PostID == "" {
			continue
		}
		present[it.PostID] = true

		frac := VisibleFraction(it.Rect, vp)
		threshold := d.thresholds.For(it.HasMedia)
		visible := frac > 0 && frac >= threshold
		height := int(it.Rect.Height)

		st, was := d.entered[it.PostID]
		switch {
		case visible && !was:
			e := d.emit(event.ActionVPEnter, it.PostID, frac, height, "")
			d.entered[it.PostID] = &state{sinceMS: e.TSMillis, heightPx: height, fraction: frac}
		case !visible && was:
			d.emit(event.ActionVPExit, it.PostID, frac, height, "")
			delete(d.entered, it.PostID)
		case was:
			st.heightPx, st.fraction = height, frac
		}

		if d.scope.Debug && d.overlay != nil {
			d.overlay.Annotate(it.PostID, Round4(frac), threshold, visible)
		}
	}

	// Items that left the DOM cannot stay entered.
	for _, id := range d.Entered() {
		if present[id] {
			continue
		}
		st := d.entered[id]
		d.emit(event.ActionVPExit, id, 0, st.heightPx, "")
		delete(d.entered, id)
	}
}

// Suspend forces a synthetic vp_exit, in post id order, for every entered
// post. It is used on tab hide, unload and feed switch.
func (d *Detector) Suspend(reason Reason) {
	if d.sink == nil {
		return
	}
	for _, id := range d.Entered() {
		st := d.entered[id]
		d.emit(event.ActionVPExit, id, st.fraction, st.heightPx, reason)
		delete(d.entered, id)
	}
}

// Run feeds frames from src into the detector until the source ends or ctx
// is done, then suspends with ReasonUnload. A missing or unavailable
// source makes Run a no-op; it never fails the caller.
func (d *Detector) Run(ctx context.Context, src Source) {
	if src == nil || d.sink == nil {
		return
	}
	frames, err := src.Frames(ctx)
	if err != nil || frames == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			d.Suspend(ReasonUnload)
			return
		case f, ok := <-frames:
			if !ok {
				d.Suspend(ReasonUnload)
				return
			}
			d.Update(f)
		}
	}
}

func (d *Detector) emit(action event.Action, postID string, frac float64, heightPx int, reason Reason) event.Event {
	return d.sink.Append(action, postID, &event.Visibility{
		VisFrac:          Round4(frac),
		PostHeightPx:     heightPx,
		ViewportHeightPx: d.viewportH,
		ScrollY:          d.scrollY,
		Reason:           string(reason),
	})
}

// Annotation is one live overlay reading.
type Annotation struct {
	Fraction  float64 `json:"fraction"`
	Threshold float64 `json:"threshold"`
	Entered   bool    `json:"entered"`
}

// Annotations is an Overlay that keeps the latest reading per post.
type Annotations struct {
	mu     sync.Mutex
	latest map[string]Annotation
}

// NewAnnotations creates an empty overlay.
func NewAnnotations() *Annotations {
	return &Annotations{latest: make(map[string]Annotation)}
}

// Annotate implements Overlay.
func (a *Annotations) Annotate(postID string, fraction, threshold float64, entered bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest[postID] = Annotation{Fraction: fraction, Threshold: threshold, Entered: entered}
}

// Snapshot returns a copy of the latest readings.
func (a *Annotations) Snapshot() map[string]Annotation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Annotation, len(a.latest))
	for k, v := range a.latest {
		out[k] = v
	}
	return out
}
