// Package visibility decides whether rendered feed items count as seen and
// turns the decision into vp_enter/vp_exit events.
package visibility

import "math"

// Rect is a vertical span in document coordinates, in CSS pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Bottom returns Top+Height.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Viewport is the visible window with the space reserved by sticky chrome
// (headers, tab bars) at either edge.
type Viewport struct {
	Rect
	ChromeTop    float64 `json:"chrome_top"`
	ChromeBottom float64 `json:"chrome_bottom"`
}

// Effective returns the viewport minus its chrome insets.
func (v Viewport) Effective() Rect {
	top := v.Top + math.Max(0, v.ChromeTop)
	bottom := v.Bottom() - math.Max(0, v.ChromeBottom)
	if bottom < top {
		bottom = top
	}
	return Rect{Top: top, Height: bottom - top}
}

// VisibleFraction is the share of the item's own height that lies inside the
// effective viewport. It is not an intersection ratio over the raw viewport,
// so chrome-covered pixels never count.
func VisibleFraction(item Rect, viewport Viewport) float64 {
	if item.Height <= 0 {
		return 0
	}
	eff := viewport.Effective()
	overlap := math.Min(item.Bottom(), eff.Bottom()) - math.Max(item.Top, eff.Top)
	if overlap <= 0 {
		return 0
	}
	return math.Min(1, overlap/item.Height)
}

// Round4 rounds a fraction to four decimal places, the precision recorded
// on events.
func Round4(f float64) float64 {
	return math.Round(f*10_000) / 10_000
}

// Thresholds are the minimum visible fractions for an item to count as seen.
type Thresholds struct {
	Media float64 `json:"media" koanf:"media"`
	Text  float64 `json:"text" koanf:"text"`
}

// DefaultThresholds are used when nothing is configured.
var DefaultThresholds = Thresholds{Media: 0.5, Text: 0.6}

// For returns the threshold that applies to an item.
func (t Thresholds) For(hasMedia bool) float64 {
	if hasMedia {
		return t.Media
	}
	return t.Text
}
