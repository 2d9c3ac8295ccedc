package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/internal/domain/visibility"
)

// Layout constants, in CSS pixels.
const (
	viewportHeightPx = 800
	postGapPx        = 12
	mediaMinPx       = 420
	mediaRangePx     = 220
	textMinPx        = 140
	textRangePx      = 200
	scrollMinPx      = 150
	scrollRangePx    = 250
)

var reactions = []string{"like", "love", "haha", "wow", "sad", "angry"}

var comments = []string{
	"Is this true?",
	"Source?",
	"Shared with my family.",
	"This seems misleading.",
	"Thanks for posting.",
}

// simClock is a virtual clock so a session lasting minutes simulates in
// microseconds. It belongs to a single participant goroutine.
type simClock struct {
	ms int64
}

func (c *simClock) Now() time.Time { return time.UnixMilli(c.ms) }

func (c *simClock) advance(ms int64) { c.ms += ms }

// between returns a duration in [lo, hi) milliseconds.
func between(rng *rand.Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Int64N(hi-lo)
}

// buildFeed lays out the feed every participant sees: two of every three
// posts carry media.
func buildFeed(cfg *Config) types.Feed {
	feed := types.Feed{
		ID:       cfg.FeedID,
		Checksum: fmt.Sprintf("sim-%d-%d", cfg.Posts, cfg.Seed),
		Posts:    make([]types.Post, 0, cfg.Posts),
	}
	for i := 0; i < cfg.Posts; i++ {
		feed.Posts = append(feed.Posts, types.Post{
			ID:       fmt.Sprintf("p%02d", i+1),
			HasMedia: i%3 != 2,
		})
	}
	return feed
}

// layout stacks the feed's posts. Heights vary per participant the way
// they would across devices.
func layout(rng *rand.Rand, feed types.Feed) ([]visibility.Item, float64) {
	items := make([]visibility.Item, 0, len(feed.Posts))
	var y float64
	for _, p := range feed.Posts {
		h := float64(textMinPx + rng.IntN(textRangePx))
		if p.HasMedia {
			h = float64(mediaMinPx + rng.IntN(mediaRangePx))
		}
		items = append(items, visibility.Item{
			PostID:   p.ID,
			Rect:     visibility.Rect{Top: y, Height: h},
			HasMedia: p.HasMedia,
		})
		y += h + postGapPx
	}
	return items, y
}

// scrollFrames is one downward pass over the feed.
func scrollFrames(rng *rand.Rand, items []visibility.Item, total float64) []visibility.Frame {
	var frames []visibility.Frame
	for y := 0; ; y += scrollMinPx + rng.IntN(scrollRangePx) {
		frames = append(frames, visibility.Frame{
			Viewport: visibility.Viewport{Rect: visibility.Rect{Top: float64(y), Height: viewportHeightPx}},
			ScrollY:  y,
			Items:    items,
		})
		if float64(y+viewportHeightPx) >= total {
			return frames
		}
	}
}
