package simulate

import (
	"math/rand/v2"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestScript(t *testing.T) {
	Convey("Given a simulated feed", t, func() {
		cfg := &Config{Posts: 6, Seed: 9}
		cfg.applyDefaults()
		feed := buildFeed(cfg)

		Convey("Then two of every three posts carry media", func() {
			So(feed.Posts, ShouldHaveLength, 6)
			So(feed.Posts[0].ID, ShouldEqual, "p01")
			So(feed.Posts[0].HasMedia, ShouldBeTrue)
			So(feed.Posts[2].HasMedia, ShouldBeFalse)
			So(feed.Posts[5].HasMedia, ShouldBeFalse)
			So(feed.Checksum, ShouldEqual, "sim-6-9")
		})

		Convey("When it is laid out", func() {
			items, total := layout(rand.New(rand.NewPCG(1, 2)), feed)

			Convey("Then posts are stacked without overlap", func() {
				So(items, ShouldHaveLength, 6)
				So(items[0].Rect.Top, ShouldEqual, 0.0)
				for i := 1; i < len(items); i++ {
					prev := items[i-1].Rect
					So(items[i].Rect.Top, ShouldEqual, prev.Top+prev.Height+float64(postGapPx))
				}
				last := items[len(items)-1].Rect
				So(total, ShouldEqual, last.Top+last.Height+float64(postGapPx))
				So(items[0].Rect.Height, ShouldBeBetweenOrEqual, float64(mediaMinPx), float64(mediaMinPx+mediaRangePx))
				So(items[2].Rect.Height, ShouldBeBetweenOrEqual, float64(textMinPx), float64(textMinPx+textRangePx))
			})

			Convey("And scrolled", func() {
				frames := scrollFrames(rand.New(rand.NewPCG(3, 4)), items, total)

				Convey("Then the pass starts at the top and reaches the bottom", func() {
					So(frames[0].ScrollY, ShouldEqual, 0)
					lastFrame := frames[len(frames)-1]
					So(float64(lastFrame.ScrollY+viewportHeightPx), ShouldBeGreaterThanOrEqualTo, total)
					for i := 1; i < len(frames); i++ {
						So(frames[i].ScrollY, ShouldBeGreaterThan, frames[i-1].ScrollY)
					}
				})
			})
		})

		Convey("Then the same seed gives the same script", func() {
			a, _ := layout(rand.New(rand.NewPCG(5, 6)), feed)
			b, _ := layout(rand.New(rand.NewPCG(5, 6)), feed)
			So(a, ShouldResemble, b)
		})
	})

	Convey("Given the virtual clock", t, func() {
		c := &simClock{ms: 1000}
		c.advance(500)
		So(c.Now().UnixMilli(), ShouldEqual, int64(1500))
		So(between(rand.New(rand.NewPCG(1, 1)), 5, 5), ShouldEqual, int64(5))
		v := between(rand.New(rand.NewPCG(1, 1)), 10, 20)
		So(v, ShouldBeBetweenOrEqual, int64(10), int64(19))
	})
}
