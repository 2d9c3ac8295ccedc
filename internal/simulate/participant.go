package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/internal/domain/visibility"
)

const (
	maxRetries   = 3
	retryBackoff = 50 * time.Millisecond
	hideChance   = 0.15
	replayChance = 0.1
)

// uploader is the event.Beacon of a simulated page. While the page is
// visible it posts ordinary batches and retries backpressure under the same
// batch id; once hidden it uses the beacon endpoint.
type uploader struct {
	client *Client
	stats  *Stats
	hidden bool
	// replay re-sends the next batch once, as a flaky network would.
	replay bool
}

func (u *uploader) Send(ctx context.Context, sessionID string, events []event.Event) error {
	u.stats.Events.Add(int64(len(events)))
	if u.hidden {
		u.stats.Beacons.Add(1)
		return u.client.PostBeacon(ctx, sessionID, events)
	}

	batchID := uuid.NewString()
	if err := u.post(ctx, sessionID, batchID, events); err != nil {
		return err
	}
	if u.replay {
		u.replay = false
		return u.post(ctx, sessionID, batchID, events)
	}
	return nil
}

func (u *uploader) post(ctx context.Context, sessionID, batchID string, events []event.Event) error {
	for attempt := 0; ; attempt++ {
		ack, status, err := u.client.PostBatch(ctx, sessionID, batchID, events)
		if status == http.StatusTooManyRequests && attempt < maxRetries {
			u.stats.Retries.Add(1)
			select {
			case <-time.After(retryBackoff * time.Duration(attempt+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("batch %s: %w", batchID, err)
		}
		u.stats.Batches.Add(1)
		if ack.Duplicate {
			u.stats.Duplicates.Add(1)
		}
		return nil
	}
}

// participant is one scripted session.
type participant struct {
	cfg    *Config
	rng    *rand.Rand
	clock  *simClock
	log    *event.Log
	up     *uploader
	flush  *event.Flusher
	detect *visibility.Detector
}

// runParticipant opens a session and plays one participant's script
// against it. It reports whether the participant submitted.
func runParticipant(ctx context.Context, cfg *Config, client *Client, stats *Stats, feed types.Feed, index int) (bool, error) { //nolint:gocritic // hugeParam
	info, err := client.OpenSession(ctx, service.OpenRequest{
		Scope: types.Scope{ProjectID: cfg.ProjectID, FeedID: cfg.FeedID},
		Feed:  feed,
	})
	if err != nil {
		return false, fmt.Errorf("participant %d: %w", index, err)
	}

	p := &participant{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, uint64(index))), //nolint:gosec // reproducible scripts, not secrets
		clock: &simClock{ms: cfg.Start.UnixMilli() + int64(index)*1000},
		up:    &uploader{client: client, stats: stats},
	}
	p.log = event.NewLog(info.SessionID, event.WithClock(p.clock))
	p.flush = event.NewFlusher(p.log, p.up)
	opts := []visibility.Option{
		visibility.WithThresholds(info.Visibility.Thresholds),
		visibility.WithChrome(info.Visibility.ChromeTopPx, info.Visibility.ChromeBottomPx),
	}
	var overlay *visibility.Annotations
	if info.Scope.Debug {
		overlay = visibility.NewAnnotations()
		opts = append(opts, visibility.WithOverlay(overlay))
	}
	p.detect = visibility.NewDetector(info.Scope, p.log, opts...)

	submitted, err := p.play(ctx, feed)
	if overlay != nil {
		stats.Annotated.Add(int64(len(overlay.Snapshot())))
	}
	return submitted, err
}

func (p *participant) play(ctx context.Context, feed types.Feed) (bool, error) { //nolint:gocritic // hugeParam
	ids := make([]string, 0, len(feed.Posts))
	for _, post := range feed.Posts {
		ids = append(ids, post.ID)
	}
	p.log.Append(event.ActionSessionStart, "", &event.FeedInfo{FeedID: feed.ID, FeedChecksum: feed.Checksum, PostIDs: ids})
	p.clock.advance(between(p.rng, 2000, 6000))
	p.log.EnterParticipant("P-" + uuid.NewString()[:8])
	p.log.Append(event.ActionFeedLoaded, "", &event.FeedInfo{FeedID: feed.ID, FeedChecksum: feed.Checksum, PostIDs: ids})

	items, total := layout(p.rng, feed)
	frames := scrollFrames(p.rng, items, total)
	hideAt := -1
	if p.rng.Float64() < hideChance {
		hideAt = p.rng.IntN(len(frames))
	}

	touched := make(map[string]bool, len(items))
	media := make(map[string]bool, len(items))
	for _, it := range items {
		media[it.PostID] = it.HasMedia
	}

	for i, f := range frames {
		p.clock.advance(between(p.rng, 400, 1800))
		p.log.Append(event.ActionScroll, "", &event.Scroll{ScrollY: f.ScrollY, ViewportHeightPx: viewportHeightPx})
		p.detect.Update(f)

		if i == hideAt {
			p.detect.Suspend(visibility.ReasonTabHidden)
			p.log.Append(event.ActionTabHidden, "", &event.Marker{})
			p.clock.advance(between(p.rng, 3000, 20000))
			p.log.Append(event.ActionTabVisible, "", &event.Marker{})
			continue
		}

		for _, id := range p.detect.Entered() {
			if touched[id] {
				continue
			}
			touched[id] = true
			p.interact(id, media[id])
		}
		if p.flush.Pending() >= p.cfg.BatchSize {
			p.up.replay = p.rng.Float64() < replayChance
			if err := <-p.flush.Flush(ctx); err != nil {
				return false, err
			}
		}
	}

	p.clock.advance(between(p.rng, 1000, 4000))
	if p.rng.Float64() < p.cfg.CompleteRate {
		p.log.Append(event.ActionFeedSubmit, "", &event.Marker{})
		if err := <-p.flush.Flush(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	// Abandoned: the tab closes and the page-hide flush is all that is left.
	p.detect.Suspend(visibility.ReasonUnload)
	p.log.Append(event.ActionPageHide, "", &event.Marker{})
	p.up.hidden = true
	<-p.flush.Flush(ctx)
	return false, nil
}

// interact scripts what a participant does with a post once it is seen.
func (p *participant) interact(postID string, hasMedia bool) {
	step := func() { p.clock.advance(between(p.rng, 300, 1500)) }

	if !hasMedia && p.rng.Float64() < 0.5 {
		p.log.Append(event.ActionTextClamped, postID, &event.Marker{})
		if p.rng.Float64() < 0.4 {
			step()
			p.log.Append(event.ActionExpandText, postID, &event.Marker{})
		}
	}
	if p.rng.Float64() < 0.35 {
		step()
		pick := reactions[p.rng.IntN(len(reactions))]
		p.log.Append(event.ActionReactPick, postID, &event.ReactPick{Type: pick})
		if p.rng.Float64() < 0.1 {
			step()
			p.log.Append(event.ActionReactClear, postID, &event.ReactClear{Type: pick})
		}
	}
	if p.rng.Float64() < 0.2 {
		step()
		p.log.Append(event.ActionCommentOpen, postID, &event.Marker{})
		if p.rng.Float64() < 0.6 {
			step()
			p.log.Append(event.ActionCommentSubmit, postID, &event.CommentSubmit{Text: comments[p.rng.IntN(len(comments))]})
		}
	}
	if p.rng.Float64() < 0.05 {
		step()
		p.log.Append(event.ActionShare, postID, &event.Marker{})
	}
	if p.rng.Float64() < 0.03 {
		step()
		p.log.Append(event.ActionReportMisinfo, postID, &event.Marker{})
	}
}
