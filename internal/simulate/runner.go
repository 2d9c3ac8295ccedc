package simulate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/feedtrace/pkg/logger"
)

const settlePoll = 100 * time.Millisecond

// Run executes a complete simulation: health check, participants, then a
// check that the server built one completed row per submitter.
func Run(ctx context.Context, cfg Config) (Report, error) { //nolint:gocritic // hugeParam
	cfg.applyDefaults()
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting feed simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("projectID", cfg.ProjectID),
		logger.String("feedID", cfg.FeedID),
		logger.Int("participants", cfg.Participants),
		logger.Int("workers", cfg.Workers),
		logger.Int("posts", cfg.Posts),
	)

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return Report{}, fmt.Errorf("service health check failed: %w", err)
	}

	feed := buildFeed(&cfg)
	jobs := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				submitted, err := runParticipant(ctx, &cfg, client, stats, feed, i)
				stats.Participants.Add(1)
				switch {
				case err != nil:
					stats.Failed.Add(1)
					log.Warn(ctx, "participant failed", logger.Int("participant", i), logger.Error(err))
				case submitted:
					stats.Submitted.Add(1)
				default:
					stats.Abandoned.Add(1)
				}
				if cfg.Verbose {
					log.Debug(ctx, "participant done", logger.Int("participant", i), logger.Bool("submitted", submitted))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Participants; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()
	stats.EndTime = time.Now()

	completed, err := settle(ctx, client, &cfg, stats.Submitted.Load())
	report := stats.report(completed)
	displayFinalStats(ctx, log, report)
	if err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// settle polls the summary until every submitter's row is stored or the
// settle window closes.
func settle(ctx context.Context, client *Client, cfg *Config, want int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Settle)
	defer cancel()
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	completed := 0
	for {
		sum, err := client.Summary(ctx, cfg.ProjectID, cfg.FeedID)
		if err == nil {
			completed = sum.Counts.Completed
			if int64(completed) >= want {
				return completed, nil
			}
		}
		select {
		case <-ctx.Done():
			return completed, fmt.Errorf("%w: %d of %d submitted rows stored", ErrMismatch, completed, want)
		case <-ticker.C:
		}
	}
}

func displayFinalStats(ctx context.Context, log logger.Logger, r Report) { //nolint:gocritic // hugeParam
	var eventsPerSecond float64
	if r.Duration > 0 {
		eventsPerSecond = float64(r.Events) / r.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int64("participants", r.Participants),
		logger.Int64("submitted", r.Submitted),
		logger.Int64("abandoned", r.Abandoned),
		logger.Int64("failed", r.Failed),
		logger.Int64("events", r.Events),
		logger.Int64("batches", r.Batches),
		logger.Int64("duplicates", r.Duplicates),
		logger.Int64("retries", r.Retries),
		logger.Int64("beacons", r.Beacons),
		logger.Int64("annotated", r.Annotated),
		logger.Int("completedRows", r.Completed),
		logger.Duration("duration", r.Duration),
		logger.Float64("eventsPerSecond", eventsPerSecond),
	)
}
