package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/feedtrace/internal/simulate"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		projectID    = flag.String("project", "sim", "Project id")
		feedID       = flag.String("feed", "feed-a", "Feed id")
		posts        = flag.Int("posts", simulate.DefaultPosts, "Posts in the feed")
		participants = flag.Int("participants", simulate.DefaultParticipants, "Participants to simulate")
		workers      = flag.Int("workers", runtime.NumCPU(), "Participants running at once")
		batch        = flag.Int("batch", simulate.DefaultBatchSize, "Events per uploaded batch")
		complete     = flag.Float64("complete", simulate.DefaultCompleteRate, "Share of participants that submit")
		seed         = flag.Uint64("seed", 1, "Seed for reproducible scripts")
		timeout      = flag.Duration("timeout", simulate.DefaultTimeout, "HTTP request timeout")
		settle       = flag.Duration("settle", simulate.DefaultSettle, "How long to wait for rows to be stored")
		logFile      = flag.String("log", "", "Log file (default: feed_sim_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Log every participant")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closer, err := simulate.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	_, err = simulate.Run(ctx, simulate.Config{
		BaseURL:      *baseURL,
		ProjectID:    *projectID,
		FeedID:       *feedID,
		Posts:        *posts,
		Participants: *participants,
		Workers:      *workers,
		BatchSize:    *batch,
		CompleteRate: *complete,
		Seed:         *seed,
		Timeout:      *timeout,
		Settle:       *settle,
		Verbose:      *verbose,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		closer.Close()
		cancel()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: resources released above
	}
}
