// Package simulate drives synthetic participants through a feed against a
// running feedtrace server: it scrolls, interacts, uploads batches and
// flushes on page hide, then checks the roster the server built.
package simulate

import (
	"sync/atomic"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	ProjectID    string        // Project the sessions belong to
	FeedID       string        // Feed every participant sees
	Posts        int           // Number of posts in the feed
	Participants int           // Number of simulated participants
	Workers      int           // Participants running concurrently
	BatchSize    int           // Events per uploaded batch
	CompleteRate float64       // Share of participants that submit
	Seed         uint64        // Seed for reproducible scripts
	Timeout      time.Duration // HTTP request timeout
	Settle       time.Duration // How long to wait for rows to be stored
	Start        time.Time     // Virtual start time of the first event
	Verbose      bool          // Log every participant
}

// Default configuration values.
const (
	DefaultPosts        = 12
	DefaultParticipants = 50
	DefaultBatchSize    = 25
	DefaultCompleteRate = 0.8
	DefaultTimeout      = 10 * time.Second
	DefaultSettle       = 15 * time.Second
)

func (c *Config) applyDefaults() {
	if c.ProjectID == "" {
		c.ProjectID = "sim"
	}
	if c.FeedID == "" {
		c.FeedID = "feed-a"
	}
	if c.Posts <= 0 {
		c.Posts = DefaultPosts
	}
	if c.Participants <= 0 {
		c.Participants = DefaultParticipants
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CompleteRate < 0 || c.CompleteRate > 1 {
		c.CompleteRate = DefaultCompleteRate
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Start.IsZero() {
		c.Start = time.Now()
	}
}

// Stats holds run statistics. Counters are updated concurrently.
type Stats struct {
	Participants atomic.Int64
	Submitted    atomic.Int64
	Abandoned    atomic.Int64
	Events       atomic.Int64
	Batches      atomic.Int64
	Duplicates   atomic.Int64
	Retries      atomic.Int64
	Beacons      atomic.Int64
	Failed       atomic.Int64
	// Annotated counts posts the debug overlay marked, summed over sessions.
	Annotated    atomic.Int64

	StartTime time.Time
	EndTime   time.Time
}

// Report is the outcome of a run.
type Report struct {
	Participants int64
	Submitted    int64
	Abandoned    int64
	Events       int64
	Batches      int64
	Duplicates   int64
	Retries      int64
	Beacons      int64
	Failed       int64
	Annotated    int64
	// Completed is the completed-row count the server reported.
	Completed int
	Duration  time.Duration
}

func (s *Stats) report(completed int) Report {
	return Report{
		Participants: s.Participants.Load(),
		Submitted:    s.Submitted.Load(),
		Abandoned:    s.Abandoned.Load(),
		Events:       s.Events.Load(),
		Batches:      s.Batches.Load(),
		Duplicates:   s.Duplicates.Load(),
		Retries:      s.Retries.Load(),
		Beacons:      s.Beacons.Load(),
		Failed:       s.Failed.Load(),
		Annotated:    s.Annotated.Load(),
		Completed:    completed,
		Duration:     s.EndTime.Sub(s.StartTime),
	}
}
