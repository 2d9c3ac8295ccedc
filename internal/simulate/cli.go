package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/feedtrace/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends logs to stdout and to logFile. An empty logFile gets a
// timestamped name.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	if logFile == "" {
		logFile = "feed_sim_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// ShowHelp prints usage information for the feed simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`feedtrace feed simulator
========================

Plays scripted participants through a feed against a running feedtrace
server and checks that every submitter ends up with a completed row.

Usage:
  feed-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -project string
        Project id (default "sim")
  -feed string
        Feed id (default "feed-a")
  -posts int
        Posts in the feed (default 12)
  -participants int
        Participants to simulate (default 50)
  -workers int
        Participants running at once (default CPU cores)
  -batch int
        Events per uploaded batch (default 25)
  -complete float
        Share of participants that submit (default 0.8)
  -seed uint
        Seed for reproducible scripts (default 1)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        How long to wait for rows to be stored (default 15s)
  -log string
        Log file (default: feed_sim_TIMESTAMP.log)
  -verbose
        Log every participant
  -help
        Show this help message

Examples:
  feed-sim -participants 200 -workers 16
  feed-sim -url http://localhost:8080 -complete 0.5 -seed 7
`)
}
