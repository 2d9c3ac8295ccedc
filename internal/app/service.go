// Package service wires the tracking pipeline together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/okian/feedtrace/internal/adapters/mq/worker"
	"github.com/okian/feedtrace/internal/adapters/repository"
	"github.com/okian/feedtrace/internal/domain/dedupe"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/visibility"
	"github.com/okian/feedtrace/pkg/logger"
	"github.com/okian/feedtrace/pkg/metrics"
)

// Service owns the session registry, the ingest pool and the row store.
type Service struct {
	mu sync.RWMutex

	sessions *repository.Sessions
	store    repository.RowStore
	deduper  dedupe.Deduper
	pool     *worker.Pool

	workerCount   int
	queueSize     int
	dedupeSize    int
	maxImportRows int
	thresholds    visibility.Thresholds
	chromeTop     float64
	chromeBottom  float64
	debugOverlay  bool
	sessionTTL    time.Duration
	clock         event.Clock

	started     bool
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
	logger      logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingest shards.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds each shard's queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many batch ids are remembered; 0 keeps all.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxImportRows caps a single import.
func WithMaxImportRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImportRows = n
		}
	}
}

// WithThresholds sets the media and text visibility thresholds reported to
// clients.
func WithThresholds(t visibility.Thresholds) Option {
	return func(s *Service) {
		if t.Media > 0 && t.Media <= 1 && t.Text > 0 && t.Text <= 1 {
			s.thresholds = t
		}
	}
}

// WithChrome sets the sticky header and footer heights in px.
func WithChrome(top, bottom float64) Option {
	return func(s *Service) {
		if top >= 0 && bottom >= 0 {
			s.chromeTop, s.chromeBottom = top, bottom
		}
	}
}

// WithDebugOverlay turns the overlay on for sessions that do not ask.
func WithDebugOverlay(on bool) Option {
	return func(s *Service) { s.debugOverlay = on }
}

// WithSessionTTL sets how long an idle session stays in memory.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithRowStore replaces the default in-memory row store. The service
// closes it on Stop.
func WithRowStore(store repository.RowStore) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithClock replaces the wall clock used for server-stamped times.
func WithClock(c event.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     1024,
		dedupeSize:    50_000,
		maxImportRows: 10_000,
		thresholds:    visibility.DefaultThresholds,
		sessionTTL:    30 * time.Minute,
		clock:         event.ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting feedtrace service...")

	clock := func() time.Time { return s.clock.Now() }
	s.sessions = repository.NewSessions(repository.WithClock(clock))
	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithClock(clock))
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.pool = worker.NewPool(s.handleBatch,
		worker.WithShards(s.workerCount),
		worker.WithShardCapacity(s.queueSize),
	)
	// Workers outlive the caller's context; Stop drains them.
	runCtx := context.WithoutCancel(ctx)
	s.pool.Start(runCtx)

	janitorCtx, cancel := context.WithCancel(runCtx)
	s.stopJanitor = cancel
	s.janitorDone = make(chan struct{})
	go s.sweepSessions(janitorCtx, s.janitorDone)

	s.started = true
	s.logger.Info(ctx, "feedtrace service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("sessionTTL", s.sessionTTL),
	)
	return nil
}

// sweepSessions drops idle session replicas until ctx is done.
func (s *Service) sweepSessions(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.sessionTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(ctx, s.sessionTTL); n > 0 {
				s.logger.Debug(ctx, "idle sessions evicted", logger.Int("count", n))
			}
		}
	}
}

// Stop drains the ingest pool and closes the row store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping feedtrace service...")

	s.stopJanitor()
	<-s.janitorDone

	var firstErr error
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.started = false
	s.logger.Info(ctx, "feedtrace service stopped")
	return firstErr
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		queueLen := s.pool.Len(ctx)
		rows := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["openSessions"] = s.sessions.Len()
		stats["storedRows"] = rows
		stats["seenBatches"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateStoreRows(rows)
		metrics.UpdateWorkerCount(s.workerCount)
	}
	return stats
}

// VisibilityConfig is what a client needs to run its own detector.
type VisibilityConfig struct {
	Thresholds     visibility.Thresholds `json:"thresholds"`
	ChromeTopPx    float64               `json:"chrome_top_px"`
	ChromeBottomPx float64               `json:"chrome_bottom_px"`
	DebugOverlay   bool                  `json:"debug_overlay"`
}

// Visibility returns the configured detector settings.
func (s *Service) Visibility() VisibilityConfig {
	return VisibilityConfig{
		Thresholds:     s.thresholds,
		ChromeTopPx:    s.chromeTop,
		ChromeBottomPx: s.chromeBottom,
		DebugOverlay:   s.debugOverlay,
	}
}
