package repository

import (
	"time"

	"github.com/okian/feedtrace/pkg/logger"
)

type settings struct {
	now          func() time.Time
	maxOpenConns int
	logger       logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		now:    time.Now,
		logger: logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a RowStore.
type Option func(*settings)

// WithClock replaces the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxOpenConns caps the SQL connection pool. SQLite always uses one.
func WithMaxOpenConns(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
