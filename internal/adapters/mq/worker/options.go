package worker

import (
	"github.com/okian/feedtrace/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithShards sets the number of shards, one worker each.
func WithShards(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.shards = make([]*shardWorker, n)
		}
	}
}

// WithShardCapacity bounds each shard's queue.
func WithShardCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.shardCapacity = n
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
