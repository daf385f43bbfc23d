package db

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultMemtableSize  = 4 << 20 // 4 MB
	defaultSweepInterval = time.Minute
)

type Option interface {
	apply(*DB)
}

type OptionFunc func(*DB)

func (f OptionFunc) apply(db *DB) {
	f(db)
}

// WithLogger overrides the database's logger. The default is
// zap.NewProduction() in Open.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(db *DB) {
		db.logger = logger
	})
}

// WithMemtableSize overrides the arena size, in bytes, each memtable is
// allocated with before it is flushed. The default is 4 MB.
func WithMemtableSize(size uint) Option {
	return OptionFunc(func(db *DB) {
		db.memtableSize = size
	})
}

// WithSweepInterval overrides how often the background goroutine calls
// Run on the WAL segment writer pool to reclaim idle segments. The default
// is one minute.
func WithSweepInterval(interval time.Duration) Option {
	return OptionFunc(func(db *DB) {
		db.sweepInterval = interval
	})
}
