package writerpool

import (
	"time"

	"go.uber.org/zap"
)

const defaultInactiveTTL = 5 * time.Minute

// Option configures a Pool at construction time.
type Option interface {
	apply(*Pool)
}

type optionFunc func(*Pool)

func (f optionFunc) apply(p *Pool) { f(p) }

// WithInactiveTTL overrides the duration an idle cached writer may sit
// before the sweep is allowed to reclaim it. The default is five minutes.
func WithInactiveTTL(ttl time.Duration) Option {
	return optionFunc(func(p *Pool) {
		p.inactiveTTL = ttl
	})
}

// WithLogger overrides the pool's logger. The default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(p *Pool) {
		p.logger = logger
	})
}
