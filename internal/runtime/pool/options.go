package pool

import (
	"fmt"
	"time"

	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
)

// Config sizes a Pool.
type Config struct {
	// Name prefixes worker names and is attached to every log line.
	Name       string
	MinWorkers int
	MaxWorkers int
	// KeepAlive is how long a worker above MinWorkers may stay idle before it exits.
	KeepAlive time.Duration
}

func (c Config) validate() []error {
	var errs []error
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("pool %q: max workers must be positive, got %d", c.Name, c.MaxWorkers))
	}
	if c.MinWorkers < 0 {
		errs = append(errs, fmt.Errorf("pool %q: min workers cannot be negative, got %d", c.Name, c.MinWorkers))
	}
	if c.MaxWorkers > 0 && c.MinWorkers > c.MaxWorkers {
		errs = append(errs, fmt.Errorf("pool %q: min workers %d exceed max workers %d", c.Name, c.MinWorkers, c.MaxWorkers))
	}
	if c.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("pool %q: keep-alive cannot be negative, got %v", c.Name, c.KeepAlive))
	}
	return errs
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for task failures, rejections and worker lifecycle.
func WithLogger(log loggingpkg.ServiceLogger) Option {
	return func(p *Pool) {
		if log != nil {
			p.logger = log
		}
	}
}

// WithRejectionHandler replaces the default handler, which logs every
// rejection at error level. The rejected counter is maintained either way.
func WithRejectionHandler(handler RejectionHandler) Option {
	return func(p *Pool) {
		if handler != nil {
			p.onReject = handler
		}
	}
}
