// Package sweeper evicts connections that have been idle for too long.
package sweeper

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/koustreak/connhub/internal/logger"
	"github.com/koustreak/connhub/internal/registry"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultIdleTimeout = time.Hour
)

// Target is the part of the connection manager the sweeper drives.
type Target interface {
	Snapshot() []registry.Info

	// EvictIdle removes key only if it is still idle since cutoff.
	EvictIdle(ctx context.Context, key registry.Key, cutoff time.Time) (bool, error)
}

type Options struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	Logger      *logger.Logger
	Now         func() time.Time
}

// Sweeper periodically closes connections not used within IdleTimeout.
type Sweeper struct {
	target Target
	opts   Options
	log    *logger.Logger
}

func New(target Target, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		target: target,
		opts:   opts,
		log:    log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.InfoWith("sweeper started", map[string]interface{}{
		"interval_s":     s.opts.Interval.Seconds(),
		"idle_timeout_s": s.opts.IdleTimeout.Seconds(),
	})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce evicts every idle connection and returns how many were removed.
// Entries are handled one at a time; a failure on one never stops the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.opts.Now()
	cutoff := now.Add(-s.opts.IdleTimeout)

	var (
		evicted int
		result  *multierror.Error
	)
	for _, info := range s.target.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if !info.LastUsedAt.Before(cutoff) {
			continue
		}
		ok, err := s.target.EvictIdle(ctx, info.Key, cutoff)
		if ok {
			evicted++
			s.log.InfoWith("idle connection evicted", map[string]interface{}{
				"key":    info.Key.String(),
				"owner":  info.Owner,
				"idle_s": now.Sub(info.LastUsedAt).Seconds(),
			})
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	fields := map[string]interface{}{"evicted": evicted}
	if err := result.ErrorOrNil(); err != nil {
		fields["failed"] = len(result.Errors)
		s.log.WarnWith("sweep finished with errors", err, fields)
		return evicted
	}
	if evicted > 0 {
		s.log.InfoWith("sweep finished", fields)
	} else {
		s.log.DebugWith("sweep finished", fields)
	}
	return evicted
}
