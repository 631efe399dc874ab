package service

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/log"
)

// Sweeper runs the periodic jobs that keep session state authoritative
// without a client in the loop: request expiry and balance enforcement.
type Sweeper struct {
	svc      SessionService
	interval time.Duration
}

// NewSweeper creates a sweeper ticking every interval.
func NewSweeper(svc SessionService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	l := log.Component("sweeper")
	ctx = log.WithLogger(ctx, l)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs every job once.
func (s *Sweeper) Sweep(ctx context.Context) {
	l := log.Ctx(ctx)

	if n, err := s.svc.ExpireRequests(ctx); err != nil {
		l.Error().Err(err).Msg("request expiry failed")
	} else if n > 0 {
		l.Info().Int("count", n).Msg("expired waiting requests")
	}

	if n, err := s.svc.EnforceBalances(ctx); err != nil {
		l.Error().Err(err).Msg("balance enforcement failed")
	} else if n > 0 {
		l.Info().Int("count", n).Msg("ended sessions on exhausted balance")
	}
}
