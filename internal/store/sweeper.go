package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs the store's housekeeping on a fixed interval: the capacity
// policy and the expiry of overdue orders. Each sweep is idempotent and safe
// to run concurrently with ordinary reads.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
	}
}

// Start begins the sweep loop and blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "store_sweeper").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting store sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down store sweeper")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	logger := log.With().Str("component", "store_sweeper").Logger()

	if err := s.store.EnforceCapacity(); err != nil {
		logger.Error().Err(err).Msg("failed to enforce store capacity")
	}

	expired, err := s.store.ExpireOverdue(time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to expire overdue orders")
		return
	}
	if len(expired) > 0 {
		logger.Info().
			Int("expired_count", len(expired)).
			Strs("order_ids", expired).
			Msg("expired overdue orders")
	}
}
