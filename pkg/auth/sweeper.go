package auth

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically removes dead sessions from a store: revoked and
// stale pending sessions past the retention window, and expired grants
// with no refresh credential.
type Sweeper struct {
	store     Store
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper schedules a sweep of store on the given cron spec
// (e.g. "@every 15m"). Call Start to begin and Stop to shut down.
func NewSweeper(store Store, spec string, retention time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		store:     store,
		retention: retention,
		cron:      cron.New(),
	}

	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.store.Sweep(ctx, time.Now(), s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Swept dead authorization sessions")
	}
}
