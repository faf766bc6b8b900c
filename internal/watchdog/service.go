/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/queue"
	"github.com/friendsincode/memequeue/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// defaultDuration covers clips whose catalog entry carries no duration.
const defaultDuration = 30 * time.Second

// Service force-finishes playing activations that have overrun their clip
// duration plus a grace period. Overlay clients normally report natural
// completion themselves; the watchdog only catches the ones that never do
// (closed tab, crashed overlay). The coordinator itself stays timer-free.
type Service struct {
	db          *gorm.DB
	coordinator *queue.Coordinator
	logger      zerolog.Logger
	interval    time.Duration
	grace       time.Duration
	now         func() time.Time
}

// New constructs the watchdog.
func New(database *gorm.DB, coordinator *queue.Coordinator, interval, grace time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return &Service{
		db:          database,
		coordinator: coordinator,
		logger:      logger.With().Str("component", "watchdog").Logger(),
		interval:    interval,
		grace:       grace,
		now:         time.Now,
	}
}

// Run executes the watchdog loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("watchdog loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("watchdog loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	overrun, err := s.findOverrun(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("watchdog failed to scan playing activations")
		return
	}

	for _, act := range overrun {
		// Target the scanned id: if an overlay finish lands between the
		// scan and this call, the finish resolves to not_playing instead
		// of hitting whatever clip got promoted since.
		res, err := s.coordinator.FinishActivation(ctx, act.ChannelID, act.ID, models.EndReasonTimeout, nil)
		if err != nil {
			if errors.Is(err, queue.ErrConcurrentModification) {
				// someone else is working on this channel; next tick
				// will re-check
				continue
			}
			s.logger.Error().Err(err).
				Str("channel_id", act.ChannelID).
				Str("activation_id", act.ID).
				Msg("watchdog failed to finish overrun activation")
			continue
		}
		if res.Outcome != queue.OutcomeOK {
			continue
		}

		telemetry.WatchdogTimeoutsTotal.Inc()
		s.logger.Warn().
			Str("channel_id", act.ChannelID).
			Str("activation_id", act.ID).
			Msg("force-finished overrun activation")
	}
}

// findOverrun returns playing activations whose clip should long be over.
func (s *Service) findOverrun(ctx context.Context) ([]models.Activation, error) {
	var playing []models.Activation
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ActivationPlaying).
		Find(&playing).Error
	if err != nil {
		return nil, err
	}

	now := s.now()
	var overrun []models.Activation
	for _, act := range playing {
		if act.PlayedAt == nil {
			continue
		}

		duration := defaultDuration
		var meme models.ChannelMeme
		if err := s.db.WithContext(ctx).First(&meme, "id = ?", act.ChannelMemeID).Error; err == nil && meme.Duration > 0 {
			duration = meme.Duration
		}

		if now.Sub(*act.PlayedAt) > duration+s.grace {
			overrun = append(overrun, act)
		}
	}
	return overrun, nil
}
