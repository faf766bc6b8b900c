/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/memequeue/internal/db"
	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/telemetry"
	"github.com/friendsincode/memequeue/internal/wallet"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrChannelNotFound indicates the channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrMemeNotFound indicates the clip does not exist on this channel.
	ErrMemeNotFound = errors.New("channel meme not found")

	// ErrMemeNotEligible indicates the clip has not been cleared for queueing.
	ErrMemeNotEligible = errors.New("channel meme is not eligible for activation")

	// ErrIntakePaused indicates the channel is not accepting new activations.
	ErrIntakePaused = errors.New("channel activations are paused")

	// ErrInsufficientFunds mirrors the wallet error for convenience.
	ErrInsufficientFunds = wallet.ErrInsufficientFunds
)

// Service admits paid activation requests into the queue. It validates the
// purchase, debits the wallet and inserts the queued row inside one
// serializable transaction, so a debit without a row (or the reverse) is
// structurally impossible. It never touches the play slot; promotion
// belongs to the queue coordinator.
type Service struct {
	db      *gorm.DB
	wallets *wallet.Service
	bus     events.Broker
	logger  zerolog.Logger
}

// NewService creates the admission service.
func NewService(database *gorm.DB, wallets *wallet.Service, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:      database,
		wallets: wallets,
		bus:     bus,
		logger:  logger.With().Str("component", "admission").Logger(),
	}
}

// EnqueueRequest describes one purchase attempt.
type EnqueueRequest struct {
	ChannelID     string
	ChannelMemeID string
	UserID        string
}

// EnqueueResult reports the admitted activation.
type EnqueueResult struct {
	ActivationID string `json:"activation_id"`
	PriceCoins   int64  `json:"price_coins"`
	Balance      int64  `json:"balance"`
	Position     int64  `json:"position"`
	Revision     int64  `json:"revision"`
}

// Enqueue validates the request, charges the sender and creates the queued
// activation row. The channel owner queues their own clips for free.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	var res EnqueueResult

	err := db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		res = EnqueueResult{}

		var channel models.Channel
		err := tx.First(&channel, "id = ?", req.ChannelID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChannelNotFound
		}
		if err != nil {
			return fmt.Errorf("load channel: %w", err)
		}

		var meme models.ChannelMeme
		err = tx.First(&meme, "id = ? AND channel_id = ?", req.ChannelMemeID, req.ChannelID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemeNotFound
		}
		if err != nil {
			return fmt.Errorf("load channel meme: %w", err)
		}
		if !meme.Eligible {
			return ErrMemeNotEligible
		}

		var state models.ChannelPlaybackState
		err = tx.First(&state, "channel_id = ?", req.ChannelID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load playback state: %w", err)
		}
		if err == nil && !state.ActivationsEnabled {
			return ErrIntakePaused
		}

		price := meme.PriceCoins
		if price <= 0 {
			price = channel.DefaultPriceCoins
		}
		if req.UserID == channel.OwnerUserID {
			price = 0
		}

		balance := int64(0)
		if price > 0 {
			w, err := s.wallets.Decrement(tx, req.UserID, req.ChannelID, price)
			if err != nil {
				return err
			}
			balance = w.Balance
		}

		act := models.Activation{
			ID:            uuid.NewString(),
			ChannelID:     req.ChannelID,
			ChannelMemeID: req.ChannelMemeID,
			UserID:        req.UserID,
			PriceCoins:    price,
			Status:        models.ActivationQueued,
		}
		if err := tx.Create(&act).Error; err != nil {
			return fmt.Errorf("create activation: %w", err)
		}

		var position int64
		err = tx.Model(&models.Activation{}).
			Where("channel_id = ? AND status = ?", req.ChannelID, models.ActivationQueued).
			Count(&position).Error
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}

		var revision int64
		if state.ChannelID != "" {
			if err := tx.Model(&models.ChannelPlaybackState{}).
				Where("channel_id = ?", req.ChannelID).
				Update("queue_revision", gorm.Expr("queue_revision + 1")).Error; err != nil {
				return fmt.Errorf("bump revision: %w", err)
			}
			revision = state.QueueRevision + 1
		}

		res = EnqueueResult{
			ActivationID: act.ID,
			PriceCoins:   price,
			Balance:      balance,
			Position:     position,
			Revision:     revision,
		}
		return nil
	})
	if err != nil {
		if db.IsRetryable(err) {
			return nil, fmt.Errorf("enqueue activation: %w", err)
		}
		return nil, err
	}

	telemetry.AdmissionsTotal.Inc()
	if res.PriceCoins > 0 {
		s.bus.Publish(events.EventWalletDebited, events.Payload{
			"channel_id":    req.ChannelID,
			"user_id":       req.UserID,
			"activation_id": res.ActivationID,
			"amount":        res.PriceCoins,
		})
	}
	s.bus.Publish(events.EventQueueChanged, events.Payload{
		"channel_id": req.ChannelID,
		"revision":   res.Revision,
	})

	s.logger.Info().
		Str("channel_id", req.ChannelID).
		Str("activation_id", res.ActivationID).
		Str("user_id", req.UserID).
		Int64("price_coins", res.PriceCoins).
		Int64("position", res.Position).
		Msg("activation admitted")
	return &res, nil
}
