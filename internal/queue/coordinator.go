/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/memequeue/internal/db"
	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// RefundWindow is the grace period after a clip starts playing during which
// an early skip returns the spent coins. Skips landing this fast are treated
// as "never really played".
const RefundWindow = 3 * time.Second

// ErrConcurrentModification is returned when an operation kept losing
// write-write races until the retry budget ran out. Callers should surface
// it as a generic "please retry" condition.
var ErrConcurrentModification = errors.New("queue was modified concurrently, please retry")

// WalletCrediter is the slice of the wallet contract the coordinator needs.
// Only refunds flow through here; debits belong to the admission path.
type WalletCrediter interface {
	Increment(tx *gorm.DB, userID, channelID string, amount int64) (*models.Wallet, error)
}

// Coordinator serializes paid activations into each channel's single play
// slot. It is stateless: multiple instances may run concurrently, and all
// coordination happens in the database through serializable transactions
// and guarded conditional writes whose affected-row count is the conflict
// signal.
type Coordinator struct {
	db      *gorm.DB
	wallets WalletCrediter
	bus     events.Broker
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(database *gorm.DB, wallets WalletCrediter, bus events.Broker, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:      database,
		wallets: wallets,
		bus:     bus,
		logger:  logger.With().Str("component", "queue").Logger(),
		now:     time.Now,
	}
}

// pendingEvent is buffered during a transaction and published only after
// the transaction committed, so watchers never observe rolled-back state.
type pendingEvent struct {
	typ     events.EventType
	payload events.Payload
}

// FinishCurrent closes the channel's current playing activation with the
// given reason, refunds it when the skip landed inside the refund window,
// and promotes the next queued activation unless playback is paused.
func (c *Coordinator) FinishCurrent(ctx context.Context, channelID string, reason models.EndReason, initiator *Initiator) (*FinishResult, error) {
	return c.finish(ctx, channelID, "", reason, initiator)
}

// FinishActivation closes one specific activation, but only while it is
// still the channel's current playing clip. Callers that decided on a
// target outside the transaction (the playback watchdog scans first,
// finishes later) must use this instead of FinishCurrent: if another
// finish lands in between and promotes the next clip, the stale target
// resolves to not_playing rather than closing the freshly promoted clip.
func (c *Coordinator) FinishActivation(ctx context.Context, channelID, activationID string, reason models.EndReason, initiator *Initiator) (*FinishResult, error) {
	return c.finish(ctx, channelID, activationID, reason, initiator)
}

func (c *Coordinator) finish(ctx context.Context, channelID, targetID string, reason models.EndReason, initiator *Initiator) (*FinishResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "FinishCurrent")
	defer span.End()
	defer c.observe("finish_current", time.Now())

	var (
		res     FinishResult
		pending []pendingEvent
	)

	err := db.RunSerializable(ctx, c.db, func(tx *gorm.DB) error {
		res = FinishResult{}
		pending = pending[:0]

		state, err := c.loadState(tx, channelID)
		if err != nil {
			return err
		}

		if state.CurrentActivationID == nil {
			res.Outcome = OutcomeNoCurrent
			res.PlaybackPaused = state.OverlayPlaybackPaused
			res.Revision = state.QueueRevision
			return nil
		}

		if targetID != "" && *state.CurrentActivationID != targetID {
			res.Outcome = OutcomeNotPlaying
			res.Revision = state.QueueRevision
			return nil
		}

		var act models.Activation
		err = tx.First(&act, "id = ?", *state.CurrentActivationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (act.ChannelID != channelID || act.Status != models.ActivationPlaying)) {
			res.Outcome = OutcomeNotPlaying
			res.Revision = state.QueueRevision
			return nil
		}
		if err != nil {
			return fmt.Errorf("load current activation: %w", err)
		}

		now := c.now()
		refund := refundEligible(act, reason, now)

		updates := map[string]any{
			"status":       terminalStatus(reason),
			"ended_at":     now,
			"ended_reason": reason,
		}
		if initiator != nil {
			updates["ended_by_id"] = initiator.UserID
			updates["ended_by_role"] = initiator.Role
		}
		if refund {
			updates["refunded_at"] = now
		}

		// Status guard: zero affected rows means another actor closed
		// this activation between our read and this write.
		result := tx.Model(&models.Activation{}).
			Where("id = ? AND status = ?", act.ID, models.ActivationPlaying).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("close activation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			res.Outcome = OutcomeNotPlaying
			res.Revision = state.QueueRevision
			return nil
		}

		if refund {
			if _, err := c.wallets.Increment(tx, act.UserID, channelID, act.PriceCoins); err != nil {
				return fmt.Errorf("refund activation %s: %w", act.ID, err)
			}
			res.Refunded = true
			res.RefundedCoins = act.PriceCoins
			pending = append(pending, pendingEvent{events.EventWalletCredited, events.Payload{
				"channel_id":    channelID,
				"user_id":       act.UserID,
				"activation_id": act.ID,
				"amount":        act.PriceCoins,
			}})
		}

		// Slot guard: the channel row must still point at the activation
		// we just closed. Losing this race means a concurrent writer got
		// between our two writes, so the whole attempt restarts.
		result = tx.Model(&models.ChannelPlaybackState{}).
			Where("channel_id = ? AND current_activation_id = ?", channelID, act.ID).
			Updates(map[string]any{
				"current_activation_id": nil,
				"queue_revision":        gorm.Expr("queue_revision + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("clear playback slot: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return db.ErrConflict
		}

		res.Outcome = OutcomeOK
		res.ActivationID = act.ID
		pending = append(pending, pendingEvent{events.EventActivationFinished, events.Payload{
			"channel_id":     channelID,
			"activation_id":  act.ID,
			"reason":         string(reason),
			"refunded":       res.Refunded,
			"refunded_coins": res.RefundedCoins,
		}})

		if state.OverlayPlaybackPaused {
			res.PlaybackPaused = true
		} else {
			next, err := c.promoteNext(tx, channelID)
			if err != nil {
				return err
			}
			if next != nil {
				res.Next = next
				pending = append(pending, startedEvent(channelID, next))
			}
		}

		revision, err := c.stateRevision(tx, channelID)
		if err != nil {
			return err
		}
		res.Revision = revision
		pending = append(pending, changedEvent(channelID, revision))
		return nil
	})
	if err != nil {
		return nil, c.fail(span, "finish_current", err)
	}

	c.publish(pending)
	telemetry.QueueOpsTotal.WithLabelValues("finish_current", string(res.Outcome)).Inc()
	if res.Refunded {
		telemetry.RefundsTotal.Inc()
		telemetry.RefundedCoinsTotal.Add(float64(res.RefundedCoins))
	}

	if res.Outcome == OutcomeOK {
		c.logger.Info().
			Str("channel_id", channelID).
			Str("activation_id", res.ActivationID).
			Str("reason", string(reason)).
			Bool("refunded", res.Refunded).
			Bool("promoted_next", res.Next != nil).
			Msg("activation finished")
	}
	return &res, nil
}

// Skip closes the current activation on behalf of a streamer or moderator.
func (c *Coordinator) Skip(ctx context.Context, channelID string, initiator Initiator) (*FinishResult, error) {
	reason := models.EndReasonSkippedByMod
	if initiator.Role == models.RoleStreamer {
		reason = models.EndReasonSkippedByStreamer
	}
	return c.FinishCurrent(ctx, channelID, reason, &initiator)
}

// Clear cancels every queued (not playing) activation for the channel in
// queue order, refunding each row that has not already been refunded. The
// revision is bumped once, and only if at least one row was cleared.
func (c *Coordinator) Clear(ctx context.Context, channelID string, initiator Initiator) (*ClearResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "Clear")
	defer span.End()
	defer c.observe("clear", time.Now())

	var (
		res     ClearResult
		pending []pendingEvent
	)

	err := db.RunSerializable(ctx, c.db, func(tx *gorm.DB) error {
		res = ClearResult{}
		pending = pending[:0]

		state, err := c.loadState(tx, channelID)
		if err != nil {
			return err
		}

		var waiting []models.Activation
		err = tx.Where("channel_id = ? AND status = ?", channelID, models.ActivationQueued).
			Order("created_at ASC, id ASC").
			Find(&waiting).Error
		if err != nil {
			return fmt.Errorf("list queued activations: %w", err)
		}

		now := c.now()
		for _, act := range waiting {
			refund := act.RefundedAt == nil && act.PriceCoins > 0

			updates := map[string]any{
				"status":        models.ActivationCancelled,
				"ended_at":      now,
				"ended_reason":  models.EndReasonCleared,
				"ended_by_id":   initiator.UserID,
				"ended_by_role": initiator.Role,
			}
			if refund {
				updates["refunded_at"] = now
			}

			result := tx.Model(&models.Activation{}).
				Where("id = ? AND status = ?", act.ID, models.ActivationQueued).
				Updates(updates)
			if result.Error != nil {
				return fmt.Errorf("cancel activation %s: %w", act.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				// promoted or resolved by someone else between the
				// list and this write; leave it alone
				continue
			}

			res.Cleared++
			if refund {
				if _, err := c.wallets.Increment(tx, act.UserID, channelID, act.PriceCoins); err != nil {
					return fmt.Errorf("refund activation %s: %w", act.ID, err)
				}
				res.Refunded++
				res.RefundedCoins += act.PriceCoins
			}
		}

		if res.Cleared == 0 {
			res.Revision = state.QueueRevision
			return nil
		}

		result := tx.Model(&models.ChannelPlaybackState{}).
			Where("channel_id = ?", channelID).
			Update("queue_revision", gorm.Expr("queue_revision + 1"))
		if result.Error != nil {
			return fmt.Errorf("bump revision: %w", result.Error)
		}

		revision, err := c.stateRevision(tx, channelID)
		if err != nil {
			return err
		}
		res.Revision = revision
		pending = append(pending,
			pendingEvent{events.EventQueueCleared, events.Payload{
				"channel_id":     channelID,
				"cleared":        res.Cleared,
				"refunded":       res.Refunded,
				"refunded_coins": res.RefundedCoins,
			}},
			changedEvent(channelID, revision),
		)
		return nil
	})
	if err != nil {
		return nil, c.fail(span, "clear", err)
	}

	c.publish(pending)
	telemetry.QueueOpsTotal.WithLabelValues("clear", "ok").Inc()
	if res.Refunded > 0 {
		telemetry.RefundsTotal.Add(float64(res.Refunded))
		telemetry.RefundedCoinsTotal.Add(float64(res.RefundedCoins))
	}

	c.logger.Info().
		Str("channel_id", channelID).
		Int("cleared", res.Cleared).
		Int("refunded", res.Refunded).
		Int64("refunded_coins", res.RefundedCoins).
		Msg("queue cleared")
	return &res, nil
}

// SetIntakePaused toggles whether admission may create new queued rows.
// The call is idempotent: asking for the current value changes nothing and
// does not bump the revision.
func (c *Coordinator) SetIntakePaused(ctx context.Context, channelID string, paused bool) (*ToggleResult, error) {
	return c.toggleFlag(ctx, channelID, "set_intake_paused", "activations_enabled", !paused)
}

// SetPlaybackPaused toggles whether the coordinator may promote the next
// queued activation. Idempotent like SetIntakePaused.
func (c *Coordinator) SetPlaybackPaused(ctx context.Context, channelID string, paused bool) (*ToggleResult, error) {
	return c.toggleFlag(ctx, channelID, "set_playback_paused", "overlay_playback_paused", paused)
}

func (c *Coordinator) toggleFlag(ctx context.Context, channelID, op, column string, desired bool) (*ToggleResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", op)
	defer span.End()
	defer c.observe(op, time.Now())

	var (
		res     ToggleResult
		pending []pendingEvent
	)

	err := db.RunSerializable(ctx, c.db, func(tx *gorm.DB) error {
		res = ToggleResult{}
		pending = pending[:0]

		state, err := c.loadState(tx, channelID)
		if err != nil {
			return err
		}

		current := state.OverlayPlaybackPaused
		if column == "activations_enabled" {
			current = state.ActivationsEnabled
		}
		if current == desired {
			res.Revision = state.QueueRevision
			return nil
		}

		result := tx.Model(&models.ChannelPlaybackState{}).
			Where("channel_id = ? AND "+column+" = ?", channelID, !desired).
			Updates(map[string]any{
				column:           desired,
				"queue_revision": gorm.Expr("queue_revision + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("toggle %s: %w", column, result.Error)
		}
		if result.RowsAffected == 0 {
			return db.ErrConflict
		}

		revision, err := c.stateRevision(tx, channelID)
		if err != nil {
			return err
		}
		res.Changed = true
		res.Revision = revision
		pending = append(pending, changedEvent(channelID, revision))
		return nil
	})
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	c.publish(pending)
	telemetry.QueueOpsTotal.WithLabelValues(op, "ok").Inc()
	return &res, nil
}

// ResumePlayback clears the overlay pause flag if set, then makes sure
// something is in the play slot: an already playing activation is reported
// as current, otherwise the oldest queued activation is promoted. A
// concurrent FinishCurrent racing to promote the same row cannot
// double-promote it; whichever guarded write lands first wins.
func (c *Coordinator) ResumePlayback(ctx context.Context, channelID string) (*ResumeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "ResumePlayback")
	defer span.End()
	defer c.observe("resume_playback", time.Now())

	var (
		res     ResumeResult
		pending []pendingEvent
	)

	err := db.RunSerializable(ctx, c.db, func(tx *gorm.DB) error {
		res = ResumeResult{}
		pending = pending[:0]

		state, err := c.loadState(tx, channelID)
		if err != nil {
			return err
		}

		if state.OverlayPlaybackPaused {
			result := tx.Model(&models.ChannelPlaybackState{}).
				Where("channel_id = ? AND overlay_playback_paused = ?", channelID, true).
				Updates(map[string]any{
					"overlay_playback_paused": false,
					"queue_revision":          gorm.Expr("queue_revision + 1"),
				})
			if result.Error != nil {
				return fmt.Errorf("clear playback pause: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return db.ErrConflict
			}
			res.Resumed = true
		}

		if state.CurrentActivationID != nil {
			var act models.Activation
			err := tx.First(&act, "id = ?", *state.CurrentActivationID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && act.Status != models.ActivationPlaying) {
				// slot points at a closed or vanished activation; a
				// concurrent finish is mid-flight, start over from a
				// fresh read
				return db.ErrConflict
			}
			if err != nil {
				return fmt.Errorf("load current activation: %w", err)
			}
			item, err := c.buildPlaybackItem(tx, act)
			if err != nil {
				return err
			}
			res.AlreadyCurrent = true
			res.Current = item
		} else {
			next, err := c.promoteNext(tx, channelID)
			if err != nil {
				return err
			}
			if next != nil {
				res.Started = next
				pending = append(pending, startedEvent(channelID, next))
			}
		}

		revision, err := c.stateRevision(tx, channelID)
		if err != nil {
			return err
		}
		res.Revision = revision
		if res.Resumed || res.Started != nil {
			pending = append(pending, changedEvent(channelID, revision))
		}
		return nil
	})
	if err != nil {
		return nil, c.fail(span, "resume_playback", err)
	}

	c.publish(pending)
	telemetry.QueueOpsTotal.WithLabelValues("resume_playback", "ok").Inc()
	return &res, nil
}

// loadState reads the channel's playback state row, creating it lazily on
// first touch with intake enabled.
func (c *Coordinator) loadState(tx *gorm.DB, channelID string) (*models.ChannelPlaybackState, error) {
	var state models.ChannelPlaybackState
	err := tx.First(&state, "channel_id = ?", channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.ChannelPlaybackState{
			ChannelID:          channelID,
			ActivationsEnabled: true,
		}
		if createErr := tx.Create(&state).Error; createErr != nil {
			// lost the creation race; restart from a fresh read
			return nil, db.ErrConflict
		}
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playback state: %w", err)
	}
	return &state, nil
}

// promoteNext moves the oldest queued activation into the play slot. Both
// writes are guarded; losing either race restarts the transaction, which
// then observes the winner's promotion instead of duplicating it. Returns
// nil when the queue is empty.
func (c *Coordinator) promoteNext(tx *gorm.DB, channelID string) (*PlaybackItem, error) {
	var next models.Activation
	err := tx.Where("channel_id = ? AND status = ?", channelID, models.ActivationQueued).
		Order("created_at ASC, id ASC").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next queued activation: %w", err)
	}

	now := c.now()
	result := tx.Model(&models.Activation{}).
		Where("id = ? AND status = ?", next.ID, models.ActivationQueued).
		Updates(map[string]any{
			"status":    models.ActivationPlaying,
			"played_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("promote activation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, db.ErrConflict
	}

	result = tx.Model(&models.ChannelPlaybackState{}).
		Where("channel_id = ? AND current_activation_id IS NULL", channelID).
		Updates(map[string]any{
			"current_activation_id": next.ID,
			"queue_revision":        gorm.Expr("queue_revision + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("claim playback slot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, db.ErrConflict
	}

	telemetry.PromotionsTotal.Inc()
	next.Status = models.ActivationPlaying
	next.PlayedAt = &now
	return c.buildPlaybackItem(tx, next)
}

// buildPlaybackItem assembles the overlay payload for an activation.
func (c *Coordinator) buildPlaybackItem(tx *gorm.DB, act models.Activation) (*PlaybackItem, error) {
	var meme models.ChannelMeme
	if err := tx.First(&meme, "id = ?", act.ChannelMemeID).Error; err != nil {
		return nil, fmt.Errorf("load channel meme %s: %w", act.ChannelMemeID, err)
	}

	item := &PlaybackItem{
		ActivationID:  act.ID,
		ChannelMemeID: meme.ID,
		Title:         meme.Title,
		AssetKey:      meme.AssetKey,
		MediaURL:      meme.MediaURL,
		Duration:      meme.Duration,
		PriceCoins:    act.PriceCoins,
	}

	var sender models.User
	err := tx.First(&sender, "id = ?", act.UserID).Error
	if err == nil {
		item.SenderName = sender.DisplayName
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	return item, nil
}

func (c *Coordinator) stateRevision(tx *gorm.DB, channelID string) (int64, error) {
	var state models.ChannelPlaybackState
	if err := tx.Select("queue_revision").First(&state, "channel_id = ?", channelID).Error; err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return state.QueueRevision, nil
}

// fail maps exhausted transient conflicts to ErrConcurrentModification and
// records everything else unchanged.
func (c *Coordinator) fail(span trace.Span, op string, err error) error {
	telemetry.QueueOpsTotal.WithLabelValues(op, "error").Inc()
	telemetry.RecordError(span, err)
	if db.IsRetryable(err) {
		c.logger.Warn().Str("op", op).Msg("retry budget exhausted")
		return ErrConcurrentModification
	}
	c.logger.Error().Err(err).Str("op", op).Msg("queue operation failed")
	return err
}

func (c *Coordinator) observe(op string, start time.Time) {
	telemetry.QueueOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *Coordinator) publish(pending []pendingEvent) {
	for _, ev := range pending {
		c.bus.Publish(ev.typ, ev.payload)
	}
}

func startedEvent(channelID string, item *PlaybackItem) pendingEvent {
	return pendingEvent{events.EventActivationStarted, events.Payload{
		"channel_id":    channelID,
		"activation_id": item.ActivationID,
		"meme_id":       item.ChannelMemeID,
		"title":         item.Title,
		"asset_key":     item.AssetKey,
		"media_url":     item.MediaURL,
		"duration_ms":   item.Duration.Milliseconds(),
		"sender_name":   item.SenderName,
	}}
}

func changedEvent(channelID string, revision int64) pendingEvent {
	return pendingEvent{events.EventQueueChanged, events.Payload{
		"channel_id": channelID,
		"revision":   revision,
	}}
}

// terminalStatus maps an end reason to the terminal activation status.
func terminalStatus(reason models.EndReason) models.ActivationStatus {
	switch reason {
	case models.EndReasonNatural:
		return models.ActivationDone
	case models.EndReasonSkippedByStreamer, models.EndReasonSkippedByMod:
		return models.ActivationSkipped
	default:
		return models.ActivationCancelled
	}
}

// refundEligible reports whether closing act with reason at now returns the
// spent coins: only skips, only once, and only within the refund window.
func refundEligible(act models.Activation, reason models.EndReason, now time.Time) bool {
	if reason != models.EndReasonSkippedByStreamer && reason != models.EndReasonSkippedByMod {
		return false
	}
	if act.PlayedAt == nil || act.RefundedAt != nil || act.PriceCoins <= 0 {
		return false
	}
	return now.Sub(*act.PlayedAt) < RefundWindow
}
