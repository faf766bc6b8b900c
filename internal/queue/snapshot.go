/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/memequeue/internal/models"
	"gorm.io/gorm"
)

// GetSnapshot returns a read-only view of the channel's queue: the current
// item, waiting entries in promotion order, pause flags and the revision.
// Dashboards poll this after observing a revision change.
func (c *Coordinator) GetSnapshot(ctx context.Context, channelID string) (*Snapshot, error) {
	snap := &Snapshot{
		ChannelID:          channelID,
		Queued:             []QueuedItem{},
		ActivationsEnabled: true,
	}

	var state models.ChannelPlaybackState
	err := c.db.WithContext(ctx).First(&state, "channel_id = ?", channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// channel never touched the queue; report the defaults
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playback state: %w", err)
	}

	snap.OverlayPlaybackPaused = state.OverlayPlaybackPaused
	snap.ActivationsEnabled = state.ActivationsEnabled
	snap.Revision = state.QueueRevision

	if state.CurrentActivationID != nil {
		var act models.Activation
		err := c.db.WithContext(ctx).First(&act, "id = ?", *state.CurrentActivationID).Error
		if err == nil && act.Status == models.ActivationPlaying {
			item, err := c.buildPlaybackItem(c.db.WithContext(ctx), act)
			if err != nil {
				return nil, err
			}
			snap.Current = item
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load current activation: %w", err)
		}
	}

	var waiting []models.Activation
	err = c.db.WithContext(ctx).
		Where("channel_id = ? AND status = ?", channelID, models.ActivationQueued).
		Order("created_at ASC, id ASC").
		Find(&waiting).Error
	if err != nil {
		return nil, fmt.Errorf("list queued activations: %w", err)
	}
	if len(waiting) == 0 {
		return snap, nil
	}

	memeIDs := make([]string, 0, len(waiting))
	userIDs := make([]string, 0, len(waiting))
	for _, act := range waiting {
		memeIDs = append(memeIDs, act.ChannelMemeID)
		userIDs = append(userIDs, act.UserID)
	}

	var memes []models.ChannelMeme
	if err := c.db.WithContext(ctx).Where("id IN ?", memeIDs).Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("load channel memes: %w", err)
	}
	memeByID := make(map[string]models.ChannelMeme, len(memes))
	for _, m := range memes {
		memeByID[m.ID] = m
	}

	var senders []models.User
	if err := c.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&senders).Error; err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}
	senderByID := make(map[string]models.User, len(senders))
	for _, u := range senders {
		senderByID[u.ID] = u
	}

	for _, act := range waiting {
		entry := QueuedItem{
			ActivationID:  act.ID,
			ChannelMemeID: act.ChannelMemeID,
			PriceCoins:    act.PriceCoins,
			CreatedAt:     act.CreatedAt,
		}
		if m, ok := memeByID[act.ChannelMemeID]; ok {
			entry.Title = m.Title
		}
		if u, ok := senderByID[act.UserID]; ok {
			entry.SenderName = u.DisplayName
		}
		snap.Queued = append(snap.Queued, entry)
	}
	return snap, nil
}
