/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"time"

	"github.com/friendsincode/memequeue/internal/models"
)

// Outcome classifies how a coordinator operation resolved. Benign races
// (someone else already finished or promoted the row) are outcomes, not
// errors, so callers can treat them as "nothing to do".
type Outcome string

const (
	// OutcomeOK means the operation changed state as requested.
	OutcomeOK Outcome = "ok"

	// OutcomeNoCurrent means nothing was playing on the channel.
	OutcomeNoCurrent Outcome = "no_current"

	// OutcomeNotPlaying means the targeted activation was not in the
	// playing state anymore; another actor already resolved it.
	OutcomeNotPlaying Outcome = "not_playing"
)

// Initiator identifies the person acting on the queue.
type Initiator struct {
	UserID string
	Role   models.InitiatorRole
}

// PlaybackItem is the minimal payload an overlay needs to render a clip.
type PlaybackItem struct {
	ActivationID  string        `json:"activation_id"`
	ChannelMemeID string        `json:"channel_meme_id"`
	Title         string        `json:"title"`
	AssetKey      string        `json:"asset_key"`
	MediaURL      string        `json:"media_url"`
	Duration      time.Duration `json:"duration_ms"`
	SenderName    string        `json:"sender_name"`
	PriceCoins    int64         `json:"price_coins"`
}

// FinishResult reports the outcome of FinishCurrent or Skip.
type FinishResult struct {
	Outcome        Outcome       `json:"outcome"`
	ActivationID   string        `json:"activation_id,omitempty"`
	Refunded       bool          `json:"refunded"`
	RefundedCoins  int64         `json:"refunded_coins"`
	Next           *PlaybackItem `json:"next,omitempty"`
	PlaybackPaused bool          `json:"playback_paused"`
	Revision       int64         `json:"revision"`
}

// ClearResult reports how many queued activations a Clear call cancelled.
type ClearResult struct {
	Cleared       int   `json:"cleared"`
	Refunded      int   `json:"refunded"`
	RefundedCoins int64 `json:"refunded_coins"`
	Revision      int64 `json:"revision"`
}

// ToggleResult reports whether a pause toggle changed anything.
type ToggleResult struct {
	Changed  bool  `json:"changed"`
	Revision int64 `json:"revision"`
}

// ResumeResult reports the outcome of ResumePlayback.
type ResumeResult struct {
	Resumed        bool          `json:"resumed"`
	AlreadyCurrent bool          `json:"already_current"`
	Current        *PlaybackItem `json:"current,omitempty"`
	Started        *PlaybackItem `json:"started,omitempty"`
	Revision       int64         `json:"revision"`
}

// Snapshot is a read-only view of a channel's queue for dashboards.
type Snapshot struct {
	ChannelID             string        `json:"channel_id"`
	Current               *PlaybackItem `json:"current,omitempty"`
	Queued                []QueuedItem  `json:"queued"`
	OverlayPlaybackPaused bool          `json:"overlay_playback_paused"`
	ActivationsEnabled    bool          `json:"activations_enabled"`
	Revision              int64         `json:"revision"`
}

// QueuedItem is one waiting entry in a Snapshot.
type QueuedItem struct {
	ActivationID  string    `json:"activation_id"`
	ChannelMemeID string    `json:"channel_meme_id"`
	Title         string    `json:"title"`
	SenderName    string    `json:"sender_name"`
	PriceCoins    int64     `json:"price_coins"`
	CreatedAt     time.Time `json:"created_at"`
}
