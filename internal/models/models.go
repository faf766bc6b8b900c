package models

import "time"

// InitiatorRole enumerates who may act on a channel's queue.
type InitiatorRole string

const (
	RoleStreamer InitiatorRole = "streamer"
	RoleMod      InitiatorRole = "mod"
	RoleViewer   InitiatorRole = "viewer"
)

// User represents an account that can buy activations or own a channel.
type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Login       string `gorm:"uniqueIndex"`
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Channel is a streamer's namespace. Each channel owns exactly one
// playback slot, tracked by its ChannelPlaybackState row.
type Channel struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	OwnerUserID       string `gorm:"type:uuid;index"`
	Name              string `gorm:"uniqueIndex"`
	DefaultPriceCoins int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChannelMeme is one clip in a channel's catalog.
type ChannelMeme struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	ChannelID  string `gorm:"type:uuid;index"`
	Title      string `gorm:"index"`
	AssetKey   string
	MediaURL   string
	Duration   time.Duration
	PriceCoins int64
	Eligible   bool `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ActivationStatus tracks an activation through its lifecycle.
type ActivationStatus string

const (
	ActivationQueued    ActivationStatus = "queued"
	ActivationPlaying   ActivationStatus = "playing"
	ActivationDone      ActivationStatus = "done"
	ActivationSkipped   ActivationStatus = "skipped"
	ActivationCancelled ActivationStatus = "cancelled"
)

// EndReason records why a playing or queued activation was closed.
type EndReason string

const (
	EndReasonNatural           EndReason = "natural"
	EndReasonSkippedByStreamer EndReason = "skipped_by_streamer"
	EndReasonSkippedByMod      EndReason = "skipped_by_mod"
	EndReasonError             EndReason = "error"
	EndReasonTimeout           EndReason = "timeout"
	EndReasonCleared           EndReason = "cleared"
)

// Activation is one paid request to play a clip on stream.
//
// Rows are created by the admission path in status queued; every later
// mutation belongs to the queue coordinator. done, skipped and cancelled
// are terminal.
type Activation struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	ChannelID     string `gorm:"type:uuid;index:idx_activations_channel_status"`
	ChannelMemeID string `gorm:"type:uuid;index"`
	UserID        string `gorm:"type:uuid;index"`
	PriceCoins    int64
	Status        ActivationStatus `gorm:"type:varchar(16);index:idx_activations_channel_status"`
	CreatedAt     time.Time        `gorm:"index"`
	PlayedAt      *time.Time
	EndedAt       *time.Time
	EndedReason   EndReason     `gorm:"type:varchar(32)"`
	EndedByID     string        `gorm:"type:uuid"`
	EndedByRole   InitiatorRole `gorm:"type:varchar(16)"`
	RefundedAt    *time.Time
	UpdatedAt     time.Time
}

// Finished reports whether the activation reached a terminal status.
func (a Activation) Finished() bool {
	switch a.Status {
	case ActivationDone, ActivationSkipped, ActivationCancelled:
		return true
	}
	return false
}

// ChannelPlaybackState is the single playback slot of one channel.
//
// CurrentActivationID is non-nil iff exactly one activation in the channel
// has status playing, and then it equals that activation's id. QueueRevision
// is bumped on every write that changes observable queue or pause state, so
// overlay and dashboard clients can detect change without diffing payloads.
type ChannelPlaybackState struct {
	ChannelID             string  `gorm:"type:uuid;primaryKey"`
	CurrentActivationID   *string `gorm:"type:uuid;index"`
	OverlayPlaybackPaused bool
	ActivationsEnabled    bool `gorm:"default:true"`
	QueueRevision         int64
	UpdatedAt             time.Time
}

// Wallet holds the coin balance of one user within one channel.
// Balance never goes negative; all mutation goes through the wallet
// service's lock-then-adjust contract.
type Wallet struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;uniqueIndex:idx_wallets_user_channel"`
	ChannelID string `gorm:"type:uuid;uniqueIndex:idx_wallets_user_channel"`
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
