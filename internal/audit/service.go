/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to queue and wallet events and logs them as audit
// entries until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	started := s.bus.Subscribe(events.EventActivationStarted)
	finished := s.bus.Subscribe(events.EventActivationFinished)
	cleared := s.bus.Subscribe(events.EventQueueCleared)
	credited := s.bus.Subscribe(events.EventWalletCredited)
	debited := s.bus.Subscribe(events.EventWalletDebited)

	defer func() {
		s.bus.Unsubscribe(events.EventActivationStarted, started)
		s.bus.Unsubscribe(events.EventActivationFinished, finished)
		s.bus.Unsubscribe(events.EventQueueCleared, cleared)
		s.bus.Unsubscribe(events.EventWalletCredited, credited)
		s.bus.Unsubscribe(events.EventWalletDebited, debited)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-started:
			s.logAuditEntry(ctx, models.AuditActionActivationStarted, payload)

		case payload := <-finished:
			s.logAuditEntry(ctx, models.AuditActionActivationFinished, payload)

		case payload := <-cleared:
			s.logAuditEntry(ctx, models.AuditActionQueueCleared, payload)

		case payload := <-credited:
			s.logAuditEntry(ctx, models.AuditActionWalletCredited, payload)

		case payload := <-debited:
			s.logAuditEntry(ctx, models.AuditActionWalletDebited, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if channelID, ok := payload["channel_id"].(string); ok && channelID != "" {
		entry.ChannelID = &channelID
	}
	if activationID, ok := payload["activation_id"].(string); ok {
		entry.ActivationID = activationID
	}

	for k, v := range payload {
		switch k {
		case "user_id", "channel_id", "activation_id":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	ChannelID *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.ChannelID != nil {
		query = query.Where("channel_id = ?", *filters.ChannelID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
