/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction represents the type of action being audited.
type AuditAction string

// Audit action constants for queue and wallet mutations.
const (
	AuditActionActivationStarted  AuditAction = "queue.activation_started"
	AuditActionActivationFinished AuditAction = "queue.activation_finished"
	AuditActionQueueCleared       AuditAction = "queue.cleared"
	AuditActionWalletCredited     AuditAction = "wallet.credited"
	AuditActionWalletDebited      AuditAction = "wallet.debited"
)

// AuditLog records one queue or wallet mutation for accountability.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID       *string        `gorm:"type:uuid;index:idx_audit_user"`    // NULL for system actions
	ChannelID    *string        `gorm:"type:uuid;index:idx_audit_channel"` // NULL if platform-wide
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ActivationID string         `gorm:"type:uuid"`
	Details      map[string]any `gorm:"type:jsonb;serializer:json"` // action-specific details
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
