/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package wallet

import (
	"errors"
	"fmt"

	"github.com/friendsincode/memequeue/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientFunds indicates a debit would take the balance negative.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrNegativeAmount indicates a caller passed a negative adjustment.
	ErrNegativeAmount = errors.New("wallet amount must be non-negative")
)

// Service owns coin balance correctness for (user, channel) wallets.
//
// All mutation happens through the lock-then-adjust contract: callers pass
// their open transaction so a balance change commits or rolls back together
// with the queue state it pays for. The service never opens transactions of
// its own.
type Service struct {
	logger zerolog.Logger
}

// NewService creates a wallet service instance.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "wallet").Logger(),
	}
}

// LockForUpdate reads the wallet row within tx, holding a write lock until
// the transaction ends. A missing wallet is created with zero balance.
func (s *Service) LockForUpdate(tx *gorm.DB, userID, channelID string) (*models.Wallet, error) {
	query := tx.Where("user_id = ? AND channel_id = ?", userID, channelID)
	// sqlite has no row locks; its single-writer transactions already
	// serialize wallet updates.
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var w models.Wallet
	err := query.First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = models.Wallet{
			ID:        uuid.NewString(),
			UserID:    userID,
			ChannelID: channelID,
			Balance:   0,
		}
		if err := tx.Create(&w).Error; err != nil {
			return nil, fmt.Errorf("create wallet: %w", err)
		}
		return &w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &w, nil
}

// Increment credits the wallet by amount within tx. Used for refunds.
func (s *Service) Increment(tx *gorm.DB, userID, channelID string, amount int64) (*models.Wallet, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	w, err := s.LockForUpdate(tx, userID, channelID)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&models.Wallet{}).
		Where("id = ?", w.ID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	w.Balance += amount

	s.logger.Debug().
		Str("user_id", userID).
		Str("channel_id", channelID).
		Int64("amount", amount).
		Int64("balance", w.Balance).
		Msg("wallet credited")

	return w, nil
}

// Decrement debits the wallet by amount within tx, failing if the balance
// would go negative. Used by the admission path.
func (s *Service) Decrement(tx *gorm.DB, userID, channelID string, amount int64) (*models.Wallet, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	w, err := s.LockForUpdate(tx, userID, channelID)
	if err != nil {
		return nil, err
	}

	// Guarded write keeps the non-negative invariant even if another
	// transaction slipped between the read and this update.
	result := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", w.ID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return nil, fmt.Errorf("debit wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInsufficientFunds
	}
	w.Balance -= amount

	s.logger.Debug().
		Str("user_id", userID).
		Str("channel_id", channelID).
		Int64("amount", amount).
		Int64("balance", w.Balance).
		Msg("wallet debited")

	return w, nil
}

// Balance reads the current balance without locking. Missing wallets read
// as zero.
func (s *Service) Balance(db *gorm.DB, userID, channelID string) (int64, error) {
	var w models.Wallet
	err := db.Where("user_id = ? AND channel_id = ?", userID, channelID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read wallet: %w", err)
	}
	return w.Balance, nil
}
