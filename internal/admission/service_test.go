/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/wallet"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	_ = database.AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.ChannelMeme{},
		&models.Wallet{},
		&models.Activation{},
		&models.ChannelPlaybackState{},
	)

	return database
}

type fixture struct {
	svc     *Service
	wallets *wallet.Service
	db      *gorm.DB
	channel *models.Channel
	meme    *models.ChannelMeme
	sender  *models.User
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	database := setupTestDB(t)
	wallets := wallet.NewService(zerolog.Nop())

	channel := &models.Channel{
		ID:                uuid.NewString(),
		OwnerUserID:       uuid.NewString(),
		Name:              "chan-" + uuid.NewString()[:8],
		DefaultPriceCoins: 100,
	}
	if err := database.Create(channel).Error; err != nil {
		t.Fatalf("failed to create channel: %v", err)
	}

	meme := &models.ChannelMeme{
		ID:         uuid.NewString(),
		ChannelID:  channel.ID,
		Title:      "Test Clip",
		AssetKey:   "clips/test.mp4",
		Duration:   8 * time.Second,
		PriceCoins: 50,
		Eligible:   true,
	}
	if err := database.Create(meme).Error; err != nil {
		t.Fatalf("failed to create meme: %v", err)
	}

	sender := &models.User{ID: uuid.NewString(), Login: "alice-" + uuid.NewString()[:8], DisplayName: "alice"}
	if err := database.Create(sender).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return &fixture{
		svc:     NewService(database, wallets, events.NewBus(), zerolog.Nop()),
		wallets: wallets,
		db:      database,
		channel: channel,
		meme:    meme,
		sender:  sender,
	}
}

func TestEnqueueDebitsAndCreatesRow(t *testing.T) {
	f := setupFixture(t)
	if _, err := f.wallets.Increment(f.db, f.sender.ID, f.channel.ID, 120); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}

	res, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if res.PriceCoins != 50 {
		t.Errorf("price = %d, want meme price 50", res.PriceCoins)
	}
	if res.Balance != 70 {
		t.Errorf("balance = %d, want 70", res.Balance)
	}
	if res.Position != 1 {
		t.Errorf("position = %d, want 1", res.Position)
	}

	var act models.Activation
	if err := f.db.First(&act, "id = ?", res.ActivationID).Error; err != nil {
		t.Fatalf("activation row missing: %v", err)
	}
	if act.Status != models.ActivationQueued {
		t.Errorf("status = %v, want queued", act.Status)
	}
	if act.PriceCoins != 50 {
		t.Errorf("stored price = %d, want 50", act.PriceCoins)
	}
}

func TestEnqueueInsufficientFundsLeavesNoRow(t *testing.T) {
	f := setupFixture(t)
	if _, err := f.wallets.Increment(f.db, f.sender.ID, f.channel.ID, 10); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}

	_, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Enqueue() error = %v, want ErrInsufficientFunds", err)
	}

	// Debit and row creation share a transaction; neither happened.
	var count int64
	f.db.Model(&models.Activation{}).Where("channel_id = ?", f.channel.ID).Count(&count)
	if count != 0 {
		t.Errorf("activation rows = %d, want 0", count)
	}
	balance, _ := f.wallets.Balance(f.db, f.sender.ID, f.channel.ID)
	if balance != 10 {
		t.Errorf("balance = %d, want untouched 10", balance)
	}
}

func TestEnqueueOwnerIsFree(t *testing.T) {
	f := setupFixture(t)

	res, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.channel.OwnerUserID,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if res.PriceCoins != 0 {
		t.Errorf("owner price = %d, want 0", res.PriceCoins)
	}
}

func TestEnqueueFallsBackToChannelPrice(t *testing.T) {
	f := setupFixture(t)
	if err := f.db.Model(&models.ChannelMeme{}).Where("id = ?", f.meme.ID).
		Update("price_coins", 0).Error; err != nil {
		t.Fatalf("failed to zero meme price: %v", err)
	}
	if _, err := f.wallets.Increment(f.db, f.sender.ID, f.channel.ID, 150); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}

	res, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if res.PriceCoins != f.channel.DefaultPriceCoins {
		t.Errorf("price = %d, want channel default %d", res.PriceCoins, f.channel.DefaultPriceCoins)
	}
}

func TestEnqueueRejectedWhenIntakePaused(t *testing.T) {
	f := setupFixture(t)
	state := models.ChannelPlaybackState{ChannelID: f.channel.ID, ActivationsEnabled: false}
	if err := f.db.Create(&state).Error; err != nil {
		t.Fatalf("failed to create state: %v", err)
	}

	_, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if !errors.Is(err, ErrIntakePaused) {
		t.Errorf("Enqueue() error = %v, want ErrIntakePaused", err)
	}
}

func TestEnqueueRejectsIneligibleMeme(t *testing.T) {
	f := setupFixture(t)
	if err := f.db.Model(&models.ChannelMeme{}).Where("id = ?", f.meme.ID).
		Update("eligible", false).Error; err != nil {
		t.Fatalf("failed to flag meme: %v", err)
	}

	_, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if !errors.Is(err, ErrMemeNotEligible) {
		t.Errorf("Enqueue() error = %v, want ErrMemeNotEligible", err)
	}
}

func TestEnqueueUnknownTargets(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     uuid.NewString(),
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("unknown channel error = %v, want ErrChannelNotFound", err)
	}

	_, err = f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: uuid.NewString(),
		UserID:        f.sender.ID,
	})
	if !errors.Is(err, ErrMemeNotFound) {
		t.Errorf("unknown meme error = %v, want ErrMemeNotFound", err)
	}
}

func TestEnqueueBumpsRevisionWhenStateExists(t *testing.T) {
	f := setupFixture(t)
	state := models.ChannelPlaybackState{ChannelID: f.channel.ID, ActivationsEnabled: true, QueueRevision: 7}
	if err := f.db.Create(&state).Error; err != nil {
		t.Fatalf("failed to create state: %v", err)
	}
	if _, err := f.wallets.Increment(f.db, f.sender.ID, f.channel.ID, 50); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}

	res, err := f.svc.Enqueue(context.Background(), EnqueueRequest{
		ChannelID:     f.channel.ID,
		ChannelMemeID: f.meme.ID,
		UserID:        f.sender.ID,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if res.Revision != 8 {
		t.Errorf("revision = %d, want 8", res.Revision)
	}
}
