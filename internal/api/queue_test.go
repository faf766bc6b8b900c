/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/memequeue/internal/admission"
	"github.com/friendsincode/memequeue/internal/auth"
	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/queue"
	"github.com/friendsincode/memequeue/internal/wallet"
)

var testSecret = []byte("unit-test-secret-key-0123456789ab")

type testEnv struct {
	router  chi.Router
	db      *gorm.DB
	wallets *wallet.Service
	channel *models.Channel
	meme    *models.ChannelMeme
	sender  *models.User
}

func setupTestEnv(t *testing.T) *testEnv {
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

	logger := zerolog.Nop()
	bus := events.NewBus()
	wallets := wallet.NewService(logger)
	coordinator := queue.NewCoordinator(database, wallets, bus, logger)
	admissionSvc := admission.NewService(database, wallets, bus, logger)

	a := New(database, testSecret, coordinator, admissionSvc, wallets, bus, logger)
	router := chi.NewRouter()
	a.Routes(router)

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

	return &testEnv{router: router, db: database, wallets: wallets, channel: channel, meme: meme, sender: sender}
}

func (e *testEnv) token(t *testing.T, userID string, role models.InitiatorRole, channelID string) string {
	t.Helper()
	token, err := auth.Issue(testSecret, auth.Claims{UserID: userID, Role: role, ChannelID: channelID}, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e := setupTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestQueueEndpointsRequireAuth(t *testing.T) {
	e := setupTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/v1/channels/"+e.channel.ID+"/queue", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestEnqueueAndSnapshotFlow(t *testing.T) {
	e := setupTestEnv(t)
	if _, err := e.wallets.Increment(e.db, e.sender.ID, e.channel.ID, 100); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}
	viewer := e.token(t, e.sender.ID, models.RoleViewer, e.channel.ID)

	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue", viewer,
		map[string]string{"channel_meme_id": e.meme.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var enq admission.EnqueueResult
	if err := json.Unmarshal(rec.Body.Bytes(), &enq); err != nil {
		t.Fatalf("failed to decode enqueue response: %v", err)
	}
	if enq.PriceCoins != 50 || enq.Balance != 50 {
		t.Errorf("enqueue = %+v, want price 50 balance 50", enq)
	}

	rec = e.request(t, http.MethodGet, "/api/v1/channels/"+e.channel.ID+"/queue", viewer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snap.Queued) != 1 || snap.Queued[0].ActivationID != enq.ActivationID {
		t.Errorf("snapshot queued = %+v, want the admitted activation", snap.Queued)
	}
}

func TestEnqueueInsufficientFundsMapsTo402(t *testing.T) {
	e := setupTestEnv(t)
	viewer := e.token(t, e.sender.ID, models.RoleViewer, e.channel.ID)

	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue", viewer,
		map[string]string{"channel_meme_id": e.meme.ID})
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestControlEndpointsRejectViewers(t *testing.T) {
	e := setupTestEnv(t)
	viewer := e.token(t, e.sender.ID, models.RoleViewer, e.channel.ID)

	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue/current/skip", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer skip status = %d, want 403", rec.Code)
	}
}

func TestControlEndpointsRejectWrongChannel(t *testing.T) {
	e := setupTestEnv(t)
	otherChannel := uuid.NewString()
	mod := e.token(t, uuid.NewString(), models.RoleMod, otherChannel)

	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue/clear", mod, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-channel clear status = %d, want 403", rec.Code)
	}
}

func TestSkipFlowThroughAPI(t *testing.T) {
	e := setupTestEnv(t)
	streamer := e.token(t, e.channel.OwnerUserID, models.RoleStreamer, e.channel.ID)

	// Owner enqueues for free, then resumes to start playback.
	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue", streamer,
		map[string]string{"channel_meme_id": e.meme.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue/playback/resume", streamer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resume queue.ResumeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resume); err != nil {
		t.Fatalf("failed to decode resume response: %v", err)
	}
	if resume.Started == nil {
		t.Fatal("resume did not start playback")
	}

	rec = e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue/current/skip", streamer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("skip status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var finish queue.FinishResult
	if err := json.Unmarshal(rec.Body.Bytes(), &finish); err != nil {
		t.Fatalf("failed to decode skip response: %v", err)
	}
	if finish.Outcome != queue.OutcomeOK {
		t.Errorf("skip outcome = %v, want ok", finish.Outcome)
	}
}

func TestPauseToggleEndpoint(t *testing.T) {
	e := setupTestEnv(t)
	streamer := e.token(t, e.channel.OwnerUserID, models.RoleStreamer, e.channel.ID)

	rec := e.request(t, http.MethodPut, "/api/v1/channels/"+e.channel.ID+"/queue/playback", streamer,
		map[string]bool{"paused": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var toggle queue.ToggleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &toggle); err != nil {
		t.Fatalf("failed to decode toggle response: %v", err)
	}
	if !toggle.Changed {
		t.Error("first pause should report a change")
	}

	rec = e.request(t, http.MethodPut, "/api/v1/channels/"+e.channel.ID+"/queue/playback", streamer,
		map[string]bool{"paused": true})
	var again queue.ToggleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("failed to decode toggle response: %v", err)
	}
	if again.Changed || again.Revision != toggle.Revision {
		t.Error("repeated pause must be a no-op")
	}
}

func TestFinishValidatesReason(t *testing.T) {
	e := setupTestEnv(t)
	streamer := e.token(t, e.channel.OwnerUserID, models.RoleStreamer, e.channel.ID)

	rec := e.request(t, http.MethodPost, "/api/v1/channels/"+e.channel.ID+"/queue/current/finish", streamer,
		map[string]string{"reason": "skipped_by_streamer"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("skip reason via finish status = %d, want 400", rec.Code)
	}
}

func TestWalletBalanceEndpoint(t *testing.T) {
	e := setupTestEnv(t)
	if _, err := e.wallets.Increment(e.db, e.sender.ID, e.channel.ID, 75); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}
	viewer := e.token(t, e.sender.ID, models.RoleViewer, e.channel.ID)

	rec := e.request(t, http.MethodGet, "/api/v1/channels/"+e.channel.ID+"/wallet", viewer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode wallet response: %v", err)
	}
	if body["balance"] != float64(75) {
		t.Errorf("balance = %v, want 75", body["balance"])
	}
}
