/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/memequeue/internal/admission"
	"github.com/friendsincode/memequeue/internal/auth"
	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/queue"
	"github.com/friendsincode/memequeue/internal/wallet"
)

// API exposes HTTP handlers.
type API struct {
	db          *gorm.DB
	jwtSecret   []byte
	coordinator *queue.Coordinator
	admission   *admission.Service
	wallets     *wallet.Service
	bus         events.Broker
	logger      zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, coordinator *queue.Coordinator, admissionSvc *admission.Service, wallets *wallet.Service, bus events.Broker, logger zerolog.Logger) *API {
	return &API{
		db:          db,
		jwtSecret:   jwtSecret,
		coordinator: coordinator,
		admission:   admissionSvc,
		wallets:     wallets,
		bus:         bus,
		logger:      logger,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/channels/{channelID}", func(r chi.Router) {
				r.Get("/queue", a.handleQueueSnapshot)
				r.Post("/queue", a.handleEnqueue)
				r.Get("/wallet", a.handleWalletBalance)
				r.Get("/events", a.handleEvents)

				// Queue controls (streamer or mod of the channel)
				r.Group(func(cr chi.Router) {
					cr.Use(a.requireChannelControl())
					cr.Post("/queue/current/finish", a.handleFinishCurrent)
					cr.Post("/queue/current/skip", a.handleSkip)
					cr.Post("/queue/clear", a.handleClear)
					cr.Put("/queue/intake", a.handleSetIntakePaused)
					cr.Put("/queue/playback", a.handleSetPlaybackPaused)
					cr.Post("/queue/playback/resume", a.handleResumePlayback)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

// requireChannelControl restricts queue control endpoints to streamer or
// mod tokens issued for the channel in the URL.
func (a *API) requireChannelControl() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if claims.Role != models.RoleStreamer && claims.Role != models.RoleMod {
				writeError(w, http.StatusForbidden, "insufficient_role")
				return
			}
			if claims.ChannelID != chi.URLParam(r, "channelID") {
				writeError(w, http.StatusForbidden, "wrong_channel")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) initiator(r *http.Request) queue.Initiator {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		return queue.Initiator{}
	}
	return queue.Initiator{UserID: claims.UserID, Role: claims.Role}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
