/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/memequeue/internal/admission"
	"github.com/friendsincode/memequeue/internal/auth"
	"github.com/friendsincode/memequeue/internal/models"
	"github.com/friendsincode/memequeue/internal/queue"
)

type enqueueRequest struct {
	ChannelMemeID string `json:"channel_meme_id"`
}

type finishRequest struct {
	Reason string `json:"reason"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (a *API) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	snap, err := a.coordinator.GetSnapshot(r.Context(), channelID)
	if err != nil {
		a.logger.Error().Err(err).Str("channel_id", channelID).Msg("queue snapshot failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ChannelMemeID == "" {
		writeError(w, http.StatusBadRequest, "channel_meme_id_required")
		return
	}

	res, err := a.admission.Enqueue(r.Context(), admission.EnqueueRequest{
		ChannelID:     channelID,
		ChannelMemeID: req.ChannelMemeID,
		UserID:        claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, admission.ErrChannelNotFound):
			writeError(w, http.StatusNotFound, "channel_not_found")
		case errors.Is(err, admission.ErrMemeNotFound):
			writeError(w, http.StatusNotFound, "meme_not_found")
		case errors.Is(err, admission.ErrMemeNotEligible):
			writeError(w, http.StatusUnprocessableEntity, "meme_not_eligible")
		case errors.Is(err, admission.ErrIntakePaused):
			writeError(w, http.StatusConflict, "intake_paused")
		case errors.Is(err, admission.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient_funds")
		case errors.Is(err, queue.ErrConcurrentModification):
			writeError(w, http.StatusConflict, "concurrent_modification")
		default:
			a.logger.Error().Err(err).Str("channel_id", channelID).Msg("enqueue failed")
			writeError(w, http.StatusInternalServerError, "db_error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	claims, _ := auth.ClaimsFromContext(r.Context())

	balance, err := a.wallets.Balance(a.db.WithContext(r.Context()), claims.UserID, channelID)
	if err != nil {
		a.logger.Error().Err(err).Str("channel_id", channelID).Msg("wallet balance failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    claims.UserID,
		"channel_id": channelID,
		"balance":    balance,
	})
}

func (a *API) handleFinishCurrent(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	// Body is optional; an empty body means a natural finish.
	reason := models.EndReasonNatural
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		switch models.EndReason(req.Reason) {
		case models.EndReasonNatural, models.EndReasonError, models.EndReasonTimeout:
			reason = models.EndReason(req.Reason)
		default:
			writeError(w, http.StatusBadRequest, "invalid_reason")
			return
		}
	}

	initiator := a.initiator(r)
	res, err := a.coordinator.FinishCurrent(r.Context(), channelID, reason, &initiator)
	if err != nil {
		a.writeQueueError(w, channelID, "finish", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	res, err := a.coordinator.Skip(r.Context(), channelID, a.initiator(r))
	if err != nil {
		a.writeQueueError(w, channelID, "skip", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	res, err := a.coordinator.Clear(r.Context(), channelID, a.initiator(r))
	if err != nil {
		a.writeQueueError(w, channelID, "clear", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSetIntakePaused(w http.ResponseWriter, r *http.Request) {
	a.handleToggle(w, r, a.coordinator.SetIntakePaused)
}

func (a *API) handleSetPlaybackPaused(w http.ResponseWriter, r *http.Request) {
	a.handleToggle(w, r, a.coordinator.SetPlaybackPaused)
}

func (a *API) handleToggle(w http.ResponseWriter, r *http.Request, toggle func(ctx context.Context, channelID string, paused bool) (*queue.ToggleResult, error)) {
	channelID := chi.URLParam(r, "channelID")

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := toggle(r.Context(), channelID, req.Paused)
	if err != nil {
		a.writeQueueError(w, channelID, "toggle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResumePlayback(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	res, err := a.coordinator.ResumePlayback(r.Context(), channelID)
	if err != nil {
		a.writeQueueError(w, channelID, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) writeQueueError(w http.ResponseWriter, channelID, op string, err error) {
	if errors.Is(err, queue.ErrConcurrentModification) {
		writeError(w, http.StatusConflict, "concurrent_modification")
		return
	}
	a.logger.Error().Err(err).Str("channel_id", channelID).Str("op", op).Msg("queue operation failed")
	writeError(w, http.StatusInternalServerError, "db_error")
}
