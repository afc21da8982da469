// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/downloads"
)

// DownloadSubmitter accepts download requests. Satisfied by
// downloads.Service; nil when qBittorrent is not configured.
type DownloadSubmitter interface {
	Submit(ctx context.Context, req downloads.Request) error
}

// TokenProvider returns the currently expected download token, re-read per
// request so config hot reload takes effect without a restart.
type TokenProvider func() string

// DownloadHandler exposes the endpoints the notification action buttons
// post to. These are reachable from the public internet, hence the shared
// token gate.
type DownloadHandler struct {
	downloads DownloadSubmitter
	token     TokenProvider
}

func NewDownloadHandler(downloads DownloadSubmitter, token TokenProvider) *DownloadHandler {
	return &DownloadHandler{downloads: downloads, token: token}
}

func (h *DownloadHandler) Routes(r chi.Router) {
	r.Post("/download", h.Download)
	r.Post("/ignore", h.Ignore)
}

// downloadPayload is the action button body plus the optional body token
// fallback for clients that cannot set headers.
type downloadPayload struct {
	downloads.Request
	Token string `json:"token"`
}

// ignorePayload identifies the dismissed release.
type ignorePayload struct {
	ReleaseID string `json:"releaseId"`
	Title     string `json:"title"`
}

func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	// The configuration check comes before any look at the body; an
	// unconfigured server answers 503 regardless of what was posted.
	expected := h.token()
	if expected == "" {
		log.Warn().Msg("download token not configured, rejecting public download request")
		RespondError(w, http.StatusServiceUnavailable, "Server not configured for public downloads")
		return
	}

	var payload downloadPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token := r.Header.Get("X-Download-Token")
	if token == "" {
		token = payload.Token
	}
	if token != expected {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if payload.Magnet == "" || len(payload.FileList) == 0 || payload.EpisodeID == 0 {
		RespondError(w, http.StatusBadRequest, "Missing required fields: magnet, fileList, episodeId")
		return
	}

	if h.downloads == nil {
		RespondError(w, http.StatusBadGateway, "qBittorrent not configured")
		return
	}

	if err := h.downloads.Submit(r.Context(), payload.Request); err != nil {
		log.Error().Err(err).Str("title", payload.Title).Msg("failed to start download")
		RespondError(w, http.StatusBadGateway, "Failed to add magnet to qBittorrent")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Download started in qBittorrent"})
}

// Ignore acknowledges a dismissed release. The notification client clears
// the alert on any 200; nothing is tracked server side.
func (h *DownloadHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	var payload ignorePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
		log.Info().Str("releaseId", payload.ReleaseID).Str("title", payload.Title).Msg("ignoring release")
	}
	RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
