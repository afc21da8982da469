// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notify pushes release alerts to an ntfy topic. Release alerts
// carry action buttons that post back into this server's HTTP API, so a
// phone tap can kick off the download workflow.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/buildinfo"
	"github.com/nyaanotify/nyaanotify/internal/domain"
)

// action is one ntfy action button.
type action struct {
	Action  string            `json:"action"`
	Label   string            `json:"label"`
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Clear   bool              `json:"clear,omitempty"`
}

// downloadRequest is the payload the Download button posts back to the API.
type downloadRequest struct {
	Magnet    string             `json:"magnet"`
	Title     string             `json:"title"`
	EpisodeID int                `json:"episodeId"`
	FileList  []domain.FileEntry `json:"fileList"`
}

// ignoreRequest is the payload the Ignore button posts back to the API.
type ignoreRequest struct {
	ReleaseID string `json:"releaseId"`
	Title     string `json:"title"`
}

// TokenProvider returns the current download token. It is read per
// notification so a config reload reaches the Download buttons of later
// alerts.
type TokenProvider func() string

// Client sends notifications to one ntfy topic. A client with an empty
// topic URL is valid and drops every notification with a warning.
type Client struct {
	topicURL      string
	auth          string
	apiBaseURL    string
	downloadToken TokenProvider
	httpClient    *http.Client
	log           zerolog.Logger
}

// NewClient creates an ntfy client. apiBaseURL is the externally reachable
// address of this server's own API; when empty, notifications go out
// without action buttons.
func NewClient(topicURL, auth, apiBaseURL string, downloadToken TokenProvider, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	if downloadToken == nil {
		downloadToken = func() string { return "" }
	}
	return &Client{
		topicURL:      strings.TrimSpace(topicURL),
		auth:          auth,
		apiBaseURL:    strings.TrimRight(apiBaseURL, "/"),
		downloadToken: downloadToken,
		httpClient:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		log:           log.With().Str("component", "notify").Logger(),
	}
}

// SendRelease notifies about a discovered release with Download and Ignore
// action buttons. The Download button is only attached when the release
// carries a magnet link and a file list, without those the workflow cannot
// run.
func (c *Client) SendRelease(ctx context.Context, ep domain.TrackedEpisode, rel domain.CandidateRelease, groupName string) error {
	if c.topicURL == "" {
		c.log.Warn().Msg("ntfy url not configured, skipping notification")
		return nil
	}

	if groupName == "" {
		groupName = "Unknown"
	}
	size := rel.FileSize
	if size == "" {
		size = "Unknown"
	}

	var message strings.Builder
	fmt.Fprintf(&message, "Group: %s\n", groupName)
	fmt.Fprintf(&message, "Codec: %s\n", rel.Codec)
	fmt.Fprintf(&message, "Size: %s\n", size)
	fmt.Fprintf(&message, "Seeders: %d", rel.Seeders)
	if rel.Resolution != "" {
		fmt.Fprintf(&message, "\nResolution: %s", rel.Resolution)
	}

	click := rel.URL
	if click == "" {
		click = rel.Magnet
	}

	headers := map[string]string{
		"Title": rel.Title,
		"Tags":  "video,anime",
		"Click": click,
	}

	if c.apiBaseURL != "" {
		actions, err := c.buildActions(ep, rel)
		if err != nil {
			return err
		}
		headers["Actions"] = actions
	}

	if err := c.post(ctx, message.String(), headers); err != nil {
		return err
	}
	c.log.Info().Str("anime", ep.AnimeTitle).Int("episode", ep.EpisodeNumber).Str("release", rel.Title).Msg("notification sent")
	return nil
}

// SendSimple sends a plain notification without action buttons.
func (c *Client) SendSimple(ctx context.Context, title, message, clickURL string) error {
	if c.topicURL == "" {
		c.log.Warn().Msg("ntfy url not configured, skipping notification")
		return nil
	}

	headers := map[string]string{
		"Title": title,
		"Tags":  "video,anime",
	}
	if clickURL != "" {
		headers["Click"] = clickURL
	}
	return c.post(ctx, message, headers)
}

func (c *Client) buildActions(ep domain.TrackedEpisode, rel domain.CandidateRelease) (string, error) {
	var actions []action

	if rel.Magnet != "" && len(rel.FileList) > 0 {
		body, err := json.Marshal(downloadRequest{
			Magnet:    rel.Magnet,
			Title:     rel.Title,
			EpisodeID: ep.ShokoEpisodeID,
			FileList:  rel.FileList,
		})
		if err != nil {
			return "", errors.Wrap(err, "encode download action")
		}
		actions = append(actions, action{
			Action: "http",
			Label:  "Download",
			URL:    c.apiBaseURL + "/download",
			Method: http.MethodPost,
			Headers: map[string]string{
				"Content-Type":     "application/json",
				"X-Download-Token": c.downloadToken(),
			},
			Body:  string(body),
			Clear: true,
		})
	}

	body, err := json.Marshal(ignoreRequest{ReleaseID: rel.ID, Title: rel.Title})
	if err != nil {
		return "", errors.Wrap(err, "encode ignore action")
	}
	actions = append(actions, action{
		Action:  "http",
		Label:   "Ignore",
		URL:     c.apiBaseURL + "/ignore",
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
		Clear:   true,
	})

	encoded, err := json.Marshal(actions)
	if err != nil {
		return "", errors.Wrap(err, "encode actions")
	}
	return string(encoded), nil
}

func (c *Client) post(ctx context.Context, message string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL, strings.NewReader(message))
	if err != nil {
		return errors.Wrap(err, "build ntfy request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	for name, value := range headers {
		req.Header.Set(name, sanitizeHeader(value))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send ntfy notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

// sanitizeHeader strips control characters that would break or smuggle
// HTTP headers. Release titles are attacker-influenced input.
func sanitizeHeader(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
}
