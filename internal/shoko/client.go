// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package shoko is a client for the Shoko Server v3 REST API covering the
// endpoints the tracker needs: the airing calendar, series and episode
// lookups, file search and manual file linking.
package shoko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/buildinfo"
	"github.com/nyaanotify/nyaanotify/internal/domain"
)

const seriesListPageSize = 5000

// StatusError represents a non-2xx response from Shoko. It preserves the
// status code so callers can distinguish missing resources from hard
// failures.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shoko request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsNotFound returns true if the resource does not exist (HTTP 404).
func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to one Shoko Server instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	// now is replaceable in tests so calendar windows are deterministic.
	now func() time.Time
}

// NewClient creates a Shoko client. An empty apiKey disables authentication.
func NewClient(baseURL, apiKey string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		log:        log.With().Str("component", "shoko").Logger(),
		now:        time.Now,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build shoko request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "shoko request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode shoko response from %s", endpoint)
	}
	return nil
}

// isoDate formats a time as the local calendar date Shoko expects.
func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// CalendarEpisodes returns the episodes scheduled to air within the window
// starting today and spanning numberOfDays. With includeMissing false only
// episodes of series already in the library are returned.
func (c *Client) CalendarEpisodes(ctx context.Context, includeMissing bool, numberOfDays int) ([]domain.TrackedEpisode, error) {
	if numberOfDays <= 0 {
		numberOfDays = 1
	}
	start := c.now()
	end := start.AddDate(0, 0, numberOfDays)

	missing := "False"
	if includeMissing {
		missing = "True"
	}

	query := url.Values{}
	query.Set("startDate", isoDate(start))
	query.Set("endDate", isoDate(end))
	query.Set("includeMissing", missing)

	var entries []CalendarEntry
	if err := c.get(ctx, "/api/v3/Dashboard/CalendarEpisodes", query, &entries); err != nil {
		return nil, errors.Wrap(err, "calendar episodes")
	}

	episodes := make([]domain.TrackedEpisode, 0, len(entries))
	for _, entry := range entries {
		episodes = append(episodes, domain.TrackedEpisode{
			AniDBAnimeID:   entry.IDs.Series,
			AniDBEpisodeID: entry.IDs.ID,
			ShokoEpisodeID: entry.IDs.ShokoEpisode,
			ShokoSeriesID:  entry.IDs.ShokoSeries,
			AnimeTitle:     entry.SeriesTitle,
			EpisodeTitle:   entry.Title,
			EpisodeNumber:  entry.Number,
			AirDate:        entry.AirDate,
		})
	}
	return episodes, nil
}

// SeriesByAniDBID resolves a series by its AniDB anime id. Returns (nil, nil)
// when the series is not in the library. When the direct endpoint answers
// without a usable internal id the full series list is scanned instead.
func (c *Client) SeriesByAniDBID(ctx context.Context, anidbID int) (*Series, error) {
	var series Series
	err := c.get(ctx, "/api/v3/Series/AniDB/"+strconv.Itoa(anidbID), nil, &series)
	if err == nil && series.ShokoID() != 0 {
		return &series, nil
	}
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsNotFound() {
			return nil, nil
		}
		c.log.Debug().Err(err).Int("anidbID", anidbID).Msg("direct series lookup failed, scanning series list")
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(seriesListPageSize))

	list, err := c.getSeriesList(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "series list fallback")
	}
	for i := range list {
		if list[i].IDs.AniDB == anidbID {
			return &list[i], nil
		}
	}
	return nil, nil
}

// getSeriesList tolerates both response shapes the endpoint is known to
// produce, a bare array and a paged {Total, List} envelope.
func (c *Client) getSeriesList(ctx context.Context, query url.Values) ([]Series, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/api/v3/Series", query, &raw); err != nil {
		return nil, err
	}

	var list []Series
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var page listPage[Series]
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, errors.Wrap(err, "decode series list")
	}
	return page.List, nil
}

// EpisodesForSeries lists the episodes of a series including their AniDB
// cross-references. A missing series yields an empty list, not an error.
func (c *Client) EpisodesForSeries(ctx context.Context, shokoSeriesID int) ([]Episode, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("pageSize", "500")
	query.Set("includeWatched", "True")
	query.Set("includeManuallyLinked", "True")
	query.Set("includeDataFrom", "AniDB")

	var raw json.RawMessage
	err := c.get(ctx, "/api/v3/Series/"+strconv.Itoa(shokoSeriesID)+"/Episode", query, &raw)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsNotFound() {
			return nil, nil
		}
		return nil, errors.Wrap(err, "series episodes")
	}

	var list []Episode
	if jsonErr := json.Unmarshal(raw, &list); jsonErr == nil {
		return list, nil
	}
	var page listPage[Episode]
	if jsonErr := json.Unmarshal(raw, &page); jsonErr != nil {
		return nil, errors.Wrap(jsonErr, "decode episode list")
	}
	return page.List, nil
}

// HasEpisode reports whether the library already holds the given episode.
// When the AniDB episode id is known the direct lookup is preferred; a 404
// there falls back to scanning the series episode list by number.
func (c *Client) HasEpisode(ctx context.Context, anidbAnimeID, episodeNumber, anidbEpisodeID int) (bool, *Episode, error) {
	if anidbEpisodeID > 0 {
		query := url.Values{}
		query.Set("includeFiles", "true")

		var ep Episode
		err := c.get(ctx, "/api/v3/Episode/AniDB/"+strconv.Itoa(anidbEpisodeID)+"/Episode", query, &ep)
		if err == nil {
			return true, &ep, nil
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.IsNotFound() {
			return false, nil, errors.Wrap(err, "episode by anidb id")
		}
	}

	series, err := c.SeriesByAniDBID(ctx, anidbAnimeID)
	if err != nil {
		return false, nil, err
	}
	if series == nil {
		return false, nil, nil
	}

	episodes, err := c.EpisodesForSeries(ctx, series.ShokoID())
	if err != nil {
		return false, nil, err
	}
	for i := range episodes {
		if episodes[i].AniDB != nil && episodes[i].AniDB.EpisodeNumber == episodeNumber {
			return true, &episodes[i], nil
		}
	}
	return false, nil, nil
}

// SearchFiles runs a fuzzy file search and returns the single best match
// page.
func (c *Client) SearchFiles(ctx context.Context, fileName string) (*FileSearchResult, error) {
	query := url.Values{}
	query.Set("pageSize", "1")
	query.Set("page", "1")
	query.Set("fuzzy", "true")

	var result FileSearchResult
	if err := c.get(ctx, "/api/v3/File/Search/"+url.PathEscape(fileName), query, &result); err != nil {
		return nil, errors.Wrapf(err, "file search %q", fileName)
	}
	return &result, nil
}

// LinkFile manually links a file to an episode. Shoko answers a successful
// link with an empty body; any payload is an error description.
func (c *Client) LinkFile(ctx context.Context, fileID, episodeID int) error {
	payload, err := json.Marshal(map[string][]int{"EpisodeIDs": {episodeID}})
	if err != nil {
		return errors.Wrap(err, "encode link payload")
	}

	endpoint := fmt.Sprintf("%s/api/v3/File/%d/Link", c.baseURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build link request")
	}
	req.Header.Set("Content-Type", "application/json-patch+json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "link request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.Wrap(err, "read link response")
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && trimmed != "[]" && trimmed != "{}" {
		c.log.Warn().Int("fileID", fileID).Int("episodeID", episodeID).Str("response", trimmed).Msg("link rejected")
		return errors.Errorf("link file %d to episode %d rejected: %s", fileID, episodeID, trimmed)
	}
	return nil
}
