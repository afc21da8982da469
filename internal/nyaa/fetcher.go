// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nyaa

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metadata"
)

const (
	// enrichInitialDelay paces detail page scrapes between candidates.
	enrichInitialDelay = 200 * time.Millisecond
	// rateLimitStep is added to the wait after every 429 answer.
	rateLimitStep = 500 * time.Millisecond
)

// Fetcher combines the index client with rate-limit aware detail
// enrichment. Detail pages are scraped strictly sequentially; the index
// answers parallel scrapers with 429 storms.
type Fetcher struct {
	client *Client
	log    zerolog.Logger

	// test hooks
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher on top of an index client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{
		client: client,
		log:    log.With().Str("component", "nyaa-fetcher").Logger(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stripYear removes the current year from a query title. Library titles
// carry disambiguation years that never appear in release names.
func (f *Fetcher) stripYear(title string) string {
	year := strconv.Itoa(f.now().Year())
	return strings.TrimSpace(strings.ReplaceAll(title, year, ""))
}

// ScrapeWithRetry scrapes a detail page, waiting out rate limits. Every 429
// answer grows the wait by a fixed step; all other errors abort. The grown
// delay is returned so a batch caller can carry it into the next candidate.
// The wait respects context cancellation.
func (f *Fetcher) ScrapeWithRetry(ctx context.Context, pageURL string, delay time.Duration) (*Detail, time.Duration, error) {
	for {
		detail, err := f.client.ScrapeDetail(ctx, pageURL)
		if err == nil {
			return detail, delay, nil
		}

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.IsRateLimited() {
			return nil, delay, err
		}

		delay += rateLimitStep
		f.log.Warn().Str("url", pageURL).Dur("delay", delay).Msg("rate limited, backing off")
		if err := f.sleep(ctx, delay); err != nil {
			return nil, delay, err
		}
	}
}

// CheckRSSForEpisode reads the feed and returns the enriched releases for
// one episode of the given anime. Feed errors yield an empty result, not a
// failure; the next poll cycle will try again.
func (f *Fetcher) CheckRSSForEpisode(ctx context.Context, animeTitle string, episodeNumber int) []domain.CandidateRelease {
	query := metadata.NormalizeTokens(f.stripYear(animeTitle))

	all, err := f.client.FeedReleases(ctx, query)
	if err != nil {
		f.log.Error().Err(err).Str("anime", animeTitle).Msg("rss check failed")
		return nil
	}

	var matches []domain.CandidateRelease
	for _, rel := range all {
		if rel.Episode != nil && *rel.Episode == episodeNumber {
			matches = append(matches, rel)
		}
	}

	f.enrichAll(ctx, matches, mergeFeedDetail)
	return matches
}

// ScrapeForEpisode scrapes the search listing and returns the enriched
// releases for one episode. The whole result set is enriched before
// filtering because the listing alone often lacks codec information.
func (f *Fetcher) ScrapeForEpisode(ctx context.Context, animeTitle string, episodeNumber int) []domain.CandidateRelease {
	results, err := f.client.SearchReleases(ctx, f.stripYear(animeTitle))
	if err != nil {
		f.log.Error().Err(err).Str("anime", animeTitle).Msg("search scrape failed")
		return nil
	}

	f.enrichAll(ctx, results, mergeSearchDetail)

	var matches []domain.CandidateRelease
	for _, rel := range results {
		if rel.Episode != nil && *rel.Episode == episodeNumber {
			matches = append(matches, rel)
		}
	}
	return matches
}

// enrichAll scrapes the detail page of every release in place, pausing
// between candidates to stay under the index rate limit. The pause is one
// shared delay for the whole batch: once a candidate gets throttled, every
// later candidate inherits the grown delay. A failed scrape leaves that
// candidate with listing data only.
func (f *Fetcher) enrichAll(ctx context.Context, releases []domain.CandidateRelease, merge func(*domain.CandidateRelease, *Detail)) {
	delay := enrichInitialDelay
	for i := range releases {
		if releases[i].URL == "" {
			continue
		}

		detail, grown, err := f.ScrapeWithRetry(ctx, releases[i].URL, delay)
		delay = grown
		if err != nil {
			f.log.Warn().Err(err).Str("title", releases[i].Title).Msg("detail scrape failed")
		} else {
			merge(&releases[i], detail)
		}

		if i < len(releases)-1 {
			if err := f.sleep(ctx, delay); err != nil {
				return
			}
		}
	}
}

// mergeFeedDetail overlays scraped detail onto a feed candidate. Identity
// fields from the feed item stay authoritative; the description based codec
// replaces the title based guess.
func mergeFeedDetail(rel *domain.CandidateRelease, detail *Detail) {
	rel.Date = detail.Date
	rel.Seeders = detail.Seeders
	rel.SeedersRaw = detail.SeedersRaw
	rel.Leechers = detail.Leechers
	rel.LeechersRaw = detail.LeechersRaw
	rel.FileSize = detail.FileSize
	rel.Magnet = detail.Magnet
	rel.Description = detail.Description
	rel.FileList = detail.FileList
	if detail.Codec != domain.CodecUnknown {
		rel.Codec = detail.Codec
	}
}

// mergeSearchDetail fills the gaps of a search listing candidate. The
// listing already carries size, date and peer counts; only the codec (when
// still unknown) and the file list come from the detail page.
func mergeSearchDetail(rel *domain.CandidateRelease, detail *Detail) {
	if rel.Codec == domain.CodecUnknown && detail.Codec != domain.CodecUnknown {
		rel.Codec = detail.Codec
	}
	if len(detail.FileList) > 0 {
		rel.FileList = detail.FileList
	}
	if rel.Magnet == "" {
		rel.Magnet = detail.Magnet
	}
	if rel.Description == "" {
		rel.Description = detail.Description
	}
}
