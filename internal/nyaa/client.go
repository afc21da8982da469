// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nyaa discovers anime releases on a nyaa-style index through two
// channels, the site RSS feed and scraped search result pages, and enriches
// candidates with data from scraped torrent detail pages.
package nyaa

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/buildinfo"
	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metadata"
)

// animeCategory is the nyaa category for english-translated anime.
const animeCategory = "1_2"

// resolutionMarker must appear in a release title for it to be considered.
const resolutionMarker = "1080"

// StatusError represents a non-2xx response from the index. It preserves
// the status code so the fetcher can tell rate limiting apart from hard
// failures.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nyaa request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *StatusError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Detail holds the fields scraped from a torrent detail page.
type Detail struct {
	Title       string
	Date        string
	Seeders     int
	SeedersRaw  string
	Leechers    int
	LeechersRaw string
	Information string
	FileSize    string
	Magnet      string
	Description string
	Codec       domain.CodecTag
	FileList    []domain.FileEntry
}

// Client fetches and parses pages of one nyaa-style index.
type Client struct {
	baseURL    string
	httpClient *http.Client
	parser     *gofeed.Parser
	log        zerolog.Logger
}

// NewClient creates a client for the index at baseURL.
func NewClient(baseURL string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	httpClient := &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}

	parser := gofeed.NewParser()
	parser.Client = httpClient
	parser.UserAgent = buildinfo.UserAgent

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		parser:     parser,
		log:        log.With().Str("component", "nyaa").Logger(),
	}
}

// itemExtension reads a single nyaa namespace extension value from a feed
// item, e.g. the category id or seeder count.
func itemExtension(item *gofeed.Item, name string) string {
	ext, ok := item.Extensions["nyaa"]
	if !ok {
		return ""
	}
	values := ext[name]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}

// FeedReleases reads the global RSS feed and returns the anime releases
// matching the query tokens. Only items in the anime category that carry
// the 1080 marker are considered.
func (c *Client) FeedReleases(ctx context.Context, query []string) ([]domain.CandidateRelease, error) {
	feed, err := c.parser.ParseURLWithContext(c.baseURL+"/?page=rss", ctx)
	if err != nil {
		return nil, errors.Wrap(err, "parse rss feed")
	}

	var releases []domain.CandidateRelease
	for _, item := range feed.Items {
		if itemExtension(item, "categoryId") != animeCategory {
			continue
		}
		lower := strings.ToLower(item.Title)
		if !strings.Contains(lower, resolutionMarker) {
			continue
		}
		if !metadata.TokensMatch(query, item.Title) {
			continue
		}

		season, episode := metadata.ExtractSeasonEpisode(item.Title)

		rel := domain.CandidateRelease{
			ID:          lastPathSegment(item.GUID),
			Title:       item.Title,
			URL:         item.GUID,
			Season:      season,
			Episode:     episode,
			Codec:       metadata.DetectCodec(item.Title),
			Resolution:  metadata.Resolution(item.Title),
			FileSize:    itemExtension(item, "size"),
			SeedersRaw:  itemExtension(item, "seeders"),
			LeechersRaw: itemExtension(item, "leechers"),
			Source:      domain.SourceFeed,
		}
		if v, err := strconv.Atoi(rel.SeedersRaw); err == nil {
			rel.Seeders = v
		}
		if v, err := strconv.Atoi(rel.LeechersRaw); err == nil {
			rel.Leechers = v
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

// SearchReleases scrapes the search result listing for the query. Rows with
// fewer than eight columns (ads, separators) are skipped, as are releases
// without the 1080 marker. Results are not filtered by episode; the caller
// decides which episodes it cares about.
func (c *Client) SearchReleases(ctx context.Context, query string) ([]domain.CandidateRelease, error) {
	endpoint := c.baseURL + "/?f=0&c=" + animeCategory + "&q=" + url.QueryEscape(query)
	doc, err := c.getDocument(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var releases []domain.CandidateRelease
	doc.Find("table.table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 8 {
			return
		}

		titleLink := row.Find("td:nth-child(2) a").First()
		title := strings.TrimSpace(titleLink.Text())
		if title == "" {
			return
		}
		if !strings.Contains(strings.ToLower(title), resolutionMarker) {
			return
		}

		torrentLink, _ := titleLink.Attr("href")
		season, episode := metadata.ExtractSeasonEpisode(title)

		rel := domain.CandidateRelease{
			ID:         lastPathSegment(torrentLink),
			Title:      title,
			Season:     season,
			Episode:    episode,
			Codec:      metadata.DetectCodec(title),
			Resolution: metadata.Resolution(title),
			FileSize:   strings.TrimSpace(row.Find("td:nth-child(4)").Text()),
			Date:       strings.TrimSpace(row.Find("td:nth-child(5)").Text()),
			Seeders:    atoiOrZero(row.Find("td:nth-child(6)").Text()),
			Leechers:   atoiOrZero(row.Find("td:nth-child(7)").Text()),
			Completed:  atoiOrZero(row.Find("td:nth-child(8)").Text()),
			Source:     domain.SourceScrape,
		}
		if torrentLink != "" {
			rel.URL = c.baseURL + torrentLink
		}
		if magnet, ok := row.Find(`td:nth-child(3) a[href^="magnet:"]`).Attr("href"); ok {
			rel.Magnet = magnet
		}
		releases = append(releases, rel)
	})
	return releases, nil
}

// ScrapeDetail fetches a torrent detail page and extracts the metadata the
// listing does not carry, most importantly the magnet link, the description
// used for codec detection and the contained file list.
func (c *Client) ScrapeDetail(ctx context.Context, pageURL string) (*Detail, error) {
	doc, err := c.getDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	detail := &Detail{}

	panel := doc.Find("div.panel.panel-success").First()
	detail.Title = strings.TrimSpace(panel.Find("h3.panel-title").First().Text())

	panel.Find(".panel-body .row").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find(`[class*="col-md"]`)
		nodes := cols.Nodes
		for i := 0; i+1 < len(nodes); i += 2 {
			label := strings.TrimSpace(cols.Eq(i).Text())
			value := cols.Eq(i + 1)
			switch label {
			case "Date:":
				detail.Date = strings.TrimSpace(value.Text())
			case "Seeders:":
				detail.SeedersRaw = strings.TrimSpace(value.Text())
			case "Leechers:":
				detail.LeechersRaw = strings.TrimSpace(value.Text())
			case "File size:":
				detail.FileSize = strings.TrimSpace(value.Text())
			case "Information:":
				if href, ok := value.Find("a").First().Attr("href"); ok {
					detail.Information = href
				} else {
					detail.Information = strings.TrimSpace(value.Text())
				}
			}
		}
	})

	detail.Seeders = atoiOrZero(detail.SeedersRaw)
	detail.Leechers = atoiOrZero(detail.LeechersRaw)

	if magnet, ok := doc.Find(`a[href^="magnet:"]`).First().Attr("href"); ok {
		detail.Magnet = magnet
	}
	detail.Description = strings.TrimSpace(doc.Find("#torrent-description").Text())
	detail.Codec = metadata.DetectCodec(detail.Description)

	doc.Find(".torrent-file-list ul li").Each(func(_ int, li *goquery.Selection) {
		size := strings.TrimSpace(li.Find("span.file-size").Text())
		size = strings.Trim(size, "()")
		name := strings.TrimSpace(li.Contents().Not("span").Text())
		if name == "" {
			return
		}
		detail.FileList = append(detail.FileList, domain.FileEntry{Name: name, Size: size})
	})

	return detail, nil
}

func (c *Client) getDocument(ctx context.Context, endpoint string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", endpoint)
	}
	return doc, nil
}

func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx != -1 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// atoiOrZero reads an integer out of text, discarding separators like
// thousands commas. Returns 0 when no digits are present.
func atoiOrZero(s string) int {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	v, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return v
}
