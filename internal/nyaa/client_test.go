// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nyaa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metadata"
)

const feedFixture = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:nyaa="https://nyaa.si/xmlns/nyaa">
  <channel>
    <title>Nyaa - Home</title>
    <item>
      <title>[GroupX] Sample Anime - 05 [1080p][HEVC]</title>
      <guid isPermaLink="true">https://nyaa.si/view/2073640</guid>
      <nyaa:categoryId>1_2</nyaa:categoryId>
      <nyaa:seeders>12</nyaa:seeders>
      <nyaa:leechers>3</nyaa:leechers>
      <nyaa:size>1.4 GiB</nyaa:size>
    </item>
    <item>
      <title>[GroupX] Sample Anime - 05 [720p]</title>
      <guid isPermaLink="true">https://nyaa.si/view/2073641</guid>
      <nyaa:categoryId>1_2</nyaa:categoryId>
    </item>
    <item>
      <title>[GroupX] Sample Anime OST [1080p]</title>
      <guid isPermaLink="true">https://nyaa.si/view/2073642</guid>
      <nyaa:categoryId>2_2</nyaa:categoryId>
    </item>
    <item>
      <title>[GroupY] Unrelated Show - 05 [1080p]</title>
      <guid isPermaLink="true">https://nyaa.si/view/2073643</guid>
      <nyaa:categoryId>1_2</nyaa:categoryId>
    </item>
  </channel>
</rss>`

const searchFixture = `<!DOCTYPE html>
<html><body>
<table class="table">
<tbody>
<tr class="default">
  <td><a href="/?c=1_2"><img alt="icon"></a></td>
  <td colspan="2"><a href="/view/2073640" title="[GroupX] Sample Anime - 05 [1080p]">[GroupX] Sample Anime - 05 [1080p]</a></td>
  <td class="text-center">
    <a href="/download/2073640.torrent"><i class="fa"></i></a>
    <a href="magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"><i class="fa"></i></a>
  </td>
  <td class="text-center">1.4 GiB</td>
  <td class="text-center">2026-08-29 13:37</td>
  <td class="text-center">41</td>
  <td class="text-center">2</td>
  <td class="text-center">105</td>
</tr>
<tr class="default">
  <td><a href="/?c=1_2"><img alt="icon"></a></td>
  <td colspan="2"><a href="/view/2073650" title="[GroupX] Sample Anime - 05 [480p]">[GroupX] Sample Anime - 05 [480p]</a></td>
  <td class="text-center"><a href="/download/2073650.torrent"><i class="fa"></i></a></td>
  <td class="text-center">300 MiB</td>
  <td class="text-center">2026-08-29 13:40</td>
  <td class="text-center">5</td>
  <td class="text-center">1</td>
  <td class="text-center">9</td>
</tr>
<tr class="default">
  <td colspan="8">no results banner</td>
</tr>
</tbody>
</table>
</body></html>`

const detailFixture = `<!DOCTYPE html>
<html><body>
<div class="panel panel-success">
  <div class="panel-heading"><h3 class="panel-title">[GroupX] Sample Anime - 05 [1080p]</h3></div>
  <div class="panel-body">
    <div class="row">
      <div class="col-md-1">Category:</div>
      <div class="col-md-5">Anime - English-translated</div>
      <div class="col-md-1">Date:</div>
      <div class="col-md-5">2026-08-29 13:37 UTC</div>
    </div>
    <div class="row">
      <div class="col-md-1">Submitter:</div>
      <div class="col-md-5">someone</div>
      <div class="col-md-1">Seeders:</div>
      <div class="col-md-5"><span style="color: green;">41</span></div>
    </div>
    <div class="row">
      <div class="col-md-1">Information:</div>
      <div class="col-md-5"><a href="https://example.org/groupx">https://example.org/groupx</a></div>
      <div class="col-md-1">Leechers:</div>
      <div class="col-md-5"><span style="color: red;">2</span></div>
    </div>
    <div class="row">
      <div class="col-md-1">File size:</div>
      <div class="col-md-5">1.4 GiB</div>
    </div>
  </div>
  <div class="panel-footer">
    <a href="/download/2073640.torrent">Download</a>
    <a href="magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa">Magnet</a>
  </div>
</div>
<div id="torrent-description">Encoded with x265 10bit from the WEB source.</div>
<div class="torrent-file-list panel panel-default">
  <ul>
    <li><i class="fa"></i> Sample Anime - 05.mkv <span class="file-size">(1.4 GiB)</span></li>
  </ul>
</div>
</body></html>`

func TestFeedReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "rss", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	query := metadata.NormalizeTokens("Sample Anime")

	releases, err := client.FeedReleases(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, releases, 1)

	rel := releases[0]
	assert.Equal(t, "2073640", rel.ID)
	assert.Equal(t, "https://nyaa.si/view/2073640", rel.URL)
	assert.Equal(t, domain.CodecHEVC, rel.Codec)
	assert.Equal(t, domain.SourceFeed, rel.Source)
	assert.Equal(t, 12, rel.Seeders)
	assert.Equal(t, 3, rel.Leechers)
	assert.Equal(t, "1.4 GiB", rel.FileSize)
	require.NotNil(t, rel.Episode)
	assert.Equal(t, 5, *rel.Episode)
}

func TestSearchReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1_2", r.URL.Query().Get("c"))
		require.Equal(t, "Sample Anime", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	releases, err := client.SearchReleases(context.Background(), "Sample Anime")
	require.NoError(t, err)

	// The 480p row and the short banner row are dropped.
	require.Len(t, releases, 1)

	rel := releases[0]
	assert.Equal(t, "2073640", rel.ID)
	assert.Equal(t, server.URL+"/view/2073640", rel.URL)
	assert.Equal(t, "1.4 GiB", rel.FileSize)
	assert.Equal(t, 41, rel.Seeders)
	assert.Equal(t, 2, rel.Leechers)
	assert.Equal(t, 105, rel.Completed)
	assert.Contains(t, rel.Magnet, "magnet:?xt=urn:btih:")
	assert.Equal(t, domain.SourceScrape, rel.Source)
	require.NotNil(t, rel.Episode)
	assert.Equal(t, 5, *rel.Episode)
}

func TestScrapeDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(detailFixture))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	detail, err := client.ScrapeDetail(context.Background(), server.URL+"/view/2073640")
	require.NoError(t, err)

	assert.Equal(t, "[GroupX] Sample Anime - 05 [1080p]", detail.Title)
	assert.Equal(t, "2026-08-29 13:37 UTC", detail.Date)
	assert.Equal(t, 41, detail.Seeders)
	assert.Equal(t, 2, detail.Leechers)
	assert.Equal(t, "1.4 GiB", detail.FileSize)
	assert.Equal(t, "https://example.org/groupx", detail.Information)
	assert.Contains(t, detail.Magnet, "magnet:?xt=urn:btih:")
	assert.Equal(t, domain.CodecHEVC, detail.Codec)
	require.Len(t, detail.FileList, 1)
	assert.Equal(t, "Sample Anime - 05.mkv", detail.FileList[0].Name)
	assert.Equal(t, "1.4 GiB", detail.FileList[0].Size)
}

func TestScrapeDetailRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	_, err := client.ScrapeDetail(context.Background(), server.URL+"/view/1")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.IsRateLimited())
}
