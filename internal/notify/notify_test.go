// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyaanotify/nyaanotify/internal/domain"
)

func sampleEpisode() domain.TrackedEpisode {
	return domain.TrackedEpisode{
		AniDBAnimeID:   18290,
		ShokoEpisodeID: 4412,
		AnimeTitle:     "Sample Anime",
		EpisodeNumber:  5,
	}
}

func sampleRelease() domain.CandidateRelease {
	return domain.CandidateRelease{
		ID:       "2073640",
		Title:    "[GroupX] Sample Anime - 05 [1080p][HEVC]",
		URL:      "https://nyaa.si/view/2073640",
		Codec:    domain.CodecHEVC,
		FileSize: "1.4 GiB",
		Seeders:  41,
		Magnet:   "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		FileList: []domain.FileEntry{{Name: "Sample Anime - 05.mkv", Size: "1.4 GiB"}},
	}
}

func TestSendRelease(t *testing.T) {
	type captured struct {
		body    string
		headers http.Header
	}
	var got captured

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{body: string(body), headers: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "Bearer tk_secret", "https://tracker.example.org", func() string { return "download-secret" }, 5)
	err := client.SendRelease(context.Background(), sampleEpisode(), sampleRelease(), "GroupX")
	require.NoError(t, err)

	assert.Equal(t, "[GroupX] Sample Anime - 05 [1080p][HEVC]", got.headers.Get("Title"))
	assert.Equal(t, "video,anime", got.headers.Get("Tags"))
	assert.Equal(t, "https://nyaa.si/view/2073640", got.headers.Get("Click"))
	assert.Equal(t, "Bearer tk_secret", got.headers.Get("Authorization"))
	assert.Contains(t, got.body, "Group: GroupX")
	assert.Contains(t, got.body, "Codec: HEVC")
	assert.Contains(t, got.body, "Seeders: 41")

	var actions []action
	require.NoError(t, json.Unmarshal([]byte(got.headers.Get("Actions")), &actions))
	require.Len(t, actions, 2)

	download := actions[0]
	assert.Equal(t, "Download", download.Label)
	assert.Equal(t, "https://tracker.example.org/download", download.URL)
	assert.Equal(t, http.MethodPost, download.Method)
	assert.Equal(t, "download-secret", download.Headers["X-Download-Token"])
	assert.True(t, download.Clear)

	var req downloadRequest
	require.NoError(t, json.Unmarshal([]byte(download.Body), &req))
	assert.Equal(t, 4412, req.EpisodeID)
	require.Len(t, req.FileList, 1)
	assert.Equal(t, "Sample Anime - 05.mkv", req.FileList[0].Name)

	ignore := actions[1]
	assert.Equal(t, "Ignore", ignore.Label)
	assert.Equal(t, "https://tracker.example.org/ignore", ignore.URL)

	var ign ignoreRequest
	require.NoError(t, json.Unmarshal([]byte(ignore.Body), &ign))
	assert.Equal(t, "2073640", ign.ReleaseID)
}

func TestSendReleaseWithoutMagnetSkipsDownloadButton(t *testing.T) {
	var actionsHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actionsHeader = r.Header.Get("Actions")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rel := sampleRelease()
	rel.Magnet = ""

	client := NewClient(server.URL, "", "https://tracker.example.org", func() string { return "tok" }, 5)
	require.NoError(t, client.SendRelease(context.Background(), sampleEpisode(), rel, "GroupX"))

	var actions []action
	require.NoError(t, json.Unmarshal([]byte(actionsHeader), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "Ignore", actions[0].Label)
}

func TestSendReleaseReadsTokenPerNotification(t *testing.T) {
	var headers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actions []action
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Actions")), &actions))
		headers = append(headers, actions[0].Headers["X-Download-Token"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	token := "before-reload"
	client := NewClient(server.URL, "", "https://tracker.example.org", func() string { return token }, 5)

	require.NoError(t, client.SendRelease(context.Background(), sampleEpisode(), sampleRelease(), "GroupX"))
	token = "after-reload"
	require.NoError(t, client.SendRelease(context.Background(), sampleEpisode(), sampleRelease(), "GroupX"))

	assert.Equal(t, []string{"before-reload", "after-reload"}, headers)
}

func TestSendReleaseWithoutTopicIsNoop(t *testing.T) {
	client := NewClient("", "", "", nil, 5)
	assert.NoError(t, client.SendRelease(context.Background(), sampleEpisode(), sampleRelease(), "GroupX"))
}

func TestSendReleaseServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, 5)
	assert.Error(t, client.SendRelease(context.Background(), sampleEpisode(), sampleRelease(), "GroupX"))
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "clean title", sanitizeHeader("clean\r\n title\x00"))
	assert.Equal(t, "unchanged", sanitizeHeader("unchanged"))
}

func TestSendSimple(t *testing.T) {
	var title, click, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		click = r.Header.Get("Click")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, 5)
	err := client.SendSimple(context.Background(), "Download finished", "qBittorrent finished downloading.", "https://example.org")
	require.NoError(t, err)

	assert.Equal(t, "Download finished", title)
	assert.Equal(t, "https://example.org", click)
	assert.Equal(t, "qBittorrent finished downloading.", body)
}
