// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package shoko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarEpisodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/Dashboard/CalendarEpisodes", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("apikey"))
		require.Equal(t, "2026-08-29", r.URL.Query().Get("startDate"))
		require.Equal(t, "2026-08-30", r.URL.Query().Get("endDate"))
		require.Equal(t, "False", r.URL.Query().Get("includeMissing"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"IDs":{"ID":290551,"Series":18290,"ShokoEpisode":4412,"ShokoSeries":101},
			 "SeriesTitle":"Sample Anime","Title":"The Beginning","Number":5,"AirDate":"2026-08-29"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5)
	client.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	}

	episodes, err := client.CalendarEpisodes(context.Background(), false, 1)
	require.NoError(t, err)
	require.Len(t, episodes, 1)

	ep := episodes[0]
	assert.Equal(t, 18290, ep.AniDBAnimeID)
	assert.Equal(t, 290551, ep.AniDBEpisodeID)
	assert.Equal(t, 4412, ep.ShokoEpisodeID)
	assert.Equal(t, 101, ep.ShokoSeriesID)
	assert.Equal(t, "Sample Anime", ep.AnimeTitle)
	assert.Equal(t, "The Beginning", ep.EpisodeTitle)
	assert.Equal(t, 5, ep.EpisodeNumber)
	assert.Equal(t, "18290-5", ep.Key())
}

func TestSeriesByAniDBID(t *testing.T) {
	t.Run("direct hit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v3/Series/AniDB/18290", r.URL.Path)
			_, _ = w.Write([]byte(`{"ID":101,"IDs":{"ID":101,"AniDB":18290},"Name":"Sample Anime"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		series, err := client.SeriesByAniDBID(context.Background(), 18290)
		require.NoError(t, err)
		require.NotNil(t, series)
		assert.Equal(t, 101, series.ShokoID())
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		series, err := client.SeriesByAniDBID(context.Background(), 99999)
		require.NoError(t, err)
		assert.Nil(t, series)
	})

	t.Run("list fallback when direct response has no id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v3/Series/AniDB/18290":
				_, _ = w.Write([]byte(`{"Name":"Sample Anime"}`))
			case "/api/v3/Series":
				require.Equal(t, "5000", r.URL.Query().Get("pageSize"))
				_, _ = w.Write([]byte(`{"Total":2,"List":[
					{"ID":50,"IDs":{"ID":50,"AniDB":111},"Name":"Other"},
					{"ID":101,"IDs":{"ID":101,"AniDB":18290},"Name":"Sample Anime"}
				]}`))
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		series, err := client.SeriesByAniDBID(context.Background(), 18290)
		require.NoError(t, err)
		require.NotNil(t, series)
		assert.Equal(t, 101, series.ShokoID())
		assert.Equal(t, "Sample Anime", series.Name)
	})
}

func TestHasEpisode(t *testing.T) {
	t.Run("direct anidb episode lookup", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v3/Episode/AniDB/290551/Episode", r.URL.Path)
			_, _ = w.Write([]byte(`{"ID":4412,"Name":"The Beginning"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		has, ep, err := client.HasEpisode(context.Background(), 18290, 5, 290551)
		require.NoError(t, err)
		assert.True(t, has)
		require.NotNil(t, ep)
		assert.Equal(t, 4412, ep.ID)
	})

	t.Run("falls back to episode number scan", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v3/Episode/AniDB/290551/Episode":
				http.Error(w, "not found", http.StatusNotFound)
			case "/api/v3/Series/AniDB/18290":
				_, _ = w.Write([]byte(`{"ID":101,"IDs":{"ID":101,"AniDB":18290}}`))
			case "/api/v3/Series/101/Episode":
				_, _ = w.Write([]byte(`[
					{"ID":4410,"AniDB":{"ID":290549,"EpisodeNumber":4}},
					{"ID":4412,"AniDB":{"ID":290551,"EpisodeNumber":5}}
				]`))
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		has, ep, err := client.HasEpisode(context.Background(), 18290, 5, 290551)
		require.NoError(t, err)
		assert.True(t, has)
		require.NotNil(t, ep)
		assert.Equal(t, 4412, ep.ID)
	})

	t.Run("series not in library", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		has, ep, err := client.HasEpisode(context.Background(), 18290, 5, 0)
		require.NoError(t, err)
		assert.False(t, has)
		assert.Nil(t, ep)
	})
}

func TestSearchFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/File/Search/Sample Anime - 05.mkv", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("pageSize"))
		require.Equal(t, "true", r.URL.Query().Get("fuzzy"))
		_, _ = w.Write([]byte(`{"Total":1,"List":[
			{"ID":777,"Name":"Sample Anime - 05.mkv","Locations":[{"ImportFolderID":2,"RelativePath":"staging/Sample Anime - 05.mkv"}]}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5)
	result, err := client.SearchFiles(context.Background(), "Sample Anime - 05.mkv")
	require.NoError(t, err)

	file := result.First()
	require.NotNil(t, file)
	assert.Equal(t, 777, file.ID)
	require.NotNil(t, file.Location())
	assert.Equal(t, ImportFolderStaging, file.Location().ImportFolderID)
}

func TestLinkFile(t *testing.T) {
	t.Run("empty body means success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/v3/File/777/Link", r.URL.Path)
			require.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		assert.NoError(t, client.LinkFile(context.Background(), 777, 4412))
	})

	t.Run("payload means rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`["file already linked"]`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		assert.Error(t, client.LinkFile(context.Background(), 777, 4412))
	})

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, "", 5)
		err := client.LinkFile(context.Background(), 777, 4412)
		require.Error(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	})
}
