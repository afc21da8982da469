// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metrics"
)

type fakeEpisodeSource struct {
	episodes []domain.TrackedEpisode
	err      error
}

func (f *fakeEpisodeSource) CalendarEpisodes(context.Context, bool, int) ([]domain.TrackedEpisode, error) {
	return f.episodes, f.err
}

type fakeReleaseSource struct {
	mu      sync.Mutex
	rss     []domain.CandidateRelease
	scraped []domain.CandidateRelease

	rssCalls    int
	scrapeCalls int
}

func (f *fakeReleaseSource) CheckRSSForEpisode(context.Context, string, int) []domain.CandidateRelease {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rssCalls++
	return append([]domain.CandidateRelease(nil), f.rss...)
}

func (f *fakeReleaseSource) ScrapeForEpisode(context.Context, string, int) []domain.CandidateRelease {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapeCalls++
	return append([]domain.CandidateRelease(nil), f.scraped...)
}

type fakeSink struct {
	mu       sync.Mutex
	received []domain.CandidateRelease
	cleared  int
}

func (f *fakeSink) ProcessAll(_ context.Context, _ domain.TrackedEpisode, rels []domain.CandidateRelease) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, rels...)
	return len(rels)
}

func (f *fakeSink) ClearHistory() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return 0
}

func testConfig() Config {
	return Config{
		RSSInterval:      30 * time.Minute,
		FinalCheckCron:   "0 22 * * *",
		DailyCleanupCron: "0 5 * * *",
	}
}

func episode(aid, num int) domain.TrackedEpisode {
	return domain.TrackedEpisode{AniDBAnimeID: aid, AnimeTitle: "Sample Anime", EpisodeNumber: num}
}

func TestScheduleEpisodeJobsReplacesExisting(t *testing.T) {
	m := NewMonitor(&fakeEpisodeSource{}, &fakeReleaseSource{}, &fakeSink{}, metrics.NewManager(), testConfig())

	ep := episode(18290, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.ScheduleEpisodeJobs(ep))
	}

	// One RSS timer and one final-check timer, never stacked.
	assert.Len(t, m.cron.Entries(), 2)
	assert.Equal(t, []string{"18290-5"}, m.ScheduledEpisodes())
}

func TestScheduleEpisodeJobsDistinctEpisodes(t *testing.T) {
	m := NewMonitor(&fakeEpisodeSource{}, &fakeReleaseSource{}, &fakeSink{}, metrics.NewManager(), testConfig())

	require.NoError(t, m.ScheduleEpisodeJobs(episode(18290, 5)))
	require.NoError(t, m.ScheduleEpisodeJobs(episode(18290, 6)))
	require.NoError(t, m.ScheduleEpisodeJobs(episode(777, 1)))

	assert.Len(t, m.cron.Entries(), 6)
	assert.Equal(t, []string{"18290-5", "18290-6", "777-1"}, m.ScheduledEpisodes())
}

func TestCleanupAllEpisodeJobs(t *testing.T) {
	m := NewMonitor(&fakeEpisodeSource{}, &fakeReleaseSource{}, &fakeSink{}, metrics.NewManager(), testConfig())

	require.NoError(t, m.ScheduleEpisodeJobs(episode(18290, 5)))
	require.NoError(t, m.ScheduleEpisodeJobs(episode(777, 1)))

	episodes, cancelled := m.CleanupAllEpisodeJobs()
	assert.Equal(t, 2, episodes)
	assert.Equal(t, 4, cancelled)
	assert.Empty(t, m.ScheduledEpisodes())
	assert.Empty(t, m.cron.Entries())
}

func TestRunDailyCheck(t *testing.T) {
	source := &fakeEpisodeSource{episodes: []domain.TrackedEpisode{episode(18290, 5)}}
	fetcher := &fakeReleaseSource{
		rss:     []domain.CandidateRelease{{ID: "1", Title: "[GroupX] Sample Anime - 05 [1080p]", Source: domain.SourceFeed}},
		scraped: []domain.CandidateRelease{{ID: "2", Title: "[GroupY] Sample Anime - 05 [1080p]", Source: domain.SourceScrape}},
	}
	sink := &fakeSink{}
	m := NewMonitor(source, fetcher, sink, metrics.NewManager(), testConfig())

	m.RunDailyCheck(context.Background())

	assert.Equal(t, 1, fetcher.rssCalls)
	assert.Equal(t, 1, fetcher.scrapeCalls)

	require.Len(t, sink.received, 2)
	for _, rel := range sink.received {
		assert.Equal(t, domain.SourceInitial, rel.Source)
	}

	assert.Equal(t, []string{"18290-5"}, m.ScheduledEpisodes())
}

func TestRunDailyCheckEmptyCalendar(t *testing.T) {
	fetcher := &fakeReleaseSource{}
	m := NewMonitor(&fakeEpisodeSource{}, fetcher, &fakeSink{}, metrics.NewManager(), testConfig())

	m.RunDailyCheck(context.Background())

	assert.Zero(t, fetcher.rssCalls)
	assert.Empty(t, m.ScheduledEpisodes())
}

func TestDailyCleanupRestartsCheck(t *testing.T) {
	source := &fakeEpisodeSource{episodes: []domain.TrackedEpisode{episode(18290, 6)}}
	fetcher := &fakeReleaseSource{}
	sink := &fakeSink{}
	m := NewMonitor(source, fetcher, sink, metrics.NewManager(), testConfig())

	// Yesterday's state: one episode scheduled, history populated.
	require.NoError(t, m.ScheduleEpisodeJobs(episode(18290, 5)))

	m.dailyCleanup()

	// Old jobs removed, history cleared, today's episode scheduled.
	assert.Equal(t, 1, sink.cleared)
	assert.Equal(t, []string{"18290-6"}, m.ScheduledEpisodes())
	assert.Len(t, m.cron.Entries(), 2)
}
