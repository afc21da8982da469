// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler drives the recurring work of the tracker: the daily
// calendar check, the per-episode RSS and final scrape jobs and the 5 AM
// cleanup that resets the whole day.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metrics"
)

// EpisodeSource provides the episodes airing today. Satisfied by
// shoko.Client.
type EpisodeSource interface {
	CalendarEpisodes(ctx context.Context, includeMissing bool, numberOfDays int) ([]domain.TrackedEpisode, error)
}

// ReleaseSource discovers release candidates for an episode. Satisfied by
// nyaa.Fetcher.
type ReleaseSource interface {
	CheckRSSForEpisode(ctx context.Context, animeTitle string, episodeNumber int) []domain.CandidateRelease
	ScrapeForEpisode(ctx context.Context, animeTitle string, episodeNumber int) []domain.CandidateRelease
}

// ReleaseSink consumes discovered candidates. Satisfied by
// releases.Processor.
type ReleaseSink interface {
	ProcessAll(ctx context.Context, ep domain.TrackedEpisode, rels []domain.CandidateRelease) int
	ClearHistory() int
}

// Config holds the monitor's schedule knobs.
type Config struct {
	// RSSInterval is the period of the per-episode feed checks.
	RSSInterval time.Duration
	// FinalCheckCron fires the per-episode search scrape, normally once in
	// the evening after most groups have released.
	FinalCheckCron string
	// DailyCleanupCron fires the job teardown, history reset and fresh
	// calendar check.
	DailyCleanupCron string
}

type episodeJobs struct {
	episode domain.TrackedEpisode
	entries []cron.EntryID
}

// Monitor owns the single cron instance and the per-episode job registry.
type Monitor struct {
	cron     *cron.Cron
	episodes EpisodeSource
	fetcher  ReleaseSource
	sink     ReleaseSink
	metrics  *metrics.Manager
	cfg      Config
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]episodeJobs

	ctxMu sync.RWMutex
	ctx   context.Context
}

// NewMonitor creates a stopped monitor. Call Start to begin scheduling.
func NewMonitor(episodes EpisodeSource, fetcher ReleaseSource, sink ReleaseSink, m *metrics.Manager, cfg Config) *Monitor {
	logger := log.With().Str("component", "scheduler").Logger()

	return &Monitor{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
		)),
		episodes: episodes,
		fetcher:  fetcher,
		sink:     sink,
		metrics:  m,
		cfg:      cfg,
		log:      logger,
		jobs:     make(map[string]episodeJobs),
		ctx:      context.Background(),
	}
}

// cronLogger adapts zerolog to the cron logger interface so job panics end
// up in the structured log.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func (m *Monitor) baseCtx() context.Context {
	m.ctxMu.RLock()
	defer m.ctxMu.RUnlock()
	return m.ctx
}

// Start registers the daily cleanup job and starts the cron loop. The
// given context is inherited by every scheduled job.
func (m *Monitor) Start(ctx context.Context) error {
	m.ctxMu.Lock()
	m.ctx = ctx
	m.ctxMu.Unlock()

	if _, err := m.cron.AddFunc(m.cfg.DailyCleanupCron, m.dailyCleanup); err != nil {
		return fmt.Errorf("schedule daily cleanup %q: %w", m.cfg.DailyCleanupCron, err)
	}

	m.cron.Start()
	m.log.Info().
		Str("cleanup", m.cfg.DailyCleanupCron).
		Str("finalCheck", m.cfg.FinalCheckCron).
		Dur("rssInterval", m.cfg.RSSInterval).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.log.Info().Msg("scheduler stopped")
}

// RunDailyCheck fetches today's calendar, runs an initial discovery pass
// for each episode and (re)schedules its recurring jobs. Safe to call any
// time; it is the cleanup restart path and the startup path.
func (m *Monitor) RunDailyCheck(ctx context.Context) {
	m.log.Info().Msg("starting daily anime check")

	episodes, err := m.episodes.CalendarEpisodes(ctx, false, 1)
	if err != nil {
		m.log.Error().Err(err).Msg("calendar fetch failed")
		return
	}
	if len(episodes) == 0 {
		m.log.Info().Msg("no anime releases scheduled for today")
		return
	}

	for _, ep := range episodes {
		m.log.Info().Str("anime", ep.AnimeTitle).Int("episode", ep.EpisodeNumber).Msg("processing episode")

		m.initialCheck(ctx, ep)
		if err := m.ScheduleEpisodeJobs(ep); err != nil {
			m.log.Error().Err(err).Str("key", ep.Key()).Msg("scheduling failed")
		}
	}
	m.log.Info().Int("episodes", len(episodes)).Msg("daily check complete")
}

// initialCheck runs both discovery channels once, tagging the candidates
// as coming from the startup pass.
func (m *Monitor) initialCheck(ctx context.Context, ep domain.TrackedEpisode) {
	found := m.fetcher.CheckRSSForEpisode(ctx, ep.AnimeTitle, ep.EpisodeNumber)
	found = append(found, m.fetcher.ScrapeForEpisode(ctx, ep.AnimeTitle, ep.EpisodeNumber)...)
	for i := range found {
		found[i].Source = domain.SourceInitial
	}
	if notified := m.sink.ProcessAll(ctx, ep, found); notified > 0 {
		m.log.Info().Int("notified", notified).Str("key", ep.Key()).Msg("initial check notified")
	}
	m.metrics.PollCyclesTotal.WithLabelValues("initial").Inc()
}

// ScheduleEpisodeJobs installs the recurring RSS check and the evening
// final scrape for one episode. Scheduling the same episode again replaces
// its existing jobs instead of stacking a second timer pair.
func (m *Monitor) ScheduleEpisodeJobs(ep domain.TrackedEpisode) error {
	key := ep.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[key]; ok {
		for _, id := range existing.entries {
			m.cron.Remove(id)
		}
		m.log.Debug().Str("key", key).Msg("replaced existing episode jobs")
	}

	rssSpec := fmt.Sprintf("@every %s", m.cfg.RSSInterval)
	rssID, err := m.cron.AddFunc(rssSpec, func() { m.rssCheck(ep) })
	if err != nil {
		return fmt.Errorf("schedule rss check %q: %w", rssSpec, err)
	}

	finalID, err := m.cron.AddFunc(m.cfg.FinalCheckCron, func() { m.finalCheck(ep) })
	if err != nil {
		m.cron.Remove(rssID)
		return fmt.Errorf("schedule final check %q: %w", m.cfg.FinalCheckCron, err)
	}

	m.jobs[key] = episodeJobs{episode: ep, entries: []cron.EntryID{rssID, finalID}}
	m.metrics.ScheduledEpisodeJobs.Set(float64(len(m.jobs)))

	m.log.Info().Str("anime", ep.AnimeTitle).Int("episode", ep.EpisodeNumber).Msg("scheduled episode jobs")
	return nil
}

func (m *Monitor) rssCheck(ep domain.TrackedEpisode) {
	ctx := m.baseCtx()
	m.log.Debug().Str("key", ep.Key()).Msg("checking rss")

	found := m.fetcher.CheckRSSForEpisode(ctx, ep.AnimeTitle, ep.EpisodeNumber)
	m.sink.ProcessAll(ctx, ep, found)
	m.metrics.PollCyclesTotal.WithLabelValues("rss").Inc()
}

func (m *Monitor) finalCheck(ep domain.TrackedEpisode) {
	ctx := m.baseCtx()
	m.log.Debug().Str("key", ep.Key()).Msg("running final scrape check")

	found := m.fetcher.ScrapeForEpisode(ctx, ep.AnimeTitle, ep.EpisodeNumber)
	m.sink.ProcessAll(ctx, ep, found)
	m.metrics.PollCyclesTotal.WithLabelValues("scrape").Inc()
}

// ScheduledEpisodes returns the keys of all episodes with active jobs,
// sorted for stable output.
func (m *Monitor) ScheduledEpisodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.jobs))
	for key := range m.jobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CleanupAllEpisodeJobs removes every per-episode job and returns how many
// episodes and cron entries were dropped.
func (m *Monitor) CleanupAllEpisodeJobs() (episodes, cancelled int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, jobs := range m.jobs {
		for _, id := range jobs.entries {
			m.cron.Remove(id)
			cancelled++
		}
		delete(m.jobs, key)
		episodes++
	}
	m.metrics.ScheduledEpisodeJobs.Set(0)
	return episodes, cancelled
}

// dailyCleanup tears down yesterday's jobs, wipes the notification history
// and immediately starts a fresh calendar check.
func (m *Monitor) dailyCleanup() {
	m.log.Info().Msg("daily cleanup started")

	episodes, cancelled := m.CleanupAllEpisodeJobs()
	if episodes > 0 {
		m.log.Info().Int("episodes", episodes).Int("jobs", cancelled).Msg("removed scheduled jobs")
		m.sink.ClearHistory()
	} else {
		m.log.Info().Msg("no scheduled jobs to clean up")
	}

	m.RunDailyCheck(m.baseCtx())
}
