// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metadata"
	"github.com/nyaanotify/nyaanotify/internal/metrics"
)

// Notifier delivers release alerts. Satisfied by notify.Client.
type Notifier interface {
	SendRelease(ctx context.Context, ep domain.TrackedEpisode, rel domain.CandidateRelease, groupName string) error
}

// Processor reconciles discovered candidates against the notification
// history and dispatches alerts for the new ones. It is safe for use from
// concurrent poll cycles.
type Processor struct {
	history  *History
	notifier Notifier
	metrics  *metrics.Manager
	log      zerolog.Logger

	mu            sync.RWMutex
	ignoredGroups []string
}

// NewProcessor creates a processor.
func NewProcessor(history *History, notifier Notifier, ignoredGroups []string, m *metrics.Manager) *Processor {
	return &Processor{
		history:       history,
		notifier:      notifier,
		metrics:       m,
		log:           log.With().Str("component", "releases").Logger(),
		ignoredGroups: ignoredGroups,
	}
}

// SetIgnoredGroups replaces the ignore list, used on config reload.
func (p *Processor) SetIgnoredGroups(groups []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignoredGroups = groups
}

// isIgnored matches the bracketed group marker of ignored release groups.
func (p *Processor) isIgnored(title string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, group := range p.ignoredGroups {
		if strings.Contains(title, "["+group+"]") {
			return true
		}
	}
	return false
}

// Process handles one discovered candidate for one tracked episode and
// reports whether the candidate was accepted. A candidate is dropped when
// its group is ignored or the pair was already notified. A failed delivery
// still counts as accepted and consumes the dedup key; the release was
// seen, re-alerting on the next cycle would double up once delivery
// recovers.
func (p *Processor) Process(ctx context.Context, ep domain.TrackedEpisode, rel domain.CandidateRelease) bool {
	source := string(rel.Source)

	if p.isIgnored(rel.Title) {
		p.log.Debug().Str("title", rel.Title).Msg("ignoring release from blocked group")
		p.metrics.ReleasesProcessed.WithLabelValues(source, "ignored").Inc()
		return false
	}

	key := domain.NotificationKey(ep, rel)
	if !p.history.MarkNotified(key) {
		p.log.Debug().Str("title", rel.Title).Str("key", key).Msg("already notified")
		p.metrics.ReleasesProcessed.WithLabelValues(source, "duplicate").Inc()
		return false
	}

	group := metadata.ExtractGroup(rel.Title)
	if group == "" {
		group = "Unknown"
	}

	p.log.Info().Str("title", rel.Title).Str("source", source).Str("group", group).Msg("notifying")
	if err := p.notifier.SendRelease(ctx, ep, rel, group); err != nil {
		p.log.Error().Err(err).Str("title", rel.Title).Msg("notification failed")
		p.metrics.NotificationErrors.Inc()
		return true
	}

	p.metrics.ReleasesProcessed.WithLabelValues(source, "notified").Inc()
	return true
}

// ProcessAll runs Process over a batch and returns how many notifications
// went out.
func (p *Processor) ProcessAll(ctx context.Context, ep domain.TrackedEpisode, rels []domain.CandidateRelease) int {
	notified := 0
	for _, rel := range rels {
		if p.Process(ctx, ep, rel) {
			notified++
		}
	}
	return notified
}

// ClearHistory wipes the dedup history, called by the daily cleanup.
func (p *Processor) ClearHistory() int {
	cleared := p.history.Clear()
	if cleared > 0 {
		p.log.Info().Int("cleared", cleared).Msg("cleared notification history")
	}
	return cleared
}
