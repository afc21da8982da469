// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for the tracker and serves
// them on a dedicated listener, kept separate from the public API so the
// scrape endpoint is never internet-facing.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Manager owns the registry and the tracker's collectors.
type Manager struct {
	registry *prometheus.Registry

	// ReleasesProcessed counts reconciliation outcomes by discovery source
	// and result (notified, duplicate, ignored).
	ReleasesProcessed *prometheus.CounterVec
	// NotificationErrors counts failed ntfy deliveries.
	NotificationErrors prometheus.Counter
	// ScheduledEpisodeJobs tracks how many episodes currently have
	// recurring check jobs.
	ScheduledEpisodeJobs prometheus.Gauge
	// DownloadWorkflows counts download workflow terminations by result.
	DownloadWorkflows *prometheus.CounterVec
	// PollCyclesTotal counts completed poll cycles by channel.
	PollCyclesTotal *prometheus.CounterVec
}

// NewManager creates a manager with all collectors registered on a fresh
// registry.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Manager{
		registry: registry,
		ReleasesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyaanotify_releases_processed_total",
			Help: "Release reconciliation outcomes by source and result",
		}, []string{"source", "result"}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyaanotify_notification_errors_total",
			Help: "Failed ntfy notification deliveries",
		}),
		ScheduledEpisodeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nyaanotify_scheduled_episode_jobs",
			Help: "Episodes currently monitored by recurring check jobs",
		}),
		DownloadWorkflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyaanotify_download_workflows_total",
			Help: "Download workflow terminations by result",
		}, []string{"result"}),
		PollCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyaanotify_poll_cycles_total",
			Help: "Completed release poll cycles by channel",
		}, []string{"channel"}),
	}

	registry.MustRegister(
		m.ReleasesProcessed,
		m.NotificationErrors,
		m.ScheduledEpisodeJobs,
		m.DownloadWorkflows,
		m.PollCyclesTotal,
	)
	return m
}

// Registry returns the underlying registry, exposed for tests.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Server serves the /metrics endpoint on its own address.
type Server struct {
	manager *Manager
	host    string
	port    int
}

// NewServer creates a metrics server bound to host:port.
func NewServer(manager *Manager, host string, port int) *Server {
	return &Server{manager: manager, host: host, port: port}
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *Server) ListenAndServe() error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.manager.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting metrics server")

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
