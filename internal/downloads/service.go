// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads runs the workflow behind the Download action button:
// hand the magnet to qBittorrent, wait for the transfer, then shepherd the
// file through library recognition and manual linking until it is imported.
package downloads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/metrics"
	"github.com/nyaanotify/nyaanotify/internal/qbittorrent"
	"github.com/nyaanotify/nyaanotify/internal/shoko"
)

// Library is the slice of the shoko client the workflow needs.
type Library interface {
	SearchFiles(ctx context.Context, fileName string) (*shoko.FileSearchResult, error)
	LinkFile(ctx context.Context, fileID, episodeID int) error
}

// TorrentClient is the slice of the qbittorrent client the workflow needs.
type TorrentClient interface {
	AddMagnet(ctx context.Context, magnet string) error
	WaitForCompletion(ctx context.Context, hash string, interval, maxWait time.Duration) (*qbt.Torrent, error)
}

// Notifier sends the plain progress notifications of the workflow.
type Notifier interface {
	SendSimple(ctx context.Context, title, message, clickURL string) error
}

// Request is one accepted download, as posted by the notification action
// button.
type Request struct {
	Magnet    string             `json:"magnet"`
	Title     string             `json:"title"`
	EpisodeID int                `json:"episodeId"`
	FileList  []domain.FileEntry `json:"fileList"`
}

// Config holds the polling cadence of the workflow. The zero value is not
// usable; call DefaultConfig.
type Config struct {
	// TransferPollInterval and TransferMaxWait bound the qBittorrent
	// completion wait.
	TransferPollInterval time.Duration
	TransferMaxWait      time.Duration
	// FilePollInterval paces the wait for the file to appear in the
	// library. This wait has no upper bound; only context cancellation
	// stops it.
	FilePollInterval time.Duration
	// RenamePollInterval and RenameMaxWait bound the wait for the library
	// to report the expected file name after a rename mismatch.
	RenamePollInterval time.Duration
	RenameMaxWait      time.Duration
	// ImportPollInterval and ImportFolderMaxWait bound the wait for the
	// file to leave the staging import folder on its own.
	ImportPollInterval  time.Duration
	ImportFolderMaxWait time.Duration
	// LinkRetryInterval paces the unbounded manual link retry loop.
	LinkRetryInterval time.Duration
	// ImportCompletionChecks caps the final poll for the imported state.
	ImportCompletionChecks int
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		TransferPollInterval:   15 * time.Second,
		TransferMaxWait:        6 * time.Hour,
		FilePollInterval:       30 * time.Second,
		RenamePollInterval:     30 * time.Second,
		RenameMaxWait:          5 * time.Minute,
		ImportPollInterval:     60 * time.Second,
		ImportFolderMaxWait:    2 * time.Minute,
		LinkRetryInterval:      30 * time.Second,
		ImportCompletionChecks: 60,
	}
}

// Service runs download workflows in the background.
type Service struct {
	library  Library
	torrents TorrentClient
	notifier Notifier
	metrics  *metrics.Manager
	cfg      Config
	log      zerolog.Logger

	wg sync.WaitGroup

	ctxMu sync.RWMutex
	ctx   context.Context

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a download service.
func NewService(library Library, torrents TorrentClient, notifier Notifier, m *metrics.Manager, cfg Config) *Service {
	return &Service{
		library:  library,
		torrents: torrents,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		log:      log.With().Str("component", "downloads").Logger(),
		ctx:      context.Background(),
		sleep:    sleepCtx,
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

// Start sets the lifetime context inherited by background workflows.
// Cancelling it aborts all running workflows at their next wait.
func (s *Service) Start(ctx context.Context) {
	s.ctxMu.Lock()
	s.ctx = ctx
	s.ctxMu.Unlock()
}

func (s *Service) baseCtx() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.ctx
}

// Wait blocks until all background workflows have finished. Used on
// shutdown and in tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit adds the magnet to qBittorrent synchronously and, on success,
// continues the rest of the workflow in the background. The synchronous
// part is kept minimal because notification action buttons time out fast.
func (s *Service) Submit(ctx context.Context, req Request) error {
	if err := s.torrents.AddMagnet(ctx, req.Magnet); err != nil {
		return errors.Wrap(err, "add magnet")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.baseCtx(), req)
	}()
	return nil
}

func (s *Service) run(ctx context.Context, req Request) {
	s.waitForTransfer(ctx, req)

	if err := s.importFile(ctx, req); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("title", req.Title).Msg("import workflow failed")
		}
		s.metrics.DownloadWorkflows.WithLabelValues("failed").Inc()
		return
	}
	s.metrics.DownloadWorkflows.WithLabelValues("completed").Inc()
}

// waitForTransfer waits for qBittorrent to finish the download and sends a
// progress notification. Failures here never abort the workflow; the
// library watches the download directory regardless.
func (s *Service) waitForTransfer(ctx context.Context, req Request) {
	hash, err := qbittorrent.InfoHashFromMagnet(req.Magnet)
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot watch transfer, skipping completion notification")
		return
	}

	torrent, err := s.torrents.WaitForCompletion(ctx, hash, s.cfg.TransferPollInterval, s.cfg.TransferMaxWait)
	if err != nil {
		s.log.Warn().Err(err).Str("hash", hash).Msg("transfer wait failed")
		return
	}
	if torrent == nil {
		s.log.Warn().Str("hash", hash).Msg("timed out waiting for transfer completion")
		return
	}

	name := torrent.Name
	if name == "" {
		name = req.Title
	}
	if name == "" && len(req.FileList) > 0 {
		name = req.FileList[0].Name
	}
	if name == "" {
		name = "torrent"
	}

	if err := s.notifier.SendSimple(ctx, "Download finished: "+name, fmt.Sprintf("qBittorrent finished downloading %s.", name), ""); err != nil {
		s.log.Warn().Err(err).Msg("completion notification failed")
	}
}

// importFile drives the file through recognition, linking and import.
func (s *Service) importFile(ctx context.Context, req Request) error {
	if len(req.FileList) == 0 {
		return errors.New("request carries no file list")
	}
	expected := req.FileList[0].Name

	result, err := s.pollForFile(ctx, expected)
	if err != nil {
		return err
	}

	loc := bestLocation(result.First(), expected)
	if loc == nil {
		return errors.Errorf("file %q found but has no location data", expected)
	}

	if !strings.Contains(loc.RelativePath, expected) {
		s.log.Warn().Str("expected", expected).Str("found", loc.RelativePath).Msg("file name mismatch, waiting for rename or import")
		if updated, err := s.waitForMatchingFile(ctx, expected); err != nil {
			return err
		} else if updated.First() != nil {
			result = updated
		}
	}

	result, err = s.waitForImportFolder(ctx, result, expected)
	if err != nil {
		return err
	}

	file := result.First()
	if file == nil || file.ID == 0 {
		return errors.New("no file id available to link")
	}

	if err := s.ensureLinked(ctx, file, req.EpisodeID); err != nil {
		return err
	}

	return s.pollImportCompletion(ctx, result, req)
}

// pollForFile waits for the library to know the file, forever. The library
// scans its drop folder on its own schedule and there is no upper bound on
// how long a large file takes to move.
func (s *Service) pollForFile(ctx context.Context, fileName string) (*shoko.FileSearchResult, error) {
	for {
		result, err := s.library.SearchFiles(ctx, fileName)
		if err != nil {
			s.log.Warn().Err(err).Str("file", fileName).Msg("file search failed")
		} else if result.First() != nil {
			return result, nil
		}

		s.log.Debug().Str("file", fileName).Msg("file not yet in library, retrying")
		if err := s.sleep(ctx, s.cfg.FilePollInterval); err != nil {
			return nil, err
		}
	}
}

// waitForMatchingFile waits up to RenameMaxWait for the library to report
// a path containing the expected name. After the deadline the last search
// result wins; the import folder wait deals with whatever state it is in.
func (s *Service) waitForMatchingFile(ctx context.Context, expected string) (*shoko.FileSearchResult, error) {
	var waited time.Duration
	for waited <= s.cfg.RenameMaxWait {
		result, err := s.library.SearchFiles(ctx, expected)
		if err != nil {
			s.log.Warn().Err(err).Msg("rename check search failed")
		} else if loc := bestLocation(result.First(), expected); loc != nil && strings.Contains(loc.RelativePath, expected) {
			return result, nil
		}

		if err := s.sleep(ctx, s.cfg.RenamePollInterval); err != nil {
			return nil, err
		}
		waited += s.cfg.RenamePollInterval
	}
	return s.library.SearchFiles(ctx, expected)
}

// waitForImportFolder gives the library a bounded chance to process the
// file out of the staging folder by itself before we link manually.
func (s *Service) waitForImportFolder(ctx context.Context, result *shoko.FileSearchResult, expected string) (*shoko.FileSearchResult, error) {
	var waited time.Duration
	for {
		loc := bestLocation(result.First(), expected)
		if loc == nil || loc.ImportFolderID != shoko.ImportFolderStaging {
			return result, nil
		}
		if waited >= s.cfg.ImportFolderMaxWait {
			s.log.Info().Str("file", expected).Msg("still in staging folder, proceeding to manual link")
			return result, nil
		}

		if err := s.sleep(ctx, s.cfg.ImportPollInterval); err != nil {
			return nil, err
		}
		waited += s.cfg.ImportPollInterval

		refreshed, err := s.library.SearchFiles(ctx, searchName(result.First(), expected))
		if err != nil {
			s.log.Warn().Err(err).Msg("import status search failed")
			continue
		}
		if refreshed.First() != nil {
			result = refreshed
		}
	}
}

// ensureLinked links the file to the episode, retrying forever. A file
// already outside the staging folder is considered linked.
func (s *Service) ensureLinked(ctx context.Context, file *shoko.File, episodeID int) error {
	if loc := file.Location(); loc != nil && loc.ImportFolderID != shoko.ImportFolderStaging {
		s.log.Debug().Int("fileID", file.ID).Msg("already linked")
		return nil
	}

	for {
		err := s.library.LinkFile(ctx, file.ID, episodeID)
		if err == nil {
			s.log.Info().Int("fileID", file.ID).Int("episodeID", episodeID).Msg("linked file to episode")
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Warn().Err(err).Int("fileID", file.ID).Msg("link failed, retrying")
		if err := s.sleep(ctx, s.cfg.LinkRetryInterval); err != nil {
			return err
		}
	}
}

// pollImportCompletion watches for the file to land in the imported folder
// and sends the final notification. The poll is capped; a stuck import is
// logged and abandoned, not retried forever.
func (s *Service) pollImportCompletion(ctx context.Context, result *shoko.FileSearchResult, req Request) error {
	expected := req.FileList[0].Name

	for checks := 0; checks < s.cfg.ImportCompletionChecks; checks++ {
		loc := bestLocation(result.First(), expected)
		if loc != nil && loc.ImportFolderID == shoko.ImportFolderImported {
			title := req.Title
			if title == "" {
				title = fmt.Sprintf("Episode %d", req.EpisodeID)
			}
			if err := s.notifier.SendSimple(ctx, fmt.Sprintf("Episode %s imported", title), fmt.Sprintf("Episode %s has been successfully imported.", title), ""); err != nil {
				s.log.Warn().Err(err).Msg("import notification failed")
			}
			return nil
		}

		if err := s.sleep(ctx, s.cfg.ImportPollInterval); err != nil {
			return err
		}

		refreshed, err := s.library.SearchFiles(ctx, searchName(result.First(), expected))
		if err != nil {
			s.log.Warn().Err(err).Msg("import completion search failed")
			continue
		}
		if refreshed.First() != nil {
			result = refreshed
		}
	}

	s.log.Warn().Str("file", expected).Msg("gave up waiting for import completion")
	return nil
}

// searchName picks the best known name to re-query the library with.
func searchName(file *shoko.File, fallback string) string {
	if file != nil {
		if file.Name != "" {
			return file.Name
		}
		if loc := file.Location(); loc != nil && loc.RelativePath != "" {
			return loc.RelativePath
		}
	}
	return fallback
}

// bestLocation picks the file location whose path best matches the
// expected name. Multi-location files happen when the same release sits in
// both the drop and the final folder; fuzzy ranking picks the relevant one.
func bestLocation(file *shoko.File, expected string) *shoko.FileLocation {
	if file == nil || len(file.Locations) == 0 {
		return nil
	}
	if len(file.Locations) == 1 {
		return &file.Locations[0]
	}

	best := -1
	bestRank := -1
	for i := range file.Locations {
		rank := fuzzy.RankMatchNormalizedFold(expected, file.Locations[i].RelativePath)
		if rank >= 0 && (best == -1 || rank < bestRank) {
			best = i
			bestRank = rank
		}
	}
	if best == -1 {
		return &file.Locations[0]
	}
	return &file.Locations[best]
}
