// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the qBittorrent WebUI client with the small
// surface the download workflow needs: adding magnets and waiting for a
// torrent to finish.
package qbittorrent

import (
	"context"
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when the qBittorrent connection settings
// are incomplete.
var ErrNotConfigured = errors.New("qbittorrent not configured")

const (
	addMaxRetries = 3
	addRetryDelay = 2 * time.Second
)

// Client is a lazily authenticated qBittorrent connection.
type Client struct {
	qbt *qbt.Client
	log zerolog.Logger

	mu       sync.Mutex
	loggedIn bool

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates the connection settings and builds a client. No
// connection is made until the first operation.
func NewClient(host, username, password string) (*Client, error) {
	if host == "" || username == "" || password == "" {
		return nil, ErrNotConfigured
	}

	return &Client{
		qbt: qbt.NewClient(qbt.Config{
			Host:     host,
			Username: username,
			Password: password,
		}),
		log:   log.With().Str("component", "qbittorrent").Logger(),
		sleep: sleepCtx,
	}, nil
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

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.qbt.LoginCtx(ctx); err != nil {
		return errors.Wrap(err, "qbittorrent login")
	}
	c.loggedIn = true
	return nil
}

// AddMagnet submits a magnet link for download, retrying transient
// failures a few times.
func (c *Client) AddMagnet(ctx context.Context, magnet string) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	err := retry.Do(
		func() error {
			return c.qbt.AddTorrentFromUrlCtx(ctx, magnet, nil)
		},
		retry.Attempts(addMaxRetries),
		retry.Delay(addRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return errors.Wrap(err, "add magnet")
	}
	return nil
}

// WaitForCompletion polls the torrent until it reports completion or the
// deadline passes. Returns the torrent info on completion and nil when the
// wait timed out. Transient poll errors are logged and retried; the next
// poll usually succeeds.
func (c *Client) WaitForCompletion(ctx context.Context, hash string, interval, maxWait time.Duration) (*qbt.Torrent, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		torrents, err := c.qbt.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
		if err != nil {
			c.log.Warn().Err(err).Str("hash", hash).Msg("torrent poll failed")
		} else if len(torrents) > 0 {
			t := torrents[0]
			if isComplete(t) {
				return &t, nil
			}
		}

		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// isComplete mirrors the WebUI notion of a finished download: full
// progress or any of the post-download states.
func isComplete(t qbt.Torrent) bool {
	if t.Progress >= 1 {
		return true
	}
	state := strings.ToLower(string(t.State))
	switch {
	case strings.Contains(state, "uploading"),
		strings.Contains(state, "stalledup"),
		state == "pausedup",
		state == "queuedup",
		state == "forcedup",
		state == "completed":
		return true
	}
	return false
}

var btihRe = regexp.MustCompile(`(?i)(?:\?|&)xt=urn:btih:([^&]+)`)

// InfoHashFromMagnet extracts the torrent info hash from a magnet link,
// normalizing to lowercase hex. Both the 40-char hex and the older 32-char
// base32 encodings are accepted.
func InfoHashFromMagnet(magnet string) (string, error) {
	m := btihRe.FindStringSubmatch(magnet)
	if m == nil {
		return "", errors.New("magnet link carries no btih hash")
	}

	raw := strings.TrimSpace(m[1])
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = strings.TrimSpace(decoded)
	}

	if len(raw) == 40 && isHex(raw) {
		return strings.ToLower(raw), nil
	}
	if len(raw) == 32 {
		data, err := base32.StdEncoding.DecodeString(strings.ToUpper(raw))
		if err != nil {
			return "", errors.Wrap(err, "decode base32 info hash")
		}
		return hex.EncodeToString(data), nil
	}
	return "", errors.Errorf("unrecognized info hash format: %q", raw)
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
