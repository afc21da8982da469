// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

// CodecTag is a normalized video codec family detected from a release title
// or description.
type CodecTag string

const (
	CodecAV1     CodecTag = "AV1"
	CodecH264    CodecTag = "H264"
	CodecHEVC    CodecTag = "HEVC"
	CodecUnknown CodecTag = "unknown"
)

// SourceChannel identifies which discovery path produced a candidate.
type SourceChannel string

const (
	SourceFeed    SourceChannel = "rss"
	SourceScrape  SourceChannel = "scrape"
	SourceInitial SourceChannel = "initial"
)

// TrackedEpisode is one episode the library expects to air today. Instances
// are built from the library calendar query each morning and replaced
// wholesale at the next daily refresh.
type TrackedEpisode struct {
	AniDBAnimeID   int    `json:"aniDBAid"`
	AniDBEpisodeID int    `json:"aniDBEid"`
	ShokoEpisodeID int    `json:"shokoEid"`
	ShokoSeriesID  int    `json:"shokoAid"`
	AnimeTitle     string `json:"animeTitle"`
	EpisodeTitle   string `json:"epTitle"`
	EpisodeNumber  int    `json:"epNumber"`
	AirDate        string `json:"airDate"`
}

// Key identifies the episode for job scheduling and deduplication.
func (e TrackedEpisode) Key() string {
	return fmt.Sprintf("%d-%d", e.AniDBAnimeID, e.EpisodeNumber)
}

// FileEntry is one file inside a release.
type FileEntry struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// CandidateRelease is one discovered release, not yet matched to a tracked
// episode. Candidates live for a single poll cycle and are discarded after
// reconciliation.
type CandidateRelease struct {
	ID          string
	Title       string
	URL         string
	Season      *int
	Episode     *int
	Codec       CodecTag
	Resolution  string
	FileSize    string
	Seeders     int
	Leechers    int
	SeedersRaw  string
	LeechersRaw string
	Completed   int
	Date        string
	Magnet      string
	Description string
	FileList    []FileEntry
	Source      SourceChannel
}

// NotificationKey derives the dedup identity for an (episode, release) pair.
// It is stable across poll cycles: the same pair always yields the same key
// no matter which source discovered it.
func NotificationKey(ep TrackedEpisode, rel CandidateRelease) string {
	return fmt.Sprintf("%d-%d-%s", ep.AniDBAnimeID, ep.EpisodeNumber, rel.ID)
}
