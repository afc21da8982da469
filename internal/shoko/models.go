// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package shoko

// Import folder IDs with special meaning in the linking workflow.
const (
	// ImportFolderImported is the destination folder of fully imported files.
	ImportFolderImported = 1
	// ImportFolderStaging holds files waiting to be recognized or linked.
	ImportFolderStaging = 2
)

// IDBlock carries the cross-referenced identifiers Shoko attaches to most
// resources.
type IDBlock struct {
	ID           int `json:"ID"`
	AniDB        int `json:"AniDB"`
	Series       int `json:"Series"`
	ShokoEpisode int `json:"ShokoEpisode"`
	ShokoSeries  int `json:"ShokoSeries"`
}

// CalendarEntry is one row of the dashboard calendar.
type CalendarEntry struct {
	IDs         IDBlock `json:"IDs"`
	SeriesTitle string  `json:"SeriesTitle"`
	Title       string  `json:"Title"`
	Number      int     `json:"Number"`
	AirDate     string  `json:"AirDate"`
}

// Series is a Shoko series. Only the fields the workflows read are mapped.
type Series struct {
	ID   int     `json:"ID"`
	IDs  IDBlock `json:"IDs"`
	Name string  `json:"Name"`
}

// ShokoID returns the internal series identifier, preferring the top-level
// ID and falling back to the IDs block.
func (s *Series) ShokoID() int {
	if s == nil {
		return 0
	}
	if s.ID != 0 {
		return s.ID
	}
	return s.IDs.ID
}

// EpisodeAniDB is the AniDB cross-reference section of an episode.
type EpisodeAniDB struct {
	ID            int `json:"ID"`
	EpisodeNumber int `json:"EpisodeNumber"`
}

// Episode is a Shoko episode with its AniDB cross-reference.
type Episode struct {
	ID    int           `json:"ID"`
	IDs   IDBlock       `json:"IDs"`
	Name  string        `json:"Name"`
	AniDB *EpisodeAniDB `json:"AniDB,omitempty"`
	Size  int           `json:"Size"`
}

// FileLocation is one physical location of a managed file.
type FileLocation struct {
	ImportFolderID int    `json:"ImportFolderID"`
	RelativePath   string `json:"RelativePath"`
}

// File is one managed file with its known locations.
type File struct {
	ID        int            `json:"ID"`
	Name      string         `json:"Name"`
	Locations []FileLocation `json:"Locations"`
}

// Location returns the file's first location, or nil when Shoko reported
// none.
func (f *File) Location() *FileLocation {
	if f == nil || len(f.Locations) == 0 {
		return nil
	}
	return &f.Locations[0]
}

// FileSearchResult is the paged response of the file search endpoint.
type FileSearchResult struct {
	Total int    `json:"Total"`
	List  []File `json:"List"`
}

// First returns the top-ranked file of a search result, or nil when the
// search matched nothing.
func (r *FileSearchResult) First() *File {
	if r == nil || len(r.List) == 0 {
		return nil
	}
	return &r.List[0]
}

// listPage is the generic paged list envelope some endpoints use instead of
// a bare array.
type listPage[T any] struct {
	Total int `json:"Total"`
	List  []T `json:"List"`
}
