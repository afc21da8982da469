// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metadata extracts structured information from free-text release
// titles: normalized match tokens, season/episode numbers, codec families
// and release group names. All functions are pure.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/moistari/rls"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nyaanotify/nyaanotify/internal/domain"
)

// codecAlias pairs a codec family with its normalized alias substrings.
// Order is significant: the first family with a matching alias wins.
type codecAlias struct {
	codec   domain.CodecTag
	aliases []string
}

var codecAliases = []codecAlias{
	{domain.CodecAV1, []string{"av1"}},
	{domain.CodecH264, []string{"h264", "h.264", "h 264", "h/264", "avc", "x264"}},
	{domain.CodecHEVC, []string{"h265", "h.265", "h 265", "hevc", "h/265", "x265"}},
}

// resolutionValues are numeric tokens that mark video resolution and must
// never be read as episode numbers.
var resolutionValues = map[int]struct{}{
	1080: {},
	720:  {},
	2160: {},
}

var (
	seasonEpisodeRe = regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`)
	seasonWordRe    = regexp.MustCompile(`(?i)\bseason\s+(\d{1,2})\b`)
	ordinalSeasonRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\s+season\b`)
	groupRe         = regexp.MustCompile(`\[([^\]]+)\]`)
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTokens lowercases a title, strips diacritics, collapses every
// non-alphanumeric run into a single space and returns the resulting tokens.
func NormalizeTokens(title string) []string {
	stripped, _, err := transform.String(diacriticStripper, title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// TokensMatch reports whether every query token appears in the candidate
// title's own token set. Matching is set containment, not substring, and is
// independent of token order. An empty query never matches.
func TokensMatch(query []string, candidateTitle string) bool {
	if len(query) == 0 {
		return false
	}
	set := make(map[string]struct{})
	for _, tok := range NormalizeTokens(candidateTitle) {
		set[tok] = struct{}{}
	}
	for _, tok := range query {
		if _, ok := set[tok]; !ok {
			return false
		}
	}
	return true
}

// ExtractSeasonEpisode pulls season and episode numbers out of a release
// title. An explicit SxEy marker wins outright; otherwise season words and
// bounded standalone numbers are tried independently, so a title may yield
// a season without an episode or vice versa.
func ExtractSeasonEpisode(title string) (season, episode *int) {
	if m := seasonEpisodeRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		return &s, &e
	}

	if m := ordinalSeasonRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		season = &s
	} else if m := seasonWordRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		season = &s
	}

	episode = standaloneEpisode(title)
	return season, episode
}

// standaloneEpisode finds the first small integer token bounded by
// whitespace, brackets, dashes or the string edges. Resolution markers are
// rejected so "1080" never becomes episode 1080 (nor episode 108).
func standaloneEpisode(title string) *int {
	isBoundary := func(r rune) bool {
		switch r {
		case ' ', '\t', '-', '[', ']', '(', ')':
			return true
		}
		return unicode.IsSpace(r)
	}

	for _, tok := range strings.FieldsFunc(title, isBoundary) {
		if len(tok) == 0 || len(tok) > 4 {
			continue
		}
		allDigits := true
		for _, r := range tok {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if !allDigits {
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if _, isRes := resolutionValues[v]; isRes {
			continue
		}
		if v < 1 || v > 999 {
			continue
		}
		return &v
	}
	return nil
}

// DetectCodec normalizes text discarding all punctuation and tests each
// codec family's aliases as substrings, returning the first family that
// matches and "unknown" otherwise.
func DetectCodec(text string) domain.CodecTag {
	normalized := normalizeCompact(text)
	for _, entry := range codecAliases {
		for _, alias := range entry.aliases {
			if strings.Contains(normalized, normalizeCompact(alias)) {
				return entry.codec
			}
		}
	}
	return domain.CodecUnknown
}

func normalizeCompact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractGroup returns the first bracket-delimited segment of a title.
// VARYG releases carry no bracketed group, so titles mentioning VARYG fall
// back to that literal. Returns "" when no group can be determined.
func ExtractGroup(title string) string {
	if m := groupRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if strings.Contains(title, "VARYG") {
		return "VARYG"
	}
	return ""
}

// Resolution returns the display resolution parsed from a release name,
// e.g. "1080p". Display-only: matching decisions never depend on it.
func Resolution(title string) string {
	r := rls.ParseString(title)
	return r.Resolution
}
