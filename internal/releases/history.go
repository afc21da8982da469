// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases decides what happens with discovered release candidates:
// filtering, notification deduplication and dispatch.
package releases

import "sync"

// History remembers which (episode, release) pairs have been notified.
// It lives in memory only and is wiped by the daily cleanup; a restart
// forgetting the day's notifications is acceptable by design of the dedup
// keys, which are stable within a day.
type History struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewHistory creates an empty notification history.
func NewHistory() *History {
	return &History{seen: make(map[string]struct{})}
}

// MarkNotified records a key and reports whether it was newly recorded.
// The check and the insert are one atomic step so concurrent poll cycles
// cannot both claim the same release.
func (h *History) MarkNotified(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[key]; ok {
		return false
	}
	h.seen[key] = struct{}{}
	return true
}

// Contains reports whether a key has been recorded.
func (h *History) Contains(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[key]
	return ok
}

// Clear wipes the history and returns how many entries were dropped.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.seen)
	h.seen = make(map[string]struct{})
	return n
}

// Len returns the number of recorded keys.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

// Keys returns a snapshot of all recorded keys.
func (h *History) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.seen))
	for key := range h.seen {
		keys = append(keys, key)
	}
	return keys
}
