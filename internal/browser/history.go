// Package browser models a single tab's browsing context: its session history
// and the scripts that run when a page loads. It exists so that navigation
// decisions (push versus replace) can be executed and verified without a real
// browser.
package browser

import (
	"errors"
	"net/url"
)

// ErrNoEntry is returned when the history has no current entry.
var ErrNoEntry = errors.New("browser: history is empty")

// History is a tab's session history. It is not safe for concurrent use.
type History struct {
	entries []*url.URL
	index   int
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{index: -1}
}

// Push appends u after the current entry, discarding any forward entries.
func (h *History) Push(u *url.URL) {
	h.entries = append(h.entries[:h.index+1], cloneURL(u))
	h.index = len(h.entries) - 1
}

// Replace overwrites the current entry. On an empty history it behaves like
// Push, matching how a fresh tab treats its first navigation.
func (h *History) Replace(u *url.URL) {
	if h.index < 0 {
		h.Push(u)
		return
	}
	h.entries[h.index] = cloneURL(u)
}

// Current returns a copy of the current entry.
func (h *History) Current() (*url.URL, error) {
	if h.index < 0 {
		return nil, ErrNoEntry
	}
	return cloneURL(h.entries[h.index]), nil
}

// Back moves one entry back. It reports false when already at the start.
func (h *History) Back() bool {
	if h.index <= 0 {
		return false
	}
	h.index--
	return true
}

// Forward moves one entry forward. It reports false when at the end.
func (h *History) Forward() bool {
	if h.index >= len(h.entries)-1 {
		return false
	}
	h.index++
	return true
}

// Len returns the number of entries, like window.history.length.
func (h *History) Len() int { return len(h.entries) }

// Index returns the position of the current entry, or -1 when empty.
func (h *History) Index() int { return h.index }

// Entries returns copies of all entries, oldest first.
func (h *History) Entries() []*url.URL {
	out := make([]*url.URL, len(h.entries))
	for i, e := range h.entries {
		out[i] = cloneURL(e)
	}
	return out
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
