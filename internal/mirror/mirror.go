// Package mirror implements the mirror fallback policy of spec §4.10: when a
// segment's transport-error retries are exhausted against the current URL,
// the worker advances to the next mirror by rank and restarts only the
// failing segment, skipping the backoff sleep that would otherwise apply.
package mirror

import (
	"sort"
	"sync"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/storage"
)

// Chain is an ordered list of URLs for a task: the primary URL implicitly at
// rank 0, followed by its stored mirrors sorted by ascending rank. It is
// safe for concurrent use by multiple segment workers of the same task.
type Chain struct {
	mu    sync.Mutex
	urls  []string
	index int

	sizeKnown bool
	size      int64
}

// NewChain builds a Chain from a task's primary URL and its stored mirrors.
func NewChain(primaryURL string, mirrors []storage.Mirror) *Chain {
	sorted := make([]storage.Mirror, len(mirrors))
	copy(sorted, mirrors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	urls := make([]string, 0, len(sorted)+1)
	urls = append(urls, primaryURL)
	for _, m := range sorted {
		urls = append(urls, m.URL)
	}

	return &Chain{urls: urls}
}

// Current returns the URL currently in use.
func (c *Chain) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls[c.index]
}

// HasNext reports whether a fallback mirror remains after the current one.
func (c *Chain) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index < len(c.urls)-1
}

// Advance switches to the next mirror by rank and returns its URL. It is a
// no-op returning the current URL if no mirror remains; callers should check
// HasNext first when they need to distinguish "switched" from "exhausted".
func (c *Chain) Advance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index < len(c.urls)-1 {
		c.index++
	}
	return c.urls[c.index]
}

// CheckSize records the total size reported by the first successful probe
// and, on every later mirror's probe, verifies it agrees. Mirrors must refer
// to the same bytes per spec §4.10; a disagreement is terminal.
func (c *Chain) CheckSize(totalBytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sizeKnown {
		c.size = totalBytes
		c.sizeKnown = true
		return nil
	}
	if totalBytes != c.size {
		return idmerrors.MirrorMismatch("mirror reports a different total size than the first resolved mirror")
	}
	return nil
}
