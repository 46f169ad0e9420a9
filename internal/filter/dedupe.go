package filter

import (
	"fmt"
	"sync"
	"time"

	"github.com/vburojevic/adbg/internal/domain"
)

// DedupeFilter collapses repeated visits to the same source line, which is
// what tight loops produce in a stepping capture
type DedupeFilter struct {
	mu       sync.Mutex
	window   time.Duration // Time window for deduplication (0 = consecutive only)
	seen     map[string]*dedupeEntry
	lastLine string
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// NewDedupeFilter creates a new deduplication filter
// window=0 means only collapse consecutive visits to the same line
// window>0 means collapse any revisit of a line within the time window
func NewDedupeFilter(window time.Duration) *DedupeFilter {
	return &DedupeFilter{
		window: window,
		seen:   make(map[string]*dedupeEntry),
	}
}

// DedupeResult holds the result of a dedupe check
type DedupeResult struct {
	ShouldEmit bool      // Whether this step should be emitted
	Count      int       // Number of visits (1 = first occurrence)
	FirstSeen  time.Time // First occurrence timestamp
	LastSeen   time.Time // Last occurrence timestamp (same as FirstSeen if count=1)
}

// Check determines if a captured step should be emitted or suppressed
func (f *DedupeFilter) Check(step *domain.CapturedStep) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := fmt.Sprintf("%s:%d", step.File, step.LineNumber)
	now := time.Now()

	// Clean up old entries if using window mode
	if f.window > 0 {
		f.cleanOldEntries(now)
	}

	// Check if we've seen this line
	if existing, ok := f.seen[key]; ok {
		existing.count++
		existing.lastSeen = now

		// In window mode, always suppress revisits within window
		if f.window > 0 {
			return DedupeResult{
				ShouldEmit: false,
				Count:      existing.count,
				FirstSeen:  existing.firstSeen,
				LastSeen:   existing.lastSeen,
			}
		}

		// In consecutive mode, only suppress if same as last line
		if f.lastLine == key {
			return DedupeResult{
				ShouldEmit: false,
				Count:      existing.count,
				FirstSeen:  existing.firstSeen,
				LastSeen:   existing.lastSeen,
			}
		}
	}

	// New line or different from last (in consecutive mode)
	f.seen[key] = &dedupeEntry{
		count:     1,
		firstSeen: now,
		lastSeen:  now,
	}
	f.lastLine = key

	return DedupeResult{
		ShouldEmit: true,
		Count:      1,
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// GetPendingDuplicates returns lines with count > 1 that haven't been reported
// This can be called after a run to emit loop summaries
func (f *DedupeFilter) GetPendingDuplicates() map[string]*dedupeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]*dedupeEntry)
	for key, entry := range f.seen {
		if entry.count > 1 {
			result[key] = &dedupeEntry{
				count:     entry.count,
				firstSeen: entry.firstSeen,
				lastSeen:  entry.lastSeen,
			}
		}
	}
	return result
}

// Reset clears the deduplication state
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
	f.lastLine = ""
}

// cleanOldEntries removes entries outside the time window
func (f *DedupeFilter) cleanOldEntries(now time.Time) {
	cutoff := now.Add(-f.window)
	for key, entry := range f.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
