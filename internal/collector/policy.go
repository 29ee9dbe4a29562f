package collector

import (
	"time"

	"daqpull/internal/remote"
)

// Plan is the set of files one cycle fetches.
type Plan struct {
	Files []remote.File
	// Extended asks for the long randomized sleep after the fetch, giving the
	// unit's rotation room to move live files to persisted storage.
	Extended bool
	Reason   string
}

// PlanFetch applies the download policy. Persisted files are always drained
// first. With more than backlogThreshold live files only the oldest is
// fetched; otherwise all live files are.
func PlanFetch(listing remote.Listing, backlogThreshold int) Plan {
	switch {
	case len(listing.Persisted) > 0:
		return Plan{Files: listing.Persisted, Reason: "persisted"}
	case len(listing.Live) > backlogThreshold:
		return Plan{Files: listing.Live[:1], Extended: true, Reason: "live backlog"}
	case len(listing.Live) > 0:
		return Plan{Files: listing.Live, Reason: "live"}
	default:
		return Plan{}
	}
}

// Backoff is the escalating sleep schedule for unreachable hosts.
type Backoff struct {
	schedule []time.Duration
	failures int
}

// NewBackoff returns a backoff over schedule.
func NewBackoff(schedule []time.Duration) *Backoff {
	return &Backoff{schedule: schedule}
}

// Fail records one more consecutive failure and returns how long to sleep.
func (b *Backoff) Fail() time.Duration {
	b.failures++
	if len(b.schedule) == 0 {
		return 0
	}
	return b.schedule[min(b.failures-1, len(b.schedule)-1)]
}

// Reset clears the consecutive failure count.
func (b *Backoff) Reset() { b.failures = 0 }

// Failures reports consecutive failures since the last reset.
func (b *Backoff) Failures() int { return b.failures }
