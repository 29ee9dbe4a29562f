// Package health tracks the last delivery of every unit, detects sequence
// gaps and inactivity, and renders the status report.
package health

import (
	"context"
	"fmt"
	"slices"
	"time"

	"daqpull/internal/queue"
	"daqpull/internal/units"
)

// Mismatch describes a sequence discontinuity.
type Mismatch struct {
	Hostname string
	Expected int64
	Previous queue.UnitHealth
	Current  queue.UnitHealth
}

// Message renders the advisory alert body.
func (m Mismatch) Message() string {
	return fmt.Sprintf("%s: sequence id mismatch!\nexpected: %d\nold state: %s\nnew state: %s",
		m.Hostname, m.Expected, describe(m.Previous), describe(m.Current))
}

func describe(h queue.UnitHealth) string {
	if !h.Seen() {
		return "never received"
	}
	out := "received_at=" + h.LastReceivedAt.Format(time.RFC3339)
	if h.LastSequenceNumber != nil {
		out += fmt.Sprintf(" sequence=%d", *h.LastSequenceNumber)
	}
	if h.LastFileSize != nil {
		out += fmt.Sprintf(" size=%d", *h.LastFileSize)
	}
	if h.LastTransferDuration != nil {
		out += fmt.Sprintf(" transfer=%.2fs", h.LastTransferDuration.Seconds())
	}
	return out
}

// Tracker owns the health map. It is confined to the statistics goroutine.
type Tracker struct {
	registry *units.Registry
	states   map[string]queue.UnitHealth
	alerted  []string
}

// NewTracker starts every registered unit with empty state.
func NewTracker(registry *units.Registry) *Tracker {
	t := &Tracker{
		registry: registry,
		states:   make(map[string]queue.UnitHealth, registry.Len()),
	}
	for _, host := range registry.Hostnames() {
		t.states[host] = queue.UnitHealth{}
	}
	return t
}

// LoadTracker restores persisted state. Rows for hostnames no longer in the
// registry are ignored.
func LoadTracker(ctx context.Context, store *queue.Store, registry *units.Registry) (*Tracker, error) {
	t := NewTracker(registry)
	stored, err := store.LoadHealth(ctx)
	if err != nil {
		return nil, err
	}
	for host, state := range stored {
		if _, ok := t.states[host]; ok {
			t.states[host] = state
		}
	}
	return t, nil
}

// State returns the current state of hostname.
func (t *Tracker) State(hostname string) queue.UnitHealth {
	return t.states[hostname]
}

// Snapshot returns a copy of the full health map.
func (t *Tracker) Snapshot() map[string]queue.UnitHealth {
	out := make(map[string]queue.UnitHealth, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// Apply folds a transfer record into the map. It returns a mismatch when the
// sequence does not follow the previous one; the state advances either way.
// Replaying the record already stored reports nothing.
func (t *Tracker) Apply(rec queue.TransferRecord) (*Mismatch, error) {
	prev, ok := t.states[rec.Hostname]
	if !ok {
		return nil, fmt.Errorf("record for unknown unit %q", rec.Hostname)
	}
	received := rec.ReceivedAt
	seq := rec.Sequence
	size := rec.FileSize
	dur := rec.TransferDuration
	next := queue.UnitHealth{
		LastReceivedAt:       &received,
		LastSequenceNumber:   &seq,
		LastFileSize:         &size,
		LastTransferDuration: &dur,
	}
	t.states[rec.Hostname] = next

	if isReplay(prev, rec) {
		return nil, nil
	}
	var last int64
	if prev.LastSequenceNumber != nil {
		last = *prev.LastSequenceNumber
	}
	if rec.Sequence == last+1 {
		return nil, nil
	}
	return &Mismatch{Hostname: rec.Hostname, Expected: last + 1, Previous: prev, Current: next}, nil
}

func isReplay(prev queue.UnitHealth, rec queue.TransferRecord) bool {
	return prev.LastSequenceNumber != nil && prev.LastReceivedAt != nil &&
		*prev.LastSequenceNumber == rec.Sequence && prev.LastReceivedAt.Equal(rec.ReceivedAt)
}

// Partition splits the registry into active and inactive units at now. A
// unit is active when it delivered within its timeout.
func (t *Tracker) Partition(now time.Time) (active, inactive []units.Unit) {
	for _, u := range t.registry.All() {
		st := t.states[u.Hostname]
		if st.LastReceivedAt != nil && now.Sub(*st.LastReceivedAt) < u.Timeout {
			active = append(active, u)
		} else {
			inactive = append(inactive, u)
		}
	}
	return active, inactive
}

// Transition is a change of the alerting inactive set.
type Transition struct {
	Inactive []string
}

// Recovered reports whether every previously inactive unit came back.
func (tr Transition) Recovered() bool { return len(tr.Inactive) == 0 }

// Evaluate compares the inactive units that have delivered at least once
// with the previous evaluation. It returns nil when the set is unchanged.
func (t *Tracker) Evaluate(inactive []units.Unit) *Transition {
	current := make([]string, 0, len(inactive))
	for _, u := range inactive {
		if t.states[u.Hostname].Seen() {
			current = append(current, u.Hostname)
		}
	}
	slices.Sort(current)
	if slices.Equal(current, t.alerted) {
		return nil
	}
	t.alerted = current
	return &Transition{Inactive: slices.Clone(current)}
}
