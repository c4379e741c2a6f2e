// SPDX-License-Identifier: MIT

// Package detect holds the per-camera detection state shared between the
// notification puller and the event handlers.
//
// A Table maps detection keys (the ONVIF SimpleItem name, with an
// InactiveSuffix appended when the sensor reported state-off) to the instant
// the key was first observed. The puller is the only writer; handlers read
// consistent snapshots. Entries expire after a TTL so that a quiet camera
// eventually presents an empty table and a re-detection counts as a new
// incident.
package detect

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// InactiveSuffix marks a detection key that records a sensor going inactive
// (SimpleItem Value != "true"). Media sinks ignore such keys; they represent
// state-off, not a trigger.
const InactiveSuffix = "_False"

// DefaultExpiry is how long a detection stays in the table without being
// re-evicted. It doubles as the PullMessages timeout so subscription
// keepalive and eviction cannot drift apart.
const DefaultExpiry = 60 * time.Second

// Key builds the detection key for a SimpleItem name/value pair.
func Key(name, value string) string {
	if value == "true" {
		return name
	}
	return name + InactiveSuffix
}

// IsInactive reports whether key records a state-off transition.
func IsInactive(key string) bool {
	return strings.HasSuffix(key, InactiveSuffix)
}

// Table is a per-camera detection table with TTL eviction.
//
// Handlers poll it from their own goroutines while the puller inserts and
// evicts, so every access goes through one mutex. The mutex is never held
// across I/O.
type Table struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewTable returns an empty detection table.
func NewTable() *Table {
	return &Table{entries: make(map[string]time.Time)}
}

// Insert records key as first seen at now. Re-inserting an existing key is a
// no-op so every consumer sees the same trigger instant. Returns true if the
// key was newly added.
func (t *Table) Insert(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		return false
	}
	t.entries[key] = now
	return true
}

// Evict removes every entry older than ttl and returns the removed keys.
func (t *Table) Evict(now time.Time, ttl time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for key, firstSeen := range t.entries {
		if now.Sub(firstSeen) > ttl {
			delete(t.entries, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the table for one dispatch cycle.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(Snapshot, len(t.entries))
	for key, firstSeen := range t.entries {
		snap[key] = firstSeen
	}
	return snap
}

// Snapshot is a point-in-time copy of a Table.
type Snapshot map[string]time.Time

// Relevant filters the snapshot down to keys targeted by targets that are
// not inactive sentinels.
func (s Snapshot) Relevant(targets TargetSet) Snapshot {
	out := make(Snapshot)
	for key, firstSeen := range s {
		if IsInactive(key) {
			continue
		}
		if targets.Contains(key) {
			out[key] = firstSeen
		}
	}
	return out
}

// Incident returns the incident time for this snapshot: the earliest
// first-seen instant of any key in it. Saved media is named after this
// instant, not the capture-completion time.
func (s Snapshot) Incident() time.Time {
	var earliest time.Time
	for _, firstSeen := range s {
		if earliest.IsZero() || firstSeen.Before(earliest) {
			earliest = firstSeen
		}
	}
	return earliest
}

// Keys returns the snapshot's keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// TargetSet is the set of detection names a camera's handlers react to.
// The wildcard entry "*" targets every non-sentinel detection.
type TargetSet struct {
	all   bool
	names map[string]struct{}
}

// NewTargetSet builds a TargetSet from the configured event names.
func NewTargetSet(names []string) TargetSet {
	ts := TargetSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name == "*" {
			ts.all = true
			continue
		}
		ts.names[name] = struct{}{}
	}
	return ts
}

// Contains reports whether name is targeted.
func (ts TargetSet) Contains(name string) bool {
	if ts.all {
		return true
	}
	_, ok := ts.names[name]
	return ok
}

// Wildcard reports whether the set targets all detections.
func (ts TargetSet) Wildcard() bool {
	return ts.all
}
