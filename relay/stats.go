package relay

import (
	"sort"
	"sync"
	"time"
)

// StatsSink receives a record for every successful forward.
type StatsSink interface {
	Record(input string, dest Destination, ts time.Time)
}

// RouteKey identifies one (input, destination) route.
type RouteKey struct {
	Input       string
	Destination Destination
}

// String renders the key as "input -> host:port".
func (k RouteKey) String() string {
	return k.Input + " -> " + k.Destination.String()
}

// RouteStat is one row of a sorted Snapshot.
type RouteStat struct {
	Input       string
	Destination Destination
	LastForward time.Time
}

// Snapshot is a point-in-time copy of a StatsRegistry.
type Snapshot map[RouteKey]time.Time

// Sorted returns the snapshot ordered by input name, then destination.
func (s Snapshot) Sorted() []RouteStat {
	rows := make([]RouteStat, 0, len(s))
	for k, ts := range s {
		rows = append(rows, RouteStat{Input: k.Input, Destination: k.Destination, LastForward: ts})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Input != rows[j].Input {
			return rows[i].Input < rows[j].Input
		}
		return rows[i].Destination.String() < rows[j].Destination.String()
	})
	return rows
}

// LastForward returns the recorded time for a route, if any.
func (s Snapshot) LastForward(input string, dest Destination) (time.Time, bool) {
	ts, ok := s[RouteKey{Input: input, Destination: dest}]
	return ts, ok
}

// StatsRegistry tracks the last successful forward per route for one generation.
type StatsRegistry struct {
	mu   sync.RWMutex
	last map[RouteKey]time.Time
}

// NewStatsRegistry creates an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{last: make(map[RouteKey]time.Time)}
}

// Record overwrites the timestamp for (input, dest).
func (r *StatsRegistry) Record(input string, dest Destination, ts time.Time) {
	r.mu.Lock()
	r.last[RouteKey{Input: input, Destination: dest}] = ts
	r.mu.Unlock()
}

// Snapshot returns a copy of all entries.
func (r *StatsRegistry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(Snapshot, len(r.last))
	for k, v := range r.last {
		snap[k] = v
	}
	return snap
}

// Len returns the number of routes with at least one forward.
func (r *StatsRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.last)
}
