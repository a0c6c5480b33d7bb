package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRegistry_RecordOverwrites(t *testing.T) {
	r := NewStatsRegistry()
	dest := Destination{Host: "127.0.0.1", Port: 6000}

	first := time.Unix(100, 0)
	second := time.Unix(200, 0)
	r.Record("a", dest, first)
	r.Record("a", dest, second)

	assert.Equal(t, 1, r.Len())
	ts, ok := r.Snapshot().LastForward("a", dest)
	require.True(t, ok)
	assert.Equal(t, second, ts)

	_, ok = r.Snapshot().LastForward("b", dest)
	assert.False(t, ok)
}

func TestStatsRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewStatsRegistry()
	dest := Destination{Host: "h", Port: 1}
	r.Record("a", dest, time.Unix(1, 0))

	snap := r.Snapshot()
	r.Record("b", dest, time.Unix(2, 0))

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, r.Len())
}

func TestSnapshot_Sorted(t *testing.T) {
	snap := Snapshot{
		{Input: "b", Destination: Destination{Host: "h", Port: 1}}:  time.Unix(3, 0),
		{Input: "a", Destination: Destination{Host: "h", Port: 2}}:  time.Unix(2, 0),
		{Input: "a", Destination: Destination{Host: "g", Port: 99}}: time.Unix(1, 0),
	}

	rows := snap.Sorted()
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Input)
	assert.Equal(t, "g:99", rows[0].Destination.String())
	assert.Equal(t, "a", rows[1].Input)
	assert.Equal(t, "h:2", rows[1].Destination.String())
	assert.Equal(t, "b", rows[2].Input)
	assert.Equal(t, time.Unix(3, 0), rows[2].LastForward)
}

func TestRouteKey_String(t *testing.T) {
	k := RouteKey{Input: "input_1", Destination: Destination{Host: "10.0.0.1", Port: 6000}}
	assert.Equal(t, "input_1 -> 10.0.0.1:6000", k.String())
}

func TestStatsRegistry_ConcurrentAccess(t *testing.T) {
	r := NewStatsRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			dest := Destination{Host: "h", Port: uint16(w + 1)}
			for i := 0; i < 500; i++ {
				r.Record("a", dest, time.Now())
				_ = r.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 8, r.Len())
}
