package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/metric"
)

func newTestEngine(t *testing.T, registry *metric.MetricsRegistry) *Engine {
	t.Helper()
	e, err := NewEngine(EngineDeps{
		MetricsRegistry: registry,
		Bind:            "127.0.0.1",
		StopTimeout:     time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func buildTable(t *testing.T, raw ...RawInput) *RouteTable {
	t.Helper()
	table, err := BuildRouteTable(raw)
	require.NoError(t, err)
	return table
}

func TestEngine_Uninitialized(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.Empty(t, e.Stats())
	assert.Equal(t, 0, e.CurrentTable().Len())
	assert.Equal(t, GenerationInfo{}, e.Generation())
	assert.Empty(t, e.View().Counters)
	assert.True(t, e.Health().IsDegraded())
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestEngine_ReconfigureRoundTrip(t *testing.T) {
	e := newTestEngine(t, nil)
	sink := newSink(t)

	table := buildTable(t,
		RawInput{Name: "input_1", Port: int(findAvailablePort(t)), Outputs: []string{sinkDest(sink).String()}},
		RawInput{Name: "input_2", Port: int(findAvailablePort(t))},
	)
	require.NoError(t, e.Reconfigure(context.Background(), table))

	assert.True(t, e.CurrentTable().Equal(table))

	gen := e.Generation()
	assert.NotEmpty(t, gen.ID)
	assert.Equal(t, 2, gen.Inputs)
	assert.False(t, gen.ActivatedAt.IsZero())
	assert.Len(t, e.View().Counters, 2)
	assert.True(t, e.Health().IsHealthy())
}

func TestEngine_ReconfigureNilTable(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.Reconfigure(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestEngine_ForwardsAndRecordsStats(t *testing.T) {
	e := newTestEngine(t, nil)
	sinkA, sinkB := newSink(t), newSink(t)
	port := findAvailablePort(t)

	table := buildTable(t, RawInput{
		Name:    "input_1",
		Port:    int(port),
		Outputs: []string{sinkDest(sinkA).String(), sinkDest(sinkB).String()},
	})
	require.NoError(t, e.Reconfigure(context.Background(), table))

	before := time.Now()
	sendTestUDPData(t, port, []byte("telemetry"))

	for _, s := range []*net.UDPConn{sinkA, sinkB} {
		data, _, ok := receive(t, s, receiveTimeout)
		require.True(t, ok)
		assert.Equal(t, "telemetry", string(data))
	}

	require.Eventually(t, func() bool { return len(e.Stats()) == 2 }, time.Second, 10*time.Millisecond)
	for _, row := range e.Stats().Sorted() {
		assert.Equal(t, "input_1", row.Input)
		assert.False(t, row.LastForward.Before(before))
	}
}

func TestEngine_ConflictKeepsPreviousGeneration(t *testing.T) {
	e := newTestEngine(t, nil)
	sink := newSink(t)
	port := findAvailablePort(t)

	good := buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sink).String()}})
	require.NoError(t, e.Reconfigure(context.Background(), good))
	gen := e.Generation()

	conflicting := buildTable(t,
		RawInput{Name: "a", Port: 6001},
		RawInput{Name: "b", Port: 6001},
	)
	err := e.Reconfigure(context.Background(), conflicting)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, gen, e.Generation())
	assert.True(t, e.CurrentTable().Equal(good))

	sendTestUDPData(t, port, []byte("still here"))
	data, _, ok := receive(t, sink, receiveTimeout)
	require.True(t, ok, "previous generation must keep forwarding")
	assert.Equal(t, "still here", string(data))
}

func TestEngine_BindFailureRollsBack(t *testing.T) {
	e := newTestEngine(t, nil)
	sinkA, sinkB := newSink(t), newSink(t)
	port := findAvailablePort(t)

	original := buildTable(t, RawInput{Name: "a", Port: int(port), Outputs: []string{sinkDest(sinkA).String()}})
	require.NoError(t, e.Reconfigure(context.Background(), original))
	gen := e.Generation()

	sendTestUDPData(t, port, []byte("before"))
	_, _, ok := receive(t, sinkA, receiveTimeout)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(e.Stats()) == 1 }, time.Second, 10*time.Millisecond)

	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer occupied.Close()
	busyPort := occupied.LocalAddr().(*net.UDPAddr).Port

	// "a" rebinds its port against sinkB before "b" fails on the occupied port.
	replacement := buildTable(t,
		RawInput{Name: "a", Port: int(port), Outputs: []string{sinkDest(sinkB).String()}},
		RawInput{Name: "b", Port: busyPort},
	)
	err = e.Reconfigure(context.Background(), replacement)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBind))
	assert.Contains(t, err.Error(), fmt.Sprintf(":%d", busyPort))

	assert.True(t, e.CurrentTable().Equal(original))
	assert.True(t, e.View().Table.Equal(original), "a rejected table never becomes the edit base")
	assert.Equal(t, gen.ID, e.Generation().ID)
	assert.Len(t, e.Stats(), 1, "stats of the restored generation are retained")

	sendTestUDPData(t, port, []byte("after"))
	data, _, ok := receive(t, sinkA, receiveTimeout)
	require.True(t, ok, "restored generation forwards to the original destination")
	assert.Equal(t, "after", string(data))

	_, _, ok = receive(t, sinkB, 200*time.Millisecond)
	assert.False(t, ok, "the rejected table must not forward anything")
}

func TestEngine_BindFailureWithoutPreviousGeneration(t *testing.T) {
	e := newTestEngine(t, nil)

	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer occupied.Close()

	table := buildTable(t, RawInput{Name: "a", Port: occupied.LocalAddr().(*net.UDPAddr).Port})
	err = e.Reconfigure(context.Background(), table)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBind))

	assert.Equal(t, GenerationInfo{}, e.Generation())
	assert.Equal(t, 0, e.CurrentTable().Len())
	assert.True(t, e.View().Table.Equal(table), "the unbound table stays the edit base")
	view := e.View()
	assert.False(t, view.Active)
	assert.True(t, view.Table.Equal(table))
	assert.Empty(t, view.Stats)

	other := buildTable(t, RawInput{Name: "z", Port: occupied.LocalAddr().(*net.UDPAddr).Port})
	require.Error(t, e.Reconfigure(context.Background(), other))
	assert.True(t, e.View().Table.Equal(table), "a later failure from idle does not replace the edit base")

	free := buildTable(t, RawInput{Name: "a", Port: int(findAvailablePort(t))})
	require.NoError(t, e.Reconfigure(context.Background(), free))
	assert.True(t, e.CurrentTable().Equal(free))
	assert.True(t, e.View().Active)
}

func TestEngine_NoDuplicateDeliveryAcrossGenerations(t *testing.T) {
	e := newTestEngine(t, nil)
	sinkA, sinkB := newSink(t), newSink(t)
	port := findAvailablePort(t)

	require.NoError(t, e.Reconfigure(context.Background(),
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sinkA).String()}})))
	first := e.Generation()

	sendTestUDPData(t, port, []byte("P1"))
	data, _, ok := receive(t, sinkA, receiveTimeout)
	require.True(t, ok)
	assert.Equal(t, "P1", string(data))

	require.NoError(t, e.Reconfigure(context.Background(),
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sinkB).String()}})))
	assert.NotEqual(t, first.ID, e.Generation().ID)

	sendTestUDPData(t, port, []byte("P2"))
	data, _, ok = receive(t, sinkB, receiveTimeout)
	require.True(t, ok)
	assert.Equal(t, "P2", string(data))

	_, _, ok = receive(t, sinkA, 200*time.Millisecond)
	assert.False(t, ok, "old destination must not see P2")
	_, _, ok = receive(t, sinkB, 200*time.Millisecond)
	assert.False(t, ok, "new destination must not see P1")
}

func TestEngine_StatsResetPerGeneration(t *testing.T) {
	e := newTestEngine(t, nil)
	sinkA, sinkB := newSink(t), newSink(t)
	port := findAvailablePort(t)

	require.NoError(t, e.Reconfigure(context.Background(),
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sinkA).String()}})))
	sendTestUDPData(t, port, []byte("x"))
	_, _, ok := receive(t, sinkA, receiveTimeout)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(e.Stats()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, e.Reconfigure(context.Background(),
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sinkB).String()}})))
	assert.Empty(t, e.Stats())

	sendTestUDPData(t, port, []byte("y"))
	_, _, ok = receive(t, sinkB, receiveTimeout)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(e.Stats()) == 1 }, time.Second, 10*time.Millisecond)

	_, stale := e.Stats().LastForward("input_1", sinkDest(sinkA))
	assert.False(t, stale)
}

func TestEngine_ShutdownReleasesPorts(t *testing.T) {
	e := newTestEngine(t, nil)
	port := findAvailablePort(t)

	require.NoError(t, e.Reconfigure(context.Background(), buildTable(t, RawInput{Name: "a", Port: int(port)})))
	require.NoError(t, e.Shutdown(context.Background()))

	assert.Equal(t, GenerationInfo{}, e.Generation())
	assert.Empty(t, e.Stats())

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	require.NoError(t, err)
	_ = conn.Close()

	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestEngine_ConcurrentReadersDuringReconfigure(t *testing.T) {
	e := newTestEngine(t, nil)
	sink := newSink(t)
	port := findAvailablePort(t)

	tables := []*RouteTable{
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sink).String()}}),
		buildTable(t, RawInput{Name: "input_2", Port: int(port)}),
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				table := e.CurrentTable()
				for _, name := range table.Inputs() {
					_, ok := table.Input(name)
					assert.True(t, ok)
				}
				_ = e.Stats().Sorted()
				_ = e.Generation()
				_ = e.Health()

				view := e.View()
				if !view.Active {
					continue
				}
				assert.Equal(t, view.Table.Len(), view.Generation.Inputs)
				for _, name := range view.Table.Inputs() {
					_, ok := view.Counters[name]
					assert.True(t, ok, "counters come from the same generation as the table")
				}
				for key := range view.Stats {
					_, ok := view.Table.Input(key.Input)
					assert.True(t, ok, "stats come from the same generation as the table")
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Reconfigure(context.Background(), tables[i%2]))
	}
	close(stop)
	wg.Wait()

	assert.True(t, e.CurrentTable().Equal(tables[1]))
}

func TestEngine_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	e := newTestEngine(t, registry)
	sink := newSink(t)
	port := findAvailablePort(t)

	require.NoError(t, e.Reconfigure(context.Background(),
		buildTable(t, RawInput{Name: "input_1", Port: int(port), Outputs: []string{sinkDest(sink).String()}})))
	_ = e.Reconfigure(context.Background(), buildTable(t, RawInput{Name: "a", Port: 6001}, RawInput{Name: "b", Port: 6001}))

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Reconfigurations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Reconfigurations.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ActiveListeners))

	sendTestUDPData(t, port, []byte("count me"))
	_, _, ok := receive(t, sink, receiveTimeout)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.packetsForwarded.WithLabelValues("input_1", sinkDest(sink).String())) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.packetsReceived.WithLabelValues("input_1")))
	assert.Equal(t, 8.0, testutil.ToFloat64(e.metrics.bytesReceived.WithLabelValues("input_1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.destinations.WithLabelValues("input_1")))

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Zero(t, testutil.CollectAndCount(e.metrics.destinations), "shutdown clears destination gauges")

	_, err := NewEngine(EngineDeps{MetricsRegistry: registry})
	assert.Error(t, err, "relay metrics register once per registry")
}
