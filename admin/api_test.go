package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udprelay/health"
	"github.com/c360/udprelay/relay"
)

func TestAPIConfig_Get(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Generation relay.GenerationInfo `json:"generation"`
		Table      json.RawMessage      `json:"table"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gen-0", resp.Generation.ID)

	var table relay.RouteTable
	require.NoError(t, json.Unmarshal(resp.Table, &table))
	assert.True(t, table.Equal(f.relay.CurrentTable()))
}

func TestAPIConfig_Put(t *testing.T) {
	f := newFixture(t)
	body := `{"inputs": {"radar": {"port": 6100, "outputs": [{"host": "10.9.9.9", "port": 7100}]}}}`

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(body))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Changed)
	assert.Equal(t, "gen-1", resp.Generation.ID)
	assert.Equal(t, []string{"radar"}, f.relay.CurrentTable().Inputs())
	assert.Equal(t, []string{"10.9.9.9:7100"}, f.outputs(t, "radar"))

	saved, saves := f.store.lastSaved()
	assert.Equal(t, 1, saves)
	assert.True(t, saved.Equal(f.relay.CurrentTable()))

	// The same table again is a no-op.
	rec = f.do(httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var again ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.False(t, again.Changed)
	assert.Equal(t, 1, f.relay.reconfigureCalls())
}

func TestAPIConfig_PutRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"inputs": `},
		{name: "port zero", body: `{"inputs": {"a": {"port": 0, "outputs": []}}}`},
		{name: "destination without host", body: `{"inputs": {"a": {"port": 6000, "outputs": [{"host": "", "port": 1}]}}}`},
		{name: "port conflict", body: `{"inputs": {"a": {"port": 6000}, "b": {"port": 6000}}}`},
		{name: "unknown field", body: `{"inputs": {"a": {"port": 6000, "bind": "0.0.0.0"}}}`},
		{name: "port as string", body: `{"inputs": {"a": {"port": "6000"}}}`},
		{name: "missing inputs", body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.relay.CurrentTable()

			rec := f.do(httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Same(t, before, f.relay.CurrentTable())
		})
	}
}

func TestAPIConfig_SchemaErrorNamesField(t *testing.T) {
	f := newFixture(t)
	body := `{"inputs": {"a": {"port": 6000, "outputs": [{"host": "h", "port": 70000}]}}}`

	rec := f.do(httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "inputs.a.outputs.0.port")
}

func TestAPIConfigSchema(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/config/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/schema+json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, string(relay.RouteTableSchema), rec.Body.String())
}

func TestAPIConfig_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIStats(t *testing.T) {
	f := newFixture(t)
	sent := time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
	f.relay.stats = relay.Snapshot{
		{Input: "input_1", Destination: relay.Destination{Host: "10.0.0.2", Port: 6001}}: sent,
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Routes, 2)
	assert.Equal(t, "input_1", resp.Routes[0].Input)
	assert.Equal(t, "10.0.0.1:6000", resp.Routes[0].Destination)
	assert.Empty(t, resp.Routes[0].LastForward)
	assert.Zero(t, resp.Routes[0].LastForwardUnixMs)

	assert.Equal(t, "10.0.0.2:6001", resp.Routes[1].Destination)
	assert.Equal(t, "2026-03-01T12:30:45.123Z", resp.Routes[1].LastForward)
	assert.Equal(t, sent.UnixMilli(), resp.Routes[1].LastForwardUnixMs)

	assert.Equal(t, int64(7), resp.Counters["input_1"].PacketsReceived)
	assert.Equal(t, "gen-0", resp.Generation.ID)

	assert.NotContains(t, rec.Body.String(), `"last_forward":""`, "unset times are omitted")
}

func TestAPIHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "udprelay", status.Component)
	assert.True(t, status.IsHealthy())
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "relay-engine", status.SubStatuses[0].Component)

	f.relay.mu.Lock()
	f.relay.status = health.NewUnhealthy("relay-engine", "listener stopped")
	f.relay.mu.Unlock()

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIHealth_Checks(t *testing.T) {
	fr := newFakeRelay(t, nil)
	fr.status = health.NewDegraded("relay-engine", "no active generation")
	srv, err := NewServer(Deps{
		Relay: fr,
		Store: &memStore{},
		Checks: []HealthCheck{
			func() health.Status { return health.NewHealthy("nats", "connected") },
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, "degraded is still served with 200")

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsDegraded())
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "nats", status.SubStatuses[0].Component)
	assert.True(t, status.SubStatuses[0].IsHealthy())
	assert.Equal(t, "relay-engine", status.SubStatuses[1].Component)
}

func TestStatsWebsocket(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var stats StatsResponse
		require.NoError(t, json.Unmarshal(data, &stats))
		assert.Len(t, stats.Routes, 2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}
}
