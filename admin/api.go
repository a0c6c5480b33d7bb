package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/pkg/timestamp"
	"github.com/c360/udprelay/relay"
)

// RouteStatus is one configured route and when it last forwarded. Both
// last-forward fields are empty when the route has not forwarded in this
// generation.
type RouteStatus struct {
	Input             string `json:"input"`
	Destination       string `json:"destination"`
	LastForward       string `json:"last_forward,omitempty"`
	LastForwardUnixMs int64  `json:"last_forward_unix_ms,omitempty"`
	AgeMs             int64  `json:"age_ms,omitempty"`
}

// StatsResponse is the body of GET /api/stats and each websocket frame.
type StatsResponse struct {
	Generation relay.GenerationInfo              `json:"generation"`
	Routes     []RouteStatus                     `json:"routes"`
	Counters   map[string]relay.ListenerCounters `json:"counters"`
	Timestamp  time.Time                         `json:"timestamp"`
}

// ConfigResponse is the body of GET and PUT /api/config.
type ConfigResponse struct {
	Generation relay.GenerationInfo `json:"generation"`
	Table      *relay.RouteTable    `json:"table"`
	Active     bool                 `json:"active"`
	Changed    bool                 `json:"changed,omitempty"`
}

func configResponse(view relay.View, changed bool) ConfigResponse {
	return ConfigResponse{
		Generation: view.Generation,
		Table:      view.Table,
		Active:     view.Active,
		Changed:    changed,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, configResponse(s.relay.View(), false))
	case http.MethodPut:
		s.putConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// putConfig replaces the whole table. The body uses the persisted table format.
func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}

	if err := relay.ValidateDocument(body); err != nil {
		s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	var table relay.RouteTable
	if err := json.Unmarshal(body, &table); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.editMu.Lock()
	changed, err := s.activate(r.Context(), &table)
	s.editMu.Unlock()
	if err != nil {
		s.logger.Warn("Config replace rejected", "error", err, "class", errors.Classify(err).String(),
			"request_id", RequestID(r.Context()))
		s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, configResponse(s.relay.View(), changed))
}

// handleConfigSchema serves the JSON Schema PUT /api/config bodies are checked against.
func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(relay.RouteTableSchema)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.statsSnapshot())
}

// statsSnapshot lists every configured route of the current table, in input
// then destination order.
func (s *Server) statsSnapshot() StatsResponse {
	view := s.relay.View()
	table, stats := view.Table, view.Stats

	resp := StatsResponse{
		Generation: view.Generation,
		Routes:     []RouteStatus{},
		Counters:   view.Counters,
		Timestamp:  time.Now().UTC(),
	}
	for _, name := range table.Inputs() {
		spec, _ := table.Input(name)
		for _, dest := range spec.Outputs {
			rs := RouteStatus{Input: name, Destination: dest.String()}
			if ts, ok := stats.LastForward(name, dest); ok {
				rs.LastForwardUnixMs = timestamp.ToUnixMs(ts)
				rs.LastForward = timestamp.Format(rs.LastForwardUnixMs)
				rs.AgeMs = timestamp.Since(rs.LastForwardUnixMs).Milliseconds()
			}
			resp.Routes = append(resp.Routes, rs)
		}
	}
	return resp
}

// handleStatsWS pushes a stats snapshot on connect and then every interval
// until the client disconnects or the server stops.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(s.statsSnapshot())
		if err != nil {
			s.logger.Error("Failed to encode stats", "error", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleHealth refreshes the relay engine and every registered check in the
// monitor and reports the aggregate. Unhealthy maps to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	engine := s.relay.Health()
	s.monitor.Update(engine.Component, engine)
	for _, check := range s.checks {
		st := check()
		s.monitor.Update(st.Component, st)
	}
	status := s.monitor.AggregateHealth("udprelay")

	if s.metrics != nil {
		s.metrics.RecordHealthStatus(status.Component, status.IsHealthy())
		for _, sub := range status.SubStatuses {
			s.metrics.RecordHealthStatus(sub.Component, sub.IsHealthy())
		}
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", errors.Wrap(err, "admin.Server", "writeJSON", "encode"))
	}
}
