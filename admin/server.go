package admin

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/health"
	"github.com/c360/udprelay/metric"
	"github.com/c360/udprelay/relay"
	"github.com/c360/udprelay/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// DefaultStatsInterval is the websocket push interval when none is configured.
const DefaultStatsInterval = 2 * time.Second

const (
	applyTimeout = 10 * time.Second
	maxBodyBytes = 1 << 20
)

// Relay is the part of relay.Engine the admin surface drives.
type Relay interface {
	Reconfigure(ctx context.Context, table *relay.RouteTable) error
	// View returns the active generation's state in one read. While no
	// generation is active its Table is the one the relay is waiting to run.
	View() relay.View
	Health() health.Status
}

var _ Relay = (*relay.Engine)(nil)

// HealthCheck reports the current health of one dependency.
type HealthCheck func() health.Status

// Deps holds the admin server's collaborators. Relay and Store are required.
// A nil Monitor is replaced with a fresh one.
type Deps struct {
	Relay         Relay
	Store         store.Store
	Monitor       *health.Monitor
	Checks        []HealthCheck
	Metrics       *metric.Metrics
	Logger        *slog.Logger
	StatsInterval time.Duration
}

// Server serves the dashboard, the form endpoints, and the JSON API.
type Server struct {
	relay         Relay
	store         store.Store
	monitor       *health.Monitor
	checks        []HealthCheck
	metrics       *metric.Metrics
	logger        *slog.Logger
	statsInterval time.Duration
	dashboard     *template.Template
	static        fs.FS

	// editMu serializes read-modify-apply of the route table so concurrent
	// edits cannot drop each other's changes.
	editMu sync.Mutex

	mu     sync.Mutex // protects server and done
	server *http.Server
	done   chan struct{}
}

// NewServer validates deps and parses the embedded templates.
func NewServer(deps Deps) (*Server, error) {
	if deps.Relay == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "admin.Server", "NewServer", "relay dependency")
	}
	if deps.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "admin.Server", "NewServer", "store dependency")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := deps.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = health.NewMonitor()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, errors.WrapFatal(err, "admin.Server", "NewServer", "parse dashboard template")
	}
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, errors.WrapFatal(err, "admin.Server", "NewServer", "open static assets")
	}

	return &Server{
		relay:         deps.Relay,
		store:         deps.Store,
		monitor:       monitor,
		checks:        deps.Checks,
		metrics:       deps.Metrics,
		logger:        logger.With("component", "admin"),
		statsInterval: interval,
		dashboard:     tmpl,
		static:        static,
		done:          make(chan struct{}),
	}, nil
}

// Handler returns the admin mux with request-ID and metrics middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHTTPHandlers(mux)
	return s.withRequestID(mux)
}

// RegisterHTTPHandlers registers every admin route on mux.
func (s *Server) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/", s.instrument("root", s.handleRoot))
	mux.HandleFunc("/admin/dashboard", s.instrument("dashboard", s.handleDashboard))
	mux.HandleFunc("/admin/add_output", s.instrument("add_output", s.handleAddOutput))
	mux.HandleFunc("/admin/remove_output", s.instrument("remove_output", s.handleRemoveOutput))
	mux.HandleFunc("/admin/apply", s.instrument("apply", s.handleApply))
	mux.HandleFunc("/admin/add_input", s.instrument("add_input", s.handleAddInput))
	mux.HandleFunc("/admin/remove_input", s.instrument("remove_input", s.handleRemoveInput))

	mux.HandleFunc("/api/config", s.instrument("api_config", s.handleConfig))
	mux.HandleFunc("/api/config/schema", s.instrument("api_config_schema", s.handleConfigSchema))
	mux.HandleFunc("/api/stats", s.instrument("api_stats", s.handleStats))
	mux.HandleFunc("/api/stats/ws", s.instrument("api_stats_ws", s.handleStatsWS))
	mux.HandleFunc("/api/health", s.instrument("api_health", s.handleHealth))

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.static))))

	s.logger.Debug("Admin HTTP handlers registered")
}

// Start serves on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"admin.Server", "Start", "cannot start server that is already running")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Admin server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "admin.Server", "Start", fmt.Sprintf("serve admin on %s", addr))
	}
	return nil
}

// Stop shuts the HTTP server down and ends open websocket streams.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "admin.Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// apply derives a new table from the current one, activates it, and persists it.
// It reports whether anything changed. A table equal to the active one is not
// re-applied, so an idempotent edit keeps the running generation and its stats.
// While the relay is idle (its startup table failed to bind) edits start from
// that inactive table, so fixing one input keeps the others.
func (s *Server) apply(ctx context.Context, edit func([]relay.RawInput) ([]relay.RawInput, error)) (bool, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	raw, err := edit(s.relay.View().Table.Raw())
	if err != nil {
		return false, err
	}
	table, err := relay.BuildRouteTable(raw)
	if err != nil {
		return false, err
	}
	return s.activate(ctx, table)
}

// activate must be called with editMu held.
func (s *Server) activate(ctx context.Context, table *relay.RouteTable) (bool, error) {
	if current := s.relay.View(); current.Active && table.Equal(current.Table) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()

	if err := s.relay.Reconfigure(ctx, table); err != nil {
		return false, err
	}

	if err := s.store.Save(ctx, table); err != nil {
		s.logger.Error("Route table applied but not persisted", "error", err)
		// A store that can never succeed (permissions, closed bucket) is unhealthy.
		msg := health.SanitizeMessage(err.Error())
		if errors.Classify(err) == errors.ErrorFatal {
			s.monitor.UpdateUnhealthy("store", msg)
		} else {
			s.monitor.UpdateDegraded("store", msg)
		}
		return true, fmt.Errorf("applied but not persisted: %w", err)
	}
	s.monitor.UpdateHealthy("store", "last save succeeded")

	gen := s.relay.View().Generation
	s.logger.Info("Route table applied", "generation", gen.ID, "inputs", gen.Inputs)
	return true, nil
}

// statusFor maps an apply error to an HTTP status.
func statusFor(err error) int {
	switch class := errors.Classify(err); {
	case class == errors.ErrorInvalid:
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrBind):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
