package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/health"
	"github.com/c360/udprelay/metric"
)

// Reconfiguration results reported to metrics.
const (
	resultOK           = "ok"
	resultInvalid      = "invalid"
	resultConflict     = "conflict"
	resultBindRollback = "bind_rollback"
	resultFailed       = "failed"
)

// EngineDeps holds the engine's collaborators and listener settings.
type EngineDeps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Bind            string
	MaxDatagramSize int
	StopTimeout     time.Duration
}

// GenerationInfo describes the active generation.
type GenerationInfo struct {
	ID          string    `json:"id"`
	ActivatedAt time.Time `json:"activated_at"`
	Inputs      int       `json:"inputs"`
}

type generation struct {
	id          string
	activatedAt time.Time
	table       *RouteTable
	listeners   []*Listener
	stats       *StatsRegistry
}

// Engine owns the live listener set. Exactly one generation is active at a
// time and the previous one is fully stopped before the next binds.
type Engine struct {
	mu      sync.Mutex
	current atomic.Pointer[generation]
	desired atomic.Pointer[RouteTable]

	bind        string
	maxDatagram int
	stopTimeout time.Duration
	baseLogger  *slog.Logger
	logger      *slog.Logger
	metrics     *Metrics
	core        *metric.Metrics
}

// NewEngine creates an engine with no active generation.
func NewEngine(deps EngineDeps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := NewMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "metrics registration")
	}

	e := &Engine{
		bind:        deps.Bind,
		maxDatagram: deps.MaxDatagramSize,
		stopTimeout: deps.StopTimeout,
		baseLogger:  logger,
		logger:      logger.With("component", "relay-engine"),
		metrics:     metrics,
	}
	if e.stopTimeout <= 0 {
		e.stopTimeout = DefaultStopTimeout
	}
	if deps.MetricsRegistry != nil {
		e.core = deps.MetricsRegistry.CoreMetrics()
	}
	return e, nil
}

// Reconfigure replaces the running topology with table.
//
// Validation failures (nil table, two inputs on one port) return before anything
// is stopped. Otherwise the current listeners are stopped, then one listener per
// input is started against a fresh stats registry. If any start fails, the listeners
// already started are stopped and the previous table is restarted with its stats;
// the bind error is returned. If that restart also fails the engine is left empty
// and both errors are returned.
func (e *Engine) Reconfigure(ctx context.Context, table *RouteTable) error {
	if table == nil {
		e.recordResult(resultInvalid)
		return errors.WrapInvalid(errors.Validationf("route table is nil"),
			"Engine", "Reconfigure", "table validation")
	}
	if err := table.Validate(); err != nil {
		e.recordResult(resultConflict)
		return errors.WrapInvalid(err, "Engine", "Reconfigure", "table validation")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	if old != nil {
		e.stopListeners(old.listeners)
	}

	next := &generation{
		id:          uuid.NewString(),
		activatedAt: time.Now(),
		table:       table,
		stats:       NewStatsRegistry(),
	}
	listeners, err := e.startListeners(ctx, next.id, table, next.stats)
	if err == nil {
		next.listeners = listeners
		e.desired.Store(table)
		e.publish(next)
		e.recordResult(resultOK)
		e.logger.Info("Generation activated",
			"generation", next.id,
			"inputs", table.Len())
		return nil
	}

	if old == nil {
		// The first table the engine was given stays the edit base until one activates.
		e.desired.CompareAndSwap(nil, table)
		e.current.Store(nil)
		e.publishGauges(nil)
		e.recordResult(resultFailed)
		return err
	}

	e.logger.Warn("Reconfiguration failed, restoring previous generation",
		"generation", old.id,
		"error", err)

	restored, rbErr := e.startListeners(context.WithoutCancel(ctx), old.id, old.table, old.stats)
	if rbErr != nil {
		e.current.Store(nil)
		e.publishGauges(nil)
		e.recordResult(resultFailed)
		e.logger.Error("Rollback failed, no listeners active",
			"generation", old.id,
			"error", rbErr)
		return errors.Join(err, errors.WrapFatal(rbErr, "Engine", "Reconfigure", "rollback"))
	}

	e.publish(&generation{
		id:          old.id,
		activatedAt: old.activatedAt,
		table:       old.table,
		listeners:   restored,
		stats:       old.stats,
	})
	e.recordResult(resultBindRollback)
	return err
}

// startListeners starts one listener per input in name order. On failure every
// listener it started is stopped before returning.
func (e *Engine) startListeners(ctx context.Context, genID string, table *RouteTable, stats *StatsRegistry) ([]*Listener, error) {
	names := table.Inputs()
	listeners := make([]*Listener, 0, len(names))

	for _, name := range names {
		spec, _ := table.Input(name)
		l, err := StartListener(ctx, ListenerConfig{
			Name:            name,
			Generation:      genID,
			Bind:            e.bind,
			Port:            spec.Port,
			Outputs:         spec.Outputs,
			Stats:           stats,
			MaxDatagramSize: e.maxDatagram,
			Logger:          e.baseLogger,
			Metrics:         e.metrics,
		})
		if err != nil {
			e.stopListeners(listeners)
			return nil, errors.Wrap(err, "Engine", "Reconfigure", fmt.Sprintf("start input %s", name))
		}
		listeners = append(listeners, l)
	}

	return listeners, nil
}

// stopListeners stops listeners concurrently and waits for all of them.
// Stop closes the socket before waiting, so a timeout still frees the port.
func (e *Engine) stopListeners(listeners []*Listener) {
	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return l.Stop(e.stopTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("Listener stop did not complete cleanly", "error", err)
	}
}

func (e *Engine) publish(g *generation) {
	e.current.Store(g)
	e.publishGauges(g)
}

func (e *Engine) publishGauges(g *generation) {
	if g == nil {
		e.metrics.activeTable(nil)
		if e.core != nil {
			e.core.RecordGeneration(0, 0)
		}
		return
	}
	e.metrics.activeTable(g.table)
	if e.core != nil {
		e.core.RecordGeneration(len(g.listeners), g.activatedAt.Unix())
	}
}

func (e *Engine) recordResult(result string) {
	if e.core != nil {
		e.core.RecordReconfiguration(result)
	}
}

// Stats returns the active generation's stats, or an empty snapshot.
func (e *Engine) Stats() Snapshot {
	g := e.current.Load()
	if g == nil {
		return Snapshot{}
	}
	return g.stats.Snapshot()
}

// CurrentTable returns the active table, or an empty table before the first
// successful Reconfigure. Use View for the table edits should start from.
func (e *Engine) CurrentTable() *RouteTable {
	g := e.current.Load()
	if g == nil {
		return EmptyRouteTable()
	}
	return g.table
}

// View is a consistent read of the engine: every field comes from the same
// generation.
type View struct {
	Generation GenerationInfo
	// Table is the active table. While idle it is the last table the engine
	// was told to run, which a rejected reconfiguration never replaces.
	Table    *RouteTable
	Active   bool
	Stats    Snapshot
	Counters map[string]ListenerCounters
}

// View returns the generation, table, stats and counters from one load of the
// active generation.
func (e *Engine) View() View {
	g := e.current.Load()
	if g == nil {
		table := e.desired.Load()
		if table == nil {
			table = EmptyRouteTable()
		}
		return View{
			Table:    table,
			Stats:    Snapshot{},
			Counters: map[string]ListenerCounters{},
		}
	}
	return View{
		Generation: g.info(),
		Table:      g.table,
		Active:     true,
		Stats:      g.stats.Snapshot(),
		Counters:   g.counters(),
	}
}

func (g *generation) info() GenerationInfo {
	return GenerationInfo{ID: g.id, ActivatedAt: g.activatedAt, Inputs: g.table.Len()}
}

func (g *generation) counters() map[string]ListenerCounters {
	out := make(map[string]ListenerCounters, len(g.listeners))
	for _, l := range g.listeners {
		out[l.Name()] = l.Counters()
	}
	return out
}

// Generation describes the active generation. The zero value means none.
func (e *Engine) Generation() GenerationInfo {
	g := e.current.Load()
	if g == nil {
		return GenerationInfo{}
	}
	return g.info()
}

// Shutdown stops all listeners and leaves the engine with no generation.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.current.Swap(nil)
	e.publishGauges(nil)
	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.stopListeners(g.listeners)
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine stopped", "generation", g.id)
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Engine", "Shutdown", "stop listeners")
	}
}

// Health aggregates listener health. An engine with no generation is degraded.
func (e *Engine) Health() health.Status {
	g := e.current.Load()
	if g == nil {
		return health.NewDegraded("relay-engine", "no active generation")
	}

	subs := make([]health.Status, 0, len(g.listeners))
	for _, l := range g.listeners {
		subs = append(subs, l.Health())
	}
	status := health.Aggregate("relay-engine", subs)
	if len(subs) == 0 {
		status.Message = "active generation has no inputs"
	}
	return status
}
