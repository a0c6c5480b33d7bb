package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/health"
)

const (
	// DefaultBind is the address listeners bind to when none is configured.
	DefaultBind = "0.0.0.0"
	// DefaultMaxDatagramSize is the largest UDP payload.
	DefaultMaxDatagramSize = 65535
	// DefaultStopTimeout bounds how long Stop waits for the receive loop.
	DefaultStopTimeout = time.Second

	socketReadBuffer = 2 * 1024 * 1024

	// Per-datagram warnings: one per second, bursts of five.
	warnEvery = time.Second
	warnBurst = 5
)

// ListenerConfig holds everything a listener needs. Nothing is read from globals.
type ListenerConfig struct {
	Name            string
	Generation      string // engine generation ID, for logs
	Bind            string
	Port            uint16
	Outputs         []Destination
	Stats           StatsSink
	MaxDatagramSize int
	Logger          *slog.Logger
	Metrics         *Metrics
}

// ListenerCounters is a point-in-time copy of a listener's counters.
type ListenerCounters struct {
	PacketsReceived  int64     `json:"packets_received"`
	PacketsForwarded int64     `json:"packets_forwarded"`
	BytesReceived    int64     `json:"bytes_received"`
	SendErrors       int64     `json:"send_errors"`
	Truncated        int64     `json:"truncated"`
	ReadErrors       int64     `json:"read_errors"`
	LastActivity     time.Time `json:"last_activity,omitempty"`
}

// Listener owns one bound UDP socket and forwards every datagram it receives
// to its destinations, in order, from that same socket.
type Listener struct {
	name        string
	generation  string
	port        uint16
	addr        string
	network     string
	outputs     []Destination
	targets     []*net.UDPAddr // resolved lazily, touched only by the receive loop
	stats       StatsSink
	maxDatagram int
	logger      *slog.Logger
	metrics     *Metrics

	conn      *net.UDPConn
	done      chan struct{}
	stopOnce  sync.Once
	stopping  atomic.Bool
	running   atomic.Bool
	startTime time.Time

	packetsReceived  atomic.Int64
	packetsForwarded atomic.Int64
	bytesReceived    atomic.Int64
	sendErrors       atomic.Int64
	truncated        atomic.Int64
	readErrors       atomic.Int64
	lastActivity     atomic.Int64 // unix nanos
	lastSendFailed   atomic.Bool
	lastError        atomic.Value // string

	warnLimiter *rate.Limiter
	suppressed  int // receive loop only
}

// StartListener binds cfg.Bind:cfg.Port and starts the receive loop.
// ctx bounds the bind only; the listener runs until Stop.
func StartListener(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	if cfg.Name == "" {
		return nil, errors.WrapInvalid(errors.Validationf("listener name cannot be empty"),
			"relay-listener", "Start", "config validation")
	}
	if cfg.Port == 0 {
		return nil, errors.WrapInvalid(errors.Validationf("input %q: port 0 out of range [1,65535]", cfg.Name),
			"relay-listener", "Start", "config validation")
	}
	if cfg.Stats == nil {
		return nil, errors.WrapInvalid(errors.Validationf("input %q: stats sink is required", cfg.Name),
			"relay-listener", "Start", "config validation")
	}

	bind := cfg.Bind
	if bind == "" {
		bind = DefaultBind
	}
	maxDatagram := cfg.MaxDatagramSize
	if maxDatagram <= 0 || maxDatagram > DefaultMaxDatagramSize {
		maxDatagram = DefaultMaxDatagramSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	outputs := make([]Destination, len(cfg.Outputs))
	copy(outputs, cfg.Outputs)

	l := &Listener{
		name:        cfg.Name,
		generation:  cfg.Generation,
		port:        cfg.Port,
		addr:        net.JoinHostPort(bind, strconv.Itoa(int(cfg.Port))),
		network:     resolveNetwork(bind),
		outputs:     outputs,
		targets:     make([]*net.UDPAddr, len(outputs)),
		stats:       cfg.Stats,
		maxDatagram: maxDatagram,
		logger:      logger.With("component", "relay-listener", "input", cfg.Name, "port", cfg.Port, "generation", cfg.Generation),
		metrics:     cfg.Metrics,
		done:        make(chan struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(warnEvery), warnBurst),
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return nil, errors.WrapFatal(errors.Bind(l.addr, err), "relay-listener", "Start", "socket binding")
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, errors.WrapFatal(errors.Bind(l.addr, fmt.Errorf("unexpected packet conn %T", pc)),
			"relay-listener", "Start", "socket binding")
	}

	if err := conn.SetReadBuffer(socketReadBuffer); err != nil {
		l.logger.Warn("Failed to set UDP socket read buffer size",
			"requested_size", socketReadBuffer,
			"error", err)
	}

	l.conn = conn
	l.startTime = time.Now()
	l.running.Store(true)

	go l.readLoop()

	l.logger.Info("Listener started", "addr", l.addr, "outputs", len(outputs))
	return l, nil
}

func resolveNetwork(bind string) string {
	ip := net.ParseIP(bind)
	switch {
	case ip == nil || ip.IsUnspecified():
		return "udp"
	case ip.To4() != nil:
		return "udp4"
	default:
		return "udp6"
	}
}

// Name returns the input name.
func (l *Listener) Name() string { return l.name }

// Port returns the input port.
func (l *Listener) Port() uint16 { return l.port }

// Outputs returns a copy of the destination list.
func (l *Listener) Outputs() []Destination {
	out := make([]Destination, len(l.outputs))
	copy(out, l.outputs)
	return out
}

// Stop closes the socket, which unblocks any pending read, and waits up to
// timeout for the receive loop to exit. Safe to call more than once.
func (l *Listener) Stop(timeout time.Duration) error {
	l.stopOnce.Do(func() {
		l.stopping.Store(true)
		_ = l.conn.Close()
	})

	select {
	case <-l.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"relay-listener", "Stop", "graceful shutdown")
	}

	return nil
}

// Done is closed when the receive loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) readLoop() {
	defer func() {
		l.running.Store(false)
		close(l.done)
	}()

	buf := make([]byte, l.maxDatagram+1)

	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.keepReading(err) {
				continue
			}
			return
		}

		l.packetsReceived.Add(1)
		l.bytesReceived.Add(int64(n))
		l.lastActivity.Store(time.Now().UnixNano())
		l.metrics.received(l.name, n)

		if n > l.maxDatagram {
			l.truncated.Add(1)
			l.metrics.truncatedDrop(l.name)
			l.warn("Dropping oversized datagram",
				"error", errors.Truncation(n, l.maxDatagram))
			continue
		}

		l.forward(buf[:n])
	}
}

// keepReading records a read error and reports whether the receive loop
// should continue. A closed socket and non-transient errors end the loop.
func (l *Listener) keepReading(err error) bool {
	if errors.Is(err, net.ErrClosed) || l.stopping.Load() {
		l.logger.Debug("Receive loop exiting")
		return false
	}

	l.readErrors.Add(1)
	l.metrics.readFailed(l.name)
	l.lastError.Store(health.SanitizeMessage(err.Error()))

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	if !errors.IsTransient(err) {
		// The generation stays published; only Health reports the dead input
		// until the next Reconfigure. The logger carries the generation ID.
		l.logger.Error("Receive loop stopped on socket error, input lost for this generation",
			"error", err)
		return false
	}
	l.warn("Transient socket read error", "error", err)
	return true
}

// forward sends payload to every destination in list order. A failure on one
// destination never stops delivery to the rest.
func (l *Listener) forward(payload []byte) {
	failed := false

	for i, dest := range l.outputs {
		target, err := l.target(i)
		if err == nil {
			_, err = l.conn.WriteToUDP(payload, target)
		}
		if err != nil {
			failed = true
			sendErr := errors.Send(dest.String(), err)
			l.sendErrors.Add(1)
			l.metrics.sendFailed(l.name)
			l.lastError.Store(health.SanitizeMessage(sendErr.Error()))
			l.warn("Forward failed", "destination", dest.String(), "error", sendErr)
			continue
		}

		l.packetsForwarded.Add(1)
		l.metrics.forwarded(l.name, dest)
		l.stats.Record(l.name, dest, time.Now())
	}

	l.lastSendFailed.Store(failed)
}

// warn logs a per-datagram warning unless the limiter is exhausted. Dropped
// warnings are counted and reported with the next one that gets through.
func (l *Listener) warn(msg string, args ...any) {
	if !l.warnLimiter.Allow() {
		l.suppressed++
		return
	}
	if l.suppressed > 0 {
		args = append(args, "suppressed", l.suppressed)
		l.suppressed = 0
	}
	l.logger.Warn(msg, args...)
}

func (l *Listener) target(i int) (*net.UDPAddr, error) {
	if t := l.targets[i]; t != nil {
		return t, nil
	}
	addr, err := net.ResolveUDPAddr(l.network, l.outputs[i].String())
	if err != nil {
		return nil, err
	}
	l.targets[i] = addr
	return addr, nil
}

// Counters returns a copy of the listener's counters.
func (l *Listener) Counters() ListenerCounters {
	c := ListenerCounters{
		PacketsReceived:  l.packetsReceived.Load(),
		PacketsForwarded: l.packetsForwarded.Load(),
		BytesReceived:    l.bytesReceived.Load(),
		SendErrors:       l.sendErrors.Load(),
		Truncated:        l.truncated.Load(),
		ReadErrors:       l.readErrors.Load(),
	}
	if ns := l.lastActivity.Load(); ns != 0 {
		c.LastActivity = time.Unix(0, ns)
	}
	return c
}

// Health reports unhealthy once the receive loop has exited and degraded
// while the most recent datagram failed to reach a destination.
func (l *Listener) Health() health.Status {
	component := "listener:" + l.name
	c := l.Counters()

	var status health.Status
	switch {
	case !l.running.Load():
		status = health.NewUnhealthy(component, "receive loop not running")
	case l.lastSendFailed.Load():
		msg := "last forward failed"
		if s, ok := l.lastError.Load().(string); ok && s != "" {
			msg = s
		}
		status = health.NewDegraded(component, msg)
	default:
		status = health.NewHealthy(component,
			fmt.Sprintf("forwarding port %d to %d destinations", l.port, len(l.outputs)))
	}

	return status.WithMetrics(&health.Metrics{
		Uptime:            time.Since(l.startTime),
		ErrorCount:        int(c.SendErrors + c.Truncated + c.ReadErrors),
		MessagesProcessed: c.PacketsReceived,
		LastActivity:      c.LastActivity,
	})
}
