// Package aggregator implements the statsd aggregation and flush engine:
// a fixed-size Slot Table that coalesces incoming statsd lines per metric
// name, a Packet Ring that queues serialized packets for send, and the
// goroutines that tie UDP receive, the flush timer, the send path and the
// DNS refresher together.
package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hulu/statsd-aggregator/internal/config"
)

// Sizes straight from the original daemon's #define constants.
const (
	packetMax        = 1450 // DOWNSTREAM_BUF_SIZE, kept below typical MTU
	ringSize         = 16   // DOWNSTREAM_BUF_NUM
	dataBufSize      = 4096 // DATA_BUF_SIZE
	maxCounterLength = 18   // len(`%.15g|c\n`) worst case
	numSlots         = packetMax / 7
	maxDS            = 32
)

type metricType int

const (
	typeUnknown metricType = iota
	typeCounter
	typeOther
)

// logger is the minimal leveled-logging surface the aggregator needs.
// *logrus.Entry satisfies it structurally.
type logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// resolver is the DNS lookup surface the downstream refresher depends on.
// Implemented by *miekgResolver; swappable in tests.
type resolver interface {
	resolveA(ctx context.Context, host string) ([]net.IP, error)
}

// Aggregator is the aggregation and flush engine. All exported entry points
// are safe for concurrent use; the same mutex guards the Slot Table, the
// Packet Ring, and the downstream address/timestamp, mirroring the way the
// teacher plugin guards its cached-metric maps with a single sync.Mutex.
type Aggregator struct {
	cfg *config.Config
	log logger

	mu    sync.Mutex
	slots slotTable
	ring  packetRing

	downstream downstreamState

	conn     *net.UDPConn
	sendConn *net.UDPConn

	armCh chan struct{}

	resolver        resolver
	needsDNSRefresh bool

	metrics *metrics
}

type downstreamState struct {
	host string
	port int
	addr *net.UDPAddr

	lastFlushTime time.Time

	mailbox dnsMailbox
}

// New binds the data socket, resolves (or parses) the downstream address,
// and prepares the aggregator to run. A failure here is always a fatal
// startup error: callers should exit(1) on error, never retry.
func New(cfg *config.Config, log logger) (*Aggregator, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.DataPort})
	if err != nil {
		return nil, fmt.Errorf("bind data socket on port %d: %w", cfg.DataPort, err)
	}

	sendConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open downstream send socket: %w", err)
	}

	a := &Aggregator{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		sendConn: sendConn,
		armCh:    make(chan struct{}, 1),
		metrics:  newMetrics(),
	}
	a.slots.reset()
	a.downstream.host = cfg.DownstreamHost
	a.downstream.port = cfg.DownstreamPort
	a.downstream.lastFlushTime = time.Now()

	if ip := net.ParseIP(cfg.DownstreamHost); ip != nil && ip.To4() != nil {
		a.downstream.addr = &net.UDPAddr{IP: ip.To4(), Port: cfg.DownstreamPort}
	} else {
		res, err := newMiekgResolver()
		if err != nil {
			conn.Close()
			sendConn.Close()
			return nil, fmt.Errorf("initialize dns resolver: %w", err)
		}
		a.resolver = res
		a.needsDNSRefresh = true

		ips, err := res.resolveA(context.Background(), cfg.DownstreamHost)
		if err != nil || len(ips) == 0 {
			conn.Close()
			sendConn.Close()
			return nil, fmt.Errorf("resolve downstream host %q: %w", cfg.DownstreamHost, err)
		}
		a.downstream.addr = &net.UDPAddr{IP: ips[0], Port: cfg.DownstreamPort}
	}

	return a, nil
}

// Metrics returns the Prometheus collectors backing the internal-metrics
// surface, for wiring into an HTTP handler.
func (a *Aggregator) Metrics() *metrics {
	return a.metrics
}

// Run starts the UDP read loop, the send watcher, and (if needed) the DNS
// refresher, then multiplexes the flush timer and health-check ticks until
// ctx is canceled. It returns nil on clean cancellation.
func (a *Aggregator) Run(ctx context.Context) error {
	defer a.conn.Close()
	defer a.sendConn.Close()

	errCh := make(chan error, 1)
	go a.udpReadLoop(ctx, errCh)
	go a.sendWatcherLoop(ctx)
	if a.needsDNSRefresh {
		go a.dnsRefreshLoop(ctx, a.resolver)
	}

	flushTicker := time.NewTicker(a.cfg.DownstreamFlushInterval)
	defer flushTicker.Stop()
	healthTicker := time.NewTicker(a.cfg.DownstreamHealthCheckInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-flushTicker.C:
			a.flushTimerTick()
		case <-healthTicker.C:
			a.adoptDownstream()
		}
	}
}

// udpReadLoop owns the single read buffer for the life of the loop, mirroring
// the original daemon's stack-allocated DATA_BUF_SIZE buffer reused on every
// udp_read_cb invocation.
func (a *Aggregator) udpReadLoop(ctx context.Context, errCh chan<- error) {
	buf := make([]byte, dataBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := a.conn.ReadFromUDP(buf[:dataBufSize-1])
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.log.Errorf("read() failed: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		if buf[n-1] != '\n' {
			buf[n] = '\n'
			n++
		}
		a.handleDatagram(buf[:n])
	}
}

// handleDatagram splits a single datagram into newline-terminated lines and
// feeds each to the line parser, all under one lock acquisition so that a
// multi-line datagram is processed atomically with respect to the flush
// timer and the send watcher.
func (a *Aggregator) handleDatagram(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics.datagramsReceived.Inc()

	start := 0
	for start < len(data) {
		nl := bytes.IndexByte(data[start:], '\n')
		if nl < 0 {
			break
		}
		end := start + nl + 1
		a.processLine(data[start:end])
		start = end
	}
}

// processLine implements §4.1: validate length, split on the first ':',
// look up (or create) the slot, and dispatch the remainder to insertValues.
// Caller must hold a.mu.
func (a *Aggregator) processLine(line []byte) {
	a.metrics.linesReceived.Inc()

	if len(line) <= 6 || len(line) >= packetMax-maxCounterLength {
		a.log.Errorf("invalid length %d of metric %q", len(line)-1, trimNL(line))
		a.metrics.parseErrors.Inc()
		return
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		a.log.Errorf("invalid metric %q", trimNL(line))
		a.metrics.parseErrors.Inc()
		return
	}

	name := line[:colon+1]
	slotIdx := a.findOrAdd(name)
	a.insertValues(slotIdx, name, line[colon+1:])

	a.metrics.activeBytes.Set(float64(a.slots.activeBytes))
}

func trimNL(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		return line[:len(line)-1]
	}
	return line
}
