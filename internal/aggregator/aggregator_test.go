package aggregator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hulu/statsd-aggregator/internal/config"
)

// nopLogger discards everything; used so tests can exercise error paths
// without asserting on log output.
type nopLogger struct{}

func (nopLogger) Tracef(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// newTestAggregator builds an Aggregator with no real sockets, suitable for
// exercising the Slot Table / Packet Ring / parser in isolation.
func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a := &Aggregator{
		cfg: &config.Config{
			DownstreamFlushInterval: time.Second,
		},
		log:     nopLogger{},
		metrics: newMetrics(),
	}
	a.slots.reset()
	a.downstream.lastFlushTime = time.Now()
	return a
}

// feed runs each line (without a trailing '\n', added here) through
// handleDatagram individually, one datagram per line, so each test's
// flush-triggering is deterministic regardless of packing across lines.
func feed(a *Aggregator, lines ...string) {
	for _, line := range lines {
		a.handleDatagram([]byte(line + "\n"))
	}
}

// flushedPacket returns the contents of the most recently closed (but not
// yet sent) ring buffer, i.e. the one just before activeIdx.
func flushedPacket(a *Aggregator) string {
	idx := (a.ring.activeIdx - 1 + ringSize) % ringSize
	return string(a.ring.buffers[idx][:a.ring.lengths[idx]])
}

func TestCounterMerge(t *testing.T) {
	a := newTestAggregator(t)
	feed(a, "foo:1|c", "foo:2|c", "foo:3|c")
	a.scheduleFlush()
	assert.Equal(t, "foo:6|c\n", flushedPacket(a))
}

func TestSampledCounter(t *testing.T) {
	a := newTestAggregator(t)
	feed(a, "bar:10|c|@0.1")
	a.scheduleFlush()
	assert.Equal(t, "bar:100|c\n", flushedPacket(a))
}

func TestMixedTypeRejection(t *testing.T) {
	a := newTestAggregator(t)
	feed(a, "baz:5|c", "baz:7|ms")
	a.scheduleFlush()
	assert.Equal(t, "baz:5|c\n", flushedPacket(a))
}

func TestMultiValueOneLine(t *testing.T) {
	a := newTestAggregator(t)
	feed(a, "q:1|c:2|c:3|c")
	a.scheduleFlush()
	assert.Equal(t, "q:6|c\n", flushedPacket(a))
}

func TestOtherConcatenation(t *testing.T) {
	a := newTestAggregator(t)
	feed(a, "t:200|ms", "t:250|ms")
	a.scheduleFlush()
	assert.Equal(t, "t:200|ms:250|ms\n", flushedPacket(a))
}

func TestCapacityRollover(t *testing.T) {
	a := newTestAggregator(t)

	// Each distinct name is long enough that ~100 of them overflow one
	// packetMax-sized buffer, forcing at least one mid-stream flush.
	var names []string
	for i := 0; i < 120; i++ {
		names = append(names, strings.Repeat("n", 10)+string(rune('a'+i%26))+string(rune('A'+i/26)))
	}
	for _, n := range names {
		a.handleDatagram([]byte(n + ":1|c\n"))
	}
	a.scheduleFlush()

	// At least one intermediate flush must have happened automatically
	// (activeIdx has moved at least two buffers past flushIdx), and every
	// queued buffer must be within the packet size bound.
	require.NotEqual(t, a.ring.flushIdx, a.ring.activeIdx, "ring should hold queued packets")
	require.GreaterOrEqual(t, (a.ring.activeIdx-a.ring.flushIdx+ringSize)%ringSize, 2, "expected an automatic flush before the final one")
	seen := map[string]bool{}
	for idx := a.ring.flushIdx; idx != a.ring.activeIdx; idx = (idx + 1) % ringSize {
		length := a.ring.lengths[idx]
		require.LessOrEqual(t, length, packetMax)
		packet := string(a.ring.buffers[idx][:length])
		for _, line := range strings.Split(strings.TrimRight(packet, "\n"), "\n") {
			name := strings.SplitN(line, ":", 2)[0]
			seen[name] = true
		}
	}
	for _, n := range names {
		assert.True(t, seen[n], "expected name %q in some flushed packet", n)
	}
}

func TestIdempotentEmptyFlush(t *testing.T) {
	a := newTestAggregator(t)
	startFlushIdx := a.ring.flushIdx
	a.scheduleFlush()
	assert.Equal(t, startFlushIdx, a.ring.flushIdx)
	assert.Equal(t, 0, a.slots.used)
	assert.Equal(t, 0, a.slots.activeBytes)
}

func TestPacketSizeBound(t *testing.T) {
	a := newTestAggregator(t)
	for i := 0; i < 300; i++ {
		a.handleDatagram([]byte("m" + string(rune('a'+i%26)) + string(rune('A'+(i/26)%26)) + string(rune('0'+i/676)) + ":1|c\n"))
	}
	a.scheduleFlush()
	for i := 0; i < ringSize; i++ {
		require.LessOrEqual(t, a.ring.lengths[i], packetMax)
	}
}

func TestInvalidLineDropped(t *testing.T) {
	a := newTestAggregator(t)
	a.handleDatagram([]byte("noColonHere\n"))
	assert.Equal(t, 0, a.slots.used)
}

func TestLineLengthBoundsRespected(t *testing.T) {
	a := newTestAggregator(t)
	a.handleDatagram([]byte("a:1\n")) // length 4, too short (<=6)
	assert.Equal(t, 0, a.slots.used)
}

func TestMissingTrailingNewlineIsAppended(t *testing.T) {
	a := newTestAggregator(t)
	// handleDatagram expects full lines; udpReadLoop is responsible for
	// appending a missing trailing '\n' before calling it. Exercise that
	// seam directly here.
	buf := make([]byte, dataBufSize)
	n := copy(buf, "foo:1|c")
	if buf[n-1] != '\n' {
		buf[n] = '\n'
		n++
	}
	a.handleDatagram(buf[:n])
	a.scheduleFlush()
	assert.Equal(t, "foo:1|c\n", flushedPacket(a))
}
