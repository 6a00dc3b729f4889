package aggregator

import (
	"context"
	"time"
)

// scheduleFlush implements §4.4. It always leaves the Slot Table empty on
// return — whether it serialized the active packet into the ring for send,
// or dropped it because the ring is full; each of the two return paths
// resets the table. Caller must hold a.mu.
func (a *Aggregator) scheduleFlush() {
	newIdx := (a.ring.activeIdx + 1) % ringSize
	needToArm := a.ring.activeIdx == a.ring.flushIdx

	if a.ring.lengths[newIdx] != 0 {
		a.log.Errorf("previous flush is not completed, losing data")
		a.metrics.ringOverflows.Inc()
		a.slots.reset()
		a.metrics.slotsUsed.Set(0)
		return
	}

	buf := &a.ring.buffers[a.ring.activeIdx]
	n := 0
	for i := 0; i < a.slots.used; i++ {
		s := &a.slots.slots[i]
		if s.empty() {
			continue
		}
		n += copy(buf[n:], s.buf[:s.totalLen])
		buf[n-1] = '\n'
	}
	a.ring.lengths[a.ring.activeIdx] = n
	a.ring.activeIdx = newIdx

	a.slots.reset()
	a.metrics.slotsUsed.Set(0)
	a.metrics.activeBytes.Set(0)
	a.metrics.flushesTotal.Inc()

	if needToArm {
		select {
		case a.armCh <- struct{}{}:
		default:
		}
	}
}

// flushTimerTick implements §4.6: force a flush if the active packet has
// been idle longer than the configured interval.
func (a *Aggregator) flushTimerTick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.slots.activeBytes > 0 && time.Since(a.downstream.lastFlushTime) > a.cfg.DownstreamFlushInterval {
		a.scheduleFlush()
	}
}

// sendWatcherLoop implements §4.5: park on the arm channel, then drain every
// queued ring buffer before going back to waiting.
func (a *Aggregator) sendWatcherLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.armCh:
			a.drainRing()
		}
	}
}

// drainRing sends every buffer in [flushIdx, activeIdx) in order, advancing
// flushIdx as it goes. A sendto error is logged and counted, but the buffer
// is still considered sent — UDP is best-effort, and retrying would
// desynchronize the ring.
func (a *Aggregator) drainRing() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.ring.flushIdx != a.ring.activeIdx {
		idx := a.ring.flushIdx
		length := a.ring.lengths[idx]
		if length > 0 {
			_, err := a.sendConn.WriteToUDP(a.ring.buffers[idx][:length], a.downstream.addr)
			if err != nil {
				a.log.Errorf("sendto() failed: %v", err)
				a.metrics.sendErrors.Inc()
			} else {
				a.metrics.packetsSent.Inc()
				a.metrics.bytesSent.Add(float64(length))
			}
			a.downstream.lastFlushTime = time.Now()
		}
		a.ring.lengths[idx] = 0
		a.ring.flushIdx = (idx + 1) % ringSize
	}
}
