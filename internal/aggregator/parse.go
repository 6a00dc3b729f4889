package aggregator

import (
	"bytes"
	"fmt"
	"strconv"
)

// insertValues implements §4.1 steps 3-5: walk the `:`-delimited value
// segments following the metric name, aggregating counters and
// concatenating everything else. slotIdx may be re-pointed mid-loop if a
// segment's projected size would overflow the active packet. Caller must
// hold a.mu.
func (a *Aggregator) insertValues(slotIdx int, name, remainder []byte) {
	pos := 0
	for pos < len(remainder) {
		var dataLen int
		if nextColon := bytes.IndexByte(remainder[pos:], ':'); nextColon < 0 {
			dataLen = len(remainder) - pos
		} else {
			dataLen = nextColon + 1
		}
		seg := remainder[pos : pos+dataLen]
		pos += dataLen

		pipe := bytes.IndexByte(seg, '|')
		if pipe < 0 {
			a.log.Errorf("invalid metric data %q", seg)
			a.metrics.parseErrors.Inc()
			continue
		}

		segType := typeOther
		if seg[pipe+1] == 'c' {
			segType = typeCounter
		}

		slot := &a.slots.slots[slotIdx]
		if slot.typ == typeUnknown {
			slot.typ = segType
		} else if slot.typ != segType {
			a.log.Errorf("got improper metric type for %q", slot.buf[:slot.nameLen])
			a.metrics.parseErrors.Inc()
			continue
		}

		projected := dataLen
		if segType == typeCounter {
			projected = maxCounterLength
		}
		if a.slots.activeBytes+projected > packetMax {
			a.scheduleFlush()
			slotIdx = a.addSlot(name)
			slot = &a.slots.slots[slotIdx]
			slot.typ = segType
		}

		if segType == typeCounter {
			a.insertCounter(slot, seg, pipe)
		} else {
			a.insertOther(slot, seg)
		}
	}
}

// insertCounter parses the value and optional |@rate suffix, adds the
// rate-adjusted contribution to the running sum, and re-serializes the
// slot's single counter segment in place (overwriting any prior one).
func (a *Aggregator) insertCounter(slot *slotRecord, seg []byte, pipe int) {
	valuePart := seg[:pipe]
	rate := 1.0

	rest := seg[pipe+2:] // past the type letter
	if ridx := bytes.IndexByte(rest, '|'); ridx >= 0 && ridx+2 <= len(rest)-1 && rest[ridx+1] == '@' {
		rateStr := rest[ridx+2 : len(rest)-1] // exclude trailing ':' or '\n'
		if r, err := strconv.ParseFloat(string(rateStr), 64); err == nil && r != 0 {
			rate = r
		} else {
			a.log.Tracef("invalid rate in counter data %q", seg)
		}
	}

	val, err := strconv.ParseFloat(string(valuePart), 64)
	if err != nil {
		a.log.Errorf("invalid value in counter data %q", seg)
		a.metrics.parseErrors.Inc()
		return
	}

	slot.counterSum += val / rate
	serialized := fmt.Sprintf("%.15g|c\n", slot.counterSum)
	copy(slot.buf[slot.nameLen:], serialized)

	a.slots.activeBytes -= slot.totalLen
	slot.totalLen = slot.nameLen + len(serialized)
	a.slots.activeBytes += slot.totalLen
}

// insertOther appends the raw segment bytes, forcing the newly-copied last
// byte to ':' so the slot payload always ends in ':' until flush-time
// serialization flips the slot's final byte to '\n'.
func (a *Aggregator) insertOther(slot *slotRecord, seg []byte) {
	copy(slot.buf[slot.totalLen:], seg)
	slot.buf[slot.totalLen+len(seg)-1] = ':'
	slot.totalLen += len(seg)
	a.slots.activeBytes += len(seg)
}
