package aggregator

import "bytes"

// slotRecord is one accumulator for a distinct metric name within the
// currently-filling packet. The buffer is a fixed [packetMax]byte array
// rather than a slice so the whole Slot Table is allocated once, up front,
// with no per-metric heap allocation on the hot path.
type slotRecord struct {
	buf        [packetMax]byte
	nameLen    int
	totalLen   int
	typ        metricType
	counterSum float64
}

// empty reports whether the slot has never had a value appended.
func (s *slotRecord) empty() bool {
	return s.totalLen == s.nameLen
}

// slotTable is the fixed array of per-metric-name accumulators for the
// packet currently being filled.
type slotTable struct {
	slots       [numSlots]slotRecord
	used        int
	activeBytes int
}

// reset logically destroys every slot in the table; it does not need to
// clear slot storage, since `used` bounds what is considered live.
func (t *slotTable) reset() {
	t.used = 0
	t.activeBytes = 0
}

// findOrAdd implements §4.2: a linear scan over the slots in use, comparing
// length before bytes, and — on miss — a capacity check against the name
// alone (and against the number of free slots) before a fresh slot is
// allocated. Caller must hold a.mu.
func (a *Aggregator) findOrAdd(name []byte) int {
	for i := 0; i < a.slots.used; i++ {
		s := &a.slots.slots[i]
		if s.nameLen == len(name) && bytes.Equal(s.buf[:s.nameLen], name) {
			return i
		}
	}
	if a.slots.used == numSlots || a.slots.activeBytes+len(name) > packetMax {
		a.scheduleFlush()
	}
	return a.addSlot(name)
}

// addSlot allocates the next slot, initializing it with name and type
// UNKNOWN. Caller must hold a.mu.
func (a *Aggregator) addSlot(name []byte) int {
	idx := a.slots.used
	s := &a.slots.slots[idx]
	s.nameLen = len(name)
	s.totalLen = len(name)
	s.typ = typeUnknown
	s.counterSum = 0
	copy(s.buf[:], name)
	a.slots.activeBytes += len(name)
	a.slots.used++
	a.metrics.slotsUsed.Set(float64(a.slots.used))
	return idx
}
