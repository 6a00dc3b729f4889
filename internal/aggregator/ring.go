package aggregator

// packetRing is the fixed array of egress packet buffers sitting between
// the Flush Engine and the Send Watcher. Buffers in [flushIdx, activeIdx)
// (mod ringSize) are queued for send; a flush of a packet whose slots are all
// empty queues a zero-length buffer, which the send path skips. The buffer
// at activeIdx has zero length until the next flush writes into it.
type packetRing struct {
	buffers   [ringSize][packetMax]byte
	lengths   [ringSize]int
	activeIdx int
	flushIdx  int
}

func (r *packetRing) idle() bool {
	return r.activeIdx == r.flushIdx && r.lengths[r.activeIdx] == 0
}
