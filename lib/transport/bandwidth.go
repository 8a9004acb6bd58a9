package transport

import (
	"github.com/go-i2p/logger"
)

// RecordSentBytes adds n to the cumulative sent-byte counter. Safe to call
// from any backend I/O completion context.
func (tm *TransportManager) RecordSentBytes(n uint64) {
	tm.totalSent.Add(n)
}

// RecordReceivedBytes adds n to the cumulative received-byte counter. Safe to
// call from any backend I/O completion context.
func (tm *TransportManager) RecordReceivedBytes(n uint64) {
	tm.totalReceived.Add(n)
}

// TotalSentBytes returns the cumulative bytes sent across all transports.
func (tm *TransportManager) TotalSentBytes() uint64 {
	return tm.totalSent.Load()
}

// TotalReceivedBytes returns the cumulative bytes received across all
// transports.
func (tm *TransportManager) TotalReceivedBytes() uint64 {
	return tm.totalReceived.Load()
}

// InBandwidth returns the inbound rate of the most recent bandwidth window,
// in bytes per second.
func (tm *TransportManager) InBandwidth() uint64 {
	return tm.inBandwidth.Load()
}

// OutBandwidth returns the outbound rate of the most recent bandwidth window,
// in bytes per second.
func (tm *TransportManager) OutBandwidth() uint64 {
	return tm.outBandwidth.Load()
}

// IsBandwidthExceeded reports whether the busier direction of the most recent
// bandwidth window exceeds the configured low-bandwidth limit.
func (tm *TransportManager) IsBandwidthExceeded() bool {
	in, out := tm.inBandwidth.Load(), tm.outBandwidth.Load()
	return max(in, out) > tm.cfg.LowBandwidthLimit
}

// updateBandwidth replaces the rate snapshot with the counter deltas since
// the previous tick. Runs on the loop goroutine.
func (tm *TransportManager) updateBandwidth() {
	now := tm.clk.Now()
	elapsed := now.Sub(tm.lastBandwidthAt).Seconds()
	if elapsed <= 0 {
		return
	}
	sent := tm.totalSent.Load()
	received := tm.totalReceived.Load()

	tm.outBandwidth.Store(uint64(float64(sent-tm.lastSentBytes) / elapsed))
	tm.inBandwidth.Store(uint64(float64(received-tm.lastReceivedBytes) / elapsed))

	tm.lastSentBytes = sent
	tm.lastReceivedBytes = received
	tm.lastBandwidthAt = now

	if tm.IsBandwidthExceeded() {
		log.WithFields(logger.Fields{
			"at":            "(TransportManager) updateBandwidth",
			"in_bandwidth":  tm.inBandwidth.Load(),
			"out_bandwidth": tm.outBandwidth.Load(),
			"limit":         tm.cfg.LowBandwidthLimit,
		}).Debug("low-bandwidth limit exceeded")
	}
}
