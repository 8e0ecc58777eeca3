package genet

import "time"

// onAcknowledge folds one observed round-trip-time sample into the
// peer's RTT/variance estimate using the same 1/8, 1/4-weighted update
// TCP's Jacobson/Karels estimator uses, then — once a full
// packetThrottleInterval has elapsed — snapshots the interval's lowest
// RTT and highest variance into last*/throttleAdjust, per spec.md §4.F
// "RTT / throttle on ACK".
func (p *Peer) onAcknowledge(rtt time.Duration, now time.Time) {
	if rtt < 0 {
		rtt = 0
	}
	if p.lowestRoundTripTime == 0 || rtt < p.lowestRoundTripTime {
		p.lowestRoundTripTime = rtt
	}

	diff := rtt - p.roundTripTime
	if diff < 0 {
		diff = -diff
	}
	p.roundTripTimeVariance -= p.roundTripTimeVariance / 4
	if rtt >= p.roundTripTime {
		p.roundTripTime += (rtt - p.roundTripTime) / 8
	} else {
		p.roundTripTime -= (p.roundTripTime - rtt) / 8
	}
	p.roundTripTimeVariance += diff / 4
	if p.roundTripTimeVariance > p.highestRoundTripTimeVariance {
		p.highestRoundTripTimeVariance = p.roundTripTimeVariance
	}

	if p.host != nil && p.host.metrics != nil {
		p.host.metrics.roundTripTime.Observe(rtt.Seconds())
	}

	if p.packetThrottleEpoch.IsZero() {
		p.packetThrottleEpoch = now
		return
	}
	if now.Sub(p.packetThrottleEpoch) < p.packetThrottleInterval {
		return
	}

	p.throttleAdjust(p.lowestRoundTripTime)
	p.lastRoundTripTime = p.lowestRoundTripTime
	p.lastRoundTripTimeVariance = p.highestRoundTripTimeVariance
	if p.lastRoundTripTimeVariance < time.Millisecond {
		p.lastRoundTripTimeVariance = time.Millisecond
	}
	p.lowestRoundTripTime = 0
	p.highestRoundTripTimeVariance = 0
	p.packetThrottleEpoch = now
}

// throttleAdjust nudges the peer's throttle probability up or down for
// one interval, returning +1/0/-1 to say which way it moved — accelerate
// when this interval's RTT beat the last one, decelerate when it blew
// past it plus twice its variance, hold otherwise. Grounded on the
// teacher's raknet congestion window in spirit; the exact accelerate/
// decelerate-by-constant shape follows spec.md §4.F.
func (p *Peer) throttleAdjust(rtt time.Duration) int {
	switch {
	case p.lastRoundTripTime <= p.lastRoundTripTimeVariance:
		p.packetThrottle = p.packetThrottleLimit
		return 0
	case rtt < p.lastRoundTripTime:
		p.packetThrottle += p.packetThrottleAcceleration
		if p.packetThrottle > p.packetThrottleLimit {
			p.packetThrottle = p.packetThrottleLimit
		}
		return 1
	case rtt > p.lastRoundTripTime+2*p.lastRoundTripTimeVariance:
		if p.packetThrottle > p.packetThrottleDeceleration {
			p.packetThrottle -= p.packetThrottleDeceleration
		} else {
			p.packetThrottle = 0
		}
		return -1
	default:
		return 0
	}
}

// updatePacketLoss recomputes the peer's loss ratio EWMA once per
// packetLossInterval from the reliable commands sent/lost during that
// window, then resets both counters for the next window — spec.md §4.F
// "Packet loss tracking".
func (p *Peer) updatePacketLoss(now time.Time) {
	if p.packetLossEpoch.IsZero() {
		p.packetLossEpoch = now
		return
	}
	if now.Sub(p.packetLossEpoch) < PacketLossInterval {
		return
	}

	if p.packetsSent > 0 {
		ratio := p.packetsLost * PacketLossScale / p.packetsSent
		p.packetLossVariance -= p.packetLossVariance / 4
		if ratio >= p.packetLoss {
			p.packetLoss += (ratio - p.packetLoss) / 8
			p.packetLossVariance += (ratio - p.packetLoss) / 4
		} else {
			p.packetLoss -= (p.packetLoss - ratio) / 8
			p.packetLossVariance += (p.packetLoss - ratio) / 4
		}
	}

	p.packetLossEpoch = now
	p.packetsSent = 0
	p.packetsLost = 0
}

// throttleBandwidth recomputes every connected peer's window size from
// the host's outgoing bandwidth cap split evenly across connected peers,
// further capped by each peer's own stated incoming bandwidth — the
// documented contract spec.md's Open Question on bandwidth throttling
// leaves authoritative in place of exact original arithmetic (original_
// source/host.c was not present in the retrieved pack; see DESIGN.md).
func (h *Host) throttleBandwidth(now time.Time) {
	h.bandwidthThrottleEpoch = now
	h.recalculateBandwidthLimits = false

	connected := 0
	for _, p := range h.peers {
		if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
			connected++
		}
	}
	if connected == 0 {
		return
	}

	var fairShare uint32
	if h.outgoingBandwidth > 0 {
		fairShare = h.outgoingBandwidth / uint32(connected)
	}

	for _, p := range h.peers {
		if p.state != PeerStateConnected && p.state != PeerStateDisconnectLater {
			continue
		}
		limit := fairShare
		if p.incomingBandwidth > 0 && (limit == 0 || p.incomingBandwidth < limit) {
			limit = p.incomingBandwidth
		}
		if limit == 0 {
			p.windowSize = MaxWindowSize
			continue
		}
		p.windowSize = clampU32(limit/PacketThrottleScale, MinWindowSize, MaxWindowSize)
	}
}
