package genet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnAcknowledgeTracksLowestRTT(t *testing.T) {
	p := newPeer(nil, 0)
	now := time.Now()
	p.onAcknowledge(100*time.Millisecond, now)
	p.onAcknowledge(50*time.Millisecond, now)
	p.onAcknowledge(80*time.Millisecond, now)
	require.Equal(t, 50*time.Millisecond, p.lowestRoundTripTime)
}

func TestOnAcknowledgeSnapshotsAfterInterval(t *testing.T) {
	p := newPeer(nil, 0)
	p.packetThrottleInterval = 10 * time.Millisecond
	start := time.Now()

	p.onAcknowledge(40*time.Millisecond, start)
	require.True(t, p.lastRoundTripTime == 0, "no snapshot before the first interval elapses")

	later := start.Add(20 * time.Millisecond)
	p.onAcknowledge(40*time.Millisecond, later)
	require.NotZero(t, p.lastRoundTripTime)
	require.Equal(t, later, p.packetThrottleEpoch)
}

func TestThrottleAdjustAcceleratesOnImprovedRTT(t *testing.T) {
	p := newPeer(nil, 0)
	p.packetThrottle = 16
	p.packetThrottleLimit = 32
	p.packetThrottleAcceleration = 2
	p.lastRoundTripTime = 100 * time.Millisecond
	p.lastRoundTripTimeVariance = 5 * time.Millisecond

	dir := p.throttleAdjust(50 * time.Millisecond)
	require.Equal(t, 1, dir)
	require.Equal(t, uint32(18), p.packetThrottle)
}

func TestThrottleAdjustDeceleratesOnWorseRTT(t *testing.T) {
	p := newPeer(nil, 0)
	p.packetThrottle = 16
	p.packetThrottleDeceleration = 4
	p.lastRoundTripTime = 100 * time.Millisecond
	p.lastRoundTripTimeVariance = 5 * time.Millisecond

	dir := p.throttleAdjust(200 * time.Millisecond)
	require.Equal(t, -1, dir)
	require.Equal(t, uint32(12), p.packetThrottle)
}

func TestThrottleAdjustDecelerateFloorsAtZero(t *testing.T) {
	p := newPeer(nil, 0)
	p.packetThrottle = 2
	p.packetThrottleDeceleration = 10
	p.lastRoundTripTime = 100 * time.Millisecond
	p.lastRoundTripTimeVariance = 5 * time.Millisecond

	p.throttleAdjust(200 * time.Millisecond)
	require.Equal(t, uint32(0), p.packetThrottle)
}

func TestThrottleAdjustHoldsWithinVarianceBand(t *testing.T) {
	p := newPeer(nil, 0)
	p.packetThrottle = 16
	p.lastRoundTripTime = 100 * time.Millisecond
	p.lastRoundTripTimeVariance = 30 * time.Millisecond

	dir := p.throttleAdjust(110 * time.Millisecond)
	require.Equal(t, 0, dir)
	require.Equal(t, uint32(16), p.packetThrottle)
}

func TestUpdatePacketLossComputesRatioAndResets(t *testing.T) {
	p := newPeer(nil, 0)
	start := time.Now()
	p.packetLossEpoch = start
	p.packetsSent = 100
	p.packetsLost = 10

	p.updatePacketLoss(start.Add(PacketLossInterval))
	require.NotZero(t, p.packetLoss)
	require.Equal(t, uint32(0), p.packetsSent)
	require.Equal(t, uint32(0), p.packetsLost)
}

func TestUpdatePacketLossNoopBeforeIntervalElapses(t *testing.T) {
	p := newPeer(nil, 0)
	start := time.Now()
	p.packetLossEpoch = start
	p.packetsSent = 10
	p.packetsLost = 10

	p.updatePacketLoss(start.Add(time.Millisecond))
	require.Equal(t, uint32(10), p.packetsSent, "counters must survive until a full interval elapses")
}

func TestThrottleBandwidthSplitsEvenlyAmongConnectedPeers(t *testing.T) {
	h := &Host{outgoingBandwidth: 64000, peers: make([]*Peer, 2)}
	for i := range h.peers {
		p := newPeer(h, uint16(i))
		p.state = PeerStateConnected
		h.peers[i] = p
	}

	h.throttleBandwidth(time.Now())
	for _, p := range h.peers {
		require.Equal(t, clampU32(32000/PacketThrottleScale, MinWindowSize, MaxWindowSize), p.windowSize)
	}
	require.False(t, h.recalculateBandwidthLimits)
}

func TestThrottleBandwidthCapsAtPeerIncomingBandwidth(t *testing.T) {
	h := &Host{outgoingBandwidth: 1_000_000, peers: make([]*Peer, 1)}
	p := newPeer(h, 0)
	p.state = PeerStateConnected
	p.incomingBandwidth = 1000
	h.peers[0] = p

	h.throttleBandwidth(time.Now())
	require.Equal(t, clampU32(1000/PacketThrottleScale, MinWindowSize, MaxWindowSize), p.windowSize)
}

func TestThrottleBandwidthUnlimitedGivesMaxWindow(t *testing.T) {
	h := &Host{peers: make([]*Peer, 1)}
	p := newPeer(h, 0)
	p.state = PeerStateConnected
	h.peers[0] = p

	h.throttleBandwidth(time.Now())
	require.Equal(t, uint32(MaxWindowSize), p.windowSize)
}

func TestThrottleBandwidthIgnoresDisconnectedPeers(t *testing.T) {
	h := &Host{outgoingBandwidth: 32000, peers: make([]*Peer, 2)}
	h.peers[0] = newPeer(h, 0)
	h.peers[0].state = PeerStateConnected
	h.peers[1] = newPeer(h, 1) // stays disconnected
	h.peers[1].windowSize = 999

	h.throttleBandwidth(time.Now())
	require.Equal(t, uint32(999), h.peers[1].windowSize, "disconnected peers must not be touched")
}
