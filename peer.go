package genet

import (
	"container/list"
	"time"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/time/rate"
)

// PeerState is the peer connection lifecycle state, see spec.md §4.D.
type PeerState uint8

const (
	PeerStateDisconnected PeerState = iota
	PeerStateConnecting
	PeerStateAcknowledgingConnect
	PeerStateConnectionPending
	PeerStateConnected
	PeerStateDisconnectLater
	PeerStateDisconnecting
	PeerStateAcknowledgingDisconnect
	PeerStateZombie
)

func (s PeerState) String() string {
	switch s {
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateAcknowledgingConnect:
		return "acknowledging_connect"
	case PeerStateConnectionPending:
		return "connection_pending"
	case PeerStateConnected:
		return "connected"
	case PeerStateDisconnectLater:
		return "disconnect_later"
	case PeerStateDisconnecting:
		return "disconnecting"
	case PeerStateAcknowledgingDisconnect:
		return "acknowledging_disconnect"
	case PeerStateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// systemChannelID addresses commands that are not associated with any
// application channel (CONNECT, VERIFY_CONNECT, DISCONNECT, PING,
// BANDWIDTH_LIMIT, THROTTLE_CONFIGURE, ACKNOWLEDGE). It sequences
// independently of the per-application-channel counters in channel.go.
const systemChannelID = 0xFF

// Peer represents one connection endpoint of a Host, per spec.md §3.
// All fields are touched only from the Host's single service goroutine
// (spec.md §5); Peer is not safe for concurrent use.
type Peer struct {
	host    *Host
	index   uint16 // stable slot index == incoming peer ID
	address Address

	outgoingPeerID uint16 // ID the remote assigned us, written into our outgoing datagram headers
	challenge      uint32

	state PeerState

	mtu               uint16
	windowSize        uint32
	incomingBandwidth uint32
	outgoingBandwidth uint32

	channels []*channel

	// peer-level (system-channel) sequencing, independent of per-channel counters.
	outgoingReliableSequenceNumber uint32
	incomingReliableSequenceNumber uint32

	// out-queues, spec.md §3 "Peer".
	acknowledgements           *list.List // of *acknowledgement
	sentReliableCommands       *list.List // of *outgoingCommand, in flight
	sentUnreliableCommands     []*outgoingCommand
	outgoingReliableCommands   []*outgoingCommand
	outgoingUnreliableCommands []*outgoingCommand

	// RTT estimation, spec.md §4.F "RTT / throttle on ACK".
	roundTripTime                time.Duration
	roundTripTimeVariance        time.Duration
	lowestRoundTripTime          time.Duration
	highestRoundTripTimeVariance time.Duration
	lastRoundTripTime            time.Duration
	lastRoundTripTimeVariance    time.Duration

	// throttle, spec.md §3/§4.F.
	packetThrottle             uint32
	packetThrottleLimit        uint32
	packetThrottleAcceleration uint32
	packetThrottleDeceleration uint32
	packetThrottleInterval     time.Duration
	packetThrottleCounter      uint32
	packetThrottleEpoch        time.Time

	// packet-loss tracking.
	packetsSent        uint32
	packetsLost        uint32
	packetLoss         uint32
	packetLossVariance uint32
	packetLossEpoch    time.Time

	reliableDataInTransit uint32

	lastSendTime    time.Time
	lastReceiveTime time.Time
	nextTimeout     time.Time
	earliestTimeout time.Time

	pingInterval time.Duration

	// unsequenced replay window, spec.md §4.F "Unsequenced replay window".
	outgoingUnsequencedGroup uint32
	incomingUnsequencedGroup uint32
	unsequencedWindow        *bitset.BitSet

	disconnectData uint32

	// byte-rate cap set to the host's outgoing bandwidth, layered
	// alongside the probability throttle above (SPEC_FULL.md §3 domain
	// stack); nil when the host's outgoing bandwidth is unlimited.
	outgoingLimiter *rate.Limiter
}

// defaultRoundTripTime is the RTT estimate a freshly admitted peer
// starts with, before any ACK has been observed.
const defaultRoundTripTime = 500 * time.Millisecond

func newPeer(host *Host, index uint16) *Peer {
	return &Peer{
		host:                       host,
		index:                      index,
		state:                      PeerStateDisconnected,
		acknowledgements:           list.New(),
		sentReliableCommands:       list.New(),
		sentUnreliableCommands:     nil,
		outgoingReliableCommands:   nil,
		outgoingUnreliableCommands: nil,
		packetThrottle:             DefaultPacketThrottle,
		packetThrottleLimit:        PacketThrottleScale,
		packetThrottleAcceleration: PacketThrottleAcceleration,
		packetThrottleDeceleration: PacketThrottleDeceleration,
		packetThrottleInterval:     PacketThrottleInterval,
		pingInterval:               PingInterval,
		unsequencedWindow:          bitset.New(UnsequencedWindowSize),
		roundTripTime:              defaultRoundTripTime,
		roundTripTimeVariance:      defaultRoundTripTime / 2,
	}
}

// reset clears a peer back to its pristine DISCONNECTED state so its
// slot can be reused, per spec.md §3's invariant that a peer's table
// index is stable for the peer's lifetime even as the slot is recycled.
func (p *Peer) reset() {
	for _, pkt := range p.queuedPackets() {
		pkt.release()
	}
	idx, host := p.index, p.host
	*p = *newPeer(host, idx)
}

// queuedPackets collects every Packet this peer still references,
// across all out-queues and channels, so reset/destroy can release
// them. See spec.md §3 Packet refcount invariant.
func (p *Peer) queuedPackets() []*Packet {
	var pkts []*Packet
	collect := func(cmds []*outgoingCommand) {
		for _, c := range cmds {
			if c.packet != nil {
				pkts = append(pkts, c.packet)
			}
		}
	}
	collect(p.outgoingReliableCommands)
	collect(p.outgoingUnreliableCommands)
	collect(p.sentUnreliableCommands)
	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		if c := e.Value.(*outgoingCommand); c.packet != nil {
			pkts = append(pkts, c.packet)
		}
	}
	for _, ch := range p.channels {
		if ch == nil {
			continue
		}
		for _, q := range []*list.List{ch.incomingReliable, ch.incomingUnreliable} {
			for e := q.Front(); e != nil; e = e.Next() {
				if c := e.Value.(*incomingCommand); c.packet != nil {
					pkts = append(pkts, c.packet)
				}
			}
		}
	}
	return pkts
}

// Connected reports whether the peer is in a state that exchanges
// application data: CONNECTED or DISCONNECT_LATER.
func (p *Peer) Connected() bool {
	switch p.state {
	case PeerStateConnected, PeerStateDisconnectLater:
		return true
	default:
		return false
	}
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerState { return p.state }

// Address returns the peer's remote endpoint.
func (p *Peer) Address() Address { return p.address }

// ChannelCount returns the number of channels negotiated for this peer.
func (p *Peer) ChannelCount() int { return len(p.channels) }

// RoundTripTime returns the current smoothed round-trip-time estimate.
func (p *Peer) RoundTripTime() time.Duration { return p.roundTripTime }

// PacketsLost returns the number of reliable retransmits this peer has
// triggered during the current packet-loss tracking interval (see
// updatePacketLoss in throttle.go); it resets each interval like the
// ratio it feeds.
func (p *Peer) PacketsLost() uint32 { return p.packetsLost }

// PacketLoss returns the current loss ratio scaled by PacketLossScale.
func (p *Peer) PacketLoss() uint32 { return p.packetLoss }

// SetPingInterval overrides the idle-peer ping cadence for this peer
// alone, supplemented from original_source/peer.c's
// enet_peer_ping_interval (see SPEC_FULL.md §4).
func (p *Peer) SetPingInterval(d time.Duration) { p.pingInterval = d }

// ThrottleConfigure enqueues a THROTTLE_CONFIGURE command reconfiguring
// the peer's own throttle parameters, per spec.md's public API surface.
func (p *Peer) ThrottleConfigure(interval, acceleration, deceleration uint32) {
	p.packetThrottleInterval = time.Duration(interval) * time.Millisecond
	p.packetThrottleAcceleration = acceleration
	p.packetThrottleDeceleration = deceleration

	cmd := &outgoingCommand{
		header: commandHeader{Command: cmdThrottleConfigure, ChannelID: systemChannelID},
	}
	w := newWireWriter(throttleConfigureVariantSize)
	w.writeThrottleConfigure(throttleConfigureVariant{
		PacketThrottleInterval:     interval,
		PacketThrottleAcceleration: acceleration,
		PacketThrottleDeceleration: deceleration,
	})
	cmd.variant = w.buf
	p.queueOutgoingReliable(cmd)
}

// queueOutgoingReliable assigns the next peer-level reliable sequence
// number and appends cmd to the outgoing-reliable queue.
func (p *Peer) queueOutgoingReliable(cmd *outgoingCommand) {
	cmd.header.ReliableSequenceNumber = p.outgoingReliableSequenceNumber
	p.outgoingReliableSequenceNumber++
	p.outgoingReliableCommands = append(p.outgoingReliableCommands, cmd)
}

// Ping enqueues an idle PING command immediately rather than waiting
// for the service loop's idle-detection window.
func (p *Peer) Ping() {
	if p.state != PeerStateConnected {
		return
	}
	p.queueOutgoingReliable(&outgoingCommand{
		header: commandHeader{Command: cmdPing, ChannelID: systemChannelID},
	})
}

// Disconnect requests a graceful close, per spec.md §4.D. If the peer
// still has queued reliable or unreliable commands, or reliable commands
// in flight, it waits (DISCONNECT_LATER) until those queues drain before
// sending DISCONNECT, so already-queued
// data isn't dropped out from under the application.
func (p *Peer) Disconnect(data uint32) {
	switch p.state {
	case PeerStateDisconnected, PeerStateZombie, PeerStateDisconnecting, PeerStateDisconnectLater:
		return
	}
	if len(p.outgoingReliableCommands) > 0 || p.sentReliableCommands.Len() > 0 || len(p.outgoingUnreliableCommands) > 0 {
		p.state = PeerStateDisconnectLater
		p.disconnectData = data
		return
	}
	p.queueDisconnect(data)
}

// queueDisconnect enqueues the reliable DISCONNECT command immediately,
// skipping the drain wait Disconnect otherwise performs. The resulting
// DISCONNECT event surfaces normally, once acknowledged, through the
// ZOMBIE->reset path in dispatchPeers.
func (p *Peer) queueDisconnect(data uint32) {
	p.disconnectData = data
	w := newWireWriter(disconnectVariantSize)
	w.writeDisconnect(disconnectVariant{Data: data})
	p.queueOutgoingReliable(&outgoingCommand{
		header:  commandHeader{Command: cmdDisconnect, ChannelID: systemChannelID},
		variant: w.buf,
	})
	p.state = PeerStateDisconnecting
}

// DisconnectNow forcefully terminates the connection: it sends a single
// best-effort DISCONNECT datagram (no retry, no acknowledgement wait)
// and resets the peer straight back to DISCONNECTED, without waiting
// for queues to drain and without generating a local DISCONNECT event.
// Per spec.md §4.D/§6's peer_disconnect_now.
func (p *Peer) DisconnectNow(data uint32) {
	if p.state == PeerStateDisconnected {
		return
	}
	if p.state != PeerStateZombie && p.state != PeerStateDisconnecting && p.host != nil {
		w := newWireWriter(disconnectVariantSize)
		w.writeDisconnect(disconnectVariant{Data: data})
		cmd := &outgoingCommand{
			header:  commandHeader{Command: cmdDisconnect, ChannelID: systemChannelID, Flags: 1},
			variant: w.buf,
		}
		_, _ = p.host.sendDatagram(p, []*outgoingCommand{cmd}, time.Now())
	}
	p.Reset()
}

// Reset forcibly clears the peer back to DISCONNECTED, releasing any
// packets still referenced in its queues, without sending anything to
// the remote side or generating a local event. Per spec.md §6's
// peer_reset.
func (p *Peer) Reset() {
	p.reset()
}
