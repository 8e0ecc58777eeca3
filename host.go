package genet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config configures a Host at construction time. Address text parsing
// and file/flag-driven configuration are out of scope (spec.md §1);
// callers build a Config with already-resolved values.
type Config struct {
	// BindAddress is the local endpoint to listen on. Nil binds an
	// ephemeral port on all interfaces; inbound CONNECT commands that
	// reach that port are admitted like any other.
	BindAddress *Address

	// PeerCount is the size of the fixed peer table. Once it is
	// exhausted, Connect fails with ErrResourceExhausted and inbound
	// CONNECT commands are dropped silently.
	PeerCount int

	// ChannelLimit bounds the channel count a peer may negotiate;
	// clamped to [MinChannelCount, MaxChannelCount].
	ChannelLimit int

	// IncomingBandwidth/OutgoingBandwidth are the host's own bytes/s
	// caps, 0 meaning unlimited. See throttle.go.
	IncomingBandwidth uint32
	OutgoingBandwidth uint32

	// MTU is the initial per-peer MTU offered during connection setup,
	// clamped to [MinMTU, MaxMTU]. Zero selects DefaultMTU.
	MTU uint16

	// MaxPeersPerAddress caps how many simultaneously connected peers
	// may share one remote address; 0 means unlimited.
	MaxPeersPerAddress int

	// Logger receives structured diagnostics. Nil installs a logger
	// with output discarded, so a library consumer sees nothing by
	// default (see log.go).
	Logger *logrus.Entry

	// Registerer receives this host's Prometheus collectors. Nil
	// disables metrics registration (see metrics.go).
	Registerer prometheus.Registerer

	// Socket is the datagram interface to drive. Nil constructs a real
	// net.UDPConn-backed socket bound to BindAddress (see socket.go).
	Socket DatagramSocket
}

// Host owns a fixed-size peer table, a datagram interface, and the
// service loop that drives the protocol engine, per spec.md §3/§4.E.
// A Host is single-threaded and cooperative (spec.md §5): all exported
// methods must be called from the same goroutine.
type Host struct {
	id     uuid.UUID
	log    *logrus.Entry
	socket DatagramSocket
	epoch  time.Time

	peers        []*Peer
	channelLimit int
	defaultMTU   uint16

	incomingBandwidth uint32
	outgoingBandwidth uint32
	outgoingLimiter   *rate.Limiter

	maxPeersPerAddress int

	connectedPeerCount         int
	bandwidthLimitedPeerCount  int
	recalculateBandwidthLimits bool
	bandwidthThrottleEpoch     time.Time

	totalSentData        uint64
	totalSentPackets      uint64
	totalReceivedData    uint64
	totalReceivedPackets uint64

	lastServicedPeer int

	eventQueue []Event

	metrics *Metrics

	destroyed bool
}

// NewHost constructs a Host per spec.md §4.E: allocates the fixed peer
// table, clamps the channel limit, and binds the datagram socket.
func NewHost(cfg Config) (*Host, error) {
	if cfg.PeerCount <= 0 || cfg.PeerCount > MaximumPeerID+1 {
		return nil, fmt.Errorf("%w: peer count %d out of range", ErrResourceExhausted, cfg.PeerCount)
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	mtu = clampU16(mtu, MinMTU, MaxMTU)

	channelLimit := cfg.ChannelLimit
	if channelLimit == 0 {
		channelLimit = MaxChannelCount
	}
	channelLimit = clampInt(channelLimit, MinChannelCount, MaxChannelCount)

	log := cfg.Logger
	if log == nil {
		log = discardLogger()
	}

	socket := cfg.Socket
	if socket == nil {
		s, err := newUDPSocket(cfg.BindAddress)
		if err != nil {
			return nil, err
		}
		socket = s
	}

	h := &Host{
		id:                 uuid.New(),
		log:                log,
		socket:             socket,
		epoch:              time.Now(),
		peers:              make([]*Peer, cfg.PeerCount),
		channelLimit:       channelLimit,
		defaultMTU:         mtu,
		incomingBandwidth:  cfg.IncomingBandwidth,
		outgoingBandwidth:  cfg.OutgoingBandwidth,
		maxPeersPerAddress: cfg.MaxPeersPerAddress,
	}
	for i := range h.peers {
		h.peers[i] = newPeer(h, uint16(i))
	}
	if cfg.OutgoingBandwidth > 0 {
		h.outgoingLimiter = rate.NewLimiter(rate.Limit(cfg.OutgoingBandwidth), int(cfg.OutgoingBandwidth))
	}
	h.metrics = newMetrics(cfg.Registerer)
	h.log = h.log.WithField("host_id", h.id.String())
	return h, nil
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// wireTime converts an absolute time to the 32-bit wire timestamp
// carried in datagram headers: milliseconds elapsed since the host was
// created, wrapping every ~49 days like the original protocol's timer.
func (h *Host) wireTime(t time.Time) uint32 {
	return uint32(t.Sub(h.epoch).Milliseconds())
}

// wireElapsed returns the duration represented by (later - earlier) in
// wire-timestamp space, correct under wraparound via unsigned
// subtraction as long as the true elapsed time is under ~24 days.
func wireElapsed(later, earlier uint32) time.Duration {
	return time.Duration(later-earlier) * time.Millisecond
}

func randomChallenge() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// findFreeSlot returns the first DISCONNECTED peer slot, or nil if the
// table is full, per spec.md §4.E/§4.F "Connection admission".
func (h *Host) findFreeSlot() *Peer {
	for _, p := range h.peers {
		if p.state == PeerStateDisconnected {
			return p
		}
	}
	return nil
}

// countPeersAtAddress returns how many non-disconnected peers share addr.
func (h *Host) countPeersAtAddress(addr Address) int {
	n := 0
	for _, p := range h.peers {
		if p.state != PeerStateDisconnected && p.address.Equal(addr) {
			n++
		}
	}
	return n
}

// Connect begins establishing a connection to addr with channelCount
// channels, per spec.md §4.D "DISCONNECTED -> CONNECTING". The returned
// Peer reaches CONNECTED once the remote's VERIFY_CONNECT is received
// and the event surfaces via Service.
func (h *Host) Connect(addr Address, channelCount int, data uint32) (*Peer, error) {
	if h.destroyed {
		return nil, ErrHostDestroyed
	}
	channelCount = clampInt(channelCount, MinChannelCount, h.channelLimit)

	peer := h.findFreeSlot()
	if peer == nil {
		return nil, ErrResourceExhausted
	}

	peer.address = addr
	peer.challenge = randomChallenge()
	peer.mtu = h.defaultMTU
	peer.windowSize = MaxWindowSize
	peer.channels = make([]*channel, channelCount)
	for i := range peer.channels {
		peer.channels[i] = newChannel()
	}
	peer.disconnectData = data
	peer.state = PeerStateConnecting
	peer.lastReceiveTime = time.Now()
	peer.lastSendTime = time.Now()
	peer.packetThrottleEpoch = time.Now()
	peer.packetLossEpoch = time.Now()
	if h.outgoingBandwidth > 0 {
		peer.outgoingLimiter = rate.NewLimiter(rate.Limit(h.outgoingBandwidth), int(h.outgoingBandwidth))
	}

	w := newWireWriter(connectVariantSize)
	w.writeConnect(connectVariant{
		OutgoingPeerID:             peer.index,
		MTU:                        peer.mtu,
		WindowSize:                 peer.windowSize,
		ChannelCount:               uint32(channelCount),
		IncomingBandwidth:          h.incomingBandwidth,
		OutgoingBandwidth:          h.outgoingBandwidth,
		PacketThrottleInterval:     uint32(peer.packetThrottleInterval / time.Millisecond),
		PacketThrottleAcceleration: peer.packetThrottleAcceleration,
		PacketThrottleDeceleration: peer.packetThrottleDeceleration,
	})
	peer.queueOutgoingReliable(&outgoingCommand{
		header:  commandHeader{Command: cmdConnect, ChannelID: systemChannelID},
		variant: w.buf,
	})

	h.recalculateBandwidthLimits = true
	h.log.WithFields(logrus.Fields{"peer": peer.index, "addr": addr.String()}).Debug("connecting")
	return peer, nil
}

// Broadcast enqueues packet on channelID for every connected peer, per
// spec.md's public API surface.
func (h *Host) Broadcast(channelID uint8, packet *Packet) {
	for _, p := range h.peers {
		if p.Connected() {
			_ = p.Send(channelID, packet)
		}
	}
}

// BandwidthLimit updates the host's own bandwidth caps and forces a
// bandwidth-throttle recompute on the next service tick.
func (h *Host) BandwidthLimit(incoming, outgoing uint32) {
	h.incomingBandwidth = incoming
	h.outgoingBandwidth = outgoing
	if outgoing > 0 {
		h.outgoingLimiter = rate.NewLimiter(rate.Limit(outgoing), int(outgoing))
	} else {
		h.outgoingLimiter = nil
	}
	h.recalculateBandwidthLimits = true
}

// ChannelLimit updates the channel-count ceiling offered to newly
// admitted peers; already-connected peers are unaffected.
func (h *Host) ChannelLimit(limit int) {
	h.channelLimit = clampInt(limit, MinChannelCount, MaxChannelCount)
}

// Peers returns every peer slot in table order, including disconnected
// ones, for diagnostics/iteration.
func (h *Host) Peers() []*Peer { return h.peers }

// Destroy releases the host's socket and marks it unusable. Queued
// packets across all peers are released, per spec.md §3's refcount
// invariant.
func (h *Host) Destroy() error {
	if h.destroyed {
		return nil
	}
	h.destroyed = true
	for _, p := range h.peers {
		for _, pkt := range p.queuedPackets() {
			pkt.release()
		}
	}
	return h.socket.Close()
}
