package genet

// PacketFlag marks how a Packet should be delivered, per spec.md §3.
type PacketFlag uint8

const (
	// PacketFlagReliable requests delivery and in-order delivery
	// within the packet's channel, retransmitting until acknowledged.
	PacketFlagReliable PacketFlag = 1 << iota

	// PacketFlagUnsequenced requests best-effort delivery with no
	// ordering guarantee and replay-window deduplication. Mutually
	// exclusive with PacketFlagReliable; Reliable wins if both are set.
	PacketFlagUnsequenced

	// packetFlagNoAllocate marks a Packet created over caller-owned
	// storage rather than a private copy. Not exposed: spec.md's
	// "no-allocate" flag exists to avoid a copy in the original's
	// allocator-driven design; Go's GC makes that optimization the
	// caller's own business (slice sharing), not a protocol concern.
	packetFlagNoAllocate
)

// Packet is an immutable-sized byte buffer shared by reference across
// retransmit queues and fragment-reassembly records, per spec.md §3/§4.B.
// A Packet is not safe for concurrent mutation; the engine only ever
// touches it from the single Service goroutine (spec.md §5).
type Packet struct {
	data  []byte
	flags PacketFlag
	refs  int
}

// NewPacket allocates a Packet of len(data) bytes, copying data in.
// Passing nil data yields an empty, zero-length Packet.
func NewPacket(data []byte, flags PacketFlag) *Packet {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Packet{data: buf, flags: flags}
}

// newPacketOfSize allocates a zero-filled Packet for reassembly; its
// bytes are filled in fragment-by-fragment by the receive path.
func newPacketOfSize(size uint32, flags PacketFlag) *Packet {
	return &Packet{data: make([]byte, size), flags: flags}
}

// Data returns the packet's payload. The returned slice aliases the
// packet's own storage, so mutating it changes the packet.
func (p *Packet) Data() []byte { return p.data }

// Len returns the payload length in bytes.
func (p *Packet) Len() int { return len(p.data) }

// Flags reports the delivery flags the packet was created or received
// with.
func (p *Packet) Flags() PacketFlag { return p.flags }

// resize truncates or grows the packet's storage. Growing reallocates
// and copies; shrinking truncates in place. Per spec.md §4.B, resize is
// the only mutation path after creation.
func (p *Packet) resize(newLen int) {
	if newLen <= len(p.data) {
		p.data = p.data[:newLen]
		return
	}
	buf := make([]byte, newLen)
	copy(buf, p.data)
	p.data = buf
}

// retain increments the reference count; called each time a queue entry
// takes a strong reference to the packet.
func (p *Packet) retain() { p.refs++ }

// release decrements the reference count. The Packet carries no
// explicit free: once refs reaches zero it is simply unreferenced and
// left for the garbage collector, matching spec.md §9's non-atomic,
// single-threaded counter guidance without requiring a manual pool.
func (p *Packet) release() {
	p.refs--
}
