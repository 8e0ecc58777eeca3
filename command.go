package genet

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// outgoingCommand is a command header plus, if data-bearing, a
// reference to the Packet carrying its payload and the fragment window
// into it. Sequence numbers live in header.ReliableSequenceNumber (for
// reliable/fragment commands) and in unreliableSequenceNumber (for
// unreliable sends). sentTime/roundTripTimeout are populated once the
// command is actually transmitted. See spec.md §3.
type outgoingCommand struct {
	header                   commandHeader
	variant                  []byte // pre-encoded fixed fields beyond the header, if any
	packet                   *Packet
	fragmentOffset           uint32
	fragmentLength           uint32
	unreliableSequenceNumber uint32

	sentTime              time.Time
	roundTripTimeout      time.Duration
	roundTripTimeoutLimit time.Duration
}

// payload returns the bytes this command carries on the wire beyond its
// header and variant, i.e. the fragment window into its packet.
func (c *outgoingCommand) payload() []byte {
	if c.packet == nil {
		return nil
	}
	return c.packet.data[c.fragmentOffset : c.fragmentOffset+c.fragmentLength]
}

// wireSize is the number of bytes this command occupies once composed.
func (c *outgoingCommand) wireSize() int {
	return commandHeaderSize + len(c.variant) + int(c.fragmentLength)
}

func (c *outgoingCommand) encode(w *wireWriter) {
	c.header.CommandLength = uint32(c.wireSize())
	w.writeCommandHeader(c.header)
	w.bytes(c.variant)
	w.bytes(c.payload())
}

// incomingCommand is a decoded command plus, for data-bearing commands,
// the Packet being assembled and fragment-reassembly bookkeeping. See
// spec.md §3.
type incomingCommand struct {
	command                  commandType
	channelID                uint8
	reliableSequenceNumber   uint32
	unreliableSequenceNumber uint32
	unsequencedGroup         uint32

	packet *Packet

	// fragment reassembly, valid only while fragmentsRemaining > 0.
	startSequenceNumber uint32
	fragmentCount       uint32
	fragmentsRemaining  uint32
	fragments           *bitset.BitSet
	totalLength         uint32
}

// ready reports whether this (possibly fragmented) command has all of
// its fragments and may be considered for in-order delivery.
func (c *incomingCommand) ready() bool {
	return c.fragmentsRemaining == 0
}

// acknowledgement is the header of the peer command being acknowledged
// plus the sentTime recorded in the datagram header that delivered it,
// per spec.md §3.
type acknowledgement struct {
	command  commandHeader
	sentTime uint32 // raw wire value (truncated monotonic ms), see Host.wireTime
}
