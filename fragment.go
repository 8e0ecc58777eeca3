package genet

import (
	"github.com/bits-and-blooms/bitset"
)

// Send enqueues packet for delivery to this peer on the given channel,
// per spec.md §4.F "Fragmentation and reassembly" and the public API
// surface of §6. Reliable packets that exceed one datagram's safe
// payload are transparently split into SEND_FRAGMENT commands sharing
// one startSequenceNumber; unreliable and unsequenced packets are never
// fragmented and must fit in a single datagram.
func (p *Peer) Send(channelID uint8, packet *Packet) error {
	if !p.Connected() {
		return ErrPeerNotConnected
	}
	if int(channelID) >= len(p.channels) {
		return ErrInvalidChannel
	}
	ch := p.channels[channelID]

	switch {
	case packet.flags&PacketFlagReliable != 0:
		return p.sendReliable(channelID, ch, packet)
	case packet.flags&PacketFlagUnsequenced != 0:
		return p.sendUnsequenced(channelID, ch, packet)
	default:
		return p.sendUnreliable(channelID, ch, packet)
	}
}

// fragmentPayloadSize returns the maximum bytes of application payload
// one SEND_FRAGMENT command may carry for the peer's negotiated MTU.
func (p *Peer) fragmentPayloadSize() int {
	size := int(p.mtu) - datagramHeaderSize - commandHeaderSize - sendFragmentVariantSize
	if size < 1 {
		size = 1
	}
	return size
}

func (p *Peer) sendReliable(channelID uint8, ch *channel, packet *Packet) error {
	fragmentSize := p.fragmentPayloadSize()
	if packet.Len() <= fragmentSize+commandHeaderSize {
		// fits as a single, unfragmented SEND_RELIABLE command
		packet.retain()
		cmd := &outgoingCommand{
			header: commandHeader{Command: cmdSendReliable, ChannelID: channelID,
				ReliableSequenceNumber: ch.outgoingReliableSequenceNumber},
			packet:         packet,
			fragmentOffset: 0,
			fragmentLength: uint32(packet.Len()),
		}
		ch.outgoingReliableSequenceNumber++
		p.outgoingReliableCommands = append(p.outgoingReliableCommands, cmd)
		return nil
	}

	fragmentCount := uint32((packet.Len() + fragmentSize - 1) / fragmentSize)
	if fragmentCount > MaxFragmentCount {
		return ErrPacketTooLarge
	}

	start := ch.outgoingReliableSequenceNumber
	packet.refs += int(fragmentCount) // one strong reference per fragment command
	for i := uint32(0); i < fragmentCount; i++ {
		offset := i * uint32(fragmentSize)
		length := uint32(fragmentSize)
		if remaining := uint32(packet.Len()) - offset; length > remaining {
			length = remaining
		}
		w := newWireWriter(sendFragmentVariantSize)
		w.writeSendFragment(sendFragmentVariant{
			StartSequenceNumber: start,
			FragmentCount:       fragmentCount,
			FragmentNumber:      i,
			TotalLength:         uint32(packet.Len()),
			FragmentOffset:      offset,
		})
		cmd := &outgoingCommand{
			header: commandHeader{Command: cmdSendFragment, ChannelID: channelID,
				ReliableSequenceNumber: start + i},
			variant:        w.buf,
			packet:         packet,
			fragmentOffset: offset,
			fragmentLength: length,
		}
		p.outgoingReliableCommands = append(p.outgoingReliableCommands, cmd)
	}
	ch.outgoingReliableSequenceNumber = start + fragmentCount
	return nil
}

// MaxFragmentCount bounds how many fragments one reliable packet may be
// split into: above this, the reliable sequence range the fragments
// would occupy risks lapping the window before acknowledgement.
const MaxFragmentCount = 1 << 16

func (p *Peer) sendUnreliable(channelID uint8, ch *channel, packet *Packet) error {
	if packet.Len() > p.fragmentPayloadSize() {
		return ErrPacketTooLarge
	}
	packet.retain()
	w := newWireWriter(sendUnreliableVariantSize)
	seq := ch.outgoingUnreliableSequenceNumber
	w.writeSendUnreliable(sendUnreliableVariant{UnreliableSequenceNumber: seq})
	ch.outgoingUnreliableSequenceNumber++
	cmd := &outgoingCommand{
		header: commandHeader{Command: cmdSendUnreliable, ChannelID: channelID,
			ReliableSequenceNumber: ch.outgoingReliableSequenceNumber},
		variant:                  w.buf,
		packet:                   packet,
		fragmentLength:           uint32(packet.Len()),
		unreliableSequenceNumber: seq,
	}
	p.outgoingUnreliableCommands = append(p.outgoingUnreliableCommands, cmd)
	return nil
}

func (p *Peer) sendUnsequenced(channelID uint8, ch *channel, packet *Packet) error {
	if packet.Len() > p.fragmentPayloadSize() {
		return ErrPacketTooLarge
	}
	packet.retain()
	p.outgoingUnsequencedGroup++
	group := p.outgoingUnsequencedGroup
	w := newWireWriter(sendUnsequencedVariantSize)
	w.writeSendUnsequenced(sendUnsequencedVariant{UnsequencedGroup: group})
	cmd := &outgoingCommand{
		header:         commandHeader{Command: cmdSendUnsequenced, ChannelID: channelID},
		variant:        w.buf,
		packet:         packet,
		fragmentLength: uint32(packet.Len()),
	}
	p.outgoingUnreliableCommands = append(p.outgoingUnreliableCommands, cmd)
	return nil
}

// reassembleFragment folds one SEND_FRAGMENT command into the
// in-progress incomingCommand for its startSequenceNumber, allocating a
// fresh one on the first fragment seen. Returns the incomingCommand
// (ready for queueing into the channel) and whether it should be
// inserted now (first-seen) or was already queued. Malformed fragments
// are reported via ok=false without error — spec.md §4.F:
// disagreement in totalLength/fragmentCount is rejected. A duplicate
// fragment (its bit already set) changes nothing and returns ok=true.
func reassembleFragment(ch *channel, header commandHeader, v sendFragmentVariant, payload []byte) (cmd *incomingCommand, firstSeen bool, ok bool) {
	// incomingReliableSequenceNumber is the next sequence number this
	// channel expects to deliver (see popDeliverableReliable); a fragment
	// whose run starts before that has already been fully delivered, and
	// is a stale retransmit following a lost acknowledgement.
	if v.StartSequenceNumber < ch.incomingReliableSequenceNumber {
		return nil, false, false
	}

	for e := ch.incomingReliable.Back(); e != nil; e = e.Prev() {
		existing := e.Value.(*incomingCommand)
		if existing.fragments != nil && existing.startSequenceNumber == v.StartSequenceNumber {
			cmd = existing
			break
		}
	}

	if cmd == nil {
		if v.FragmentCount == 0 || v.FragmentCount > MaxFragmentCount {
			return nil, false, false
		}
		cmd = &incomingCommand{
			command:             cmdSendFragment,
			channelID:           header.ChannelID,
			reliableSequenceNumber: v.StartSequenceNumber,
			startSequenceNumber: v.StartSequenceNumber,
			fragmentCount:       v.FragmentCount,
			fragmentsRemaining:  v.FragmentCount,
			fragments:           bitset.New(uint(v.FragmentCount)),
			totalLength:         v.TotalLength,
			packet:              newPacketOfSize(v.TotalLength, PacketFlagReliable),
		}
		cmd.packet.retain()
		firstSeen = true
	} else {
		if cmd.totalLength != v.TotalLength || cmd.fragmentCount != v.FragmentCount {
			return nil, false, false
		}
	}

	if v.FragmentNumber >= cmd.fragmentCount {
		return nil, false, false
	}
	if cmd.fragments.Test(uint(v.FragmentNumber)) {
		// duplicate fragment, already applied
		return cmd, firstSeen, true
	}
	cmd.fragments.Set(uint(v.FragmentNumber))
	cmd.fragmentsRemaining--

	fragLen := uint32(len(payload))
	if remaining := cmd.totalLength - v.FragmentOffset; fragLen > remaining {
		fragLen = remaining
	}
	if v.FragmentOffset+fragLen > uint32(len(cmd.packet.data)) {
		return nil, false, false
	}
	copy(cmd.packet.data[v.FragmentOffset:v.FragmentOffset+fragLen], payload[:fragLen])

	return cmd, firstSeen, true
}
