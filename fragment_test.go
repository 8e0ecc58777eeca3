package genet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPeerForSend(channelCount int, mtu uint16) *Peer {
	h := &Host{peers: make([]*Peer, 1)}
	p := newPeer(h, 0)
	p.state = PeerStateConnected
	p.mtu = mtu
	p.channels = make([]*channel, channelCount)
	for i := range p.channels {
		p.channels[i] = newChannel()
	}
	h.peers[0] = p
	return p
}

func TestSendReliableSmallFitsUnfragmented(t *testing.T) {
	p := newTestPeerForSend(1, DefaultMTU)
	pkt := NewPacket([]byte("hello"), PacketFlagReliable)
	require.NoError(t, p.Send(0, pkt))
	require.Len(t, p.outgoingReliableCommands, 1)
	require.Equal(t, cmdSendReliable, p.outgoingReliableCommands[0].header.Command)
	require.Equal(t, 1, pkt.refs)
}

func TestSendReliableLargeFragments(t *testing.T) {
	p := newTestPeerForSend(1, 128) // tiny MTU forces fragmentation
	payload := bytes.Repeat([]byte{0xAB}, 1000)
	pkt := NewPacket(payload, PacketFlagReliable)
	require.NoError(t, p.Send(0, pkt))

	require.Greater(t, len(p.outgoingReliableCommands), 1)
	for i, cmd := range p.outgoingReliableCommands {
		require.Equal(t, cmdSendFragment, cmd.header.Command)
		require.Equal(t, uint32(i), cmd.header.ReliableSequenceNumber)
	}
	require.Equal(t, len(p.outgoingReliableCommands), pkt.refs)
}

func TestSendUnreliableTooLargeRejected(t *testing.T) {
	p := newTestPeerForSend(1, 64)
	pkt := NewPacket(bytes.Repeat([]byte{1}, 1000), 0)
	err := p.Send(0, pkt)
	require.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestSendUnreliableStampsChannelReliableSequence(t *testing.T) {
	p := newTestPeerForSend(1, DefaultMTU)
	ch := p.channels[0]
	ch.outgoingReliableSequenceNumber = 9

	pkt := NewPacket([]byte("x"), 0)
	require.NoError(t, p.Send(0, pkt))
	require.Len(t, p.outgoingUnreliableCommands, 1)
	require.Equal(t, uint32(9), p.outgoingUnreliableCommands[0].header.ReliableSequenceNumber)
}

func TestSendUnsequencedIncrementsGroupIndependently(t *testing.T) {
	p := newTestPeerForSend(1, DefaultMTU)
	pkt1 := NewPacket([]byte("a"), PacketFlagUnsequenced)
	pkt2 := NewPacket([]byte("b"), PacketFlagUnsequenced)
	require.NoError(t, p.Send(0, pkt1))
	require.NoError(t, p.Send(0, pkt2))
	require.Equal(t, uint32(2), p.outgoingUnsequencedGroup)
}

func TestSendRejectsInvalidChannel(t *testing.T) {
	p := newTestPeerForSend(1, DefaultMTU)
	err := p.Send(5, NewPacket([]byte("x"), PacketFlagReliable))
	require.ErrorIs(t, err, ErrInvalidChannel)
}

func TestSendRejectsWhenNotConnected(t *testing.T) {
	p := newTestPeerForSend(1, DefaultMTU)
	p.state = PeerStateDisconnected
	err := p.Send(0, NewPacket([]byte("x"), PacketFlagReliable))
	require.ErrorIs(t, err, ErrPeerNotConnected)
}

func TestReassembleFragmentCompletesAcrossOutOfOrderArrival(t *testing.T) {
	ch := newChannel()
	total := uint32(30)
	fragSize := uint32(10)
	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		bytes.Repeat([]byte{2}, 10),
		bytes.Repeat([]byte{3}, 10),
	}

	// deliver fragment 2 then 0 then 1 — arrival order must not matter
	order := []uint32{2, 0, 1}
	var cmd *incomingCommand
	for _, i := range order {
		v := sendFragmentVariant{
			StartSequenceNumber: 0, FragmentCount: 3, FragmentNumber: i,
			TotalLength: total, FragmentOffset: i * fragSize,
		}
		header := commandHeader{ChannelID: 0, ReliableSequenceNumber: i}
		var firstSeen, ok bool
		cmd, firstSeen, ok = reassembleFragment(ch, header, v, payloads[i])
		require.True(t, ok)
		if i == order[0] {
			require.True(t, firstSeen)
		}
		if firstSeen {
			ch.insertReliable(cmd) // queue it, as handleSendFragment does
		}
	}

	require.NotNil(t, cmd)
	require.True(t, cmd.ready())
	require.Equal(t, append(append(append([]byte{}, payloads[0]...), payloads[1]...), payloads[2]...), cmd.packet.Data())
}

func TestReassembleFragmentRejectsMismatchedTotalLength(t *testing.T) {
	ch := newChannel()
	v1 := sendFragmentVariant{StartSequenceNumber: 0, FragmentCount: 2, FragmentNumber: 0, TotalLength: 20, FragmentOffset: 0}
	cmd, _, ok := reassembleFragment(ch, commandHeader{}, v1, make([]byte, 10))
	require.True(t, ok)
	ch.insertReliable(cmd) // queue it, as handleSendFragment does

	v2 := sendFragmentVariant{StartSequenceNumber: 0, FragmentCount: 2, FragmentNumber: 1, TotalLength: 999, FragmentOffset: 10}
	_, _, ok = reassembleFragment(ch, commandHeader{}, v2, make([]byte, 10))
	require.False(t, ok, "disagreeing totalLength must be rejected")
}

func TestReassembleFragmentRejectsRetransmitAfterFullDelivery(t *testing.T) {
	ch := newChannel()
	v := sendFragmentVariant{StartSequenceNumber: 0, FragmentCount: 1, FragmentNumber: 0, TotalLength: 5, FragmentOffset: 0}
	cmd, firstSeen, ok := reassembleFragment(ch, commandHeader{}, v, []byte("hello"))
	require.True(t, ok)
	require.True(t, firstSeen)
	require.True(t, cmd.ready())

	// simulate delivery advancing the channel's high-water mark, as
	// popDeliverableReliable would on a real deliver.
	ch.incomingReliableSequenceNumber += commandSpan(cmd)

	// the sender never saw our ACK and retransmits the same fragment;
	// it must not reassemble into a second deliverable command.
	_, _, ok = reassembleFragment(ch, commandHeader{}, v, []byte("hello"))
	require.False(t, ok, "retransmit of an already-delivered fragmented command must be rejected")
}

func TestReassembleFragmentIgnoresDuplicate(t *testing.T) {
	ch := newChannel()
	v := sendFragmentVariant{StartSequenceNumber: 0, FragmentCount: 2, FragmentNumber: 0, TotalLength: 20, FragmentOffset: 0}
	cmd1, firstSeen1, ok := reassembleFragment(ch, commandHeader{}, v, bytes.Repeat([]byte{1}, 10))
	require.True(t, ok)
	require.True(t, firstSeen1)
	ch.insertReliable(cmd1) // queue it, as handleSendFragment does

	cmd2, firstSeen2, ok := reassembleFragment(ch, commandHeader{}, v, bytes.Repeat([]byte{9}, 10))
	require.True(t, ok)
	require.False(t, firstSeen2)
	require.Same(t, cmd1, cmd2)
	require.Equal(t, uint32(1), cmd1.fragmentsRemaining, "duplicate fragment must not re-decrement remaining count")
}
