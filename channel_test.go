package genet

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"
)

func reliableCmd(seq uint32) *incomingCommand {
	return &incomingCommand{command: cmdSendReliable, reliableSequenceNumber: seq}
}

func unreliableCmd(reliableGate, unreliableSeq uint32) *incomingCommand {
	return &incomingCommand{command: cmdSendUnreliable, reliableSequenceNumber: reliableGate, unreliableSequenceNumber: unreliableSeq}
}

func TestChannelInsertReliableOutOfOrder(t *testing.T) {
	ch := newChannel()
	require.True(t, ch.insertReliable(reliableCmd(2)))
	require.True(t, ch.insertReliable(reliableCmd(0)))
	require.True(t, ch.insertReliable(reliableCmd(1)))

	var seqs []uint32
	for e := ch.incomingReliable.Front(); e != nil; e = e.Next() {
		seqs = append(seqs, e.Value.(*incomingCommand).reliableSequenceNumber)
	}
	require.Equal(t, []uint32{0, 1, 2}, seqs)
}

func TestChannelInsertReliableRejectsDuplicate(t *testing.T) {
	ch := newChannel()
	require.True(t, ch.insertReliable(reliableCmd(5)))
	require.False(t, ch.insertReliable(reliableCmd(5)))
	require.Equal(t, 1, ch.incomingReliable.Len())
}

func TestChannelPopDeliverableReliableInOrderOnly(t *testing.T) {
	ch := newChannel()
	ch.insertReliable(reliableCmd(1))
	ch.insertReliable(reliableCmd(0))

	// sequence 0 is expected first; sequence 1 stays queued until then.
	cmd := ch.popDeliverableReliable()
	require.NotNil(t, cmd)
	require.Equal(t, uint32(0), cmd.reliableSequenceNumber)
	require.Equal(t, uint32(1), ch.incomingReliableSequenceNumber)

	cmd = ch.popDeliverableReliable()
	require.NotNil(t, cmd)
	require.Equal(t, uint32(1), cmd.reliableSequenceNumber)
	require.Equal(t, uint32(2), ch.incomingReliableSequenceNumber)
}

func TestChannelPopDeliverableReliableWaitsOnFragments(t *testing.T) {
	ch := newChannel()
	frag := &incomingCommand{
		command: cmdSendFragment, reliableSequenceNumber: 0,
		fragmentCount: 2, fragmentsRemaining: 1,
	}
	ch.insertReliable(frag)
	require.Nil(t, ch.popDeliverableReliable(), "incomplete fragment set must not be delivered")
}

func TestChannelInsertUnreliableRejectsBehindHighWaterMark(t *testing.T) {
	ch := newChannel()
	ch.incomingUnreliableSequenceNumber = 5
	require.False(t, ch.insertUnreliable(unreliableCmd(0, 5)))
	require.False(t, ch.insertUnreliable(unreliableCmd(0, 3)))
	require.True(t, ch.insertUnreliable(unreliableCmd(0, 6)))
}

func TestChannelPopDeliverableUnreliableGatedByReliableProgress(t *testing.T) {
	ch := newChannel()
	ch.insertUnreliable(unreliableCmd(3, 0)) // gated on reliable seq 3, not reached yet
	require.Nil(t, ch.popDeliverableUnreliable())

	ch.incomingReliableSequenceNumber = 3
	cmd := ch.popDeliverableUnreliable()
	require.NotNil(t, cmd)
	require.Equal(t, uint32(0), cmd.unreliableSequenceNumber)
}

func TestCommandSpanFragmentedVsSingle(t *testing.T) {
	single := reliableCmd(0)
	require.Equal(t, uint32(1), commandSpan(single))

	frag := &incomingCommand{fragments: bitset.New(7), fragmentCount: 7}
	require.Equal(t, uint32(7), commandSpan(frag))
}
