package genet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackHost(t *testing.T, peerCount int) *Host {
	t.Helper()
	h, err := NewHost(Config{
		BindAddress: &Address{Family: AddressFamilyV4, Host: [16]byte{12: 127, 13: 0, 14: 0, 15: 1}},
		PeerCount:   peerCount,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	return h
}

func TestNewHostClampsMTUAndChannelLimit(t *testing.T) {
	h, err := NewHost(Config{PeerCount: 4, MTU: 100, ChannelLimit: 0})
	require.NoError(t, err)
	defer h.Destroy()

	require.Equal(t, uint16(MinMTU), h.defaultMTU)
	require.Equal(t, MaxChannelCount, h.channelLimit)
	require.Len(t, h.peers, 4)
}

func TestNewHostRejectsInvalidPeerCount(t *testing.T) {
	_, err := NewHost(Config{PeerCount: 0})
	require.ErrorIs(t, err, ErrResourceExhausted)

	_, err = NewHost(Config{PeerCount: MaximumPeerID + 2})
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestFindFreeSlotAndCountPeersAtAddress(t *testing.T) {
	h := newLoopbackHost(t, 2)
	addr := Address{Family: AddressFamilyV4, Port: 9000}

	require.Equal(t, 0, h.countPeersAtAddress(addr))
	slot := h.findFreeSlot()
	require.NotNil(t, slot)
	slot.address = addr
	slot.state = PeerStateConnecting

	require.Equal(t, 1, h.countPeersAtAddress(addr))
	other := h.findFreeSlot()
	require.NotSame(t, slot, other)
}

func TestFindFreeSlotNilWhenTableFull(t *testing.T) {
	h := newLoopbackHost(t, 1)
	h.peers[0].state = PeerStateConnected
	require.Nil(t, h.findFreeSlot())
}

func TestConnectQueuesConnectCommand(t *testing.T) {
	h := newLoopbackHost(t, 2)
	addr := Address{Family: AddressFamilyV4, Port: 7000}

	peer, err := h.Connect(addr, 4, 99)
	require.NoError(t, err)
	require.Equal(t, PeerStateConnecting, peer.state)
	require.Len(t, peer.channels, 4)
	require.Equal(t, uint32(99), peer.disconnectData)
	require.Len(t, peer.outgoingReliableCommands, 1)
	require.Equal(t, cmdConnect, peer.outgoingReliableCommands[0].header.Command)
}

func TestConnectFailsWhenTableFull(t *testing.T) {
	h := newLoopbackHost(t, 1)
	h.peers[0].state = PeerStateConnected
	_, err := h.Connect(Address{}, 1, 0)
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestConnectFailsAfterDestroy(t *testing.T) {
	h := newLoopbackHost(t, 1)
	require.NoError(t, h.Destroy())
	_, err := h.Connect(Address{}, 1, 0)
	require.ErrorIs(t, err, ErrHostDestroyed)
}

func TestWireTimeMonotonicFromEpoch(t *testing.T) {
	h := newLoopbackHost(t, 1)
	t0 := h.wireTime(h.epoch)
	t1 := h.wireTime(h.epoch.Add(250 * time.Millisecond))
	require.Equal(t, uint32(0), t0)
	require.Equal(t, uint32(250), t1)
}

func TestWireElapsedHandlesWraparound(t *testing.T) {
	var max32 uint32 = 0xFFFFFFFF
	d := wireElapsed(2, max32) // wraps past 0
	require.Equal(t, 3*time.Millisecond, d)
}

func TestDestroyReleasesQueuedPacketsAndIsIdempotent(t *testing.T) {
	h := newLoopbackHost(t, 1)
	p := h.peers[0]
	p.channels = []*channel{newChannel()}
	pkt := NewPacket([]byte("x"), PacketFlagReliable)
	pkt.retain()
	p.outgoingReliableCommands = append(p.outgoingReliableCommands, &outgoingCommand{packet: pkt})

	require.NoError(t, h.Destroy())
	require.Equal(t, 0, pkt.refs)
	require.NoError(t, h.Destroy(), "Destroy must be idempotent")
}

func TestBroadcastOnlyReachesConnectedPeers(t *testing.T) {
	h := newLoopbackHost(t, 2)
	h.peers[0].state = PeerStateConnected
	h.peers[0].channels = []*channel{newChannel()}
	h.peers[0].mtu = DefaultMTU
	// peers[1] stays disconnected

	h.Broadcast(0, NewPacket([]byte("hi"), 0))
	require.Len(t, h.peers[0].outgoingUnreliableCommands, 1)
	require.Empty(t, h.peers[1].outgoingUnreliableCommands)
}

func TestBandwidthLimitInstallsLimiterAndForcesRecalc(t *testing.T) {
	h := newLoopbackHost(t, 1)
	h.recalculateBandwidthLimits = false
	h.BandwidthLimit(1000, 2000)
	require.Equal(t, uint32(1000), h.incomingBandwidth)
	require.NotNil(t, h.outgoingLimiter)
	require.True(t, h.recalculateBandwidthLimits)

	h.BandwidthLimit(0, 0)
	require.Nil(t, h.outgoingLimiter)
}
