package genet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPacketCopiesInput(t *testing.T) {
	src := []byte{1, 2, 3}
	p := NewPacket(src, PacketFlagReliable)
	require.Equal(t, src, p.Data())

	src[0] = 99
	require.Equal(t, byte(1), p.Data()[0], "Packet must own a private copy of its input")
}

func TestPacketFlags(t *testing.T) {
	p := NewPacket(nil, PacketFlagUnsequenced)
	require.Equal(t, PacketFlagUnsequenced, p.Flags())
	require.Equal(t, 0, p.Len())
}

func TestNewPacketOfSizeZeroed(t *testing.T) {
	p := newPacketOfSize(16, PacketFlagReliable)
	require.Equal(t, 16, p.Len())
	for _, b := range p.Data() {
		require.Zero(t, b)
	}
}

func TestPacketResizeGrowPreservesPrefix(t *testing.T) {
	p := NewPacket([]byte{1, 2, 3}, 0)
	p.resize(6)
	require.Equal(t, 6, p.Len())
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0}, p.Data())
}

func TestPacketResizeShrinkTruncates(t *testing.T) {
	p := NewPacket([]byte{1, 2, 3, 4, 5}, 0)
	p.resize(2)
	require.Equal(t, []byte{1, 2}, p.Data())
}

func TestPacketRetainRelease(t *testing.T) {
	p := NewPacket([]byte{1}, PacketFlagReliable)
	require.Equal(t, 0, p.refs)
	p.retain()
	p.retain()
	require.Equal(t, 2, p.refs)
	p.release()
	require.Equal(t, 1, p.refs)
}
