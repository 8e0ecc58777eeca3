package genet

import "github.com/rs/xid"

// EventKind identifies what happened to a peer, per spec.md §6.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventConnect
	EventReceive
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventReceive:
		return "receive"
	case EventDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Event is what Service delivers to the application: CONNECT, RECEIVE
// ({peer, channel, packet}), or DISCONNECT ({peer, data}), per spec.md §6.
type Event struct {
	ID      xid.ID
	Kind    EventKind
	Peer    *Peer
	Channel uint8
	Packet  *Packet
	Data    uint32
}

// pushEvent appends ev to the host's pending-event queue, tagging it
// with a compact trace ID (SPEC_FULL.md §3 domain stack) so a single
// RECEIVE/CONNECT/DISCONNECT can be followed through structured logs.
func (h *Host) pushEvent(ev Event) {
	ev.ID = xid.New()
	h.eventQueue = append(h.eventQueue, ev)
}

// popEvent removes and returns the oldest pending event, if any.
func (h *Host) popEvent() (Event, bool) {
	if len(h.eventQueue) == 0 {
		return Event{}, false
	}
	ev := h.eventQueue[0]
	h.eventQueue = h.eventQueue[1:]
	return ev, true
}

// dispatchPeers scans the peer table starting after lastServicedPeer
// (round-robin, per spec.md §4.F "Event dispatch") and queues one event
// per peer that has something ready: a pending CONNECT/DISCONNECT
// transition, or a deliverable incoming command on some channel.
func (h *Host) dispatchPeers() {
	n := len(h.peers)
	for i := 0; i < n; i++ {
		idx := (h.lastServicedPeer + 1 + i) % n
		p := h.peers[idx]

		switch p.state {
		case PeerStateConnectionPending:
			p.state = PeerStateConnected
			h.connectedPeerCount++
			h.pushEvent(Event{Kind: EventConnect, Peer: p})
			h.lastServicedPeer = idx
			return
		case PeerStateZombie:
			data := p.disconnectData
			h.pushEvent(Event{Kind: EventDisconnect, Peer: p, Data: data})
			p.reset()
			h.recalculateBandwidthLimits = true
			h.lastServicedPeer = idx
			return
		}

		if p.state != PeerStateConnected && p.state != PeerStateDisconnectLater {
			continue
		}

		for chID, ch := range p.channels {
			if cmd := ch.popDeliverableUnreliable(); cmd != nil {
				h.pushEvent(Event{Kind: EventReceive, Peer: p, Channel: uint8(chID), Packet: cmd.packet})
				h.lastServicedPeer = idx
				return
			}
			if cmd := ch.popDeliverableReliable(); cmd != nil {
				h.pushEvent(Event{Kind: EventReceive, Peer: p, Channel: uint8(chID), Packet: cmd.packet})
				h.lastServicedPeer = idx
				return
			}
		}
	}
}
