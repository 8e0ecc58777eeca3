package genet

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Service drives one round of the protocol engine: it composes and
// sends outgoing datagrams for every peer, drains whatever has arrived
// on the socket, composes again so freshly queued acknowledgements go
// out promptly, then surfaces at most one pending Event. If no event is
// ready it blocks on the socket for up to timeout before returning a
// zero Event, per spec.md §4.E/§5. Passing timeout<=0 performs exactly
// one pass and returns immediately.
func (h *Host) Service(timeout time.Duration) (Event, error) {
	if h.destroyed {
		return Event{}, ErrHostDestroyed
	}
	if ev, ok := h.popEvent(); ok {
		return ev, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		now := time.Now()
		if h.recalculateBandwidthLimits || h.bandwidthThrottleEpoch.IsZero() ||
			now.Sub(h.bandwidthThrottleEpoch) >= HostBandwidthThrottleInterval {
			h.throttleBandwidth(now)
		}

		if err := h.sendOutgoing(now, true); err != nil {
			return Event{}, err
		}
		if err := h.receiveIncoming(now); err != nil {
			return Event{}, err
		}
		if err := h.sendOutgoing(now, false); err != nil {
			return Event{}, err
		}
		h.dispatchPeers()
		if ev, ok := h.popEvent(); ok {
			return ev, nil
		}

		if timeout <= 0 {
			return Event{}, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, nil
		}
		ready, err := h.socket.Wait(remaining)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrFatalIO, err)
		}
		if !ready {
			return Event{}, nil
		}
	}
}

// Flush composes and sends every peer's pending outgoing traffic
// without waiting for or processing any incoming datagrams.
func (h *Host) Flush() error {
	if h.destroyed {
		return ErrHostDestroyed
	}
	return h.sendOutgoing(time.Now(), false)
}

// sendOutgoing composes and sends outgoing datagrams for every
// non-disconnected peer, repeating per peer until a pass produces
// nothing more to send (bounded so a peer with a deep backlog can't
// starve the rest of the table within one Service call).
func (h *Host) sendOutgoing(now time.Time, checkForTimeouts bool) error {
	for _, p := range h.peers {
		if p.state == PeerStateDisconnected {
			continue
		}
		if p.state == PeerStateDisconnectLater &&
			len(p.outgoingReliableCommands) == 0 && p.sentReliableCommands.Len() == 0 &&
			len(p.outgoingUnreliableCommands) == 0 {
			p.queueDisconnect(p.disconnectData)
		}

		checkTimeoutsThisPeer := checkForTimeouts
		for i := 0; i < protocolMaxPacketCommands; i++ {
			sent, err := h.composePeerDatagram(p, now, checkTimeoutsThisPeer)
			if err != nil {
				return err
			}
			checkTimeoutsThisPeer = false
			if !sent {
				break
			}
		}
	}
	return nil
}

// composePeerDatagram builds and sends at most one datagram for p, per
// spec.md §4.F "Composing outgoing datagrams": drain the ack queue,
// check for overdue reliable commands, promote an idle PING, move
// window-eligible reliable commands to in-flight, then fill any
// remaining room with throttle-filtered unreliable commands. Returns
// whether it actually sent something, so the caller knows whether to
// loop for another pass.
func (h *Host) composePeerDatagram(p *Peer, now time.Time, checkForTimeouts bool) (bool, error) {
	commands := make([]*outgoingCommand, 0, protocolMaxPacketCommands)
	byteCount := datagramHeaderSize

	for p.acknowledgements.Len() > 0 && len(commands) < protocolMaxPacketCommands {
		e := p.acknowledgements.Front()
		ack := e.Value.(*acknowledgement)
		size := commandHeaderSize + acknowledgeVariantSize
		if byteCount+size > int(p.mtu) {
			break
		}
		p.acknowledgements.Remove(e)

		w := newWireWriter(acknowledgeVariantSize)
		w.writeAcknowledge(acknowledgeVariant{
			ReceivedReliableSequenceNumber: ack.command.ReliableSequenceNumber,
			ReceivedSentTime:               ack.sentTime,
		})
		commands = append(commands, &outgoingCommand{
			header:  commandHeader{Command: cmdAcknowledge, ChannelID: ack.command.ChannelID},
			variant: w.buf,
		})
		byteCount += size
	}

	if p.state == PeerStateZombie {
		if len(commands) == 0 {
			return false, nil
		}
		return h.sendDatagram(p, commands, now)
	}

	if checkForTimeouts && p.checkTimeouts(now) {
		if len(commands) == 0 {
			return false, nil
		}
		return h.sendDatagram(p, commands, now)
	}

	if len(p.outgoingReliableCommands) == 0 && p.sentReliableCommands.Len() == 0 &&
		p.state == PeerStateConnected && now.Sub(p.lastReceiveTime) >= p.pingInterval &&
		byteCount+commandHeaderSize <= int(p.mtu) {
		p.queueOutgoingReliable(&outgoingCommand{
			header: commandHeader{Command: cmdPing, ChannelID: systemChannelID},
		})
	}

	for len(p.outgoingReliableCommands) > 0 && len(commands) < protocolMaxPacketCommands {
		cmd := p.outgoingReliableCommands[0]
		size := cmd.wireSize()
		if byteCount+size > int(p.mtu) {
			break
		}
		if cmd.fragmentLength > 0 && p.sentReliableCommands.Len() > 0 &&
			p.reliableDataInTransit+cmd.fragmentLength > p.windowSize {
			break
		}

		p.outgoingReliableCommands = p.outgoingReliableCommands[1:]
		cmd.sentTime = now
		if cmd.roundTripTimeout == 0 {
			cmd.roundTripTimeout = p.roundTripTime + 4*p.roundTripTimeVariance
			if cmd.roundTripTimeout <= 0 {
				cmd.roundTripTimeout = defaultRoundTripTime
			}
			cmd.roundTripTimeoutLimit = time.Duration(TimeoutLimit) * cmd.roundTripTimeout
		}
		p.sentReliableCommands.PushBack(cmd)
		p.reliableDataInTransit += cmd.fragmentLength
		p.packetsSent++

		commands = append(commands, cmd)
		byteCount += size
	}
	p.recomputeEarliestTimeout()

	for len(p.outgoingUnreliableCommands) > 0 && len(commands) < protocolMaxPacketCommands {
		cmd := p.outgoingUnreliableCommands[0]
		p.outgoingUnreliableCommands = p.outgoingUnreliableCommands[1:]

		p.packetThrottleCounter += PacketThrottleCounter
		p.packetThrottleCounter %= PacketThrottleScale
		if p.packetThrottleCounter > p.packetThrottle {
			if cmd.packet != nil {
				cmd.packet.release()
			}
			continue
		}

		size := cmd.wireSize()
		if byteCount+size > int(p.mtu) {
			p.outgoingUnreliableCommands = append([]*outgoingCommand{cmd}, p.outgoingUnreliableCommands...)
			break
		}
		commands = append(commands, cmd)
		byteCount += size
		p.sentUnreliableCommands = append(p.sentUnreliableCommands, cmd)
	}

	if len(commands) == 0 {
		return false, nil
	}
	return h.sendDatagram(p, commands, now)
}

// sendDatagram encodes commands into one wire datagram and hands it to
// the socket, applying the peer's own byte-rate limiter (SPEC_FULL.md §3
// domain stack) ahead of the write, then tidies up the unreliable
// fire-and-forget commands that just went out.
func (h *Host) sendDatagram(p *Peer, commands []*outgoingCommand, now time.Time) (bool, error) {
	w := newWireWriter(int(p.mtu))
	w.writeDatagramHeader(datagramHeader{
		PeerID:       p.outgoingPeerID,
		CommandCount: uint8(len(commands)),
		SentTime:     p.host.wireTime(now),
		Challenge:    p.challenge,
	})
	for _, cmd := range commands {
		cmd.encode(w)
	}

	if p.outgoingLimiter != nil && !p.outgoingLimiter.AllowN(now, len(w.buf)) {
		h.releaseSentUnreliable(p)
		return false, nil
	}

	n, err := h.socket.Send(p.address, w.buf)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrFatalIO, err)
	}
	if n == 0 {
		h.releaseSentUnreliable(p)
		return false, nil
	}

	h.totalSentData += uint64(n)
	h.totalSentPackets++
	if h.metrics != nil {
		h.metrics.bytesSent.Add(float64(n))
		h.metrics.packetsSent.Inc()
	}
	p.lastSendTime = now
	h.releaseSentUnreliable(p)
	p.updatePacketLoss(now)
	return true, nil
}

func (h *Host) releaseSentUnreliable(p *Peer) {
	for _, cmd := range p.sentUnreliableCommands {
		if cmd.packet != nil {
			cmd.packet.release()
		}
	}
	p.sentUnreliableCommands = p.sentUnreliableCommands[:0]
}

// receiveIncoming drains every already-arrived datagram from the
// socket, decoding and dispatching each in turn.
func (h *Host) receiveIncoming(now time.Time) error {
	for {
		addr, data, err := h.socket.Receive()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFatalIO, err)
		}
		if data == nil {
			return nil
		}

		h.totalReceivedData += uint64(len(data))
		h.totalReceivedPackets++
		if h.metrics != nil {
			h.metrics.bytesReceived.Add(float64(len(data)))
			h.metrics.packetsReceived.Inc()
		}
		h.handleDatagram(addr, data, now)
	}
}

// isReliableCommand reports whether c travels the reliable stream and
// therefore requires an ACKNOWLEDGE once received, per spec.md §4.A.
func isReliableCommand(c commandType) bool {
	switch c {
	case cmdConnect, cmdVerifyConnect, cmdDisconnect, cmdPing,
		cmdSendReliable, cmdSendFragment, cmdBandwidthLimit, cmdThrottleConfigure:
		return true
	default:
		return false
	}
}

// handleDatagram decodes one received datagram's header and walks its
// command list, isolating a malformed command (spec.md §7) rather than
// discarding the whole datagram: a header that fails to decode, or a
// command whose declared length disagrees with its type, aborts the
// remaining commands in that datagram only, since byte alignment with
// the rest of the datagram is lost.
func (h *Host) handleDatagram(addr Address, data []byte, now time.Time) {
	r := newWireReader(data)
	dh, err := r.readDatagramHeader()
	if err != nil {
		h.log.WithField("addr", addr.String()).Debug("malformed datagram header")
		return
	}

	var peer *Peer
	if int(dh.PeerID) < len(h.peers) {
		if cand := h.peers[dh.PeerID]; cand.state != PeerStateDisconnected && cand.address.Equal(addr) {
			peer = cand
		}
	}

	var errs commandErrors
	for i := 0; i < int(dh.CommandCount); i++ {
		ch, err := r.readCommandHeader()
		if err != nil {
			errs.add(i, err.Error())
			break
		}
		minVariant, known := minimumVariantSize(ch.Command)
		if !known {
			errs.add(i, "unknown command type")
			break
		}
		bodyLen := int(ch.CommandLength) - commandHeaderSize
		if bodyLen < minVariant {
			errs.add(i, "command shorter than its variant")
			break
		}
		body, err := r.take(bodyLen)
		if err != nil {
			errs.add(i, err.Error())
			break
		}
		variant := body[:minVariant]
		payload := body[minVariant:]
		br := newWireReader(variant)

		resolved := h.handleCommand(peer, addr, dh, ch, br, payload, now)
		if resolved != nil {
			peer = resolved
		}
	}

	if peer != nil {
		peer.lastReceiveTime = now
	}
	if err := errs.ErrorOrNil(); err != nil {
		h.log.WithField("addr", addr.String()).WithError(err).Debug("datagram contained malformed commands")
	}
}

// handleCommand dispatches one decoded command to its handler, then
// queues an acknowledgement if the command travels the reliable stream
// (isReliableCommand) and was processed without a decode error. It
// returns the peer a CONNECT just admitted, if any, so the caller can
// track it for the remaining commands in the same datagram.
func (h *Host) handleCommand(peer *Peer, addr Address, dh datagramHeader, ch commandHeader, br *wireReader, payload []byte, now time.Time) *Peer {
	var target *Peer
	ok := true

	switch ch.Command {
	case cmdConnect:
		v, err := br.readConnect()
		if err != nil {
			return nil
		}
		target = h.handleConnect(addr, dh.Challenge, v, now)
		ok = target != nil

	case cmdAcknowledge:
		if peer == nil {
			return nil
		}
		v, err := br.readAcknowledge()
		if err != nil {
			return nil
		}
		h.handleAcknowledge(peer, ch, v, now)

	case cmdVerifyConnect:
		if peer == nil {
			return nil
		}
		v, err := br.readVerifyConnect()
		if err != nil {
			return nil
		}
		h.handleVerifyConnect(peer, dh.Challenge, v)
		target = peer

	case cmdDisconnect:
		if peer == nil {
			return nil
		}
		v, err := br.readDisconnect()
		if err != nil {
			return nil
		}
		h.handleDisconnect(peer, v)
		target = peer

	case cmdPing:
		if peer == nil {
			return nil
		}
		target = peer

	case cmdSendReliable:
		if peer == nil {
			return nil
		}
		h.handleSendReliable(peer, ch, payload)
		target = peer

	case cmdSendFragment:
		if peer == nil {
			return nil
		}
		v, err := br.readSendFragment()
		if err != nil {
			return nil
		}
		h.handleSendFragment(peer, ch, v, payload)
		target = peer

	case cmdSendUnreliable:
		if peer == nil {
			return nil
		}
		v, err := br.readSendUnreliable()
		if err != nil {
			return nil
		}
		h.handleSendUnreliable(peer, ch, v, payload)

	case cmdSendUnsequenced:
		if peer == nil {
			return nil
		}
		v, err := br.readSendUnsequenced()
		if err != nil {
			return nil
		}
		h.handleSendUnsequenced(peer, ch, v, payload)

	case cmdBandwidthLimit:
		if peer == nil {
			return nil
		}
		v, err := br.readBandwidthLimit()
		if err != nil {
			return nil
		}
		peer.incomingBandwidth = v.IncomingBandwidth
		peer.outgoingBandwidth = v.OutgoingBandwidth
		h.recalculateBandwidthLimits = true
		target = peer

	case cmdThrottleConfigure:
		if peer == nil {
			return nil
		}
		v, err := br.readThrottleConfigure()
		if err != nil {
			return nil
		}
		peer.packetThrottleInterval = time.Duration(v.PacketThrottleInterval) * time.Millisecond
		peer.packetThrottleAcceleration = v.PacketThrottleAcceleration
		peer.packetThrottleDeceleration = v.PacketThrottleDeceleration
		target = peer
	}

	if ok && target != nil && isReliableCommand(ch.Command) {
		target.acknowledgements.PushBack(&acknowledgement{command: ch, sentTime: dh.SentTime})
	}
	if ch.Command == cmdConnect {
		return target
	}
	return nil
}

// handleConnect admits a new peer from an inbound CONNECT, per spec.md
// §4.F "Connection admission": a CONNECT matching an already-admitted,
// non-disconnected peer's (address, challenge) is a retransmit and is
// dropped (the queued VERIFY_CONNECT will itself be retransmitted); a
// full peer table or an address already at MaxPeersPerAddress drops the
// request silently, matching an unreachable host from the connector's
// point of view until it times out.
func (h *Host) handleConnect(addr Address, challenge uint32, v connectVariant, now time.Time) *Peer {
	for _, p := range h.peers {
		if p.state != PeerStateDisconnected && p.address.Equal(addr) && p.challenge == challenge {
			return nil
		}
	}
	if h.maxPeersPerAddress > 0 && h.countPeersAtAddress(addr) >= h.maxPeersPerAddress {
		return nil
	}
	peer := h.findFreeSlot()
	if peer == nil {
		return nil
	}

	channelCount := clampInt(int(v.ChannelCount), MinChannelCount, h.channelLimit)
	peer.address = addr
	peer.challenge = challenge
	peer.outgoingPeerID = v.OutgoingPeerID
	peer.mtu = clampU16(v.MTU, MinMTU, h.defaultMTU)
	peer.windowSize = clampU32(v.WindowSize, MinWindowSize, MaxWindowSize)
	peer.incomingBandwidth = v.IncomingBandwidth
	peer.outgoingBandwidth = v.OutgoingBandwidth
	if v.PacketThrottleInterval > 0 {
		peer.packetThrottleInterval = time.Duration(v.PacketThrottleInterval) * time.Millisecond
	}
	peer.packetThrottleAcceleration = v.PacketThrottleAcceleration
	peer.packetThrottleDeceleration = v.PacketThrottleDeceleration
	peer.channels = make([]*channel, channelCount)
	for i := range peer.channels {
		peer.channels[i] = newChannel()
	}
	peer.lastReceiveTime = now
	peer.lastSendTime = now
	peer.packetThrottleEpoch = now
	peer.packetLossEpoch = now
	if h.outgoingBandwidth > 0 {
		peer.outgoingLimiter = rate.NewLimiter(rate.Limit(h.outgoingBandwidth), int(h.outgoingBandwidth))
	}
	// Both the connector and the acceptor land in CONNECTION_PENDING and
	// get promoted to CONNECTED by the same dispatchPeers step once their
	// half of the handshake is queued; see DESIGN.md.
	peer.state = PeerStateConnectionPending

	w := newWireWriter(verifyConnectVariantSize)
	w.writeVerifyConnect(verifyConnectVariant{
		connectVariant: connectVariant{
			OutgoingPeerID:             peer.index,
			MTU:                        peer.mtu,
			WindowSize:                 peer.windowSize,
			ChannelCount:               uint32(channelCount),
			IncomingBandwidth:          h.incomingBandwidth,
			OutgoingBandwidth:          h.outgoingBandwidth,
			PacketThrottleInterval:     uint32(peer.packetThrottleInterval / time.Millisecond),
			PacketThrottleAcceleration: peer.packetThrottleAcceleration,
			PacketThrottleDeceleration: peer.packetThrottleDeceleration,
		},
		IncomingPeerID: v.OutgoingPeerID,
	})
	peer.queueOutgoingReliable(&outgoingCommand{
		header:  commandHeader{Command: cmdVerifyConnect, ChannelID: systemChannelID},
		variant: w.buf,
	})

	h.recalculateBandwidthLimits = true
	h.log.WithField("peer", peer.index).WithField("addr", addr.String()).Debug("admitted connect")
	return peer
}

// handleVerifyConnect validates the remote's echoed connection
// parameters against what we originally proposed, per spec.md §4.F: any
// disagreement (wrong challenge, wrong assigned ID, more channels than
// we proposed) is a protocol mismatch and the peer is dropped without
// completing the handshake. Fewer channels than proposed is accepted
// and truncates our channel array to the remote's count.
func (h *Host) handleVerifyConnect(peer *Peer, challenge uint32, v verifyConnectVariant) {
	if peer.state != PeerStateConnecting && peer.state != PeerStateConnectionPending {
		return
	}
	if challenge != peer.challenge || v.IncomingPeerID != peer.index || uint32(len(peer.channels)) < v.ChannelCount {
		peer.state = PeerStateZombie
		peer.disconnectData = 0
		h.log.WithField("peer", peer.index).Warn("protocol mismatch on verify connect")
		return
	}

	peer.outgoingPeerID = v.OutgoingPeerID
	peer.mtu = clampU16(v.MTU, MinMTU, peer.mtu)
	if uint32(len(peer.channels)) > v.ChannelCount {
		peer.channels = peer.channels[:v.ChannelCount]
	}
	peer.incomingBandwidth = v.IncomingBandwidth
	peer.outgoingBandwidth = v.OutgoingBandwidth
	peer.windowSize = clampU32(v.WindowSize, MinWindowSize, peer.windowSize)
	peer.state = PeerStateConnectionPending
	h.recalculateBandwidthLimits = true
}

// handleAcknowledge matches an ACKNOWLEDGE against the in-flight
// reliable command it names — (channelID, reliableSequenceNumber), the
// same pair that disambiguates the independent per-channel and
// peer-level (systemChannelID) sequence spaces on the way out — folds
// the observed RTT into the peer's estimate, and releases the
// command's packet reference.
func (h *Host) handleAcknowledge(peer *Peer, ch commandHeader, v acknowledgeVariant, now time.Time) {
	for e := peer.sentReliableCommands.Front(); e != nil; e = e.Next() {
		cmd := e.Value.(*outgoingCommand)
		if cmd.header.ChannelID != ch.ChannelID || cmd.header.ReliableSequenceNumber != v.ReceivedReliableSequenceNumber {
			continue
		}
		peer.sentReliableCommands.Remove(e)
		if peer.reliableDataInTransit >= cmd.fragmentLength {
			peer.reliableDataInTransit -= cmd.fragmentLength
		} else {
			peer.reliableDataInTransit = 0
		}

		rtt := wireElapsed(h.wireTime(now), v.ReceivedSentTime)
		peer.onAcknowledge(rtt, now)

		if cmd.packet != nil {
			cmd.packet.release()
		}
		if cmd.header.Command == cmdDisconnect && peer.state == PeerStateDisconnecting {
			peer.state = PeerStateZombie
		}
		peer.recomputeEarliestTimeout()
		return
	}
}

// handleDisconnect transitions peer toward ZOMBIE on receiving a
// DISCONNECT, per spec.md §4.D; dispatchPeers surfaces the resulting
// DISCONNECT event and recycles the slot on its next pass.
func (h *Host) handleDisconnect(peer *Peer, v disconnectVariant) {
	switch peer.state {
	case PeerStateDisconnected, PeerStateZombie:
		return
	case PeerStateConnecting, PeerStateConnectionPending:
		peer.disconnectData = 0
	default:
		peer.disconnectData = v.Data
	}
	peer.state = PeerStateZombie
}

// handleSendReliable queues a fully-formed (unfragmented) reliable
// command for in-order delivery on its channel.
func (h *Host) handleSendReliable(peer *Peer, ch commandHeader, payload []byte) {
	if int(ch.ChannelID) >= len(peer.channels) {
		return
	}
	chn := peer.channels[ch.ChannelID]
	pkt := NewPacket(payload, PacketFlagReliable)
	pkt.retain()
	cmd := &incomingCommand{
		command:                cmdSendReliable,
		channelID:              ch.ChannelID,
		reliableSequenceNumber: ch.ReliableSequenceNumber,
		packet:                 pkt,
	}
	if !chn.insertReliable(cmd) {
		pkt.release()
	}
}

// handleSendFragment folds one fragment into its in-progress reassembly
// and, on the first fragment of a new command, queues it for delivery
// once complete.
func (h *Host) handleSendFragment(peer *Peer, ch commandHeader, v sendFragmentVariant, payload []byte) {
	if int(ch.ChannelID) >= len(peer.channels) {
		return
	}
	chn := peer.channels[ch.ChannelID]
	cmd, firstSeen, ok := reassembleFragment(chn, ch, v, payload)
	if !ok {
		return
	}
	if firstSeen && !chn.insertReliable(cmd) {
		cmd.packet.release()
	}
}

// handleSendUnreliable queues an unreliable command for delivery once
// the channel's reliable stream catches up to the reliable sequence
// number it was stamped with at send time.
func (h *Host) handleSendUnreliable(peer *Peer, ch commandHeader, v sendUnreliableVariant, payload []byte) {
	if int(ch.ChannelID) >= len(peer.channels) {
		return
	}
	chn := peer.channels[ch.ChannelID]
	pkt := NewPacket(payload, 0)
	pkt.retain()
	cmd := &incomingCommand{
		command:                  cmdSendUnreliable,
		channelID:                ch.ChannelID,
		reliableSequenceNumber:   ch.ReliableSequenceNumber,
		unreliableSequenceNumber: v.UnreliableSequenceNumber,
		packet:                   pkt,
	}
	if !chn.insertUnreliable(cmd) {
		pkt.release()
	}
}

// handleSendUnsequenced delivers an unsequenced command immediately,
// deduplicating replays against the peer's UnsequencedWindowSize-wide
// bitset keyed by group number modulo the window, per spec.md §4.F
// "Unsequenced replay window". Unsequenced delivery bypasses channel
// ordering entirely, so it is pushed straight to the event queue rather
// than through a channel's incoming lists.
func (h *Host) handleSendUnsequenced(peer *Peer, ch commandHeader, v sendUnsequencedVariant, payload []byte) {
	if v.UnsequencedGroup >= peer.incomingUnsequencedGroup+UnsequencedWindowSize {
		peer.incomingUnsequencedGroup = v.UnsequencedGroup - (v.UnsequencedGroup % UnsequencedWindowSize)
		peer.unsequencedWindow.ClearAll()
	} else if v.UnsequencedGroup < peer.incomingUnsequencedGroup {
		return
	}

	slot := uint(v.UnsequencedGroup % UnsequencedWindowSize)
	if peer.unsequencedWindow.Test(slot) {
		return // replay of an already-delivered group
	}
	peer.unsequencedWindow.Set(slot)

	pkt := NewPacket(payload, PacketFlagUnsequenced)
	pkt.retain()
	h.pushEvent(Event{Kind: EventReceive, Peer: peer, Channel: ch.ChannelID, Packet: pkt})
}
