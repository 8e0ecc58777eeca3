package genet

import (
	"container/list"
	"time"
)

// checkTimeouts walks peer's in-flight reliable commands (in send order)
// and, for each one overdue per its own roundTripTimeout, either declares
// the connection lost or doubles the timeout and requeues it for
// retransmission at the front of outgoingReliableCommands, per spec.md
// §4.F "Timeout / retransmission". It returns true if the peer was
// declared lost (moved to ZOMBIE); the caller must stop composing for
// this peer once that happens.
func (p *Peer) checkTimeouts(now time.Time) bool {
	if p.sentReliableCommands.Len() == 0 {
		return false
	}
	if !p.earliestTimeout.IsZero() && now.Before(p.earliestTimeout) {
		return false
	}

	var next *list.Element
	for e := p.sentReliableCommands.Front(); e != nil; e = next {
		next = e.Next()
		cmd := e.Value.(*outgoingCommand)

		due := cmd.sentTime.Add(cmd.roundTripTimeout)
		if now.Before(due) {
			continue
		}

		elapsed := now.Sub(cmd.sentTime)
		if elapsed >= TimeoutMaximum ||
			(cmd.roundTripTimeout >= cmd.roundTripTimeoutLimit && elapsed >= TimeoutMinimum) {
			p.state = PeerStateZombie
			return true
		}

		p.sentReliableCommands.Remove(e)
		if p.reliableDataInTransit >= cmd.fragmentLength {
			p.reliableDataInTransit -= cmd.fragmentLength
		} else {
			p.reliableDataInTransit = 0
		}
		cmd.roundTripTimeout *= 2
		p.packetsLost++
		if p.host != nil && p.host.metrics != nil {
			p.host.metrics.packetsRetransmitted.Inc()
		}
		p.outgoingReliableCommands = append([]*outgoingCommand{cmd}, p.outgoingReliableCommands...)
	}

	p.recomputeEarliestTimeout()
	return false
}

// recomputeEarliestTimeout caches the soonest sentTime+roundTripTimeout
// among in-flight reliable commands, so checkTimeouts can skip peers
// with nothing due yet without rescanning the whole list.
func (p *Peer) recomputeEarliestTimeout() {
	p.earliestTimeout = time.Time{}
	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		cmd := e.Value.(*outgoingCommand)
		due := cmd.sentTime.Add(cmd.roundTripTimeout)
		if p.earliestTimeout.IsZero() || due.Before(p.earliestTimeout) {
			p.earliestTimeout = due
		}
	}
}
