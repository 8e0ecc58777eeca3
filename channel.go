package genet

import "container/list"

// channel is per-peer, per-channel sequencing state: outgoing sequence
// counters, incoming high-water marks, and the two ordered queues of
// incomingCommand awaiting in-order delivery, per spec.md §3/§4.C.
//
// The two queues use container/list rather than an intrusive
// doubly-linked list (spec.md §9 explicitly sanctions this substitution
// for languages without embedded list nodes): insertion is a backwards
// scan from the tail since arrival is nearly always in order, and
// removal during iteration is O(1) given a *list.Element.
type channel struct {
	outgoingReliableSequenceNumber   uint32
	outgoingUnreliableSequenceNumber uint32
	incomingReliableSequenceNumber   uint32
	incomingUnreliableSequenceNumber uint32

	incomingReliable   *list.List // of *incomingCommand, ordered by reliableSequenceNumber
	incomingUnreliable *list.List // of *incomingCommand, ordered by unreliableSequenceNumber
}

func newChannel() *channel {
	return &channel{
		incomingReliable:   list.New(),
		incomingUnreliable: list.New(),
	}
}

// insertReliable places cmd into the incoming-reliable queue in
// sequence order, scanning backwards from the tail. Returns false
// (dropping cmd) if a command with the same sequence number is already
// queued — spec.md §4.C, "duplicate reliable sequence numbers are
// dropped."
func (ch *channel) insertReliable(cmd *incomingCommand) bool {
	for e := ch.incomingReliable.Back(); e != nil; e = e.Prev() {
		existing := e.Value.(*incomingCommand)
		if cmd.reliableSequenceNumber == existing.reliableSequenceNumber {
			return false
		}
		if cmd.reliableSequenceNumber > existing.reliableSequenceNumber {
			ch.incomingReliable.InsertAfter(cmd, e)
			return true
		}
	}
	ch.incomingReliable.PushFront(cmd)
	return true
}

// insertUnreliable places cmd into the incoming-unreliable queue in
// sequence order, scanning backwards from the tail. Returns false if
// cmd is out of range: at or behind the current unreliable high-water
// mark, per spec.md §4.C.
func (ch *channel) insertUnreliable(cmd *incomingCommand) bool {
	if cmd.unreliableSequenceNumber <= ch.incomingUnreliableSequenceNumber {
		return false
	}
	for e := ch.incomingUnreliable.Back(); e != nil; e = e.Prev() {
		existing := e.Value.(*incomingCommand)
		if cmd.unreliableSequenceNumber == existing.unreliableSequenceNumber {
			return false
		}
		if cmd.unreliableSequenceNumber > existing.unreliableSequenceNumber {
			ch.incomingUnreliable.InsertAfter(cmd, e)
			return true
		}
	}
	ch.incomingUnreliable.PushFront(cmd)
	return true
}

// popDeliverableReliable removes and returns the front reliable command
// if it is both ready (all fragments received) and the next expected
// sequence number; otherwise returns nil, per spec.md §3's invariant
// that reliable sequence S delivers only after all S' <= S.
func (ch *channel) popDeliverableReliable() *incomingCommand {
	e := ch.incomingReliable.Front()
	if e == nil {
		return nil
	}
	cmd := e.Value.(*incomingCommand)
	if !cmd.ready() || cmd.reliableSequenceNumber != ch.incomingReliableSequenceNumber {
		return nil
	}
	ch.incomingReliable.Remove(e)
	ch.incomingReliableSequenceNumber += commandSpan(cmd)
	return cmd
}

// popDeliverableUnreliable removes and returns the front unreliable
// command if it sits behind current reliable progress, per spec.md §3:
// "an unreliable Incoming Command with reliable-sequence R is delivered
// only when the incoming reliable sequence is >= R."
func (ch *channel) popDeliverableUnreliable() *incomingCommand {
	e := ch.incomingUnreliable.Front()
	if e == nil {
		return nil
	}
	cmd := e.Value.(*incomingCommand)
	if cmd.reliableSequenceNumber > ch.incomingReliableSequenceNumber {
		return nil
	}
	ch.incomingUnreliable.Remove(e)
	if cmd.unreliableSequenceNumber > ch.incomingUnreliableSequenceNumber {
		ch.incomingUnreliableSequenceNumber = cmd.unreliableSequenceNumber
	}
	return cmd
}

// commandSpan reports how many reliable sequence numbers a command
// occupies: a fragmented command occupies fragmentCount consecutive
// numbers starting at startSequenceNumber (spec.md §4.F fragmentation),
// everything else occupies exactly one.
func commandSpan(cmd *incomingCommand) uint32 {
	if cmd.fragments != nil {
		return cmd.fragmentCount
	}
	return 1
}
