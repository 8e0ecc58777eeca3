package genet

import (
	"errors"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Sentinel errors, see spec.md §7.
var (
	// ErrMalformedDatagram is returned internally when a command or
	// datagram fails validation; it is always recovered locally and
	// never reaches the application directly.
	ErrMalformedDatagram = errors.New("genet: malformed datagram")

	// ErrPeerTimedOut names a peer lost to the retransmission timeout.
	// Such a peer surfaces as an EventDisconnect; Event carries no error
	// value, so the engine neither returns nor attaches this sentinel.
	ErrPeerTimedOut = errors.New("genet: peer timed out")

	// ErrPeerProtocolMismatch names a VERIFY_CONNECT whose parameters
	// disagree with what was sent. Such a peer surfaces as an
	// EventDisconnect with Data 0; the engine neither returns nor
	// attaches this sentinel.
	ErrPeerProtocolMismatch = errors.New("genet: peer protocol mismatch")

	// ErrResourceExhausted is returned from Host construction or peer
	// admission when no peer slot is available.
	ErrResourceExhausted = errors.New("genet: resource exhausted")

	// ErrFatalIO is returned from Service/Flush when the datagram
	// interface reports a fatal, non-would-block failure.
	ErrFatalIO = errors.New("genet: fatal I/O error")

	// ErrInvalidChannel is returned from Peer.Send when the channel ID
	// is outside the peer's negotiated channel count. Supplemented from
	// original_source/protocol.c's enet_peer_send validation.
	ErrInvalidChannel = errors.New("genet: invalid channel")

	// ErrPacketTooLarge is returned from Peer.Send when a reliable
	// packet would require more fragments than a single reliable
	// sequence range can address.
	ErrPacketTooLarge = errors.New("genet: packet too large")

	// ErrPeerNotConnected is returned from Peer.Send when the peer is
	// not in a state that accepts outgoing traffic.
	ErrPeerNotConnected = errors.New("genet: peer not connected")

	// ErrHostDestroyed is returned by any operation performed on a Host
	// after Destroy has run.
	ErrHostDestroyed = errors.New("genet: host destroyed")
)

// malformedCommandError wraps ErrMalformedDatagram with the offending
// command's position, for diagnostics only — the engine never surfaces
// this to the application; it only ever logs it and drops the command.
type malformedCommandError struct {
	index  int
	reason string
}

func (e *malformedCommandError) Error() string {
	return fmt.Sprintf("command %d: %s", e.index, e.reason)
}

func (e *malformedCommandError) Unwrap() error { return ErrMalformedDatagram }

// commandErrors accumulates the independent malformed-command failures
// encountered while walking one datagram's command list, per spec.md
// §7's "isolates damage at command granularity" policy: a single error
// return would force discarding all but one diagnostic.
type commandErrors struct {
	errs *multierror.Error
}

func (c *commandErrors) add(index int, reason string) {
	c.errs = multierror.Append(c.errs, &malformedCommandError{index: index, reason: reason})
}

func (c *commandErrors) ErrorOrNil() error {
	if c.errs == nil {
		return nil
	}
	return c.errs.ErrorOrNil()
}
