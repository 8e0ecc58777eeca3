// Package genet implements a reliable, ordered, multi-channel
// message-oriented transport over an unreliable datagram substrate
// such as UDP.
//
// A Host binds a local endpoint, connects outward to peers, and
// accepts inbound peers up to a configured limit. Peers exchange
// Packets over independent Channels; a Packet may be Reliable
// (delivered and ordered within its channel), Unreliable (best-effort,
// ordered), or Unsequenced (best-effort, no ordering). Large packets
// are fragmented transparently and reassembled at the receiver.
//
// The engine is single-threaded and cooperative: a Host is driven by
// repeated calls to Service from one goroutine. It is not safe for
// concurrent use.
package genet
