// Package transport is the narrow seam between the name resolution
// protocols and UDP datagram delivery. The stack addresses interfaces by
// index; everything above this package deals in payload bytes and
// endpoints, never in sockets.
//
// Two implementations exist: UDPTransport drives real sockets, Mock records
// outbound datagrams and injects inbound ones for tests.
package transport

import "net/netip"

// Endpoint is one side of a UDP flow.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// Ancillary carries per-datagram send options. The link-local protocols
// send with TTL 255 and the don't-route flag so their datagrams never
// leave the link.
type Ancillary struct {
	// TTL overrides the IP TTL / hop limit when non-zero.
	TTL uint8

	// DontRoute pins the datagram to the local link.
	DontRoute bool

	// DSCP is the six-bit differentiated-services code point; the
	// transport shifts it into the upper six bits of the traffic class octet.
	DSCP uint8
}

// Metadata describes a received datagram.
type Metadata struct {
	IfIndex int
	Src     Endpoint
	Dst     Endpoint
}

// RxCallback is invoked for each datagram received on a registered port.
// Callbacks run on the transport's receive path; implementations hand the
// packet to the stack, which serializes processing under its mutex.
type RxCallback func(meta Metadata, payload []byte)

// Transport sends datagrams and dispatches received ones to per-port
// callbacks.
type Transport interface {
	// Send transmits payload from srcPort on the given interface.
	Send(ifindex int, srcPort uint16, dst Endpoint, payload []byte, anc Ancillary) error

	// AttachRxCallback registers the callback for a local port. At most
	// one callback may be attached per (interface, port) pair; attaching
	// over an existing registration is an error.
	AttachRxCallback(ifindex int, port uint16, cb RxCallback) error

	// DetachRxCallback removes a registration. Detaching a port that is
	// not attached is a no-op.
	DetachRxCallback(ifindex int, port uint16)
}
