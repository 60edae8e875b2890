package resolver

import (
	"net/netip"

	"github.com/joshuafuller/lantern/internal/cache"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// sendMDNSQuery transmits a one-shot multicast query for the entry's name
// to the mDNS group of the wanted address family (RFC 6762 §5.1). Callers
// hold the stack mutex.
func (r *Resolver) sendMDNSQuery(ifc *stack.Interface, e *cache.Entry) error {
	qtype := uint16(protocol.TypeA)
	group := netip.MustParseAddr(protocol.MDNSIPv4Group)
	if e.Type == TypeIPv6 {
		qtype = protocol.TypeAAAA
		group = netip.MustParseAddr(protocol.MDNSIPv6Group)
	}

	b := message.NewBuilder(protocol.MDNSMessageMaxSize, false)
	if err := b.AppendQuestion(e.Name, "", "", qtype, protocol.ClassIN); err != nil {
		return err
	}

	dst := transport.Endpoint{Addr: group, Port: protocol.MDNSPort}
	return r.s.Transport().Send(ifc.Index(), protocol.MDNSPort, dst, b.Bytes(),
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
}

// handleMDNSPacket filters mDNS responses for the client side of port
// 5353; queries and the responder's conflict handling live in the
// responder package. Runs under the stack mutex.
func (r *Resolver) handleMDNSPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if !message.ValidHeader(msg) {
		return
	}
	if !message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}
	if message.RCode(msg) != protocol.RCodeNoError {
		return
	}
	if !mdnsSourceOnLink(ifc, meta) {
		return
	}

	// mDNS responses need not echo the question; walk the answers and
	// match them against the in-flight entries directly (RFC 6762 §6).
	off := protocol.HeaderSize
	for i := 0; i < message.QDCount(msg); i++ {
		q, err := message.ParseQuestion(msg, off)
		if err != nil {
			return
		}
		off = q.End
	}

	for i := 0; i < message.ANCount(msg); i++ {
		rec, err := message.ParseRecord(msg, off)
		if err != nil {
			return
		}
		off = rec.End

		if rec.PlainClass() != protocol.ClassIN {
			continue
		}

		var wantType HostType
		switch {
		case rec.Type == protocol.TypeA && len(rec.RData) == 4:
			wantType = TypeIPv4
		case rec.Type == protocol.TypeAAAA && len(rec.RData) == 16:
			wantType = TypeIPv6
		default:
			continue
		}

		r.table.ForEach(func(e *cache.Entry) {
			if e.Protocol != ProtoMDNS || e.State != cache.StateInProgress {
				return
			}
			if e.IfIndex != ifc.Index() || e.Type != wantType {
				return
			}
			if res, err := message.CompareName(msg, rec.NameOff, e.Name); err != nil || res != 0 {
				return
			}
			if addr, ok := netip.AddrFromSlice(rec.RData); ok {
				r.resolveEntry(e, addr, rec.TTL)
			}
		})
	}
}

// mdnsSourceOnLink is the RFC 6762 §11 source check: accept a response
// only when it was addressed to the mDNS group, or its source is
// link-local, or its source is on one of the interface's subnets.
func mdnsSourceOnLink(ifc *stack.Interface, meta transport.Metadata) bool {
	if meta.Dst.Addr.IsValid() && meta.Dst.Addr.IsMulticast() {
		return true
	}
	src := meta.Src.Addr
	if !src.IsValid() {
		return false
	}
	if src.IsLinkLocalUnicast() {
		return true
	}
	return ifc.OnLink(src)
}
