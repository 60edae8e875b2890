package resolver

import (
	"net/netip"

	"github.com/joshuafuller/lantern/internal/cache"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// sendLLMNRQuery transmits a query for the entry's name to the LLMNR
// multicast group of the wanted address family (RFC 4795 §2). Callers hold
// the stack mutex.
func (r *Resolver) sendLLMNRQuery(ifc *stack.Interface, e *cache.Entry) error {
	qtype := uint16(protocol.TypeA)
	group := netip.MustParseAddr(protocol.LLMNRIPv4Group)
	if e.Type == TypeIPv6 {
		qtype = protocol.TypeAAAA
		group = netip.MustParseAddr(protocol.LLMNRIPv6Group)
	}

	b := message.NewBuilder(protocol.DNSMessageMaxSize, false)
	b.SetID(e.ID)
	if err := b.AppendQuestion(e.Name, "", "", qtype, protocol.ClassIN); err != nil {
		return err
	}

	dst := transport.Endpoint{Addr: group, Port: protocol.LLMNRPort}
	return r.s.Transport().Send(ifc.Index(), protocol.LLMNRPort, dst, b.Bytes(),
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
}

// handleLLMNRPacket filters LLMNR responses on port 5355. Responses with a
// non-zero opcode are discarded per RFC 4795 §2.1.1. Runs under the stack
// mutex.
func (r *Resolver) handleLLMNRPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if !message.ValidHeader(msg) {
		return
	}
	if !message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}
	if message.RCode(msg) != protocol.RCodeNoError {
		return
	}

	var entry *cache.Entry
	r.table.ForEach(func(e *cache.Entry) {
		if entry != nil {
			return
		}
		if e.Protocol == ProtoLLMNR && e.State == cache.StateInProgress &&
			e.IfIndex == ifc.Index() && e.ID == message.ID(msg) {
			entry = e
		}
	})
	if entry == nil {
		return
	}

	addr, ttl, ok := r.matchAnswer(msg, entry)
	if !ok {
		return
	}
	r.resolveEntry(entry, addr, ttl)
}
