package responder

import (
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// handleLLMNRPacket answers LLMNR queries for the host name (RFC 4795
// §4.1). LLMNR has no probing of its own: the responder answers once the
// mDNS FSM has verified the name, and stays silent before that, which also
// covers the tentative period. Malformed queries are dropped without a
// reply. Runs under the stack mutex.
func (r *Responder) handleLLMNRPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if ifc != r.ifc || !message.ValidHeader(msg) {
		return
	}
	if message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}
	if r.state != StateAnnouncing && r.state != StateIdle {
		return
	}
	if message.QDCount(msg) != 1 {
		return
	}

	q, err := message.ParseQuestion(msg, protocol.HeaderSize)
	if err != nil {
		return
	}
	if q.Class != protocol.ClassIN && q.Class != protocol.ClassANY {
		return
	}
	if res, err := message.CompareName(msg, q.NameOff, r.hostname); err != nil || res != 0 {
		return
	}

	b := message.NewBuilder(protocol.DNSMessageMaxSize, true)
	b.SetID(message.ID(msg))
	// LLMNR responses repeat the question (RFC 4795 §2.1.1).
	if err := b.AppendQuestion(r.hostname, "", "", q.Type, protocol.ClassIN); err != nil {
		return
	}

	ttl := uint32(protocol.LLMNRDefaultRRTTL)
	switch q.Type {
	case protocol.TypeA:
		r.addLLMNRAddrRecord(b, protocol.TypeA, ttl)
	case protocol.TypeAAAA:
		r.addLLMNRAddrRecord(b, protocol.TypeAAAA, ttl)
	case protocol.TypeANY:
		r.addLLMNRAddrRecord(b, protocol.TypeA, ttl)
		r.addLLMNRAddrRecord(b, protocol.TypeAAAA, ttl)
	default:
		// An empty authoritative answer tells the querier the name
		// exists without records of this type.
	}

	err = r.s.Transport().Send(r.ifc.Index(), protocol.LLMNRPort, meta.Src, b.Bytes(),
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
	if err != nil {
		r.log.Debug().Err(err).Msg("LLMNR send failed")
	}
}

func (r *Responder) addLLMNRAddrRecord(b *message.Builder, rtype uint16, ttl uint32) {
	switch rtype {
	case protocol.TypeA:
		if !r.ifc.HasIPv4() {
			return
		}
		rdata := r.ifc.IPv4Addr().As4()
		_ = b.AppendRecord(message.SectionAnswer, r.hostname, "", "",
			protocol.TypeA, protocol.ClassIN, ttl, rdata[:])
	case protocol.TypeAAAA:
		if !r.ifc.HasIPv6() {
			return
		}
		rdata := r.ifc.IPv6LinkLocal().As16()
		_ = b.AppendRecord(message.SectionAnswer, r.hostname, "", "",
			protocol.TypeAAAA, protocol.ClassIN, ttl, rdata[:])
	}
}
