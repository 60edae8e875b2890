package resolver

import (
	"net/netip"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/cache"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// attachDNSPort draws an ephemeral source port, registers the response
// callback on it and assigns the transaction identifier. Callers hold the
// stack mutex.
func (r *Resolver) attachDNSPort(ifc *stack.Interface, e *cache.Entry) error {
	// A colliding draw retries; the dynamic range is large enough that a
	// bounded number of attempts always suffices in practice.
	for attempt := 0; attempt < 8; attempt++ {
		port := r.s.RandEphemeralPort()
		if r.s.EphemeralPortAttached(ifc.Index(), port) {
			continue
		}
		if err := r.s.AttachEphemeralPort(ifc.Index(), port, r.handleDNSPacket); err != nil {
			continue
		}
		e.Port = port
		e.ID = uint16(r.s.RandUint32())
		return nil
	}
	return lantern.ErrOutOfResources
}

// sendDNSQuery builds and transmits a recursive query for the entry's name
// to the DNS server selected by the entry's server index. Callers hold the
// stack mutex.
func (r *Resolver) sendDNSQuery(ifc *stack.Interface, e *cache.Entry) error {
	servers := ifc.IPv4DNSServers()
	if e.Type == TypeIPv6 {
		servers = ifc.IPv6DNSServers()
	}
	if e.ServerNum >= len(servers) {
		return lantern.ErrNoDNSServer
	}

	qtype := uint16(protocol.TypeA)
	if e.Type == TypeIPv6 {
		qtype = protocol.TypeAAAA
	}

	b := message.NewBuilder(protocol.DNSMessageMaxSize, false)
	b.SetID(e.ID)
	b.SetFlags(protocol.FlagRD)
	if err := b.AppendQuestion(e.Name, "", "", qtype, protocol.ClassIN); err != nil {
		return err
	}

	dst := transport.Endpoint{Addr: servers[e.ServerNum], Port: protocol.DNSPort}
	return r.s.Transport().Send(ifc.Index(), e.Port, dst, b.Bytes(), transport.Ancillary{})
}

// handleDNSPacket processes a datagram received on an ephemeral query
// port. Runs under the stack mutex.
func (r *Resolver) handleDNSPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if !message.ValidHeader(msg) {
		return
	}
	if !message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}

	var entry *cache.Entry
	r.table.ForEach(func(e *cache.Entry) {
		if entry != nil {
			return
		}
		if e.Protocol == ProtoDNS && e.State == cache.StateInProgress &&
			e.IfIndex == ifc.Index() && e.Port == meta.Dst.Port && e.ID == message.ID(msg) {
			entry = e
		}
	})
	if entry == nil {
		return
	}

	// An explicit server-side error ends the resolution immediately.
	if message.RCode(msg) != protocol.RCodeNoError {
		r.log.Debug().Str("name", entry.Name).Uint8("rcode", message.RCode(msg)).Msg("server error")
		r.table.Delete(entry)
		return
	}

	addr, ttl, ok := r.matchAnswer(msg, entry)
	if !ok {
		return
	}
	r.resolveEntry(entry, addr, ttl)
}

// matchAnswer validates the question section against the entry and walks
// the answer records for a usable address. Shared by the DNS and LLMNR
// response paths.
func (r *Resolver) matchAnswer(msg []byte, e *cache.Entry) (netip.Addr, uint32, bool) {
	wantType := uint16(protocol.TypeA)
	wantLen := 4
	if e.Type == TypeIPv6 {
		wantType = protocol.TypeAAAA
		wantLen = 16
	}

	off := protocol.HeaderSize

	// The question section, when echoed, must name the host we asked
	// about.
	for i := 0; i < message.QDCount(msg); i++ {
		q, err := message.ParseQuestion(msg, off)
		if err != nil {
			return netip.Addr{}, 0, false
		}
		if res, err := message.CompareName(msg, q.NameOff, e.Name); err != nil || res != 0 {
			return netip.Addr{}, 0, false
		}
		off = q.End
	}

	for i := 0; i < message.ANCount(msg); i++ {
		rec, err := message.ParseRecord(msg, off)
		if err != nil {
			return netip.Addr{}, 0, false
		}
		off = rec.End

		if rec.PlainClass() != protocol.ClassIN || rec.Type != wantType || len(rec.RData) != wantLen {
			continue
		}
		if res, err := message.CompareName(msg, rec.NameOff, e.Name); err != nil || res != 0 {
			continue
		}

		addr, ok := netip.AddrFromSlice(rec.RData)
		if !ok {
			continue
		}
		return addr, rec.TTL, true
	}
	return netip.Addr{}, 0, false
}
