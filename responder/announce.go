package responder

import (
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// sendProbe transmits one probe query (RFC 6762 §8.1): a question for ANY
// record on the claimed names with the QU bit set, and the tentative
// records in the Authority Section for tie-breaking by other probers.
func (r *Responder) sendProbe() {
	b := message.NewBuilder(protocol.MDNSMessageMaxSize, false)

	err := b.AppendQuestion(r.hostname, "", ".local", protocol.TypeANY,
		protocol.ClassIN|protocol.QUBit)
	if err != nil {
		return
	}
	for _, svc := range r.services {
		if err := b.AppendQuestion(r.instance(), svc.Name, ".local", protocol.TypeANY,
			protocol.ClassIN|protocol.QUBit); err != nil {
			return
		}
	}

	// Tentative address records the defenders compare against.
	if r.ifc.HasIPv4() {
		rdata := r.ifc.IPv4Addr().As4()
		if err := b.AppendRecord(message.SectionAuthority, r.hostname, "", ".local",
			protocol.TypeA, protocol.ClassIN, r.ttl, rdata[:]); err != nil {
			return
		}
	}
	if r.ifc.HasIPv6() {
		rdata := r.ifc.IPv6LinkLocal().As16()
		if err := b.AppendRecord(message.SectionAuthority, r.hostname, "", ".local",
			protocol.TypeAAAA, protocol.ClassIN, r.ttl, rdata[:]); err != nil {
			return
		}
	}
	for _, svc := range r.services {
		rdata, err := message.EncodeSRVData(svc.Priority, svc.Weight, svc.Port,
			r.hostname, "", ".local")
		if err != nil {
			return
		}
		if err := b.AppendRecord(message.SectionAuthority, r.instance(), svc.Name, ".local",
			protocol.TypeSRV, protocol.ClassIN, r.ttl, rdata); err != nil {
			return
		}
	}

	r.log.Debug().Str("hostname", r.hostname).Int("probe", r.retransmitCount+1).Msg("probe")

	if r.ifc.HasIPv4() {
		r.send(b, mdnsGroupV4())
	}
	if r.ifc.HasIPv6() {
		r.send(b, mdnsGroupV6())
	}
}

// sendAnnouncement transmits an unsolicited response carrying every record
// the responder is authoritative for (RFC 6762 §8.3). Unique records set
// the cache-flush bit.
func (r *Responder) sendAnnouncement(ttl uint32) {
	b := message.NewBuilder(protocol.MDNSMessageMaxSize, true)

	r.addIPv4AddrRecord(b, true, ttl)
	r.addIPv6AddrRecord(b, true, ttl)
	r.addIPv4ReversePtrRecord(b, true, ttl)
	r.addIPv6ReversePtrRecord(b, true, ttl)
	r.addNSECRecord(b, true, ttl)
	r.addServiceRecords(b, true, ttl)

	if b.ANCount() == 0 {
		return
	}

	r.log.Debug().Str("hostname", r.hostname).Uint32("ttl", ttl).Msg("announcement")

	if r.ifc.HasIPv4() {
		r.send(b, mdnsGroupV4())
	}
	if r.ifc.HasIPv6() {
		r.send(b, mdnsGroupV6())
	}
}

// sendGoodbye withdraws every advertised record by announcing it with a
// zero TTL (RFC 6762 §10.1).
func (r *Responder) sendGoodbye() {
	r.sendAnnouncement(0)
}

// addIPv4AddrRecord appends the host's A record, suppressing duplicates
// already present in the message.
func (r *Responder) addIPv4AddrRecord(b *message.Builder, cacheFlush bool, ttl uint32) {
	if !r.ifc.HasIPv4() || b.ContainsRecord(r.hostname, "", ".local", protocol.TypeA) {
		return
	}
	rdata := r.ifc.IPv4Addr().As4()
	_ = b.AppendRecord(message.SectionAnswer, r.hostname, "", ".local",
		protocol.TypeA, rclass(cacheFlush), ttl, rdata[:])
}

// addIPv6AddrRecord appends the host's AAAA record, suppressing
// duplicates.
func (r *Responder) addIPv6AddrRecord(b *message.Builder, cacheFlush bool, ttl uint32) {
	if !r.ifc.HasIPv6() || b.ContainsRecord(r.hostname, "", ".local", protocol.TypeAAAA) {
		return
	}
	rdata := r.ifc.IPv6LinkLocal().As16()
	_ = b.AppendRecord(message.SectionAnswer, r.hostname, "", ".local",
		protocol.TypeAAAA, rclass(cacheFlush), ttl, rdata[:])
}

// addIPv4ReversePtrRecord appends the in-addr.arpa PTR record mapping the
// IPv4 address back to the host name.
func (r *Responder) addIPv4ReversePtrRecord(b *message.Builder, cacheFlush bool, ttl uint32) {
	if r.ipv4ReverseName == "" ||
		b.ContainsRecord(r.ipv4ReverseName, "in-addr", ".arpa", protocol.TypePTR) {
		return
	}
	rdata, err := message.EncodePTRData(r.hostname, "", ".local")
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, r.ipv4ReverseName, "in-addr", ".arpa",
		protocol.TypePTR, rclass(cacheFlush), ttl, rdata)
}

// addIPv6ReversePtrRecord appends the ip6.arpa PTR record mapping the IPv6
// link-local address back to the host name.
func (r *Responder) addIPv6ReversePtrRecord(b *message.Builder, cacheFlush bool, ttl uint32) {
	if r.ipv6ReverseName == "" ||
		b.ContainsRecord(r.ipv6ReverseName, "ip6", ".arpa", protocol.TypePTR) {
		return
	}
	rdata, err := message.EncodePTRData(r.hostname, "", ".local")
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, r.ipv6ReverseName, "ip6", ".arpa",
		protocol.TypePTR, rclass(cacheFlush), ttl, rdata)
}

// addNSECRecord appends the NSEC record asserting which record types
// exist on the host name (RFC 6762 §6.1), so queriers learn that absent
// types truly do not exist.
func (r *Responder) addNSECRecord(b *message.Builder, cacheFlush bool, ttl uint32) {
	if b.ContainsRecord(r.hostname, "", ".local", protocol.TypeNSEC) {
		return
	}

	var bitmap message.TypeBitmap
	if r.ifc.HasIPv4() {
		bitmap.Set(protocol.TypeA)
	}
	if r.ifc.HasIPv6() {
		bitmap.Set(protocol.TypeAAAA)
	}
	if bitmap.Len() == 0 {
		return
	}

	rdata, err := message.EncodeNSECData(r.hostname, "", ".local", &bitmap)
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, r.hostname, "", ".local",
		protocol.TypeNSEC, rclass(cacheFlush), ttl, rdata)
}

func rclass(cacheFlush bool) uint16 {
	if cacheFlush {
		return protocol.ClassIN | protocol.CacheFlush
	}
	return protocol.ClassIN
}
