package responder

import (
	"bytes"
	"time"

	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// handleMDNSPacket is the responder's share of port 5353: queries are
// answered (or aggregated for delayed answering), responses are scanned
// for records conflicting with our claims. Runs under the stack mutex.
func (r *Responder) handleMDNSPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if ifc != r.ifc || !message.ValidHeader(msg) {
		return
	}
	if message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}

	if message.IsResponse(msg) {
		if message.RCode(msg) != protocol.RCodeNoError {
			return
		}
		if !r.sourceOnLink(meta) {
			return
		}
		r.processResponse(msg)
		return
	}

	r.processQuery(meta, msg)
}

// sourceOnLink is the RFC 6762 §11 check applied before believing a
// response: it must have been sent to the mDNS group, or come from a
// link-local or on-link source.
func (r *Responder) sourceOnLink(meta transport.Metadata) bool {
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
	return r.ifc.OnLink(src)
}

// processResponse walks a response's Answer Section for conflicts: a
// record with one of our unique names but rdata that is not ours means
// another host claims the name (RFC 6762 §9).
func (r *Responder) processResponse(msg []byte) {
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
		r.parseAnswerRecord(msg, rec)
	}
}

// parseAnswerRecord checks one received answer record against our
// tentative and established unique records.
func (r *Responder) parseAnswerRecord(msg []byte, rec message.Record) {
	if rec.PlainClass() != protocol.ClassIN {
		return
	}

	if res, err := message.CompareServiceName(msg, rec.NameOff, r.hostname, "", ".local"); err == nil && res == 0 {
		switch rec.Type {
		case protocol.TypeA:
			if r.ifc.HasIPv4() {
				ours := r.ifc.IPv4Addr().As4()
				if len(rec.RData) == 4 && bytes.Equal(rec.RData, ours[:]) {
					return
				}
			}
			r.conflict = true
		case protocol.TypeAAAA:
			if r.ifc.HasIPv6() {
				ours := r.ifc.IPv6LinkLocal().As16()
				if len(rec.RData) == 16 && bytes.Equal(rec.RData, ours[:]) {
					return
				}
			}
			r.conflict = true
		}
		return
	}

	// A foreign SRV record under our service instance name means the
	// instance name is taken.
	if rec.Type != protocol.TypeSRV {
		return
	}
	for _, svc := range r.services {
		res, err := message.CompareServiceName(msg, rec.NameOff, r.instance(), svc.Name, ".local")
		if err != nil || res != 0 {
			continue
		}
		ours, err := message.EncodeSRVData(svc.Priority, svc.Weight, svc.Port, r.hostname, "", ".local")
		if err == nil && bytes.Equal(rec.RData, ours) {
			continue
		}
		r.serviceConflict = true
	}
}

// processQuery answers one inbound query, either immediately, directly to
// a legacy unicast querier, or through the per-family aggregated response
// flushed later by the tick (RFC 6762 §6).
func (r *Responder) processQuery(meta transport.Metadata, msg []byte) {
	legacy := meta.Src.Port != protocol.MDNSPort
	now := r.s.Now()

	var b *message.Builder
	var p *pendingResponse

	if legacy {
		b = message.NewBuilder(protocol.MDNSMessageMaxSize, true)
		// Legacy responses echo the query identifier (RFC 6762 §6.7).
		b.SetID(message.ID(msg))
	} else {
		p = r.pendingFor(meta)
		if p == nil {
			p = &pendingResponse{b: message.NewBuilder(protocol.MDNSMessageMaxSize, true)}
			r.setPendingFor(meta, p)
		}
		b = p.b
	}

	shared := 0
	ok := r.parseQuerySections(msg, b, legacy, &shared)
	if !legacy {
		p.sharedCount += shared
	}

	if b.ANCount() == 0 {
		if !legacy {
			r.setPendingFor(meta, nil)
		}
		return
	}
	if !ok {
		// Malformed later sections: keep what was answered so far.
		r.log.Debug().Msg("malformed query")
	}

	if legacy {
		r.generateAdditionalRecords(b, true)
		r.send(b, meta.Src)
		return
	}

	switch {
	case message.Flags(msg)&protocol.FlagTC != 0:
		// More known-answer packets follow; wait for them
		// (RFC 6762 §7.2).
		p.timeout = time.Duration(r.s.RandRange(400, 500)) * time.Millisecond
		p.timestamp = now
	case p.sharedCount > 0:
		// Shared record sets may draw answers from several responders;
		// spread them out (RFC 6762 §6.3).
		p.timeout = time.Duration(r.s.RandRange(20, 120)) * time.Millisecond
		p.timestamp = now
	default:
		r.generateAdditionalRecords(b, false)
		if meta.Src.Addr.Is4() {
			r.send(b, mdnsGroupV4())
		} else {
			r.send(b, mdnsGroupV6())
		}
		r.setPendingFor(meta, nil)
	}
}

func (r *Responder) pendingFor(meta transport.Metadata) *pendingResponse {
	if meta.Src.Addr.Is4() {
		return r.ipv4Response
	}
	return r.ipv6Response
}

func (r *Responder) setPendingFor(meta transport.Metadata, p *pendingResponse) {
	if meta.Src.Addr.Is4() {
		r.ipv4Response = p
	} else {
		r.ipv6Response = p
	}
}

// parseQuerySections walks the query's Question, Known-Answer and
// Authority sections. It reports whether the whole message parsed cleanly.
func (r *Responder) parseQuerySections(msg []byte, b *message.Builder, legacy bool, shared *int) bool {
	off := protocol.HeaderSize

	for i := 0; i < message.QDCount(msg); i++ {
		q, err := message.ParseQuestion(msg, off)
		if err != nil {
			return false
		}
		r.parseQuestion(msg, q, b, legacy, shared)
		off = q.End
	}

	for i := 0; i < message.ANCount(msg); i++ {
		rec, err := message.ParseRecord(msg, off)
		if err != nil {
			return false
		}
		r.parseKnownAnswer(msg, rec, b)
		off = rec.End
	}

	for i := 0; i < message.NSCount(msg); i++ {
		rec, err := message.ParseRecord(msg, off)
		if err != nil {
			return false
		}
		r.parseAuthorityRecord(msg, rec)
		off = rec.End
	}

	return true
}

// parseQuestion appends the records answering one question. No response
// leaves the responder before its names have been verified: probing and
// earlier states stay silent.
func (r *Responder) parseQuestion(msg []byte, q message.Question, b *message.Builder, legacy bool, shared *int) {
	if r.state != StateAnnouncing && r.state != StateIdle {
		return
	}

	qclass := q.Class &^ protocol.QUBit
	if qclass != protocol.ClassIN && qclass != protocol.ClassANY {
		return
	}

	ttl := r.ttl
	cacheFlush := true
	if legacy {
		// Legacy unicast caps the TTL and must not assert cache-flush
		// (RFC 6762 §6.7).
		if ttl > protocol.MDNSLegacyUnicastRRTTL {
			ttl = protocol.MDNSLegacyUnicastRRTTL
		}
		cacheFlush = false
	}

	if res, err := message.CompareServiceName(msg, q.NameOff, r.hostname, "", ".local"); err == nil && res == 0 {
		switch q.Type {
		case protocol.TypeA:
			r.addIPv4AddrRecord(b, cacheFlush, ttl)
		case protocol.TypeAAAA:
			r.addIPv6AddrRecord(b, cacheFlush, ttl)
		case protocol.TypeANY:
			r.addIPv4AddrRecord(b, cacheFlush, ttl)
			r.addIPv6AddrRecord(b, cacheFlush, ttl)
			r.addNSECRecord(b, cacheFlush, ttl)
		default:
			// The type does not exist on this name; say so explicitly.
			r.addNSECRecord(b, cacheFlush, ttl)
		}
	}

	if r.ipv4ReverseName != "" && (q.Type == protocol.TypePTR || q.Type == protocol.TypeANY) {
		if res, err := message.CompareServiceName(msg, q.NameOff, r.ipv4ReverseName, "in-addr", ".arpa"); err == nil && res == 0 {
			r.addIPv4ReversePtrRecord(b, cacheFlush, ttl)
		}
	}
	if r.ipv6ReverseName != "" && (q.Type == protocol.TypePTR || q.Type == protocol.TypeANY) {
		if res, err := message.CompareServiceName(msg, q.NameOff, r.ipv6ReverseName, "ip6", ".arpa"); err == nil && res == 0 {
			r.addIPv6ReversePtrRecord(b, cacheFlush, ttl)
		}
	}

	r.parseServiceQuestion(msg, q, b, cacheFlush, ttl, shared)
}

// parseKnownAnswer suppresses answers the querier already holds with at
// least half their true TTL remaining (RFC 6762 §7.1).
func (r *Responder) parseKnownAnswer(msg []byte, known message.Record, b *message.Builder) {
	resp := b.Bytes()
	if message.QDCount(resp) != 0 {
		return
	}

	off := protocol.HeaderSize
	for i := 0; i < message.ANCount(resp); i++ {
		rec, err := message.ParseRecord(resp, off)
		if err != nil {
			return
		}

		same, err := message.CompareEncodedName(msg, known.NameOff, resp, rec.NameOff)
		if err == nil && same == 0 {
			if res, err := message.CompareRecord(msg, known, resp, rec); err == nil && res == 0 {
				if known.TTL >= rec.TTL/2 {
					b.RemoveAnswer(rec.NameOff, rec.End)
					// The message shifted; restart the scan.
					resp = b.Bytes()
					off = protocol.HeaderSize
					i = -1
					continue
				}
			}
		}
		off = rec.End
	}
}

// parseAuthorityRecord applies the simultaneous-probe tie-break
// (RFC 6762 §8.2.1): when another prober claims the same name, the
// lexicographically later rdata wins and the loser defers.
func (r *Responder) parseAuthorityRecord(msg []byte, rec message.Record) {
	if rec.PlainClass() != protocol.ClassIN {
		return
	}

	if res, err := message.CompareServiceName(msg, rec.NameOff, r.hostname, "", ".local"); err == nil && res == 0 {
		switch rec.Type {
		case protocol.TypeA:
			lost := true
			if len(rec.RData) == 4 && r.ifc.HasIPv4() {
				ours := r.ifc.IPv4Addr().As4()
				if bytes.Compare(ours[:], rec.RData) >= 0 {
					lost = false
				}
			}
			if lost {
				r.tieBreakLost = true
			}
		case protocol.TypeAAAA:
			lost := true
			if len(rec.RData) == 16 && r.ifc.HasIPv6() {
				ours := r.ifc.IPv6LinkLocal().As16()
				if bytes.Compare(ours[:], rec.RData) >= 0 {
					lost = false
				}
			}
			if lost {
				r.tieBreakLost = true
			}
		}
		return
	}

	if rec.Type != protocol.TypeSRV {
		return
	}
	for _, svc := range r.services {
		res, err := message.CompareServiceName(msg, rec.NameOff, r.instance(), svc.Name, ".local")
		if err != nil || res != 0 {
			continue
		}
		ours, err := message.EncodeSRVData(svc.Priority, svc.Weight, svc.Port, r.hostname, "", ".local")
		if err != nil || bytes.Compare(ours, rec.RData) < 0 {
			r.tieBreakLost = true
		}
	}
}

// generateAdditionalRecords fills the Additional Section (RFC 6762 §6.2,
// RFC 6763 §12): the other address family for every address answered,
// both families for every SRV target, and the SRV and TXT records behind
// every service PTR. Records are appended as answers and then reclassified,
// which is safe because the additional section is last on the wire.
func (r *Responder) generateAdditionalRecords(b *message.Builder, legacy bool) {
	resp := b.Bytes()
	if message.QDCount(resp) != 0 {
		return
	}

	ttl := r.ttl
	cacheFlush := true
	if legacy {
		if ttl > protocol.MDNSLegacyUnicastRRTTL {
			ttl = protocol.MDNSLegacyUnicastRRTTL
		}
		cacheFlush = false
	}

	ancount := message.ANCount(resp)
	total := message.RecordTotal(resp)
	off := protocol.HeaderSize

	for i := 0; i < total; i++ {
		rec, err := message.ParseRecord(b.Bytes(), off)
		if err != nil {
			break
		}
		off = rec.End

		if rec.PlainClass() != protocol.ClassIN {
			continue
		}

		switch rec.Type {
		case protocol.TypeA:
			r.addIPv6AddrRecord(b, cacheFlush, ttl)
		case protocol.TypeAAAA:
			r.addIPv4AddrRecord(b, cacheFlush, ttl)
		case protocol.TypeSRV:
			r.addIPv4AddrRecord(b, cacheFlush, ttl)
			r.addIPv6AddrRecord(b, cacheFlush, ttl)
		case protocol.TypePTR:
			r.addServiceAdditionals(b, rec, cacheFlush, ttl)
		}
	}

	b.PromoteAnswers(ancount)
}
