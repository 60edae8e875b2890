package resolver

import (
	"encoding/binary"
	"net/netip"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/cache"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// sendNBNSQuery transmits a broadcast NetBIOS name query (RFC 1002
// §4.2.12) to the interface's directed broadcast address. NBNS only
// resolves IPv4. Callers hold the stack mutex.
func (r *Resolver) sendNBNSQuery(ifc *stack.Interface, e *cache.Entry) error {
	if e.Type != TypeIPv4 {
		return lantern.ErrInvalidParameter
	}
	bcast := ifc.IPv4Broadcast()
	if !bcast.IsValid() {
		return lantern.ErrInvalidAddress
	}

	// The question carries the 34-octet first-level encoded name; build
	// the message by hand around it.
	msg := make([]byte, protocol.HeaderSize+message.NBNSEncodedNameLen+protocol.QuestionMetaSize)
	message.SetID(msg, e.ID)
	message.SetFlags(msg, protocol.FlagBroadcast|protocol.FlagRD)
	message.SetQDCount(msg, 1)
	if _, err := message.EncodeNBNSName(e.Name, msg[protocol.HeaderSize:]); err != nil {
		return err
	}
	meta := msg[protocol.HeaderSize+message.NBNSEncodedNameLen:]
	binary.BigEndian.PutUint16(meta[0:2], protocol.TypeNB)
	binary.BigEndian.PutUint16(meta[2:4], protocol.ClassIN)

	dst := transport.Endpoint{Addr: bcast, Port: protocol.NBNSPort}
	return r.s.Transport().Send(ifc.Index(), protocol.NBNSPort, dst, msg,
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
}

// handleNBNSPacket filters positive name query responses on port 137.
// Runs under the stack mutex.
func (r *Resolver) handleNBNSPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if !message.ValidHeader(msg) {
		return
	}
	if !message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}
	if message.RCode(msg) != protocol.RCodeNoError || message.ANCount(msg) < 1 {
		return
	}

	var entry *cache.Entry
	r.table.ForEach(func(e *cache.Entry) {
		if entry != nil {
			return
		}
		if e.Protocol == ProtoNBNS && e.State == cache.StateInProgress &&
			e.IfIndex == ifc.Index() && e.ID == message.ID(msg) {
			entry = e
		}
	})
	if entry == nil {
		return
	}

	// The answer's NetBIOS name must match the queried host name.
	off := protocol.HeaderSize
	if !message.CompareNBNSName(msg, off, entry.Name) {
		return
	}
	off += message.NBNSEncodedNameLen
	if off+protocol.RecordMetaSize > len(msg) {
		return
	}

	rtype := binary.BigEndian.Uint16(msg[off : off+2])
	rclass := binary.BigEndian.Uint16(msg[off+2 : off+4])
	ttl := binary.BigEndian.Uint32(msg[off+4 : off+8])
	rdlength := int(binary.BigEndian.Uint16(msg[off+8 : off+10]))
	off += protocol.RecordMetaSize

	// An NB rdata entry is two flag octets followed by the IPv4 address
	// (RFC 1002 §4.2.13).
	if rtype != protocol.TypeNB || rclass != protocol.ClassIN || rdlength < 6 || off+6 > len(msg) {
		return
	}

	addr, ok := netip.AddrFromSlice(msg[off+2 : off+6])
	if !ok {
		return
	}
	r.resolveEntry(entry, addr, ttl)
}
