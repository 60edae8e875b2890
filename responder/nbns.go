package responder

import (
	"encoding/binary"

	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// handleNBNSPacket answers broadcast NetBIOS name queries for the host
// name (RFC 1002 §4.2.12/§4.2.13). NetBIOS names are bounded to 15
// characters, so longer host names are simply not answered for. The
// positive response is unicast back to the querier. Runs under the stack
// mutex.
func (r *Responder) handleNBNSPacket(ifc *stack.Interface, meta transport.Metadata, msg []byte) {
	if ifc != r.ifc || !message.ValidHeader(msg) {
		return
	}
	if message.IsResponse(msg) || message.Opcode(msg) != protocol.OpcodeQuery {
		return
	}
	if r.state != StateAnnouncing && r.state != StateIdle {
		return
	}
	if !r.ifc.HasIPv4() || len(r.hostname) > 15 {
		return
	}
	if message.QDCount(msg) != 1 {
		return
	}

	off := protocol.HeaderSize
	if !message.CompareNBNSName(msg, off, r.hostname) {
		return
	}
	off += message.NBNSEncodedNameLen
	if off+protocol.QuestionMetaSize > len(msg) {
		return
	}
	qtype := binary.BigEndian.Uint16(msg[off : off+2])
	qclass := binary.BigEndian.Uint16(msg[off+2 : off+4])
	if qtype != protocol.TypeNB || qclass != protocol.ClassIN {
		return
	}

	resp := r.buildNBNSResponse(message.ID(msg))
	if resp == nil {
		return
	}

	err := r.s.Transport().Send(r.ifc.Index(), protocol.NBNSPort, meta.Src, resp,
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
	if err != nil {
		r.log.Debug().Err(err).Msg("NBNS send failed")
	}
}

// buildNBNSResponse assembles a positive name query response: the encoded
// name, an NB record and the 6-octet flags+address rdata.
func (r *Responder) buildNBNSResponse(id uint16) []byte {
	msg := make([]byte, protocol.HeaderSize+message.NBNSEncodedNameLen+protocol.RecordMetaSize+6)
	message.SetID(msg, id)
	message.SetFlags(msg, protocol.FlagQR|protocol.FlagAA|protocol.FlagRD)
	message.SetANCount(msg, 1)

	off := protocol.HeaderSize
	if _, err := message.EncodeNBNSName(r.hostname, msg[off:]); err != nil {
		return nil
	}
	off += message.NBNSEncodedNameLen

	binary.BigEndian.PutUint16(msg[off:off+2], protocol.TypeNB)
	binary.BigEndian.PutUint16(msg[off+2:off+4], protocol.ClassIN)
	binary.BigEndian.PutUint32(msg[off+4:off+8], protocol.NBNSDefaultRRTTL)
	binary.BigEndian.PutUint16(msg[off+8:off+10], 6)
	off += protocol.RecordMetaSize

	// NB flags: b-node, unique name.
	binary.BigEndian.PutUint16(msg[off:off+2], 0)
	addr := r.ifc.IPv4Addr().As4()
	copy(msg[off+2:off+6], addr[:])

	return msg
}
