package message

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/joshuafuller/lantern/internal/errors"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// Question is a parsed question section entry (RFC 1035 §4.1.2). NameOff
// points at the encoded QNAME inside the message so the name can be
// compared in place without decoding.
type Question struct {
	NameOff int
	Type    uint16
	Class   uint16
	End     int
}

// Record is a parsed resource record (RFC 1035 §4.1.3). The Class field
// keeps the mDNS cache-flush bit as received; use PlainClass to discard it.
// RData aliases the message buffer.
type Record struct {
	NameOff int
	Type    uint16
	Class   uint16
	TTL     uint32
	RData   []byte
	DataOff int
	End     int
}

// PlainClass returns the record class with the mDNS cache-flush bit
// discarded (RFC 6762 §10.2).
func (r Record) PlainClass() uint16 { return r.Class &^ protocol.CacheFlush }

// CacheFlush reports whether the cache-flush bit is set.
func (r Record) CacheFlush() bool { return r.Class&protocol.CacheFlush != 0 }

// ParseQuestion parses the question entry starting at off.
func ParseQuestion(msg []byte, off int) (Question, error) {
	n, err := SkipName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if n+protocol.QuestionMetaSize > len(msg) {
		return Question{}, &errors.WireFormatError{
			Operation: "parse question",
			Offset:    n,
			Message:   "truncated question",
		}
	}
	return Question{
		NameOff: off,
		Type:    binary.BigEndian.Uint16(msg[n : n+2]),
		Class:   binary.BigEndian.Uint16(msg[n+2 : n+4]),
		End:     n + protocol.QuestionMetaSize,
	}, nil
}

// ParseRecord parses the resource record starting at off.
func ParseRecord(msg []byte, off int) (Record, error) {
	n, err := SkipName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if n+protocol.RecordMetaSize > len(msg) {
		return Record{}, &errors.WireFormatError{
			Operation: "parse record",
			Offset:    n,
			Message:   "truncated record header",
		}
	}
	rdlength := int(binary.BigEndian.Uint16(msg[n+8 : n+10]))
	dataOff := n + protocol.RecordMetaSize
	if dataOff+rdlength > len(msg) {
		return Record{}, &errors.WireFormatError{
			Operation: "parse record",
			Offset:    dataOff,
			Message:   "truncated rdata",
		}
	}
	return Record{
		NameOff: off,
		Type:    binary.BigEndian.Uint16(msg[n : n+2]),
		Class:   binary.BigEndian.Uint16(msg[n+2 : n+4]),
		TTL:     binary.BigEndian.Uint32(msg[n+4 : n+8]),
		RData:   msg[dataOff : dataOff+rdlength],
		DataOff: dataOff,
		End:     dataOff + rdlength,
	}, nil
}

// IPv4 decodes a 4-byte A rdata.
func (r Record) IPv4() (netip.Addr, bool) {
	if len(r.RData) != 4 {
		return netip.Addr{}, false
	}
	var a [4]byte
	copy(a[:], r.RData)
	return netip.AddrFrom4(a), true
}

// IPv6 decodes a 16-byte AAAA rdata.
func (r Record) IPv6() (netip.Addr, bool) {
	if len(r.RData) != 16 {
		return netip.Addr{}, false
	}
	var a [16]byte
	copy(a[:], r.RData)
	return netip.AddrFrom16(a), true
}

// SRV decodes the fixed part of an SRV rdata (RFC 2782) and the target
// name, which may be compressed against the enclosing message.
func (r Record) SRV(msg []byte) (priority, weight, port uint16, target string, err error) {
	if len(r.RData) < 6 {
		return 0, 0, 0, "", &errors.WireFormatError{
			Operation: "parse SRV",
			Offset:    r.DataOff,
			Message:   "rdata too short",
		}
	}
	priority = binary.BigEndian.Uint16(r.RData[0:2])
	weight = binary.BigEndian.Uint16(r.RData[2:4])
	port = binary.BigEndian.Uint16(r.RData[4:6])
	target, _, err = ParseName(msg, r.DataOff+6)
	return priority, weight, port, target, err
}

// PTR decodes a PTR rdata as a name, which may be compressed against the
// enclosing message.
func (r Record) PTR(msg []byte) (string, error) {
	name, _, err := ParseName(msg, r.DataOff)
	return name, err
}

// TXT decodes the concatenated length-prefixed strings of a TXT rdata
// (RFC 1035 §3.3.14).
func (r Record) TXT() ([]string, error) {
	var out []string
	for i := 0; i < len(r.RData); {
		n := int(r.RData[i])
		if i+1+n > len(r.RData) {
			return nil, &errors.WireFormatError{
				Operation: "parse TXT",
				Offset:    r.DataOff + i,
				Message:   "truncated character string",
			}
		}
		out = append(out, string(r.RData[i+1:i+1+n]))
		i += 1 + n
	}
	return out, nil
}

// CompareRecord orders two resource records for probe tie-breaking
// (RFC 6762 §8.2.1): first by class with the cache-flush bit discarded,
// then by type, then by raw rdata bytes interpreted as unsigned values,
// the record running out of data first being the earlier one. Record types
// whose rdata is a name (NS, SOA, CNAME, PTR) are compared in uncompressed
// form. An error marks the comparison ambiguous; probers must treat it so.
func CompareRecord(msg1 []byte, r1 Record, msg2 []byte, r2 Record) (int, error) {
	c1, c2 := r1.PlainClass(), r2.PlainClass()
	if c1 != c2 {
		if c1 < c2 {
			return -1, nil
		}
		return 1, nil
	}

	if r1.Type != r2.Type {
		if r1.Type < r2.Type {
			return -1, nil
		}
		return 1, nil
	}

	switch r1.Type {
	case protocol.TypeNS, protocol.TypeSOA, protocol.TypeCNAME, protocol.TypePTR:
		// Names must be uncompressed before comparison.
		return CompareEncodedName(msg1, r1.DataOff, msg2, r2.DataOff)
	}

	return bytes.Compare(r1.RData, r2.RData), nil
}

// TypeBitmap is the NSEC type bitmap of window block 0 (RFC 4034 §4.1.2),
// covering record types 0..255.
type TypeBitmap [32]byte

// Set marks a record type as present.
func (b *TypeBitmap) Set(rtype uint16) {
	if rtype < 256 {
		b[rtype/8] |= 0x80 >> (rtype % 8)
	}
}

// Len returns the number of significant octets: the bitmap is transmitted
// truncated after the last non-zero byte.
func (b *TypeBitmap) Len() int {
	n := 0
	for i, octet := range b {
		if octet != 0 {
			n = i + 1
		}
	}
	return n
}
