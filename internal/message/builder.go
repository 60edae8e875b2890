package message

import (
	"encoding/binary"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// Section identifies which count a record appended to a Builder belongs to.
type Section int

// Record sections in wire order.
const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// Builder assembles a DNS message into a bounded buffer. Records are laid
// out in wire order, so callers append questions first, then answer,
// authority and additional records. Names are written uncompressed; every
// name-bearing method takes the three-part instance/service/domain form
// (pass the full name as instance with empty service and domain for plain
// host names).
type Builder struct {
	buf []byte
	max int
}

// NewBuilder returns a builder bounded to max octets. For a response the
// QR and AA bits are preset, matching what the responders emit; everything
// else starts zeroed.
func NewBuilder(max int, response bool) *Builder {
	b := &Builder{
		buf: make([]byte, protocol.HeaderSize, max),
		max: max,
	}
	if response {
		SetFlags(b.buf, protocol.FlagQR|protocol.FlagAA)
	}
	return b
}

// Bytes returns the assembled message. The slice aliases the builder's
// buffer and is invalidated by further appends.
func (b *Builder) Bytes() []byte { return b.buf }

// Len returns the current message length.
func (b *Builder) Len() int { return len(b.buf) }

// SetID sets the transaction identifier.
func (b *Builder) SetID(id uint16) { SetID(b.buf, id) }

// SetFlags sets the 16-bit flags word.
func (b *Builder) SetFlags(flags uint16) { SetFlags(b.buf, flags) }

// Flags returns the 16-bit flags word.
func (b *Builder) Flags() uint16 { return Flags(b.buf) }

// ANCount returns the number of answer records appended so far.
func (b *Builder) ANCount() int { return ANCount(b.buf) }

// AppendQuestion appends a question entry.
func (b *Builder) AppendQuestion(instance, service, domain string, qtype, qclass uint16) error {
	nameLen, err := EncodeServiceName(instance, service, domain, nil)
	if err != nil {
		return err
	}

	pos, err := b.grow(nameLen + protocol.QuestionMetaSize)
	if err != nil {
		return err
	}

	if _, err := EncodeServiceName(instance, service, domain, b.buf[pos:]); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.buf[pos+nameLen:], qtype)
	binary.BigEndian.PutUint16(b.buf[pos+nameLen+2:], qclass)

	SetQDCount(b.buf, QDCount(b.buf)+1)
	return nil
}

// AppendRecord appends a resource record to the given section. The section
// only selects which header count is incremented; callers are responsible
// for appending sections in wire order.
func (b *Builder) AppendRecord(section Section, instance, service, domain string,
	rtype, rclass uint16, ttl uint32, rdata []byte) error {

	nameLen, err := EncodeServiceName(instance, service, domain, nil)
	if err != nil {
		return err
	}

	pos, err := b.grow(nameLen + protocol.RecordMetaSize + len(rdata))
	if err != nil {
		return err
	}

	if _, err := EncodeServiceName(instance, service, domain, b.buf[pos:]); err != nil {
		return err
	}
	meta := b.buf[pos+nameLen:]
	binary.BigEndian.PutUint16(meta[0:2], rtype)
	binary.BigEndian.PutUint16(meta[2:4], rclass)
	binary.BigEndian.PutUint32(meta[4:8], ttl)
	binary.BigEndian.PutUint16(meta[8:10], uint16(len(rdata)))
	copy(meta[10:], rdata)

	switch section {
	case SectionAnswer:
		SetANCount(b.buf, ANCount(b.buf)+1)
	case SectionAuthority:
		SetNSCount(b.buf, NSCount(b.buf)+1)
	case SectionAdditional:
		SetARCount(b.buf, ARCount(b.buf)+1)
	}
	return nil
}

// ContainsRecord reports whether a record with the given name and type is
// already present in any record section. Used for duplicate suppression
// when aggregating responses.
func (b *Builder) ContainsRecord(instance, service, domain string, rtype uint16) bool {
	off := protocol.HeaderSize

	for i := 0; i < QDCount(b.buf); i++ {
		q, err := ParseQuestion(b.buf, off)
		if err != nil {
			return false
		}
		off = q.End
	}

	for i := 0; i < RecordTotal(b.buf); i++ {
		r, err := ParseRecord(b.buf, off)
		if err != nil {
			return false
		}
		if r.Type == rtype {
			if res, err := CompareServiceName(b.buf, r.NameOff, instance, service, domain); err == nil && res == 0 {
				return true
			}
		}
		off = r.End
	}
	return false
}

// RemoveAnswer deletes the answer record spanning [start, end) from the
// message, sliding any following data down. Used by known-answer
// suppression.
func (b *Builder) RemoveAnswer(start, end int) {
	copy(b.buf[start:], b.buf[end:])
	b.buf = b.buf[:len(b.buf)-(end-start)]
	SetANCount(b.buf, ANCount(b.buf)-1)
}

// PromoteAnswers reclassifies every answer record past the first keep as
// additional data. Additional-record generation appends to the answer
// section and then moves the surplus here, which is valid because the
// additional section is the last one on the wire.
func (b *Builder) PromoteAnswers(keep int) {
	surplus := ANCount(b.buf) - keep
	if surplus <= 0 {
		return
	}
	SetARCount(b.buf, ARCount(b.buf)+surplus)
	SetANCount(b.buf, keep)
}

func (b *Builder) grow(n int) (int, error) {
	pos := len(b.buf)
	if pos+n > b.max {
		return 0, lantern.ErrMessageTooLong
	}
	if pos+n > cap(b.buf) {
		next := make([]byte, pos, b.max)
		copy(next, b.buf)
		b.buf = next
	}
	b.buf = b.buf[:pos+n]
	return pos, nil
}

// EncodeSRVData builds an SRV rdata (RFC 2782): priority, weight, port and
// the uncompressed target name.
func EncodeSRVData(priority, weight, port uint16, instance, service, domain string) ([]byte, error) {
	nameLen, err := EncodeServiceName(instance, service, domain, nil)
	if err != nil {
		return nil, err
	}
	rdata := make([]byte, 6+nameLen)
	binary.BigEndian.PutUint16(rdata[0:2], priority)
	binary.BigEndian.PutUint16(rdata[2:4], weight)
	binary.BigEndian.PutUint16(rdata[4:6], port)
	if _, err := EncodeServiceName(instance, service, domain, rdata[6:]); err != nil {
		return nil, err
	}
	return rdata, nil
}

// EncodePTRData builds a PTR rdata: one uncompressed name.
func EncodePTRData(instance, service, domain string) ([]byte, error) {
	nameLen, err := EncodeServiceName(instance, service, domain, nil)
	if err != nil {
		return nil, err
	}
	rdata := make([]byte, nameLen)
	if _, err := EncodeServiceName(instance, service, domain, rdata); err != nil {
		return nil, err
	}
	return rdata, nil
}

// EncodeTXTData builds a TXT rdata from key=value strings, each emitted as
// a length-prefixed character string (RFC 6763 §6.1). An empty list yields
// the single empty string required by RFC 6763 §6.1.
func EncodeTXTData(entries []string) ([]byte, error) {
	if len(entries) == 0 {
		return []byte{0}, nil
	}
	var rdata []byte
	for _, e := range entries {
		if len(e) > 255 {
			return nil, lantern.ErrMessageTooLong
		}
		rdata = append(rdata, byte(len(e)))
		rdata = append(rdata, e...)
	}
	return rdata, nil
}

// EncodeNSECData builds the rdata of an mDNS NSEC record (RFC 6762 §6.1):
// the uncompressed next-domain name (which for mDNS is the record's own
// name) followed by window block 0 of the type bitmap.
func EncodeNSECData(instance, service, domain string, bitmap *TypeBitmap) ([]byte, error) {
	nameLen, err := EncodeServiceName(instance, service, domain, nil)
	if err != nil {
		return nil, err
	}
	n := bitmap.Len()
	rdata := make([]byte, nameLen+2+n)
	if _, err := EncodeServiceName(instance, service, domain, rdata); err != nil {
		return nil, err
	}
	rdata[nameLen] = 0 // window block 0
	rdata[nameLen+1] = byte(n)
	copy(rdata[nameLen+2:], bitmap[:n])
	return rdata, nil
}
