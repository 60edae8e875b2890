package message

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/lantern/internal/protocol"
)

// The codec must interoperate with an independent implementation; these
// tests cross-check it against miekg/dns in both directions.

func TestParseMiekgResponse(t *testing.T) {
	var m dns.Msg
	m.SetQuestion("example.test.", dns.TypeA)
	m.Response = true
	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.test.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.IPv4(192, 0, 2, 1),
	})
	// miekg compresses by default when requested; exercise the pointer
	// path explicitly.
	m.Compress = true

	wire, err := m.Pack()
	require.NoError(t, err)

	assert.True(t, IsResponse(wire))
	assert.Equal(t, 1, QDCount(wire))
	assert.Equal(t, 1, ANCount(wire))

	q, err := ParseQuestion(wire, protocol.HeaderSize)
	require.NoError(t, err)
	res, err := CompareName(wire, q.NameOff, "example.test")
	require.NoError(t, err)
	assert.Equal(t, 0, res)

	rec, err := ParseRecord(wire, q.End)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.TypeA), rec.Type)
	assert.Equal(t, uint32(60), rec.TTL)

	addr, ok := rec.IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", addr.String())

	res, err = CompareName(wire, rec.NameOff, "example.test")
	require.NoError(t, err)
	assert.Equal(t, 0, res, "compressed answer name matches")
}

func TestMiekgParsesBuilderOutput(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	b.SetID(7)

	require.NoError(t, b.AppendRecord(SectionAnswer, "dev", "", ".local",
		protocol.TypeA, protocol.ClassIN|protocol.CacheFlush, 120, []byte{192, 0, 2, 10}))

	srv, err := EncodeSRVData(0, 0, 8080, "dev", "", ".local")
	require.NoError(t, err)
	require.NoError(t, b.AppendRecord(SectionAnswer, "web", "_http._tcp", ".local",
		protocol.TypeSRV, protocol.ClassIN|protocol.CacheFlush, 120, srv))

	var m dns.Msg
	require.NoError(t, m.Unpack(b.Bytes()))

	require.Len(t, m.Answer, 2)
	assert.Equal(t, uint16(7), m.Id)
	assert.True(t, m.Response)

	a, ok := m.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "dev.local.", a.Hdr.Name)
	assert.Equal(t, "192.0.2.10", a.A.String())

	s, ok := m.Answer[1].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, "web._http._tcp.local.", s.Hdr.Name)
	assert.Equal(t, uint16(8080), s.Port)
	assert.Equal(t, "dev.local.", s.Target)
}

func TestRoundTripThroughReencode(t *testing.T) {
	// Decode a compressed message, rebuild it uncompressed with the
	// builder, decode again: all record fields survive.
	var m dns.Msg
	m.SetQuestion("printer.local.", dns.TypePTR)
	m.Response = true
	m.Compress = true
	m.Answer = append(m.Answer, &dns.PTR{
		Hdr: dns.RR_Header{Name: "printer.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
		Ptr: "unit._ipp._tcp.local.",
	})
	wire, err := m.Pack()
	require.NoError(t, err)

	q, err := ParseQuestion(wire, protocol.HeaderSize)
	require.NoError(t, err)
	rec, err := ParseRecord(wire, q.End)
	require.NoError(t, err)

	name, _, err := ParseName(wire, rec.NameOff)
	require.NoError(t, err)
	target, err := rec.PTR(wire)
	require.NoError(t, err)

	rdata, err := EncodePTRData(target, "", "")
	require.NoError(t, err)
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	require.NoError(t, b.AppendRecord(SectionAnswer, name, "", "", rec.Type, rec.Class, rec.TTL, rdata))

	again, err := ParseRecord(b.Bytes(), protocol.HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, rec.Type, again.Type)
	assert.Equal(t, rec.Class, again.Class)
	assert.Equal(t, rec.TTL, again.TTL)

	decoded, err := again.PTR(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "unit._ipp._tcp.local", decoded)
}
