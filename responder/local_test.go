package responder

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
)

// Tests for the sibling LLMNR and NBNS responders sharing the host name.

func TestLLMNRResponderAnswersHostQuery(t *testing.T) {
	f := newFixture(t)
	f.settle(t)

	q := message.NewBuilder(protocol.DNSMessageMaxSize, false)
	q.SetID(0x77)
	require.NoError(t, q.AppendQuestion("dev", "", "", protocol.TypeA, protocol.ClassIN))

	src := transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: 50505}
	f.r.handleLLMNRPacket(f.ifc, transport.Metadata{IfIndex: 1, Src: src,
		Dst: transport.Endpoint{Addr: mustAddr(protocol.LLMNRIPv4Group), Port: protocol.LLMNRPort}},
		q.Bytes())

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	d := sent[0]

	assert.Equal(t, src, d.Dst, "LLMNR responses are unicast to the querier")
	assert.Equal(t, uint16(protocol.LLMNRPort), d.SrcPort)
	assert.Equal(t, uint16(0x77), message.ID(d.Payload))
	assert.True(t, message.IsResponse(d.Payload))
	assert.Equal(t, 1, message.QDCount(d.Payload), "LLMNR responses repeat the question")
	require.Equal(t, 1, message.ANCount(d.Payload))

	q1, err := message.ParseQuestion(d.Payload, protocol.HeaderSize)
	require.NoError(t, err)
	rec, err := message.ParseRecord(d.Payload, q1.End)
	require.NoError(t, err)
	assert.Equal(t, uint32(protocol.LLMNRDefaultRRTTL), rec.TTL)
	addr, ok := rec.IPv4()
	require.True(t, ok)
	assert.Equal(t, f.ifc.IPv4Addr(), addr)
}

func TestLLMNRResponderSilentWhileProbing(t *testing.T) {
	f := newFixture(t)
	f.startProbing(t)
	f.mock.Reset()

	q := message.NewBuilder(protocol.DNSMessageMaxSize, false)
	require.NoError(t, q.AppendQuestion("dev", "", "", protocol.TypeA, protocol.ClassIN))

	f.r.handleLLMNRPacket(f.ifc, transport.Metadata{IfIndex: 1,
		Src: transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: 50505}},
		q.Bytes())

	assert.Empty(t, f.mock.Sent())
}

func TestLLMNRResponderIgnoresForeignNames(t *testing.T) {
	f := newFixture(t)
	f.settle(t)

	q := message.NewBuilder(protocol.DNSMessageMaxSize, false)
	require.NoError(t, q.AppendQuestion("other", "", "", protocol.TypeA, protocol.ClassIN))

	f.r.handleLLMNRPacket(f.ifc, transport.Metadata{IfIndex: 1,
		Src: transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: 50505}},
		q.Bytes())

	assert.Empty(t, f.mock.Sent())
}

func TestNBNSResponderAnswersNameQuery(t *testing.T) {
	f := newFixture(t)
	f.settle(t)

	// Broadcast name query for "dev".
	q := make([]byte, protocol.HeaderSize+message.NBNSEncodedNameLen+protocol.QuestionMetaSize)
	message.SetID(q, 0x99)
	message.SetFlags(q, protocol.FlagBroadcast|protocol.FlagRD)
	message.SetQDCount(q, 1)
	_, err := message.EncodeNBNSName("DEV", q[protocol.HeaderSize:])
	require.NoError(t, err)
	meta := q[protocol.HeaderSize+message.NBNSEncodedNameLen:]
	binary.BigEndian.PutUint16(meta[0:2], protocol.TypeNB)
	binary.BigEndian.PutUint16(meta[2:4], protocol.ClassIN)

	src := transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: protocol.NBNSPort}
	f.r.handleNBNSPacket(f.ifc, transport.Metadata{IfIndex: 1, Src: src,
		Dst: transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.255"), Port: protocol.NBNSPort}}, q)

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	d := sent[0]

	assert.Equal(t, src, d.Dst, "positive responses are unicast")
	assert.Equal(t, uint16(0x99), message.ID(d.Payload))
	assert.True(t, message.IsResponse(d.Payload))
	require.Equal(t, 1, message.ANCount(d.Payload))

	// The NB rdata carries two flag octets then the IPv4 address.
	off := protocol.HeaderSize + message.NBNSEncodedNameLen + protocol.RecordMetaSize
	addr, ok := netip.AddrFromSlice(d.Payload[off+2 : off+6])
	require.True(t, ok)
	assert.Equal(t, f.ifc.IPv4Addr(), addr)
}

func TestNBNSResponderIgnoresForeignNames(t *testing.T) {
	f := newFixture(t)
	f.settle(t)

	q := make([]byte, protocol.HeaderSize+message.NBNSEncodedNameLen+protocol.QuestionMetaSize)
	message.SetQDCount(q, 1)
	_, err := message.EncodeNBNSName("OTHER", q[protocol.HeaderSize:])
	require.NoError(t, err)

	f.r.handleNBNSPacket(f.ifc, transport.Metadata{IfIndex: 1,
		Src: transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: protocol.NBNSPort}}, q)

	assert.Empty(t, f.mock.Sent())
}
