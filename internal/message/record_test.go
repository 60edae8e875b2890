package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/lantern/internal/protocol"
)

func buildRecord(t *testing.T, name string, rtype, rclass uint16, ttl uint32, rdata []byte) []byte {
	t.Helper()
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	require.NoError(t, b.AppendRecord(SectionAnswer, name, "", "", rtype, rclass, ttl, rdata))
	return b.Bytes()
}

func TestParseRecord(t *testing.T) {
	msg := buildRecord(t, "host.local", protocol.TypeA,
		protocol.ClassIN|protocol.CacheFlush, 120, []byte{192, 0, 2, 1})

	rec, err := ParseRecord(msg, protocol.HeaderSize)
	require.NoError(t, err)

	assert.Equal(t, uint16(protocol.TypeA), rec.Type)
	assert.Equal(t, uint16(protocol.ClassIN), rec.PlainClass())
	assert.True(t, rec.CacheFlush())
	assert.Equal(t, uint32(120), rec.TTL)

	addr, ok := rec.IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", addr.String())
}

func TestParseRecordTruncated(t *testing.T) {
	msg := buildRecord(t, "host.local", protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 1})

	_, err := ParseRecord(msg[:len(msg)-2], protocol.HeaderSize)
	assert.Error(t, err)
}

func TestSRVDecode(t *testing.T) {
	rdata, err := EncodeSRVData(0, 0, 8080, "host", "", ".local")
	require.NoError(t, err)

	msg := buildRecord(t, "svc._http._tcp.local", protocol.TypeSRV, protocol.ClassIN, 120, rdata)
	rec, err := ParseRecord(msg, protocol.HeaderSize)
	require.NoError(t, err)

	prio, weight, port, target, err := rec.SRV(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), prio)
	assert.Equal(t, uint16(0), weight)
	assert.Equal(t, uint16(8080), port)
	assert.Equal(t, "host.local", target)
}

func TestTXTDecode(t *testing.T) {
	rdata, err := EncodeTXTData([]string{"path=/", "version=2"})
	require.NoError(t, err)

	msg := buildRecord(t, "svc._http._tcp.local", protocol.TypeTXT, protocol.ClassIN, 120, rdata)
	rec, err := ParseRecord(msg, protocol.HeaderSize)
	require.NoError(t, err)

	entries, err := rec.TXT()
	require.NoError(t, err)
	assert.Equal(t, []string{"path=/", "version=2"}, entries)
}

func TestEncodeTXTDataEmpty(t *testing.T) {
	rdata, err := EncodeTXTData(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, rdata, "an empty TXT record is a single empty string")
}

func TestCompareRecordOrder(t *testing.T) {
	mk := func(rtype, rclass uint16, rdata []byte) ([]byte, Record) {
		msg := buildRecord(t, "dev.local", rtype, rclass, 120, rdata)
		rec, err := ParseRecord(msg, protocol.HeaderSize)
		require.NoError(t, err)
		return msg, rec
	}

	m1, r1 := mk(protocol.TypeA, protocol.ClassIN, []byte{192, 0, 2, 1})
	m2, r2 := mk(protocol.TypeA, protocol.ClassIN|protocol.CacheFlush, []byte{192, 0, 2, 1})

	// Identical records compare equal; the cache-flush bit is ignored.
	res, err := CompareRecord(m1, r1, m2, r2)
	require.NoError(t, err)
	assert.Equal(t, 0, res)

	// rdata decides when class and type match.
	m3, r3 := mk(protocol.TypeA, protocol.ClassIN, []byte{192, 0, 2, 99})
	res, err = CompareRecord(m1, r1, m3, r3)
	require.NoError(t, err)
	assert.Equal(t, -1, res)
	res, err = CompareRecord(m3, r3, m1, r1)
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	// Type decides before rdata.
	m4, r4 := mk(protocol.TypeAAAA, protocol.ClassIN, make([]byte, 16))
	res, err = CompareRecord(m1, r1, m4, r4)
	require.NoError(t, err)
	assert.Equal(t, -1, res)

	// The shorter rdata that is a prefix of the longer one is earlier.
	m5, r5 := mk(protocol.TypeTXT, protocol.ClassIN, []byte{1, 'a'})
	m6, r6 := mk(protocol.TypeTXT, protocol.ClassIN, []byte{1, 'a', 1, 'b'})
	res, err = CompareRecord(m5, r5, m6, r6)
	require.NoError(t, err)
	assert.Equal(t, -1, res)
}

func TestCompareRecordPTRUsesNames(t *testing.T) {
	// PTR rdata is compared as uncompressed names even when one side is
	// compressed in its message.
	rdata1, err := EncodePTRData("target.local", "", "")
	require.NoError(t, err)
	m1 := buildRecord(t, "dev.local", protocol.TypePTR, protocol.ClassIN, 120, rdata1)
	r1, err := ParseRecord(m1, protocol.HeaderSize)
	require.NoError(t, err)

	res, err := CompareRecord(m1, r1, m1, r1)
	require.NoError(t, err)
	assert.Equal(t, 0, res)
}

func TestTypeBitmap(t *testing.T) {
	var b TypeBitmap
	b.Set(protocol.TypeA)
	b.Set(protocol.TypeAAAA)

	// A is bit 1 of octet 0, AAAA is bit 28 into octet 3.
	assert.Equal(t, byte(0x40), b[0])
	assert.Equal(t, byte(0x08), b[3])
	assert.Equal(t, 4, b.Len())

	var empty TypeBitmap
	assert.Equal(t, 0, empty.Len())
}
