package responder

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
)

func registerHTTP(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.r.RegisterService(Service{
		Name:     "_http._tcp",
		Port:     8080,
		Metadata: []string{"path=/"},
	}))
}

func TestRegisterServiceValidation(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.r.RegisterService(Service{Name: ""}), lantern.ErrInvalidParameter)
	assert.ErrorIs(t, f.r.RegisterService(Service{Name: "http._tcp"}), lantern.ErrInvalidParameter,
		"service types start with an underscore")

	for i := 0; i < protocol.DNSSDServiceListSize; i++ {
		require.NoError(t, f.r.RegisterService(Service{Name: svcName(i), Port: 80}))
	}
	assert.ErrorIs(t, f.r.RegisterService(Service{Name: "_over._tcp", Port: 80}), lantern.ErrOutOfResources)
}

func svcName(i int) string {
	return "_s" + string(rune('a'+i)) + "._tcp"
}

func TestRegistrationTriggersProbe(t *testing.T) {
	f := newFixture(t)
	f.settle(t)

	registerHTTP(t, f)
	assert.Equal(t, StateProbing, f.r.state, "a new instance name is verified before use")

	// Probes now carry the instance question and the tentative SRV.
	f.clk.advance(protocol.MDNSRandDelayMax)
	f.r.tick()
	probes := sentTo(f.mock, protocol.MDNSIPv4Group)
	require.NotEmpty(t, probes)
	msg := probes[len(probes)-1].Payload
	assert.Equal(t, 2, message.QDCount(msg))
	assert.Equal(t, 3, message.NSCount(msg), "A + AAAA + SRV in the Authority Section")
}

func TestAnnouncementCarriesServiceRecords(t *testing.T) {
	f := newFixture(t)
	registerHTTP(t, f)
	f.settle(t)

	// Trigger one more announcement cycle by re-probing.
	f.s.Lock()
	f.r.restartProbing()
	f.s.Unlock()
	f.clk.advance(protocol.MDNSRandDelayMax)
	for i := 0; i < protocol.MDNSProbeNum; i++ {
		f.probeTick()
	}
	f.r.tick() // → ANNOUNCING
	f.mock.Reset()
	f.r.tick() // announcement

	sent := sentTo(f.mock, protocol.MDNSIPv4Group)
	require.Len(t, sent, 1)
	records := parseRecords(t, sent[0].Payload)

	assert.True(t, hasRecord(records, protocol.TypeSRV))
	assert.True(t, hasRecord(records, protocol.TypeTXT))
	assert.True(t, hasRecord(records, protocol.TypePTR))
}

func TestServiceEnumerationQuery(t *testing.T) {
	f := newFixture(t)
	registerHTTP(t, f)
	f.settle(t)

	q := message.NewBuilder(protocol.MDNSMessageMaxSize, false)
	require.NoError(t, q.AppendQuestion(enumerationService, "", ".local", protocol.TypePTR, protocol.ClassIN))

	f.r.handleMDNSPacket(f.ifc, transport.Metadata{
		IfIndex: 1,
		Src:     transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: protocol.MDNSPort},
		Dst:     transport.Endpoint{Addr: mustAddr(protocol.MDNSIPv4Group), Port: protocol.MDNSPort},
	}, q.Bytes())

	// Enumeration answers are shared records: the response is delayed.
	assert.Empty(t, f.mock.Sent())
	require.NotNil(t, f.r.ipv4Response)
	assert.GreaterOrEqual(t, f.r.ipv4Response.timeout, 20*time.Millisecond)
	assert.LessOrEqual(t, f.r.ipv4Response.timeout, 120*time.Millisecond)

	f.clk.advance(120 * time.Millisecond)
	f.r.tick()

	sent := sentTo(f.mock, protocol.MDNSIPv4Group)
	require.Len(t, sent, 1)
	msg := sent[0].Payload

	rec, err := message.ParseRecord(msg, protocol.HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.TypePTR), rec.Type)
	assert.False(t, rec.CacheFlush(), "shared records must not assert cache-flush")

	target, err := rec.PTR(msg)
	require.NoError(t, err)
	assert.Equal(t, "_http._tcp.local", target)
}

func TestInstanceSRVQuery(t *testing.T) {
	f := newFixture(t)
	registerHTTP(t, f)
	f.settle(t)

	q := message.NewBuilder(protocol.MDNSMessageMaxSize, false)
	require.NoError(t, q.AppendQuestion("dev", "_http._tcp", ".local", protocol.TypeSRV, protocol.ClassIN))

	f.r.handleMDNSPacket(f.ifc, transport.Metadata{
		IfIndex: 1,
		Src:     transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.50"), Port: protocol.MDNSPort},
		Dst:     transport.Endpoint{Addr: mustAddr(protocol.MDNSIPv4Group), Port: protocol.MDNSPort},
	}, q.Bytes())

	sent := sentTo(f.mock, protocol.MDNSIPv4Group)
	require.Len(t, sent, 1, "unique SRV answers are immediate")
	msg := sent[0].Payload

	rec, err := message.ParseRecord(msg, protocol.HeaderSize)
	require.NoError(t, err)
	require.Equal(t, uint16(protocol.TypeSRV), rec.Type)

	_, _, port, target, err := rec.SRV(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)
	assert.Equal(t, "dev.local", target)

	// SRV answers pull the target's addresses into the Additional
	// Section.
	records := parseRecords(t, msg)
	assert.True(t, hasRecord(records, protocol.TypeA))
	assert.True(t, hasRecord(records, protocol.TypeAAAA))
}

func TestUnregisterServiceSendsGoodbye(t *testing.T) {
	f := newFixture(t)
	registerHTTP(t, f)
	f.settle(t)

	require.NoError(t, f.r.UnregisterService("_http._tcp"))

	sent := sentTo(f.mock, protocol.MDNSIPv4Group)
	require.NotEmpty(t, sent)
	records := parseRecords(t, sent[len(sent)-1].Payload)
	require.NotEmpty(t, records)
	for _, rec := range records {
		assert.Zero(t, rec.ttl)
	}

	assert.Empty(t, f.r.Services())
	assert.ErrorIs(t, f.r.UnregisterService("_http._tcp"), lantern.ErrInvalidParameter)
}

func TestInstanceConflictRenames(t *testing.T) {
	f := newFixture(t)
	registerHTTP(t, f)
	f.startProbing(t)
	f.probeTick()

	// A foreign SRV under our instance name with different rdata.
	rdata, err := message.EncodeSRVData(0, 0, 9999, "other", "", ".local")
	require.NoError(t, err)
	b := message.NewBuilder(protocol.MDNSMessageMaxSize, true)
	require.NoError(t, b.AppendRecord(message.SectionAnswer, "dev", "_http._tcp", ".local",
		protocol.TypeSRV, protocol.ClassIN|protocol.CacheFlush, 120, rdata))

	f.r.handleMDNSPacket(f.ifc, transport.Metadata{
		IfIndex: 1,
		Src:     transport.Endpoint{Addr: netip.MustParseAddr("192.0.2.99"), Port: protocol.MDNSPort},
		Dst:     transport.Endpoint{Addr: mustAddr(protocol.MDNSIPv4Group), Port: protocol.MDNSPort},
	}, b.Bytes())
	require.True(t, f.r.serviceConflict)

	f.r.tick()
	assert.Equal(t, "dev2", f.r.instance())
	assert.Equal(t, "dev", f.r.hostname, "the host name is untouched")
	assert.Equal(t, StateProbing, f.r.state)
}
