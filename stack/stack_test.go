package stack

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/transport"
)

type manualClock struct {
	t time.Time
}

func (c *manualClock) now() time.Time { return c.t }

func newTestStack(t *testing.T) (*Stack, *transport.Mock, *manualClock) {
	t.Helper()
	clk := &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mock := transport.NewMock()
	s, err := New(
		WithTransport(mock),
		WithClock(clk.now),
		WithSeed([10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
	)
	require.NoError(t, err)
	return s, mock, clk
}

func testInterface(t *testing.T, s *Stack) *Interface {
	t.Helper()
	ifc, err := s.AddInterface(InterfaceConfig{
		Index:        1,
		Name:         "eth0",
		HardwareAddr: net.HardwareAddr{0x02, 0x00, 0x5E, 0x10, 0x20, 0x30},
	})
	require.NoError(t, err)
	return ifc
}

func TestAddInterfaceRejectsDuplicates(t *testing.T) {
	s, _, _ := newTestStack(t)
	testInterface(t, s)

	_, err := s.AddInterface(InterfaceConfig{Index: 1, Name: "eth0"})
	assert.ErrorIs(t, err, lantern.ErrInvalidParameter)

	_, err = s.AddInterface(InterfaceConfig{Index: 0, Name: "bad"})
	assert.ErrorIs(t, err, lantern.ErrInvalidParameter)
}

func TestEUI64FromMAC(t *testing.T) {
	out := eui64FromHardwareAddr(net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	assert.Equal(t, [8]byte{0x02, 0x11, 0x22, 0xFF, 0xFE, 0x33, 0x44, 0x55}, out)
}

func TestTickersFireAtTheirIntervals(t *testing.T) {
	s, _, _ := newTestStack(t)

	// The base tick is 100ms; a 200ms ticker runs every second tick.
	var fast, slow int
	s.RegisterTicker("fast", 100*time.Millisecond, func() { fast++ })
	s.RegisterTicker("slow", 200*time.Millisecond, func() { slow++ })

	for i := 0; i < 4; i++ {
		s.Tick()
	}
	assert.Equal(t, 4, fast)
	assert.Equal(t, 2, slow)
}

func TestTimerCallbackTable(t *testing.T) {
	s, _, _ := newTestStack(t)

	fired := 0
	handle, err := s.AttachTimerCallback(200*time.Millisecond, func() { fired++ })
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		s.Tick()
	}
	assert.Equal(t, 2, fired, "period is reloaded after each expiry")

	s.DetachTimerCallback(handle)
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	assert.Equal(t, 2, fired)
}

func TestTimerCallbackTableBounded(t *testing.T) {
	s, _, _ := newTestStack(t)

	for i := 0; i < len(s.timerCallbacks); i++ {
		_, err := s.AttachTimerCallback(time.Second, func() {})
		require.NoError(t, err)
	}
	_, err := s.AttachTimerCallback(time.Second, func() {})
	assert.ErrorIs(t, err, lantern.ErrOutOfResources)
}

func TestLinkChangeDispatch(t *testing.T) {
	s, _, _ := newTestStack(t)
	ifc := testInterface(t, s)

	other, err := s.AddInterface(InterfaceConfig{Index: 2, Name: "eth1"})
	require.NoError(t, err)

	var got []bool
	_, err = s.AttachLinkChangeCallback(ifc, func(_ *Interface, up bool) { got = append(got, up) })
	require.NoError(t, err)

	any := 0
	_, err = s.AttachLinkChangeCallback(nil, func(*Interface, bool) { any++ })
	require.NoError(t, err)

	s.NotifyLinkChange(ifc, true)
	s.NotifyLinkChange(other, true)
	s.NotifyLinkChange(ifc, false)

	assert.Equal(t, []bool{true, false}, got, "filtered callback sees only its interface")
	assert.Equal(t, 3, any, "nil filter sees every interface")
	assert.True(t, other.LinkUp())
	assert.False(t, ifc.LinkUp())
}

func TestLinkHandlersRunBeforeUserCallbacks(t *testing.T) {
	s, _, _ := newTestStack(t)
	ifc := testInterface(t, s)

	var order []string
	s.RegisterLinkHandler(func(*Interface) { order = append(order, "internal") })
	_, err := s.AttachLinkChangeCallback(nil, func(*Interface, bool) { order = append(order, "user") })
	require.NoError(t, err)

	s.NotifyLinkChange(ifc, true)
	assert.Equal(t, []string{"internal", "user"}, order)
}

func TestPacketDispatchSharedAndEphemeral(t *testing.T) {
	s, mock, _ := newTestStack(t)
	ifc := testInterface(t, s)

	var sharedGot, ephemeralGot int

	s.Lock()
	require.NoError(t, s.AttachSharedPort(5353, func(*Interface, transport.Metadata, []byte) { sharedGot++ }))
	require.NoError(t, s.AttachEphemeralPort(ifc.Index(), 50000, func(*Interface, transport.Metadata, []byte) { ephemeralGot++ }))
	s.Unlock()

	require.True(t, mock.Inject(transport.Metadata{IfIndex: 1, Dst: transport.Endpoint{Port: 5353}}, []byte{0}))
	require.True(t, mock.Inject(transport.Metadata{IfIndex: 1, Dst: transport.Endpoint{Port: 50000}}, []byte{0}))
	s.ProcessPending()

	assert.Equal(t, 1, sharedGot)
	assert.Equal(t, 1, ephemeralGot)

	// Detached ports receive nothing further.
	s.Lock()
	s.DetachEphemeralPort(ifc.Index(), 50000)
	s.Unlock()
	assert.False(t, mock.Attached(ifc.Index(), 50000))
}

func TestProcessPendingHonorsEventBudget(t *testing.T) {
	s, mock, _ := newTestStack(t)
	testInterface(t, s)

	count := 0
	s.Lock()
	require.NoError(t, s.AttachSharedPort(5353, func(*Interface, transport.Metadata, []byte) { count++ }))
	s.Unlock()

	for i := 0; i < 12; i++ {
		mock.Inject(transport.Metadata{IfIndex: 1, Dst: transport.Endpoint{Port: 5353}}, []byte{0})
	}

	more := s.ProcessPending()
	assert.True(t, more, "work beyond the budget stays queued")
	assert.Equal(t, 8, count)

	more = s.ProcessPending()
	assert.False(t, more)
	assert.Equal(t, 12, count)
}
