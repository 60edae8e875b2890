package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/lantern/internal/errors"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// UDPTransport drives real UDP sockets. One socket pair (IPv4 + IPv6) is
// created per attached local port; the well-known mDNS and LLMNR ports are
// joined to their multicast groups on the owning interface. Sockets are
// opened with SO_REUSEADDR (and SO_REUSEPORT where the platform has it) so
// the stack can coexist with other responders on the same host.
type UDPTransport struct {
	mu        sync.Mutex
	listeners map[portKey]*udpListener
}

type udpListener struct {
	conn4 *net.UDPConn
	conn6 *net.UDPConn
	p4    *ipv4.PacketConn
	p6    *ipv6.PacketConn
	cb    RxCallback
	done  chan struct{}
}

// NewUDPTransport returns a transport with no ports attached.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{listeners: make(map[portKey]*udpListener)}
}

// AttachRxCallback binds the local port on the interface and starts
// dispatching received datagrams to cb.
func (t *UDPTransport) AttachRxCallback(ifindex int, port uint16, cb RxCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := portKey{ifindex, port}
	if _, ok := t.listeners[k]; ok {
		return &errors.NetworkError{
			Operation: "attach rx callback",
			Details:   fmt.Sprintf("port %d already attached", port),
		}
	}

	ifi, err := net.InterfaceByIndex(ifindex)
	if err != nil {
		return &errors.NetworkError{Operation: "attach rx callback", Err: err}
	}

	lc := net.ListenConfig{Control: platformControl}

	c4, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return &errors.NetworkError{Operation: "bind socket", Err: err}
	}
	c6, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", port))
	if err != nil {
		_ = c4.Close()
		return &errors.NetworkError{Operation: "bind socket", Err: err}
	}

	l := &udpListener{
		conn4: c4.(*net.UDPConn),
		conn6: c6.(*net.UDPConn),
		cb:    cb,
		done:  make(chan struct{}),
	}
	l.p4 = ipv4.NewPacketConn(l.conn4)
	l.p6 = ipv6.NewPacketConn(l.conn6)

	// Learn destination addresses so receivers can tell multicast from
	// unicast queries.
	_ = l.p4.SetControlMessage(ipv4.FlagDst, true)
	_ = l.p6.SetControlMessage(ipv6.FlagDst, true)

	if err := t.joinGroups(l, ifi, port); err != nil {
		_ = l.conn4.Close()
		_ = l.conn6.Close()
		return err
	}

	go t.readLoop4(l, ifindex, port)
	go t.readLoop6(l, ifindex, port)

	t.listeners[k] = l
	return nil
}

// joinGroups subscribes the well-known multicast ports to their groups.
func (t *UDPTransport) joinGroups(l *udpListener, ifi *net.Interface, port uint16) error {
	var group4, group6 string
	switch port {
	case protocol.MDNSPort:
		group4, group6 = protocol.MDNSIPv4Group, protocol.MDNSIPv6Group
	case protocol.LLMNRPort:
		group4, group6 = protocol.LLMNRIPv4Group, protocol.LLMNRIPv6Group
	default:
		return nil
	}

	if err := l.p4.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(group4)}); err != nil {
		return &errors.NetworkError{Operation: "join group", Err: err, Details: group4}
	}
	if err := l.p6.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(group6)}); err != nil {
		return &errors.NetworkError{Operation: "join group", Err: err, Details: group6}
	}
	return nil
}

// DetachRxCallback closes the port's sockets and stops dispatch.
func (t *UDPTransport) DetachRxCallback(ifindex int, port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := portKey{ifindex, port}
	l, ok := t.listeners[k]
	if !ok {
		return
	}
	delete(t.listeners, k)
	close(l.done)
	_ = l.conn4.Close()
	_ = l.conn6.Close()
}

// Send transmits payload. When the source port is attached its socket is
// used (so responses leave from the well-known port); otherwise a
// transient socket is opened for the single datagram.
func (t *UDPTransport) Send(ifindex int, srcPort uint16, dst Endpoint, payload []byte, anc Ancillary) error {
	t.mu.Lock()
	l := t.listeners[portKey{ifindex, srcPort}]
	t.mu.Unlock()

	udpDst := &net.UDPAddr{IP: dst.Addr.AsSlice(), Port: int(dst.Port)}

	if l == nil {
		network := "udp4"
		if dst.Addr.Is6() {
			network = "udp6"
		}
		conn, err := net.DialUDP(network, &net.UDPAddr{Port: int(srcPort)}, udpDst)
		if err != nil {
			return &errors.NetworkError{Operation: "send datagram", Err: err}
		}
		defer conn.Close()
		applyAncillary(conn, dst.Addr, anc)
		if _, err := conn.Write(payload); err != nil {
			return &errors.NetworkError{Operation: "send datagram", Err: err}
		}
		return nil
	}

	if dst.Addr.Is4() {
		applyAncillary(l.conn4, dst.Addr, anc)
		if _, err := l.conn4.WriteToUDP(payload, udpDst); err != nil {
			return &errors.NetworkError{Operation: "send datagram", Err: err}
		}
		return nil
	}
	applyAncillary(l.conn6, dst.Addr, anc)
	if _, err := l.conn6.WriteToUDP(payload, udpDst); err != nil {
		return &errors.NetworkError{Operation: "send datagram", Err: err}
	}
	return nil
}

func applyAncillary(conn *net.UDPConn, dst netip.Addr, anc Ancillary) {
	if dst.Is4() {
		p := ipv4.NewConn(conn)
		if anc.TTL != 0 {
			if dst.IsMulticast() {
				_ = ipv4.NewPacketConn(conn).SetMulticastTTL(int(anc.TTL))
			} else {
				_ = p.SetTTL(int(anc.TTL))
			}
		}
		if anc.DSCP != 0 {
			_ = p.SetTOS(int(anc.DSCP) << 2)
		}
	} else {
		p := ipv6.NewConn(conn)
		if anc.TTL != 0 {
			if dst.IsMulticast() {
				_ = ipv6.NewPacketConn(conn).SetMulticastHopLimit(int(anc.TTL))
			} else {
				_ = p.SetHopLimit(int(anc.TTL))
			}
		}
		if anc.DSCP != 0 {
			_ = p.SetTrafficClass(int(anc.DSCP) << 2)
		}
	}
	if anc.DontRoute {
		if rc, err := conn.SyscallConn(); err == nil {
			_ = rc.Control(func(fd uintptr) { setDontRoute(fd) })
		}
	}
}

func (t *UDPTransport) readLoop4(l *udpListener, ifindex int, port uint16) {
	buf := make([]byte, protocol.MDNSMessageMaxSize)
	for {
		n, cm, src, err := l.p4.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				continue
			}
		}
		meta := Metadata{IfIndex: ifindex}
		if ua, ok := src.(*net.UDPAddr); ok {
			meta.Src = toEndpoint(ua)
		}
		meta.Dst.Port = port
		if cm != nil && cm.Dst != nil {
			if a, ok := netip.AddrFromSlice(cm.Dst); ok {
				meta.Dst.Addr = a.Unmap()
			}
		}
		l.cb(meta, append([]byte(nil), buf[:n]...))
	}
}

func (t *UDPTransport) readLoop6(l *udpListener, ifindex int, port uint16) {
	buf := make([]byte, protocol.MDNSMessageMaxSize)
	for {
		n, cm, src, err := l.p6.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				continue
			}
		}
		meta := Metadata{IfIndex: ifindex}
		if ua, ok := src.(*net.UDPAddr); ok {
			meta.Src = toEndpoint(ua)
		}
		meta.Dst.Port = port
		if cm != nil && cm.Dst != nil {
			if a, ok := netip.AddrFromSlice(cm.Dst); ok {
				meta.Dst.Addr = a
			}
		}
		l.cb(meta, append([]byte(nil), buf[:n]...))
	}
}

func toEndpoint(ua *net.UDPAddr) Endpoint {
	a, _ := netip.AddrFromSlice(ua.IP)
	return Endpoint{Addr: a.Unmap(), Port: uint16(ua.Port)}
}
