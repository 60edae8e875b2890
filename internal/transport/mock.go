package transport

import (
	"sync"

	"github.com/joshuafuller/lantern/internal/errors"
)

// Mock is the in-memory Transport used throughout the tests. It records
// every Send for verification and lets tests inject inbound datagrams into
// the registered callbacks.
type Mock struct {
	mu       sync.Mutex
	sent     []Datagram
	handlers map[portKey]RxCallback

	// SendErr, when non-nil, is returned by every Send. Tests use it to
	// exercise transport-failure paths.
	SendErr error
}

// Datagram records a single Send invocation.
type Datagram struct {
	IfIndex int
	SrcPort uint16
	Dst     Endpoint
	Payload []byte
	Anc     Ancillary
}

type portKey struct {
	ifindex int
	port    uint16
}

// NewMock returns an empty mock transport.
func NewMock() *Mock {
	return &Mock{handlers: make(map[portKey]RxCallback)}
}

// Send records the datagram.
func (m *Mock) Send(ifindex int, srcPort uint16, dst Endpoint, payload []byte, anc Ancillary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, Datagram{
		IfIndex: ifindex,
		SrcPort: srcPort,
		Dst:     dst,
		Payload: append([]byte(nil), payload...),
		Anc:     anc,
	})
	return nil
}

// AttachRxCallback registers cb for (ifindex, port).
func (m *Mock) AttachRxCallback(ifindex int, port uint16, cb RxCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := portKey{ifindex, port}
	if _, ok := m.handlers[k]; ok {
		return &errors.NetworkError{
			Operation: "attach rx callback",
			Details:   "port already attached",
		}
	}
	m.handlers[k] = cb
	return nil
}

// DetachRxCallback removes the registration for (ifindex, port).
func (m *Mock) DetachRxCallback(ifindex int, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, portKey{ifindex, port})
}

// Inject delivers a datagram to the callback attached to the destination
// port, as if it had arrived from the network. It reports whether a
// callback consumed the datagram.
func (m *Mock) Inject(meta Metadata, payload []byte) bool {
	m.mu.Lock()
	cb, ok := m.handlers[portKey{meta.IfIndex, meta.Dst.Port}]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cb(meta, payload)
	return true
}

// Sent returns a copy of the recorded datagrams.
func (m *Mock) Sent() []Datagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Datagram, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent datagram, or nil.
func (m *Mock) LastSent() *Datagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	d := m.sent[len(m.sent)-1]
	return &d
}

// Reset clears the recorded datagrams.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Attached reports whether a callback is registered for (ifindex, port).
func (m *Mock) Attached(ifindex int, port uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[portKey{ifindex, port}]
	return ok
}
