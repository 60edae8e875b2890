// Package stack owns the runtime shared by every resolution protocol: the
// stack-wide mutex, the network interface table, the transport, the PRNG,
// the periodic tick scheduler and the link-change and timer callback
// tables.
//
// Concurrency model: one dispatcher goroutine runs the tick loop. Inbound
// datagrams are queued by the transport and drained by the dispatcher under
// the stack mutex; link events are dispatched by NotifyLinkChange on the
// caller's goroutine under the same mutex. Packet processing, tick-driven
// retransmissions, link changes and API calls are therefore totally ordered. Protocol engines
// (resolver, responder) register tick handlers and packet handlers here and
// do all their work under the same mutex.
package stack

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/prng"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
)

// PacketFunc handles one inbound datagram. Handlers run under the stack
// mutex on the dispatcher goroutine.
type PacketFunc func(ifc *Interface, meta transport.Metadata, payload []byte)

// Stack is the owning value for the whole resolution runtime. Create one
// with New, add interfaces, wire a resolver and responders to it, then
// Start it.
type Stack struct {
	mu  sync.Mutex
	log zerolog.Logger

	tr    transport.Transport
	clock func() time.Time

	ifaces []*Interface

	rng *prng.State

	tickInterval time.Duration
	tickers      []*protoTicker

	timerCallbacks [protocol.MaxTimerCallbacks]timerCallbackEntry
	linkCallbacks  [protocol.MaxLinkChangeCallbacks]linkCallbackEntry

	// linkHandlers are the internal subscribers (resolver cache flush,
	// responder FSM reset) run before user callbacks on a link change.
	linkHandlers []func(*Interface)

	// Shared well-known ports may have several protocol engines attached
	// (the mDNS client and responder both listen on 5353). Ephemeral
	// ports have exactly one owner.
	sharedPorts map[uint16][]PacketFunc
	ephemeral   map[portKey]PacketFunc

	// pending is the inbound queue filled from transport receive paths
	// and drained by the dispatcher. Overflow drops the datagram.
	pendingMu sync.Mutex
	pending   []pendingPacket
	event     chan struct{}

	quit    chan struct{}
	stopped chan struct{}
	running bool
}

type pendingPacket struct {
	meta    transport.Metadata
	payload []byte
}

type portKey struct {
	ifindex int
	port    uint16
}

type protoTicker struct {
	name     string
	interval time.Duration
	elapsed  time.Duration
	fn       func()
}

const pendingQueueSize = 32

// New creates a stack. Without options it uses the real UDP transport, the
// wall clock, a no-op logger and a crypto-seeded PRNG.
func New(opts ...Option) (*Stack, error) {
	s := &Stack{
		log:          zerolog.Nop(),
		clock:        time.Now,
		tickInterval: protocol.TickInterval,
		sharedPorts:  make(map[uint16][]PacketFunc),
		ephemeral:    make(map[portKey]PacketFunc),
		event:        make(chan struct{}, 1),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.tr == nil {
		s.tr = transport.NewUDPTransport()
	}
	if s.rng == nil {
		var seed [10]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return nil, err
		}
		s.rng = prng.New(seed, [8]byte{})
	}

	return s, nil
}

// Lock acquires the stack-wide mutex. Protocol engines take it at their
// API boundaries; everything below runs with it held.
func (s *Stack) Lock() { s.mu.Lock() }

// Unlock releases the stack-wide mutex.
func (s *Stack) Unlock() { s.mu.Unlock() }

// Logger returns the stack's logger.
func (s *Stack) Logger() zerolog.Logger { return s.log }

// Transport returns the stack's transport.
func (s *Stack) Transport() transport.Transport { return s.tr }

// Now returns the stack's current time.
func (s *Stack) Now() time.Time { return s.clock() }

// Clock returns the stack's time source, for subsystems that keep their
// own deadlines.
func (s *Stack) Clock() func() time.Time { return s.clock }

// AddInterface registers a network interface. Shared well-known ports that
// already have handlers are bound on the new interface immediately.
func (s *Stack) AddInterface(cfg InterfaceConfig) (*Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Index <= 0 {
		return nil, lantern.ErrInvalidParameter
	}
	for _, ifc := range s.ifaces {
		if ifc.index == cfg.Index {
			return nil, lantern.ErrInvalidParameter
		}
	}

	ifc := newInterface(cfg)
	s.ifaces = append(s.ifaces, ifc)

	// Reseed so the key stream depends on the default interface's EUI-64.
	if len(s.ifaces) == 1 {
		s.rng.Reseed(ifc.eui64)
	}

	for port := range s.sharedPorts {
		if err := s.tr.AttachRxCallback(ifc.index, port, s.enqueue); err != nil {
			return nil, err
		}
	}

	return ifc, nil
}

// Interfaces returns the registered interfaces.
func (s *Stack) Interfaces() []*Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Interface, len(s.ifaces))
	copy(out, s.ifaces)
	return out
}

// InterfaceByIndex returns the interface with the given index, or nil.
// Callers must hold the stack mutex.
func (s *Stack) InterfaceByIndex(index int) *Interface {
	for _, ifc := range s.ifaces {
		if ifc.index == index {
			return ifc
		}
	}
	return nil
}

// AttachSharedPort adds a packet handler for a well-known port on every
// interface. Multiple handlers may share a port; each receives every
// datagram and filters for itself. Callers must hold the stack mutex.
func (s *Stack) AttachSharedPort(port uint16, fn PacketFunc) error {
	first := len(s.sharedPorts[port]) == 0
	s.sharedPorts[port] = append(s.sharedPorts[port], fn)

	if first {
		for _, ifc := range s.ifaces {
			if err := s.tr.AttachRxCallback(ifc.index, port, s.enqueue); err != nil {
				return err
			}
		}
	}
	return nil
}

// AttachEphemeralPort binds an ephemeral port on one interface to a single
// handler. Callers must hold the stack mutex.
func (s *Stack) AttachEphemeralPort(ifindex int, port uint16, fn PacketFunc) error {
	k := portKey{ifindex, port}
	if _, ok := s.ephemeral[k]; ok {
		return lantern.ErrInvalidParameter
	}
	if err := s.tr.AttachRxCallback(ifindex, port, s.enqueue); err != nil {
		return err
	}
	s.ephemeral[k] = fn
	return nil
}

// DetachEphemeralPort releases an ephemeral port binding. Callers must
// hold the stack mutex.
func (s *Stack) DetachEphemeralPort(ifindex int, port uint16) {
	k := portKey{ifindex, port}
	if _, ok := s.ephemeral[k]; !ok {
		return
	}
	delete(s.ephemeral, k)
	s.tr.DetachRxCallback(ifindex, port)
}

// EphemeralPortAttached reports whether an ephemeral binding exists.
// Callers must hold the stack mutex.
func (s *Stack) EphemeralPortAttached(ifindex int, port uint16) bool {
	_, ok := s.ephemeral[portKey{ifindex, port}]
	return ok
}

// enqueue runs on transport receive paths. It only queues and signals,
// mirroring an ISR that sets an event flag; processing happens on the
// dispatcher under the stack mutex.
func (s *Stack) enqueue(meta transport.Metadata, payload []byte) {
	s.pendingMu.Lock()
	if len(s.pending) < pendingQueueSize {
		s.pending = append(s.pending, pendingPacket{meta: meta, payload: payload})
	}
	s.pendingMu.Unlock()

	select {
	case s.event <- struct{}{}:
	default:
	}
}

// ProcessPending drains queued datagrams, at most the event budget per
// call, and dispatches each under the stack mutex. It reports whether any
// datagrams remain queued.
func (s *Stack) ProcessPending() bool {
	for i := 0; i < protocol.EventBudget; i++ {
		s.pendingMu.Lock()
		if len(s.pending) == 0 {
			s.pendingMu.Unlock()
			return false
		}
		p := s.pending[0]
		s.pending = s.pending[1:]
		s.pendingMu.Unlock()

		s.dispatch(p)
	}

	s.pendingMu.Lock()
	more := len(s.pending) > 0
	s.pendingMu.Unlock()
	return more
}

func (s *Stack) dispatch(p pendingPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ifc := s.InterfaceByIndex(p.meta.IfIndex)
	if ifc == nil {
		return
	}

	// Fold arrival into the entropy pool.
	s.rng.AddEntropy(uint32(len(p.payload)) ^ uint32(p.meta.Src.Port))

	if fn, ok := s.ephemeral[portKey{p.meta.IfIndex, p.meta.Dst.Port}]; ok {
		fn(ifc, p.meta, p.payload)
		return
	}
	for _, fn := range s.sharedPorts[p.meta.Dst.Port] {
		fn(ifc, p.meta, p.payload)
	}
}

// Start launches the dispatcher goroutine.
func (s *Stack) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return lantern.ErrWrongState
	}
	s.running = true
	s.quit = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.run()
	return nil
}

// Stop terminates the dispatcher and waits for it to exit.
func (s *Stack) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	quit := s.quit
	stopped := s.stopped
	s.mu.Unlock()

	close(quit)
	<-stopped
}

// run is the dispatcher loop: wait on the event object with a timeout
// equal to the time remaining until the next tick, drain pending work,
// then run the tick when its deadline has passed.
func (s *Stack) run() {
	defer close(s.stopped)

	timer := time.NewTimer(s.tickInterval)
	defer timer.Stop()
	next := s.clock().Add(s.tickInterval)

	for {
		select {
		case <-s.quit:
			return
		case <-s.event:
			if s.ProcessPending() {
				// Budget exhausted with work left: re-arm so the
				// remainder is drained after the deadline check.
				select {
				case s.event <- struct{}{}:
				default:
				}
			}
		case <-timer.C:
		}

		if !s.clock().Before(next) {
			s.Tick()
			next = s.clock().Add(s.tickInterval)
		}

		timeout := next.Sub(s.clock())
		if timeout < 0 {
			timeout = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)
	}
}

// RandUint32 draws from the stack PRNG. Callers must hold the stack mutex.
func (s *Stack) RandUint32() uint32 { return s.rng.Uint32() }

// RandRange draws a value in [min, max]. Callers must hold the stack
// mutex.
func (s *Stack) RandRange(min, max int) int { return s.rng.Range(min, max) }

// RandEphemeralPort draws a source port from the dynamic range. Callers
// must hold the stack mutex.
func (s *Stack) RandEphemeralPort() uint16 {
	return uint16(s.rng.Range(protocol.EphemeralPortMin, protocol.EphemeralPortMax))
}

// AddEntropy feeds an external entropy word into the PRNG.
func (s *Stack) AddEntropy(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.AddEntropy(v)
}
