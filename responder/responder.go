// Package responder implements the mDNS responder and DNS-SD advertiser
// (RFC 6762, RFC 6763): claiming a host name on the local link through
// probing, defending it against conflicts, answering queries for the
// host's addresses and registered services, and withdrawing records with
// goodbye packets on shutdown. Lightweight LLMNR (RFC 4795) and NetBIOS
// (RFC 1002) responders answer for the same host name on their own ports.
//
// The responder is a tick-driven state machine owned by the stack: all
// packet processing and timer work runs under the stack mutex on the
// dispatcher goroutine.
package responder

import (
	"time"

	"github.com/rs/zerolog"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/internal/transport"
	"github.com/joshuafuller/lantern/stack"
)

// State is the responder's FSM state.
type State int

// FSM states. The responder probes for uniqueness before announcing
// (RFC 6762 §8) and returns to probing whenever a conflict is observed.
const (
	StateInit State = iota
	StateWaiting
	StateProbing
	StateAnnouncing
	StateIdle
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaiting:
		return "waiting"
	case StateProbing:
		return "probing"
	case StateAnnouncing:
		return "announcing"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// StateChangeFunc observes FSM transitions. It is invoked with the stack
// mutex released, so it may call back into the responder API.
type StateChangeFunc func(r *Responder, state State)

// Responder is one interface's mDNS/DNS-SD responder context.
type Responder struct {
	s   *stack.Stack
	ifc *stack.Interface
	log zerolog.Logger

	hostname string

	numAnnouncements int
	ttl              uint32
	onStateChange    StateChangeFunc

	running bool
	state   State

	// FSM timing: the next transition fires when timeout has elapsed
	// since timestamp. retransmitCount counts probes or announcements
	// sent in the current state.
	timestamp       time.Time
	timeout         time.Duration
	retransmitCount int

	conflict        bool
	serviceConflict bool
	tieBreakLost    bool

	// Reverse-lookup names, precomputed from the interface addresses:
	// the reversed octet/nibble prefix without the in-addr.arpa /
	// ip6.arpa suffix.
	ipv4ReverseName string
	ipv6ReverseName string

	// Pending aggregated responses, one per address family, flushed by
	// the tick when their delay elapses (RFC 6762 §6.3).
	ipv4Response *pendingResponse
	ipv6Response *pendingResponse

	// DNS-SD service directory.
	instanceName string
	services     []*Service
}

type pendingResponse struct {
	b           *message.Builder
	timestamp   time.Time
	timeout     time.Duration
	sharedCount int
}

// New creates a responder for one interface and wires it to the stack's
// tick, link-change dispatch and the shared mDNS, LLMNR and NBNS ports.
func New(s *stack.Stack, ifc *stack.Interface, opts ...Option) (*Responder, error) {
	if ifc == nil {
		return nil, lantern.ErrInvalidParameter
	}

	r := &Responder{
		s:                s,
		ifc:              ifc,
		log:              s.Logger().With().Str("component", "responder").Str("iface", ifc.Name()).Logger(),
		numAnnouncements: protocol.MDNSAnnounceNum,
		ttl:              protocol.MDNSDefaultRRTTL,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	s.RegisterTicker("mdns-responder", protocol.MDNSResponderTickInterval, r.tick)
	s.RegisterLinkHandler(func(changed *stack.Interface) {
		if changed == r.ifc {
			r.linkChange()
		}
	})

	s.Lock()
	defer s.Unlock()
	if err := s.AttachSharedPort(protocol.MDNSPort, r.handleMDNSPacket); err != nil {
		return nil, err
	}
	if err := s.AttachSharedPort(protocol.LLMNRPort, r.handleLLMNRPacket); err != nil {
		return nil, err
	}
	if err := s.AttachSharedPort(protocol.NBNSPort, r.handleNBNSPacket); err != nil {
		return nil, err
	}
	return r, nil
}

// Start enables the responder. Probing begins once the link is up, a host
// name is set and at least one address is valid.
func (r *Responder) Start() error {
	r.s.Lock()
	defer r.s.Unlock()
	if r.running {
		return lantern.ErrWrongState
	}
	r.running = true
	r.changeState(StateInit, 0)
	return nil
}

// Stop withdraws the responder: established records are taken back with a
// goodbye announcement before the FSM is parked.
func (r *Responder) Stop() {
	r.s.Lock()
	defer r.s.Unlock()
	if !r.running {
		return
	}
	if r.state == StateAnnouncing || r.state == StateIdle {
		r.sendGoodbye()
	}
	r.running = false
	r.dropPending()
	r.changeState(StateInit, 0)
}

// SetHostname sets or changes the host name advertised as
// "<hostname>.local". Changing the name of a running responder restarts
// probing so the new name is verified before use.
func (r *Responder) SetHostname(name string) error {
	if name == "" || len(name) > protocol.MDNSMaxHostnameLen {
		return lantern.ErrInvalidParameter
	}

	r.s.Lock()
	defer r.s.Unlock()

	r.hostname = name
	r.refreshReverseNames()

	if r.running && r.state != StateInit && r.state != StateWaiting {
		r.restartProbing()
	}
	return nil
}

// Hostname returns the currently claimed (possibly renamed) host name.
func (r *Responder) Hostname() string {
	r.s.Lock()
	defer r.s.Unlock()
	return r.hostname
}

// CurrentState returns the FSM state.
func (r *Responder) CurrentState() State {
	r.s.Lock()
	defer r.s.Unlock()
	return r.state
}

// restartProbing re-enters PROBING from the beginning. Callers hold the
// stack mutex.
func (r *Responder) restartProbing() {
	r.dropPending()
	r.changeState(StateProbing, 0)
}

// dropPending discards any aggregated responses waiting for their delay.
// Callers hold the stack mutex.
func (r *Responder) dropPending() {
	r.ipv4Response = nil
	r.ipv6Response = nil
}

// send transmits an assembled message to dst from the mDNS port with the
// link-local ancillary settings every mDNS datagram uses.
func (r *Responder) send(b *message.Builder, dst transport.Endpoint) {
	err := r.s.Transport().Send(r.ifc.Index(), protocol.MDNSPort, dst, b.Bytes(),
		transport.Ancillary{TTL: protocol.DefaultIPTTL, DontRoute: true})
	if err != nil {
		r.log.Debug().Err(err).Msg("send failed")
	}
}

func mdnsGroupV4() transport.Endpoint {
	return transport.Endpoint{Addr: mustAddr(protocol.MDNSIPv4Group), Port: protocol.MDNSPort}
}

func mdnsGroupV6() transport.Endpoint {
	return transport.Endpoint{Addr: mustAddr(protocol.MDNSIPv6Group), Port: protocol.MDNSPort}
}
