// Package resolver implements unified host name resolution over unicast
// DNS, Multicast DNS, LLMNR and NetBIOS Name Service. All four protocols
// share one bounded cache of in-flight and resolved entries; a single tick
// handler drives retransmission with exponential backoff, DNS server
// failover and entry expiry.
//
// Protocol selection follows the conventional rules: names under .local go
// to mDNS, single-label names go to NBNS (when they fit a NetBIOS name and
// an IPv4 address is wanted) or LLMNR, everything else to unicast DNS. The
// caller can force a protocol explicitly.
package resolver

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/cache"
	"github.com/joshuafuller/lantern/internal/protocol"
	"github.com/joshuafuller/lantern/stack"
)

// HostType selects the address family to resolve.
type HostType = cache.HostType

// Host types.
const (
	TypeAny  = cache.TypeAny
	TypeIPv4 = cache.TypeIPv4
	TypeIPv6 = cache.TypeIPv6
)

// Protocol forces a resolution protocol.
type Protocol = cache.Protocol

// Protocols.
const (
	ProtoAuto  = cache.ProtoAny
	ProtoDNS   = cache.ProtoDNS
	ProtoMDNS  = cache.ProtoMDNS
	ProtoNBNS  = cache.ProtoNBNS
	ProtoLLMNR = cache.ProtoLLMNR
)

// Options tunes a single resolution.
type Options struct {
	// Type is the wanted address family; the default is IPv4.
	Type HostType

	// Protocol overrides automatic protocol selection.
	Protocol Protocol
}

// Resolver is the unified resolver. Create one per stack with New.
type Resolver struct {
	s     *stack.Stack
	log   zerolog.Logger
	table *cache.Table
}

// protoParams carries the per-protocol retransmission and lifetime
// constants.
type protoParams struct {
	maxRetries  int
	initTimeout time.Duration
	maxTimeout  time.Duration
	minLifetime time.Duration
	maxLifetime time.Duration
}

var params = map[Protocol]protoParams{
	ProtoDNS: {
		maxRetries:  protocol.DNSMaxRetries,
		initTimeout: protocol.DNSInitTimeout,
		maxTimeout:  protocol.DNSMaxTimeout,
		minLifetime: protocol.DNSMinLifetime,
		maxLifetime: protocol.DNSMaxLifetime,
	},
	ProtoMDNS: {
		maxRetries:  protocol.MDNSMaxRetries,
		initTimeout: protocol.MDNSInitTimeout,
		maxTimeout:  protocol.MDNSMaxTimeout,
		maxLifetime: protocol.MDNSMaxLifetime,
	},
	ProtoNBNS: {
		maxRetries:  protocol.NBNSMaxRetries,
		initTimeout: protocol.NBNSInitTimeout,
		maxTimeout:  protocol.NBNSMaxTimeout,
		maxLifetime: protocol.NBNSMaxLifetime,
	},
	ProtoLLMNR: {
		maxRetries:  protocol.LLMNRMaxRetries,
		initTimeout: protocol.LLMNRInitTimeout,
		maxTimeout:  protocol.LLMNRMaxTimeout,
		maxLifetime: protocol.LLMNRMaxLifetime,
	},
}

// New wires a resolver to the stack: the cache, the retransmission tick
// and the shared well-known ports for the multicast protocols.
func New(s *stack.Stack) (*Resolver, error) {
	r := &Resolver{
		s:   s,
		log: s.Logger().With().Str("component", "resolver").Logger(),
	}
	r.table = cache.New(s.Clock(), r.releaseEntry)

	s.RegisterTicker("dns-cache", protocol.DNSTickInterval, r.tick)
	s.RegisterLinkHandler(func(ifc *stack.Interface) {
		// A link transition invalidates everything learned on it.
		r.table.Flush(ifc.Index())
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

// releaseEntry is the cache's delete hook: an in-progress DNS entry always
// has an rx callback registered on its ephemeral port, and deletion must
// detach it exactly once.
func (r *Resolver) releaseEntry(e *cache.Entry) {
	if e.Protocol == ProtoDNS && e.State == cache.StateInProgress {
		r.s.DetachEphemeralPort(e.IfIndex, e.Port)
	}
}

// Resolve resolves name to an address, blocking until resolution
// completes, fails, or ctx is done. Polling of the shared cache backs off
// exponentially, so late joiners of an in-flight resolution stay cheap.
// When ctx expires the in-flight entry is left alone; later callers rejoin
// it.
func (r *Resolver) Resolve(ctx context.Context, ifc *stack.Interface, name string, opts Options) (netip.Addr, error) {
	addr, err := r.TryResolve(ifc, name, opts)
	if err != lantern.ErrInProgress {
		return addr, err
	}

	htype, proto := r.normalize(name, opts)
	delay := protocol.CacheInitPollingInterval

	for {
		select {
		case <-ctx.Done():
			return netip.Addr{}, lantern.ErrTimeout
		case <-time.After(delay):
		}

		r.s.Lock()
		e := r.table.Find(ifc.Index(), name, htype, proto)
		switch {
		case e == nil:
			r.s.Unlock()
			return netip.Addr{}, lantern.ErrFailure
		case e.State == cache.StateResolved || e.State == cache.StatePermanent:
			addr := e.Addr
			r.s.Unlock()
			return addr, nil
		}
		r.s.Unlock()

		delay *= 2
		if delay > protocol.CacheMaxPollingInterval {
			delay = protocol.CacheMaxPollingInterval
		}
	}
}

// TryResolve performs one non-blocking resolution step: a cache hit
// returns the address, otherwise a query is launched and ErrInProgress is
// returned while the tick handler retransmits in the background.
func (r *Resolver) TryResolve(ifc *stack.Interface, name string, opts Options) (netip.Addr, error) {
	if ifc == nil || name == "" {
		return netip.Addr{}, lantern.ErrInvalidParameter
	}

	// An IP literal resolves to itself.
	if addr, err := netip.ParseAddr(name); err == nil {
		return addr, nil
	}

	if len(name) > protocol.MaxHostLen {
		return netip.Addr{}, lantern.ErrInvalidParameter
	}

	htype, proto := r.normalize(name, opts)

	r.s.Lock()
	defer r.s.Unlock()

	if e := r.table.Find(ifc.Index(), name, htype, proto); e != nil {
		if e.State == cache.StateResolved || e.State == cache.StatePermanent {
			return e.Addr, nil
		}
		return netip.Addr{}, lantern.ErrInProgress
	}

	return netip.Addr{}, r.launch(ifc, name, htype, proto)
}

// launch creates a cache entry and sends the first query. Callers hold the
// stack mutex.
func (r *Resolver) launch(ifc *stack.Interface, name string, htype HostType, proto Protocol) error {
	p := params[proto]

	e := r.table.Create()
	e.Name = name
	e.Type = htype
	e.Protocol = proto
	e.IfIndex = ifc.Index()
	e.RetransmitCount = p.maxRetries
	e.MaxTimeout = p.maxTimeout

	if proto == ProtoDNS {
		if err := r.attachDNSPort(ifc, e); err != nil {
			e.State = cache.StateNone
			return err
		}
	} else if proto == ProtoMDNS {
		// mDNS one-shot queries use transaction ID zero (RFC 6762 §18.1).
		e.ID = 0
	}
	if proto == ProtoLLMNR || proto == ProtoNBNS {
		e.ID = uint16(r.s.RandUint32())
	}

	if err := r.sendQuery(ifc, e); err != nil {
		// The entry is not marked in progress yet, so Delete would skip
		// the port release; detach the DNS port and clear the state directly.
		if proto == ProtoDNS {
			r.s.DetachEphemeralPort(e.IfIndex, e.Port)
		}
		e.State = cache.StateNone
		return err
	}

	e.Timestamp = r.table.Now()
	e.Timeout = p.initTimeout
	e.RetransmitCount--
	e.State = cache.StateInProgress

	r.log.Debug().Str("name", name).Str("proto", proto.String()).Msg("resolution started")
	return lantern.ErrInProgress
}

// normalize applies the defaulting and protocol selection rules.
func (r *Resolver) normalize(name string, opts Options) (HostType, Protocol) {
	htype := opts.Type
	if htype == TypeAny {
		htype = TypeIPv4
	}

	proto := opts.Protocol
	if proto == ProtoAuto {
		switch {
		case strings.HasSuffix(strings.ToLower(name), ".local"):
			proto = ProtoMDNS
		case !strings.Contains(name, "."):
			if len(name) <= 15 && htype == TypeIPv4 {
				proto = ProtoNBNS
			} else {
				proto = ProtoLLMNR
			}
		default:
			proto = ProtoDNS
		}
	}
	return htype, proto
}

// sendQuery dispatches query construction by protocol.
func (r *Resolver) sendQuery(ifc *stack.Interface, e *cache.Entry) error {
	switch e.Protocol {
	case ProtoDNS:
		return r.sendDNSQuery(ifc, e)
	case ProtoMDNS:
		return r.sendMDNSQuery(ifc, e)
	case ProtoLLMNR:
		return r.sendLLMNRQuery(ifc, e)
	case ProtoNBNS:
		return r.sendNBNSQuery(ifc, e)
	}
	return lantern.ErrFailure
}

// tick is the retransmission engine. For every in-flight entry whose
// deadline elapsed: retransmit while attempts remain, doubling the
// timeout; a DNS entry that exhausts its attempts advances to the next
// configured server with a fresh schedule; anything else is abandoned.
// Resolved entries are expired when their lifetime ends.
func (r *Resolver) tick() {
	now := r.table.Now()

	r.table.ForEach(func(e *cache.Entry) {
		switch e.State {
		case cache.StateInProgress:
			if !e.Expired(now) {
				return
			}
			ifc := r.s.InterfaceByIndex(e.IfIndex)
			if ifc == nil {
				r.table.Delete(e)
				return
			}

			if e.RetransmitCount > 0 {
				if err := r.sendQuery(ifc, e); err != nil {
					r.log.Debug().Str("name", e.Name).Err(err).Msg("retransmit failed")
					r.table.Delete(e)
					return
				}
				e.Timestamp = now
				e.Timeout = minDuration(e.Timeout*2, e.MaxTimeout)
				e.RetransmitCount--
				return
			}

			if e.Protocol == ProtoDNS {
				// All retries against the current server failed; try the
				// next one on the list.
				e.ServerNum++
				e.RetransmitCount = protocol.DNSMaxRetries
				if err := r.sendDNSQuery(ifc, e); err != nil {
					r.log.Debug().Str("name", e.Name).Err(err).Msg("resolution failed")
					r.table.Delete(e)
					return
				}
				e.Timestamp = now
				e.Timeout = protocol.DNSInitTimeout
				e.RetransmitCount--
				return
			}

			r.table.Delete(e)

		case cache.StateResolved:
			if e.Expired(now) {
				r.table.Delete(e)
			}
		}
	})
}

// resolveEntry finalizes an entry from a received answer, clamping the
// record TTL into the protocol's lifetime bounds.
func (r *Resolver) resolveEntry(e *cache.Entry, addr netip.Addr, ttl uint32) {
	p := params[e.Protocol]

	lifetime := time.Duration(ttl) * time.Second
	if lifetime > p.maxLifetime {
		lifetime = p.maxLifetime
	}
	if lifetime < p.minLifetime {
		lifetime = p.minLifetime
	}

	if e.Protocol == ProtoDNS {
		r.s.DetachEphemeralPort(e.IfIndex, e.Port)
	}

	e.Addr = addr
	e.Timestamp = r.table.Now()
	e.Timeout = lifetime
	e.State = cache.StateResolved

	r.log.Debug().Str("name", e.Name).Str("addr", addr.String()).Msg("resolved")
}

// AddStaticHost installs a permanent entry that resolves name to addr on
// the given interface. Permanent entries never expire. The entry is filed
// under the protocol that automatic selection picks for name; a lookup that
// forces a different protocol does not see it.
func (r *Resolver) AddStaticHost(ifc *stack.Interface, name string, addr netip.Addr) error {
	if ifc == nil || name == "" || len(name) > protocol.MaxHostLen || !addr.IsValid() {
		return lantern.ErrInvalidParameter
	}

	htype := TypeIPv4
	if addr.Is6() {
		htype = TypeIPv6
	}
	_, proto := r.normalize(name, Options{Type: htype})

	r.s.Lock()
	defer r.s.Unlock()

	if e := r.table.Find(ifc.Index(), name, htype, ProtoAuto); e != nil {
		r.table.Delete(e)
	}
	e := r.table.Create()
	*e = cache.Entry{
		Name:      name,
		Type:      htype,
		Protocol:  proto,
		State:     cache.StatePermanent,
		IfIndex:   ifc.Index(),
		Addr:      addr,
		Timestamp: r.table.Now(),
	}
	return nil
}

// FlushCache removes every cache entry learned on the interface.
func (r *Resolver) FlushCache(ifc *stack.Interface) {
	r.s.Lock()
	defer r.s.Unlock()
	r.table.Flush(ifc.Index())
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
