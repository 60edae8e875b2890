package responder

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/joshuafuller/lantern/internal/protocol"
)

// tick advances the FSM. It runs under the stack mutex every responder
// tick interval.
//
// State flow (RFC 6762 §8):
//
//	INIT → WAITING → PROBING → ANNOUNCING → IDLE
//	PROBING → PROBING          on conflict (rename) or lost tie-break (defer)
//	ANNOUNCING, IDLE → PROBING on conflict
//	any → INIT                 on link change
func (r *Responder) tick() {
	now := r.s.Now()

	switch r.state {
	case StateInit:
		// Wait for the link, a host name and at least one usable address.
		if r.running && r.ifc.LinkUp() && r.hostname != "" {
			if r.ifc.HasIPv4() || r.ifc.HasIPv6() {
				r.refreshReverseNames()
				r.changeState(StateWaiting, 0)
			}
		}

	case StateWaiting:
		// Hold until both families have addresses, bounded by the
		// maximum waiting delay, so one probe sequence covers both.
		ready := r.ifc.HasIPv4() && r.ifc.HasIPv6()
		if !ready && now.Sub(r.timestamp) >= protocol.MDNSMaxWaitingDelay {
			ready = true
		}
		if ready {
			delay := r.s.RandRange(int(protocol.MDNSRandDelayMin), int(protocol.MDNSRandDelayMax.Milliseconds()))
			r.changeState(StateProbing, time.Duration(delay)*time.Millisecond)
		}

	case StateProbing:
		switch {
		case (r.conflict || r.serviceConflict) && r.retransmitCount > 0:
			// Another host owns the name: rename and probe again.
			if r.conflict {
				r.changeHostname()
			}
			if r.serviceConflict {
				r.changeInstanceName()
			}
			r.changeState(StateProbing, 0)

		case r.tieBreakLost && r.retransmitCount > 0:
			// Defer to the winning simultaneous prober for one second,
			// then probe the same name again (RFC 6762 §8.2).
			r.changeState(StateProbing, protocol.MDNSProbeDefer)

		case !now.Before(r.timestamp.Add(r.timeout)):
			if r.retransmitCount < protocol.MDNSProbeNum {
				if r.retransmitCount == 0 {
					// Conflicting responses seen before the first probe
					// goes out are ignored.
					r.conflict = false
					r.serviceConflict = false
					r.tieBreakLost = false
				}
				r.sendProbe()
				r.timestamp = now
				r.timeout = protocol.MDNSProbeDelay
				r.retransmitCount++
			} else if r.numAnnouncements > 0 {
				r.changeState(StateAnnouncing, 0)
			} else {
				r.changeState(StateIdle, 0)
			}
		}

	case StateAnnouncing:
		if r.conflict || r.serviceConflict {
			r.restartProbing()
			break
		}
		if !now.Before(r.timestamp.Add(r.timeout)) {
			r.sendAnnouncement(r.ttl)
			r.timestamp = now
			r.retransmitCount++

			if r.retransmitCount == 1 {
				r.timeout = protocol.MDNSAnnounceDelay
			} else {
				// Each subsequent interval at least doubles
				// (RFC 6762 §8.3).
				r.timeout *= 2
			}

			if r.retransmitCount >= r.numAnnouncements {
				r.changeState(StateIdle, 0)
			}
		}

	case StateIdle:
		if r.conflict || r.serviceConflict {
			r.restartProbing()
		}
	}

	r.flushPending(now)
}

// flushPending emits aggregated responses whose delay has elapsed.
func (r *Responder) flushPending(now time.Time) {
	if p := r.ipv4Response; p != nil && !now.Before(p.timestamp.Add(p.timeout)) {
		r.generateAdditionalRecords(p.b, false)
		r.send(p.b, mdnsGroupV4())
		r.ipv4Response = nil
	}
	if p := r.ipv6Response; p != nil && !now.Before(p.timestamp.Add(p.timeout)) {
		r.generateAdditionalRecords(p.b, false)
		r.send(p.b, mdnsGroupV6())
		r.ipv6Response = nil
	}
}

// linkChange restarts the FSM from INIT. Pending responses refer to
// addresses that may no longer exist, so they are dropped.
func (r *Responder) linkChange() {
	r.dropPending()
	r.changeState(StateInit, 0)
}

// changeState switches the FSM, resetting the transition clock and the
// retransmission counter. The observer callback is invoked with the stack
// mutex released so it may call back into the API.
func (r *Responder) changeState(newState State, delay time.Duration) {
	r.timestamp = r.s.Now()
	r.timeout = delay
	r.retransmitCount = 0
	r.state = newState

	r.log.Debug().Str("state", newState.String()).Msg("state change")

	if r.onStateChange != nil {
		r.s.Unlock()
		r.onStateChange(r, newState)
		r.s.Lock()
	}
}

// changeHostname renames the host after a conflict: a trailing decimal
// suffix is incremented in place, preserving its zero padding; a name
// without one gets "2" appended. If the incremented name would not fit,
// the suffix is replaced by "-2" instead of truncating digits into a
// different name.
func (r *Responder) changeHostname() {
	renamed := renameLabel(r.hostname, protocol.MDNSMaxHostnameLen)

	r.log.Debug().Str("old", r.hostname).Str("new", renamed).Msg("host name conflict")

	r.hostname = renamed
	r.refreshReverseNames()
}

func renameLabel(name string, max int) string {
	// Find the trailing digit run.
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	base, digits := name[:i], name[i:]

	if digits == "" {
		if len(name)+1 <= max {
			return name + "2"
		}
	} else {
		index, err := strconv.Atoi(digits)
		if err == nil {
			next := strconv.Itoa(index + 1)
			if pad := len(digits) - len(next); pad > 0 {
				next = strings.Repeat("0", pad) + next
			}
			if len(base)+len(next) <= max {
				return base + next
			}
		}
	}

	// Renaming would overflow the bound; restart the suffix sequence.
	if len(base) > max-2 {
		base = base[:max-2]
	}
	return base + "-2"
}

// refreshReverseNames recomputes the reverse-lookup name prefixes from the
// interface's current addresses: dotted reversed octets for IPv4
// (in-addr.arpa) and reversed nibbles for IPv6 (ip6.arpa).
func (r *Responder) refreshReverseNames() {
	r.ipv4ReverseName = ""
	r.ipv6ReverseName = ""

	if r.ifc.HasIPv4() {
		o := r.ifc.IPv4Addr().As4()
		r.ipv4ReverseName = strconv.Itoa(int(o[3])) + "." + strconv.Itoa(int(o[2])) + "." +
			strconv.Itoa(int(o[1])) + "." + strconv.Itoa(int(o[0]))
	}

	if r.ifc.HasIPv6() {
		a := r.ifc.IPv6LinkLocal().As16()
		var sb strings.Builder
		for i := 15; i >= 0; i-- {
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteByte(hexDigit(a[i] & 0x0F))
			sb.WriteByte('.')
			sb.WriteByte(hexDigit(a[i] >> 4))
		}
		r.ipv6ReverseName = sb.String()
	}
}

func hexDigit(v byte) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + v - 10
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
