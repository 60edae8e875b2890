// Package cache implements the unified resolver cache: one bounded table of
// in-flight and resolved entries shared by the DNS, mDNS, LLMNR and NBNS
// clients. Entries carry their own retransmission state; the periodic tick
// in the resolver drives retransmits and expiry across the whole table.
package cache

import (
	"net/netip"
	"strings"
	"time"

	"github.com/joshuafuller/lantern/internal/protocol"
)

// HostType selects the address family a resolution asks for.
type HostType uint8

// Host types.
const (
	TypeAny HostType = iota
	TypeIPv4
	TypeIPv6
)

// Protocol identifies the resolution protocol an entry belongs to.
type Protocol uint8

// Resolution protocols.
const (
	ProtoAny Protocol = iota
	ProtoDNS
	ProtoMDNS
	ProtoNBNS
	ProtoLLMNR
)

// String returns the conventional protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtoDNS:
		return "dns"
	case ProtoMDNS:
		return "mdns"
	case ProtoNBNS:
		return "nbns"
	case ProtoLLMNR:
		return "llmnr"
	default:
		return "any"
	}
}

// State is the lifecycle state of a cache entry.
type State uint8

// Entry states. Permanent entries behave like resolved ones but are never
// expired by the tick.
const (
	StateNone State = iota
	StateInProgress
	StateResolved
	StatePermanent
)

// Entry is one slot of the resolver cache. Entries are owned by the Table;
// callers operate on them in place under the stack mutex and never retain
// them across calls.
type Entry struct {
	Name     string
	Type     HostType
	Protocol Protocol
	State    State

	// IfIndex is the owning network interface. The table holds no
	// reference to interface state beyond the index.
	IfIndex int

	// ServerNum selects the DNS server the next retransmission goes to.
	ServerNum int

	// Port is the ephemeral local port a DNS query was sent from; zero
	// for the protocols that use their well-known port.
	Port uint16

	// ID is the transaction identifier the response must echo.
	ID uint16

	// Addr is valid only in the Resolved and Permanent states.
	Addr netip.Addr

	// Timestamp records the last transmission (in-progress entries) or
	// the moment of resolution (resolved entries).
	Timestamp time.Time

	// Timeout is the current retransmission delay, doubling per attempt
	// up to MaxTimeout; after resolution it holds the entry lifetime.
	Timeout    time.Duration
	MaxTimeout time.Duration

	// RetransmitCount is the number of transmissions left before the
	// entry fails over (DNS) or is abandoned.
	RetransmitCount int
}

// Expired reports whether the entry's current deadline has passed.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.Timestamp.Add(e.Timeout))
}

// Table is the bounded cache shared by all resolution protocols.
type Table struct {
	entries [protocol.CacheSize]Entry

	clock func() time.Time

	// onDelete runs for every entry leaving the table, whatever the
	// cause, so the owner can release the entry's rx callback exactly
	// once.
	onDelete func(*Entry)
}

// New returns an empty table. onDelete may be nil.
func New(clock func() time.Time, onDelete func(*Entry)) *Table {
	return &Table{clock: clock, onDelete: onDelete}
}

// Create returns a cleared entry, evicting the entry with the oldest
// timestamp when the table is full.
func (t *Table) Create() *Entry {
	now := t.clock()
	oldest := &t.entries[0]

	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateNone {
			*e = Entry{}
			return e
		}
		if now.Sub(e.Timestamp) > now.Sub(oldest.Timestamp) {
			oldest = e
		}
	}

	t.Delete(oldest)
	*oldest = Entry{}
	return oldest
}

// Find returns the entry matching (ifindex, name, type, protocol), or nil.
// TypeAny and ProtoAny act as wildcards; the name comparison is
// case-insensitive.
func (t *Table) Find(ifindex int, name string, htype HostType, proto Protocol) *Entry {
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateNone {
			continue
		}
		if e.IfIndex != ifindex {
			continue
		}
		if e.Type != htype && htype != TypeAny {
			continue
		}
		if e.Protocol != proto && proto != ProtoAny {
			continue
		}
		if strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}

// Delete removes the entry, running the owner's release hook.
func (t *Table) Delete(e *Entry) {
	if e == nil || e.State == StateNone {
		return
	}
	if t.onDelete != nil {
		t.onDelete(e)
	}
	e.State = StateNone
}

// Flush deletes every entry owned by the given interface.
func (t *Table) Flush(ifindex int) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.State != StateNone && e.IfIndex == ifindex {
			t.Delete(e)
		}
	}
}

// ForEach visits every in-use entry. The visitor may delete the entry it
// is handed.
func (t *Table) ForEach(fn func(*Entry)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.State != StateNone {
			fn(e)
		}
	}
}

// Now returns the table's current time, for callers updating timestamps.
func (t *Table) Now() time.Time { return t.clock() }
