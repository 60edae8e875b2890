package responder

import (
	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// Option is a functional option for configuring a Responder.
type Option func(*Responder) error

// WithHostname sets the host name to claim, without the ".local" suffix.
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		if hostname == "" || len(hostname) > protocol.MDNSMaxHostnameLen {
			return lantern.ErrInvalidParameter
		}
		r.hostname = hostname
		r.refreshReverseNames()
		return nil
	}
}

// WithInstanceName sets the DNS-SD service instance name. Defaults to the
// host name.
func WithInstanceName(instance string) Option {
	return func(r *Responder) error {
		if len(instance) > protocol.DNSSDMaxInstanceNameLen {
			return lantern.ErrInvalidParameter
		}
		r.instanceName = instance
		return nil
	}
}

// WithAnnounceCount sets how many unsolicited announcements follow a
// successful probe sequence. The interval doubles after the second
// announcement (RFC 6762 §8.3).
func WithAnnounceCount(n int) Option {
	return func(r *Responder) error {
		if n < 0 {
			return lantern.ErrInvalidParameter
		}
		r.numAnnouncements = n
		return nil
	}
}

// WithRecordTTL sets the TTL, in seconds, of the advertised records.
func WithRecordTTL(ttl uint32) Option {
	return func(r *Responder) error {
		r.ttl = ttl
		return nil
	}
}

// WithStateChange registers a transition observer. The callback runs with
// the stack mutex released and may call responder APIs.
func WithStateChange(fn StateChangeFunc) Option {
	return func(r *Responder) error {
		r.onStateChange = fn
		return nil
	}
}
