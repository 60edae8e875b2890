package stack

import (
	"time"

	"github.com/rs/zerolog"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/prng"
	"github.com/joshuafuller/lantern/internal/transport"
)

// Option configures a Stack.
type Option func(*Stack) error

// WithLogger sets the stack logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Stack) error {
		s.log = log
		return nil
	}
}

// WithTransport substitutes the transport; tests pass transport.NewMock().
func WithTransport(tr transport.Transport) Option {
	return func(s *Stack) error {
		if tr == nil {
			return lantern.ErrInvalidParameter
		}
		s.tr = tr
		return nil
	}
}

// WithClock substitutes the time source; tests pass a manual clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Stack) error {
		if clock == nil {
			return lantern.ErrInvalidParameter
		}
		s.clock = clock
		return nil
	}
}

// WithTickInterval overrides the base tick period.
func WithTickInterval(d time.Duration) Option {
	return func(s *Stack) error {
		if d <= 0 {
			return lantern.ErrInvalidParameter
		}
		s.tickInterval = d
		return nil
	}
}

// WithSeed keys the PRNG deterministically instead of from crypto/rand.
func WithSeed(seed [10]byte) Option {
	return func(s *Stack) error {
		s.rng = prng.New(seed, [8]byte{})
		return nil
	}
}
