package stack

import (
	lantern "github.com/joshuafuller/lantern"
)

// LinkChangeFunc is a user link-change callback. Callbacks run with the
// stack mutex held and must not call stack APIs that reacquire it.
type LinkChangeFunc func(ifc *Interface, up bool)

// linkCallbackEntry is one row of the link-change table. A row is free
// when fn is nil. A nil filter matches every interface.
type linkCallbackEntry struct {
	filter *Interface
	fn     LinkChangeFunc
}

// RegisterLinkHandler adds an internal link-change subscriber. Protocol
// engines use this to flush caches and restart state machines before user
// callbacks observe the new state.
func (s *Stack) RegisterLinkHandler(fn func(*Interface)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkHandlers = append(s.linkHandlers, fn)
}

// AttachLinkChangeCallback registers a user callback, optionally filtered
// to one interface. It returns a handle for DetachLinkChangeCallback, or
// ErrOutOfResources when the table is full.
func (s *Stack) AttachLinkChangeCallback(filter *Interface, fn LinkChangeFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn == nil {
		return 0, lantern.ErrInvalidParameter
	}
	for i := range s.linkCallbacks {
		e := &s.linkCallbacks[i]
		if e.fn == nil {
			e.filter = filter
			e.fn = fn
			return i, nil
		}
	}
	return 0, lantern.ErrOutOfResources
}

// DetachLinkChangeCallback removes a link-change callback by handle.
func (s *Stack) DetachLinkChangeCallback(handle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.linkCallbacks) {
		return
	}
	s.linkCallbacks[handle] = linkCallbackEntry{}
}

// NotifyLinkChange records a link transition and dispatches it: first to
// the internal subscribers, then to every matching row of the user
// callback table.
func (s *Stack) NotifyLinkChange(ifc *Interface, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ifc == nil {
		return
	}
	ifc.linkUp = up

	s.log.Debug().Str("iface", ifc.name).Bool("up", up).Msg("link change")

	for _, fn := range s.linkHandlers {
		fn(ifc)
	}
	for i := range s.linkCallbacks {
		e := &s.linkCallbacks[i]
		if e.fn == nil {
			continue
		}
		if e.filter != nil && e.filter != ifc {
			continue
		}
		e.fn(ifc, up)
	}
}
