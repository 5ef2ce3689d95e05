package session

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Transport identifies the link a session runs over.
type Transport uint8

const (
	// TransportBLE is the short-range register transport.
	TransportBLE Transport = iota
	// TransportWiFi is the request/response transport (cam.cgi).
	TransportWiFi
)

// String returns "ble" or "wifi".
func (t Transport) String() string {
	if t == TransportWiFi {
		return "wifi"
	}
	return "ble"
}

// State is the connection state of a session.
type State uint8

const (
	StateDisconnected State = iota
	StateDiscovering
	StateTransportConnected
	StateAuthenticating
	StateReady
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateDiscovering:
		return "Discovering"
	case StateTransportConnected:
		return "TransportConnected"
	case StateAuthenticating:
		return "Authenticating"
	case StateReady:
		return "Ready"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Identity describes the discovered device. It does not change for the life
// of a session once the address is known.
type Identity struct {
	Name         string
	Model        string
	Serial       string
	UDN          string
	Manufacturer string

	// Address is the BLE MAC or the IP host of the device.
	Address string
}

// Known reports whether discovery has produced an address.
func (i Identity) Known() bool { return i.Address != "" }

// Session holds the mutable state of one device session.
//
// All fields behind mu are read and written only under that lock. The
// snapshot and property maps allow lock-free single-key access; whole-map
// reads and merges that touch the stale marker take mu as well. The
// command slot is a separate one-element semaphore; holders of mu never
// wait on it.
type Session struct {
	transport Transport

	mu       sync.RWMutex
	state    State
	identity Identity
	pinned   bool
	token    string
	epoch    uint64
	busy     bool
	stale    bool

	snapshot   *xsync.MapOf[string, string]
	properties *xsync.MapOf[string, string]

	cmd chan struct{}
}

// New creates a disconnected session. A non-empty address pins the device:
// it is kept across failed connection attempts.
func New(transport Transport, address string) *Session {
	return &Session{
		transport:  transport,
		identity:   Identity{Address: address},
		pinned:     address != "",
		stale:      true,
		snapshot:   xsync.NewMapOf[string, string](),
		properties: xsync.NewMapOf[string, string](),
		cmd:        make(chan struct{}, 1),
	}
}

// Transport returns the transport kind.
func (s *Session) Transport() Transport { return s.transport }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Epoch returns the teardown counter.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Ready reports the state and epoch atomically.
func (s *Session) Ready() (bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady, s.epoch
}

// SetState moves to next and returns the previous state. A closed session
// stays closed.
func (s *Session) SetState(next State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev != StateClosed {
		s.state = next
	}
	return prev
}

// Advance moves to next only if the epoch still equals epoch. It returns
// false when a teardown happened in between.
func (s *Session) Advance(epoch uint64, next State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state == StateClosed {
		return s.state, false
	}
	prev := s.state
	s.state = next
	return prev, true
}

// Teardown moves to Disconnected, bumps the epoch, drops the token and marks
// the snapshot stale. fn, if non-nil, runs under the state lock so
// per-connection transport state is cleared before any new connect reads it.
// It returns the previous state.
func (s *Session) Teardown(fn func()) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev != StateClosed {
		s.state = StateDisconnected
	}
	s.epoch++
	s.token = ""
	s.stale = true
	s.busy = false
	if fn != nil {
		fn()
	}
	return prev
}

// Identity returns the device identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Pinned reports whether the address was configured rather than discovered.
func (s *Session) Pinned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned
}

// SetIdentity records the discovered identity. Fields already set are kept
// and only empty ones are filled.
func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := &s.identity
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cur.Address, id.Address)
	fill(&cur.Name, id.Name)
	fill(&cur.Model, id.Model)
	fill(&cur.Serial, id.Serial)
	fill(&cur.UDN, id.UDN)
	fill(&cur.Manufacturer, id.Manufacturer)
}

// ForgetDevice drops a discovered identity so the next connect rediscovers.
// A pinned address is kept.
func (s *Session) ForgetDevice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned {
		return
	}
	s.identity = Identity{}
}

// Token returns the session token, empty when not authenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores the token issued by the handshake.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Busy reports whether the event-driven busy gate is closed.
func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// SetBusy sets the busy gate and reports whether it changed.
func (s *Session) SetBusy(busy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.busy != busy
	s.busy = busy
	return changed
}

// Snapshot returns a copy of the cached device state and whether it is
// stale.
func (s *Session) Snapshot() (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, s.snapshot.Size())
	s.snapshot.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out, s.stale
}

// StateValue returns one snapshot entry.
func (s *Session) StateValue(key string) (string, bool) {
	return s.snapshot.Load(key)
}

// UpdateSnapshot merges values into the snapshot and clears the stale
// marker. It returns the keys whose value changed.
func (s *Session) UpdateSnapshot(values map[string]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(values)
}

// UpdateSnapshotAt is UpdateSnapshot for values read during epoch. It leaves
// the snapshot untouched and reports false if a teardown happened since.
func (s *Session) UpdateSnapshotAt(epoch uint64, values map[string]string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, false
	}
	return s.mergeLocked(values), true
}

func (s *Session) mergeLocked(values map[string]string) []string {
	var changed []string
	for k, v := range values {
		old, ok := s.snapshot.LoadAndStore(k, v)
		if !ok || old != v {
			changed = append(changed, k)
		}
	}
	s.stale = false
	return changed
}

// SetStateValue sets one snapshot entry without touching the stale marker.
func (s *Session) SetStateValue(key, value string) {
	s.snapshot.Store(key, value)
}

// MarkStale flags the snapshot as out of date.
func (s *Session) MarkStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Property returns the last pushed value of a named property.
func (s *Session) Property(name string) (string, bool) {
	return s.properties.Load(name)
}

// SetProperty caches a pushed property and reports whether it changed.
func (s *Session) SetProperty(name, value string) bool {
	old, ok := s.properties.LoadAndStore(name, value)
	return !ok || old != value
}

// Properties returns a copy of the pushed-property cache.
func (s *Session) Properties() map[string]string {
	out := map[string]string{}
	s.properties.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out
}

// AcquireCommand takes the session-wide command slot, waiting until it is
// free or ctx ends. The returned func releases it.
func (s *Session) AcquireCommand(ctx context.Context) (func(), error) {
	select {
	case s.cmd <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.cmd }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
