package log

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Scope stamps events with the current connection identity before handing
// them to a Logger. A nil *Scope or a Scope with a nil Logger is a no-op, so
// components can hold one unconditionally.
type Scope struct {
	logger    Logger
	transport string

	mu       sync.RWMutex
	connID   string
	remote   string
	deviceID string
}

// NewScope creates a Scope for the given transport kind ("ble" or "wifi").
func NewScope(logger Logger, transport string) *Scope {
	return &Scope{logger: logger, transport: transport}
}

// BeginConnection assigns a fresh connection id and returns it.
func (s *Scope) BeginConnection(remote string) string {
	if s == nil {
		return ""
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.connID = id
	s.remote = remote
	s.mu.Unlock()
	return id
}

// SetDevice records the device id stamped on later events.
func (s *Scope) SetDevice(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()
}

// ConnectionID returns the id of the current connection cycle.
func (s *Scope) ConnectionID() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

func (s *Scope) emit(ev Event) {
	if s == nil || s.logger == nil {
		return
	}
	s.mu.RLock()
	ev.ConnectionID = s.connID
	ev.RemoteAddr = s.remote
	ev.DeviceID = s.deviceID
	s.mu.RUnlock()
	ev.Transport = s.transport
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.logger.Log(ev)
}

// Register records a raw register access.
func (s *Scope) Register(op RegisterOp, addr uint16, data []byte) {
	dir := DirectionOut
	cat := CategoryMessage
	switch op {
	case RegisterRead:
		dir = DirectionIn
	case RegisterNotify:
		dir = DirectionIn
		cat = CategoryNotification
	}
	s.emit(Event{
		Direction: dir,
		Layer:     LayerLink,
		Category:  cat,
		Register:  NewRegisterEvent(addr, op, data),
	})
}

// Request records an outgoing call attempt.
func (s *Scope) Request(target string, attempt int, payload string) {
	s.emit(Event{
		Direction: DirectionOut,
		Layer:     LayerCall,
		Category:  CategoryMessage,
		Call:      &CallEvent{Target: target, Attempt: attempt, Payload: payload},
	})
}

// Response records the classified status of a call attempt.
func (s *Scope) Response(target string, attempt int, status wire.Status, rtt time.Duration) {
	s.emit(Event{
		Direction: DirectionIn,
		Layer:     LayerCall,
		Category:  CategoryMessage,
		Call:      &CallEvent{Target: target, Attempt: attempt, Status: &status, Duration: &rtt},
	})
}

// State records a state transition of entity.
func (s *Scope) State(entity StateEntity, from, to, reason string) {
	s.emit(Event{
		Layer:    LayerSession,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// Property records a pushed property value.
func (s *Scope) Property(name, value string) {
	s.emit(Event{
		Direction: DirectionIn,
		Layer:     LayerSession,
		Category:  CategoryNotification,
		Property:  &PropertyEvent{Name: name, Value: value},
	})
}

// Error records err at layer.
func (s *Scope) Error(layer Layer, context string, err error) {
	if err == nil {
		return
	}
	s.emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: layer, Message: err.Error(), Context: context},
	})
}
