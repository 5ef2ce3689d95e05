package log

import (
	"time"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one connect cycle (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Transport is "ble" or "wifi".
	Transport string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the device address (MAC or host).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// DeviceID is the device serial or UDN (populated after discovery).
	DeviceID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Register    *RegisterEvent    `cbor:"10,keyasint,omitempty"` // Link layer, register transport
	Call        *CallEvent        `cbor:"11,keyasint,omitempty"` // Call layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session state
	Property    *PropertyEvent    `cbor:"13,keyasint,omitempty"` // Pushed property change
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the device.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerLink is the raw register or HTTP layer.
	LayerLink Layer = 0
	// LayerCall is the request executor.
	LayerCall Layer = 1
	// LayerSession is the session manager.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerCall:
		return "CALL"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a register operation or call.
	CategoryMessage Category = 0
	// CategoryNotification indicates a device-initiated notification or property push.
	CategoryNotification Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryNotification:
		return "NOTIFICATION"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// RegisterOp is the kind of register access.
type RegisterOp uint8

const (
	RegisterRead   RegisterOp = 0
	RegisterWrite  RegisterOp = 1
	RegisterNotify RegisterOp = 2
)

// String returns the operation name.
func (o RegisterOp) String() string {
	switch o {
	case RegisterRead:
		return "READ"
	case RegisterWrite:
		return "WRITE"
	case RegisterNotify:
		return "NOTIFY"
	default:
		return "UNKNOWN"
	}
}

// MaxDataSize is the number of payload bytes kept per register event.
const MaxDataSize = 64

// RegisterEvent captures a raw register access.
type RegisterEvent struct {
	// Address is the logical register address.
	Address uint16 `cbor:"1,keyasint"`

	// Op is read, write or notify.
	Op RegisterOp `cbor:"2,keyasint"`

	// Data is the value (truncated to MaxDataSize).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`

	// Ack is set for writes that waited for a response.
	Ack bool `cbor:"5,keyasint,omitempty"`
}

// NewRegisterEvent builds a RegisterEvent, truncating data.
func NewRegisterEvent(addr uint16, op RegisterOp, data []byte) *RegisterEvent {
	ev := &RegisterEvent{Address: addr, Op: op}
	if len(data) > MaxDataSize {
		ev.Data = append([]byte(nil), data[:MaxDataSize]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// CallEvent captures one executor round trip.
type CallEvent struct {
	// Target names the call, e.g. "camcmd/capture" or "reg 0x0068".
	Target string `cbor:"1,keyasint"`

	// Attempt is the zero-based retry counter.
	Attempt int `cbor:"2,keyasint,omitempty"`

	// Status is set on the response event.
	Status *wire.Status `cbor:"3,keyasint,omitempty"`

	// Duration of the round trip (response only).
	Duration *time.Duration `cbor:"4,keyasint,omitempty"`

	// Payload is a short rendering of the request or response body.
	Payload string `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 0
	// StateEntityBusyGate indicates the event-driven busy gate opened or closed.
	StateEntityBusyGate StateEntity = 1
	// StateEntitySubscription indicates the event subscription changed.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityBusyGate:
		return "BUSY_GATE"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// PropertyEvent captures a pushed property change.
type PropertyEvent struct {
	Name  string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
