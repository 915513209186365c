package log

import (
	"time"

	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// Event is a protocol capture record from any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the channel connection (UUID).
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the evaluation service address.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Owner and Key identify the binding, for binding-layer events.
	Owner string `cbor:"7,keyasint,omitempty"`
	Key   string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
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

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerBinding is the owner/subscription lifecycle layer.
	LayerBinding Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerBinding:
		return "BINDING"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name as printed by String.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerWire, LayerBinding} {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 1
	CategoryError   Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including any length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded message at the wire layer.
type MessageEvent struct {
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for events).
	MessageID uint32 `cbor:"2,keyasint"`

	// For requests: the operation.
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`

	// For events and unsubscribe requests: the subscription id.
	SubscriptionID *uint32 `cbor:"4,keyasint,omitempty"`

	// For failed responses and events: the error code.
	ErrorCode wire.Code `cbor:"5,keyasint,omitempty"`

	// Template text for subscribe requests, value for results.
	Text string `cbor:"6,keyasint,omitempty"`

	// RoundTrip is the time from request send to response receipt.
	RoundTrip *time.Duration `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes request/response/event.
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 0
	MessageTypeResponse MessageType = 1
	MessageTypeEvent    MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection, subscription and owner transitions.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection   StateEntity = 0
	StateEntitySubscription StateEntity = 1
	StateEntityOwner        StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityOwner:
		return "OWNER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer     `cbor:"1,keyasint"`
	Message string    `cbor:"2,keyasint"`
	Code    wire.Code `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// NewStateEvent builds a binding-layer state change event.
func NewStateEvent(entity StateEntity, owner, key, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Direction: DirectionIn,
		Layer:     LayerBinding,
		Category:  CategoryState,
		Owner:     owner,
		Key:       key,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}
}

// NewErrorEvent builds an error event for layer.
func NewErrorEvent(layer Layer, code wire.Code, message, context string) Event {
	return Event{
		Timestamp: time.Now(),
		Layer:     layer,
		Category:  CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: message,
			Code:    code,
			Context: context,
		},
	}
}
