package wire

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for protocol messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for protocol messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Template variables are string-keyed at every depth.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response message to CBOR bytes.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.MessageID == EventMessageID {
		return nil, fmt.Errorf("messageId 0 is reserved for events")
	}
	return Marshal(resp)
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// eventWire is the on-the-wire shape of an Event including its messageId.
type eventWire struct {
	MessageID      uint32        `cbor:"1,keyasint"`
	SubscriptionID uint32        `cbor:"2,keyasint"`
	Result         *Result       `cbor:"3,keyasint,omitempty"`
	Error          *ErrorPayload `cbor:"4,keyasint,omitempty"`
}

// EncodeEvent encodes an event message to CBOR bytes.
// Events have messageId=0 which is handled automatically.
func EncodeEvent(ev *Event) ([]byte, error) {
	if (ev.Result == nil) == (ev.Error == nil) {
		return nil, fmt.Errorf("event must carry exactly one of result or error")
	}
	return Marshal(eventWire{
		MessageID:      EventMessageID,
		SubscriptionID: ev.SubscriptionID,
		Result:         ev.Result,
		Error:          ev.Error,
	})
}

// DecodeEvent decodes CBOR bytes into an event message.
func DecodeEvent(data []byte) (*Event, error) {
	var w eventWire
	if err := Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if w.MessageID != EventMessageID {
		return nil, fmt.Errorf("not an event message: messageId=%d", w.MessageID)
	}
	return &Event{
		SubscriptionID: w.SubscriptionID,
		Result:         w.Result,
		Error:          w.Error,
	}, nil
}

// MessageType represents the type of a decoded message.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeEvent
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeEvent:
		return "Event"
	default:
		return "Unknown"
	}
}

// cborMajorUint is the major type of CBOR unsigned integers (bits 7-5 = 0).
const cborMajorUint = 0x00

// PeekMessageType examines CBOR data to determine the message type
// without fully decoding it.
//
// Detection logic:
//   - Event: messageId (key 1) = 0
//   - Request: key 2 is an unsigned integer (the operation)
//   - Response: key 2 is absent or a map (the error)
func PeekMessageType(data []byte) (MessageType, error) {
	var peek struct {
		MessageID uint32          `cbor:"1,keyasint"`
		Field2    cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}

	if peek.MessageID == EventMessageID {
		return MessageTypeEvent, nil
	}
	if len(peek.Field2) > 0 && peek.Field2[0]&0xe0 == cborMajorUint {
		return MessageTypeRequest, nil
	}
	return MessageTypeResponse, nil
}

// Clone creates a deep copy of v by re-encoding.
// Useful for copying template variables without shared references.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their canonical CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
