package wire

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys shared by all messages.
const (
	KeyMessageID = 1

	// KeySubscriptionID replaces the operation key in events.
	KeySubscriptionID = 2
)

// EventMessageID is the message id reserved for events.
const EventMessageID uint32 = 0

// Request represents a message from client to service.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32, never 0
//	  2: operation,    // uint8: 1=Subscribe, 2=Unsubscribe, 3=Ping
//	  3: payload       // operation-specific, kept raw until dispatched
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == EventMessageID {
		return fmt.Errorf("messageId 0 is reserved for events")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// NewRequest builds a request and encodes payload into it.
// A nil payload produces a request without payload.
func NewRequest(id uint32, op Operation, payload any) (*Request, error) {
	req := &Request{MessageID: id, Operation: op}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", op, err)
		}
		req.Payload = data
	}
	return req, nil
}

// DecodePayload decodes the raw request payload into v.
func (r *Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("%s request without payload", r.Operation)
	}
	return Unmarshal(r.Payload, v)
}

// SubscribePayload is the payload of a Subscribe request.
//
// CBOR encoding:
//
//	{
//	  1: template,    // string
//	  2: variables,   // map, names visible to the expression
//	  3: strict       // bool: fail instead of rendering best-effort output
//	}
type SubscribePayload struct {
	Template  string         `cbor:"1,keyasint"`
	Variables map[string]any `cbor:"2,keyasint,omitempty"`
	Strict    bool           `cbor:"3,keyasint,omitempty"`
}

// UnsubscribePayload is the payload of an Unsubscribe request.
type UnsubscribePayload struct {
	SubscriptionID uint32 `cbor:"1,keyasint"`
}

// Response represents a reply from service to client.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32: matches request
//	  2: error         // absent on success
//	}
type Response struct {
	MessageID uint32        `cbor:"1,keyasint"`
	Error     *ErrorPayload `cbor:"2,keyasint,omitempty"`
}

// IsSuccess returns true if the response carries no error.
func (r *Response) IsSuccess() bool {
	return r.Error == nil
}

// Event carries a subscription update from service to client.
//
// CBOR encoding:
//
//	{
//	  1: 0,                // messageId 0 = event
//	  2: subscriptionId,   // uint32
//	  3: result,           // present on success
//	  4: error             // present when the subscription failed; it is over
//	}
type Event struct {
	SubscriptionID uint32        `cbor:"2,keyasint"`
	Result         *Result       `cbor:"3,keyasint,omitempty"`
	Error          *ErrorPayload `cbor:"4,keyasint,omitempty"`
}

// Result is one evaluated output of a template.
//
// CBOR encoding:
//
//	{
//	  1: value,       // string
//	  2: listeners    // live inputs the output depends on
//	}
type Result struct {
	Value     string    `cbor:"1,keyasint"`
	Listeners Listeners `cbor:"2,keyasint"`
}

// Listeners describes which live inputs a result depends on.
// Domains and Entities are sorted sets.
type Listeners struct {
	All      bool     `cbor:"1,keyasint,omitempty"`
	Domains  []string `cbor:"2,keyasint,omitempty"`
	Entities []string `cbor:"3,keyasint,omitempty"`
	Time     bool     `cbor:"4,keyasint,omitempty"`
}

// NewListeners builds Listeners with normalized domain and entity sets.
func NewListeners(all bool, domains, entities []string, time bool) Listeners {
	return Listeners{
		All:      all,
		Domains:  normalizeSet(domains),
		Entities: normalizeSet(entities),
		Time:     time,
	}
}

// IsEmpty returns true if the result depends on no live input.
func (l Listeners) IsEmpty() bool {
	return !l.All && !l.Time && len(l.Domains) == 0 && len(l.Entities) == 0
}

// DependsOn reports whether a change of entityID can change the result.
func (l Listeners) DependsOn(entityID string) bool {
	if l.All {
		return true
	}
	if _, found := slices.BinarySearch(l.Entities, entityID); found {
		return true
	}
	for _, d := range l.Domains {
		if len(entityID) > len(d) && entityID[:len(d)] == d && entityID[len(d)] == '.' {
			return true
		}
	}
	return false
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
