package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		payload any
	}{
		{
			name: "subscribe request",
			op:   OpSubscribe,
			payload: SubscribePayload{
				Template:  "{{ states(entity) }}",
				Variables: map[string]any{"entity": "light.kitchen"},
				Strict:    true,
			},
		},
		{
			name:    "unsubscribe request",
			op:      OpUnsubscribe,
			payload: UnsubscribePayload{SubscriptionID: 7},
		},
		{
			name: "ping request",
			op:   OpPing,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(uint32(i+1), tt.op, tt.payload)
			require.NoError(t, err)

			data, err := EncodeRequest(req)
			require.NoError(t, err)

			typ, err := PeekMessageType(data)
			require.NoError(t, err)
			assert.Equal(t, MessageTypeRequest, typ)

			decoded, err := DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, req.MessageID, decoded.MessageID)
			assert.Equal(t, tt.op, decoded.Operation)
		})
	}
}

func TestSubscribePayloadVariablesDecodeStringKeyed(t *testing.T) {
	req, err := NewRequest(1, OpSubscribe, SubscribePayload{
		Template: "{{ config.name }}",
		Variables: map[string]any{
			"config": map[string]any{"name": "hall", "columns": 2},
			"user":   "Ada",
		},
	})
	require.NoError(t, err)

	data, err := EncodeRequest(req)
	require.NoError(t, err)
	decoded, err := DecodeRequest(data)
	require.NoError(t, err)

	var p SubscribePayload
	require.NoError(t, decoded.DecodePayload(&p))
	assert.Equal(t, "{{ config.name }}", p.Template)
	assert.Equal(t, "Ada", p.Variables["user"])

	nested, ok := p.Variables["config"].(map[string]any)
	require.True(t, ok, "nested maps should decode as map[string]any, got %T", p.Variables["config"])
	assert.Equal(t, "hall", nested["name"])
}

func TestRequestValidate(t *testing.T) {
	_, err := EncodeRequest(&Request{MessageID: 0, Operation: OpPing})
	assert.Error(t, err, "messageId 0 is reserved")

	_, err = EncodeRequest(&Request{MessageID: 1, Operation: Operation(9)})
	assert.Error(t, err)

	req := &Request{MessageID: 3, Operation: OpUnsubscribe}
	var p UnsubscribePayload
	assert.Error(t, req.DecodePayload(&p), "missing payload")
}

func TestResponsePeekAndDecode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		data, err := EncodeResponse(&Response{MessageID: 12})
		require.NoError(t, err)

		typ, err := PeekMessageType(data)
		require.NoError(t, err)
		assert.Equal(t, MessageTypeResponse, typ)

		resp, err := DecodeResponse(data)
		require.NoError(t, err)
		assert.True(t, resp.IsSuccess())
	})

	t.Run("Error", func(t *testing.T) {
		data, err := EncodeResponse(&Response{
			MessageID: 13,
			Error:     &ErrorPayload{Code: CodeTemplateError, Message: "unexpected end of template"},
		})
		require.NoError(t, err)

		typ, err := PeekMessageType(data)
		require.NoError(t, err)
		assert.Equal(t, MessageTypeResponse, typ)

		resp, err := DecodeResponse(data)
		require.NoError(t, err)
		require.False(t, resp.IsSuccess())
		assert.Equal(t, CodeTemplateError, resp.Error.Code)
	})

	t.Run("ReservedID", func(t *testing.T) {
		_, err := EncodeResponse(&Response{MessageID: EventMessageID})
		assert.Error(t, err)
	})
}

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{
		SubscriptionID: 4,
		Result: &Result{
			Value:     "21.5 °C",
			Listeners: NewListeners(false, nil, []string{"sensor.temp"}, false),
		},
	}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	typ, err := PeekMessageType(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeEvent, typ)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)

	_, err = EncodeEvent(&Event{SubscriptionID: 1})
	assert.Error(t, err, "event without result or error")

	resp, _ := EncodeResponse(&Response{MessageID: 2})
	_, err = DecodeEvent(resp)
	assert.Error(t, err, "response is not an event")
}

func TestListeners(t *testing.T) {
	l := NewListeners(false, []string{"sensor", "light", "sensor"}, []string{"switch.b", "switch.a", "switch.b"}, true)
	assert.Equal(t, []string{"light", "sensor"}, l.Domains)
	assert.Equal(t, []string{"switch.a", "switch.b"}, l.Entities)
	assert.False(t, l.IsEmpty())

	assert.True(t, l.DependsOn("switch.a"))
	assert.True(t, l.DependsOn("light.kitchen"))
	assert.False(t, l.DependsOn("lightning.strike"))
	assert.False(t, l.DependsOn("climate.hall"))

	assert.True(t, Listeners{}.IsEmpty())
	assert.True(t, Listeners{All: true}.DependsOn("anything.at_all"))
}

func TestCodeIsBenign(t *testing.T) {
	assert.True(t, CodeNotFound.IsBenign())
	assert.True(t, CodeTemplateError.IsBenign())
	assert.False(t, CodeUnknownError.IsBenign())
	assert.False(t, CodeConnectionLost.IsBenign())
	assert.Equal(t, "unknown_error", Code("").String())
}

func TestEqualAndClone(t *testing.T) {
	a := map[string]any{"entity": "light.kitchen", "n": 1}
	b := map[string]any{"n": 1, "entity": "light.kitchen"}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, map[string]any{"entity": "light.hall", "n": 1}))

	c, err := Clone(a)
	require.NoError(t, err)
	c["entity"] = "changed"
	assert.Equal(t, "light.kitchen", a["entity"])
}
