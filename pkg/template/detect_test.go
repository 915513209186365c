package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTemplate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"plain text", "Kitchen light", false},
		{"single brace", "{ not a template }", false},
		{"expression", "{{ states('sensor.temp') }}", true},
		{"statement", "{% if is_state('sun.sun', 'above_horizon') %}day{% endif %}", true},
		{"unterminated expression", "{{ bad", true},
		{"embedded", "Hello {{ user }}!", true},
		{"comment only", "{# note #}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTemplate(tt.value))
		})
	}
}

func TestIsTemplateAny(t *testing.T) {
	assert.False(t, IsTemplateAny(nil))
	assert.False(t, IsTemplateAny(42))
	assert.False(t, IsTemplateAny([]string{"{{ x }}"}))
	assert.True(t, IsTemplateAny("{{ x }}"))
}
