package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		expected ProfileType
		ok       bool
	}{
		{name: "prod", expected: PROD, ok: true},
		{name: " Test ", expected: TEST, ok: true},
		{name: "DEV", expected: DEV, ok: true},
		{name: "staging", expected: DEV, ok: false},
		{name: "", expected: DEV, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Parse(tt.name)
			assert.Equal(t, tt.expected, p)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestInitProfileFromEnv(t *testing.T) {
	previous := Current
	t.Cleanup(func() { Current = previous })
	t.Setenv("PROFILE", "prod")

	InitProfile()

	assert.Equal(t, PROD, Current)
	assert.False(t, Verbose())
}
