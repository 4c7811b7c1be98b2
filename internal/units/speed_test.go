package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	t.Parallel()
	for _, u := range ValidUnits {
		assert.True(t, IsValid(u), u)
	}
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("knots"))
}

func TestFromMPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		speed float64
		units string
		want  float64
	}{
		{"mps passthrough", 10, MPS, 10},
		{"kmph", 10, KMPH, 36},
		{"kph alias", 10, KPH, 36},
		{"mph", 10, MPH, 22.369362920544},
		{"unknown unit passthrough", 10, "furlongs", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FromMPS(tt.speed, tt.units), 1e-9)
		})
	}
}

func TestRoundTrips(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 50.0, FromMPS(KmhToMps(50), KMPH), 1e-9)
	assert.InDelta(t, 30.0, FromMPS(MphToMps(30), MPH), 1e-9)
}
