package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func intPtr(v int) *int { return &v }

func TestClampSeconds(t *testing.T) {
	tests := []struct {
		name      string
		requested *int
		want      int
		clamped   bool
	}{
		{name: "default", requested: nil, want: 30},
		{name: "requested below max", requested: intPtr(10), want: 10},
		{name: "requested equals max", requested: intPtr(300), want: 300},
		{name: "requested above max", requested: intPtr(301), want: 300, clamped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := ClampSeconds(tt.requested, 30, 300)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.clamped, clamped)
		})
	}
}

func TestClampSecondsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		def := rapid.IntRange(1, 600).Draw(t, "default")
		max := rapid.IntRange(1, 600).Draw(t, "max")
		requested := rapid.IntRange(1, 10000).Draw(t, "requested")

		got, clamped := ClampSeconds(&requested, def, max)
		want := min(requested, max)
		if got != want {
			t.Fatalf("ClampSeconds(%d, %d, %d) = %d, want %d", requested, def, max, got, want)
		}
		if clamped != (requested > max) {
			t.Fatalf("clamped = %v for requested %d max %d", clamped, requested, max)
		}
	})
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 3*time.Second, Seconds(3))
}
