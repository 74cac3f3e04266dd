package timeutil

import "time"

// ClampSeconds resolves a requested timeout: the default applies when
// requested is nil, and the result never exceeds max. clamped reports that
// max was applied.
func ClampSeconds(requested *int, def, max int) (effective int, clamped bool) {
	effective = def
	if requested != nil {
		effective = *requested
	}
	if max > 0 && effective > max {
		return max, true
	}
	if effective < 1 {
		effective = 1
	}
	return effective, false
}

// Seconds converts whole seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
