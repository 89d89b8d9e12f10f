package util

import (
	"math"
	"math/rand/v2"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// Backoff returns the exponential backoff for the given (zero based) attempt:
// min(max, base*2^attempt + base*rand[0,1)).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	exp := float64(base) * math.Pow(2, float64(attempt))
	d := exp + float64(base)*rand.Float64()
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// Clamp bounds d to [lo, hi]
func Clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// ScaleDuration multiplies d by f, rounded to the nearest nanosecond
func ScaleDuration(d time.Duration, f float64) time.Duration {
	return time.Duration(math.Round(float64(d) * f))
}
