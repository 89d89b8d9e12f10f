package util

import (
	"math"
	"sort"
	"sync"
	"time"
)

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the standard deviation, minimum, and maximum values
// from an array of float64 values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	// population standard deviation
	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	var minMaxRatio float64 = 1.0
	if max > 0 {
		minMaxRatio = min / max
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          min,
		Max:          max,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// ----------------------------------------------------------------------------
// LatencyWindow
// ----------------------------------------------------------------------------

// LatencyWindow is a bounded sliding window of the last N observed latencies.
//
// Thread-safe: all methods are safe for concurrent use
type LatencyWindow struct {
	mutex   sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyWindow creates a window holding the last size samples
func NewLatencyWindow(size int) *LatencyWindow {
	if size < 1 {
		size = 1
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}
}

// Add records a sample, the oldest sample is dropped once the window is full
func (w *LatencyWindow) Add(d time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples in the window
func (w *LatencyWindow) Len() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.lenLocked()
}

func (w *LatencyWindow) lenLocked() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Values returns a copy of the samples (unordered)
func (w *LatencyWindow) Values() []time.Duration {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return append([]time.Duration(nil), w.samples[:w.lenLocked()]...)
}

// Percentile returns the sample at rank floor(n*p) of the sorted window
// (p within [0,1]), or 0 if the window is empty.
func (w *LatencyWindow) Percentile(p float64) time.Duration {
	values := w.Values()
	if len(values) == 0 {
		return 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	idx := int(float64(len(values)) * p)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return values[idx]
}

// Stats returns min/max/mean of the window in seconds
func (w *LatencyWindow) Stats() Stats {
	values := w.Values()
	secs := make([]float64, len(values))
	for i, v := range values {
		secs[i] = v.Seconds()
	}
	return NewStats(secs)
}
