package filters

import (
	"math"
)

// DCBlocker is a one-pole high-pass filter removing the 0 Hz component:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// References:
//   - Julius O. Smith III, "Introduction to Digital Filters with Audio Applications"
//     https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCBlocker struct {
	pole float64

	x1 float64
	y1 float64
}

// NewDCBlocker creates a blocker with a -3 dB point near cutoffHz, using
// R = 1 - 2*pi*fc/fs. The pole is clamped into (0, 1).
func NewDCBlocker(sampleRate int, cutoffHz float64) *DCBlocker {
	pole := 0.995
	if sampleRate > 0 && cutoffHz > 0 {
		pole = 1 - 2*math.Pi*cutoffHz/float64(sampleRate)
	}
	return &DCBlocker{pole: min(max(pole, 0.001), 0.999)}
}

// Pole returns R
func (dc *DCBlocker) Pole() float64 {
	return dc.pole
}

// Process filters a single sample
func (dc *DCBlocker) Process(x float64) float64 {
	y := x - dc.x1 + dc.pole*dc.y1
	dc.x1, dc.y1 = x, y
	return y
}

// Apply filters a whole buffer into a new slice, continuing from the
// current state.
func (dc *DCBlocker) Apply(input []float64) []float64 {
	out := make([]float64, len(input))
	for i, x := range input {
		out[i] = dc.Process(x)
	}
	return out
}

// Reset clears the filter state
func (dc *DCBlocker) Reset() {
	dc.x1, dc.y1 = 0, 0
}
