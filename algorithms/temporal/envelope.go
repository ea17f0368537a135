package temporal

import (
	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
)

// Envelope extracts short-time amplitude envelopes with a fixed frame and hop
type Envelope struct {
	frameSize int
	hopSize   int
}

// NewEnvelope creates a new envelope extractor
func NewEnvelope(frameSize, hopSize int) *Envelope {
	return &Envelope{frameSize: frameSize, hopSize: hopSize}
}

// HopSize returns the hop between consecutive envelope values in samples
func (e *Envelope) HopSize() int {
	return e.hopSize
}

// ComputeRMS computes the RMS envelope. Signals shorter than one frame
// produce a single value over the whole signal so short takes still align.
func (e *Envelope) ComputeRMS(signal []float64) []float64 {
	if len(signal) == 0 || e.frameSize <= 0 || e.hopSize <= 0 {
		return []float64{}
	}
	if len(signal) < e.frameSize {
		return []float64{common.RMS(signal)}
	}

	numFrames := (len(signal)-e.frameSize)/e.hopSize + 1
	envelope := make([]float64, numFrames)

	for i := range numFrames {
		startIdx := i * e.hopSize
		envelope[i] = common.RMS(signal[startIdx : startIdx+e.frameSize])
	}

	return envelope
}
