// Package scoring aligns a user take with its reference and measures how far
// the user's pitch strays from it.
package scoring

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/algorithms/stats"
	"github.com/RyanBlaney/sonido-vocal/algorithms/temporal"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// AlignerConfig controls envelope extraction and the lag search.
type AlignerConfig struct {
	WindowSize       int                     `json:"window_size"`
	HopSize          int                     `json:"hop_size"`
	MaxLagSec        float64                 `json:"max_lag_sec"`
	MinOverlapFrames int                     `json:"min_overlap_frames"`
	Method           stats.CorrelationMethod `json:"method"`
}

// DefaultAlignerConfig returns a 1024/512 sample RMS envelope and a ±3 s search.
func DefaultAlignerConfig() AlignerConfig {
	return AlignerConfig{
		WindowSize:       1024,
		HopSize:          512,
		MaxLagSec:        3,
		MinOverlapFrames: 8,
		Method:           stats.Auto,
	}
}

// Alignment is the outcome of one offset estimate.
type Alignment struct {
	// OffsetMs is positive when the user is late relative to the reference
	OffsetMs    float64 `json:"offsetMs"`
	Correlation float64 `json:"correlation"`
	LagFrames   int     `json:"lagFrames"`
	Valid       bool    `json:"valid"`
}

// Aligner estimates the global latency between two mono signals by
// correlating their energy envelopes.
type Aligner struct {
	config   AlignerConfig
	envelope *temporal.Envelope
	logger   logging.Logger
}

// NewAligner creates an aligner.
func NewAligner(config AlignerConfig) *Aligner {
	return &Aligner{
		config:   config,
		envelope: temporal.NewEnvelope(config.WindowSize, config.HopSize),
		logger: logging.WithFields(logging.Fields{
			"component": "aligner",
		}),
	}
}

// Estimate returns the best lag between reference and user. Degenerate
// input (empty or silent signals, bad sample rate) yields a zero, invalid
// alignment.
func (a *Aligner) Estimate(reference, user []float64, sampleRate int) Alignment {
	if sampleRate <= 0 || len(reference) == 0 || len(user) == 0 {
		return Alignment{}
	}

	refEnv := a.envelope.ComputeRMS(reference)
	userEnv := a.envelope.ComputeRMS(user)

	hop := float64(a.envelope.HopSize())
	maxLag := int(math.Round(a.config.MaxLagSec * float64(sampleRate) / hop))

	cc := stats.NewCrossCorrelationWithParams(maxLag, a.config.Method, a.config.MinOverlapFrames)
	res, err := cc.Compute(refEnv, userEnv)
	if err != nil {
		a.logger.Debug("Envelope correlation skipped", logging.Fields{
			"reason": err.Error(),
		})
		return Alignment{}
	}
	if !res.Valid {
		a.logger.Debug("No comparable lag found", logging.Fields{
			"reference_frames": len(refEnv),
			"user_frames":      len(userEnv),
		})
		return Alignment{}
	}

	offsetMs := common.Finite(float64(res.PeakLag) * hop / float64(sampleRate) * 1000)

	a.logger.Debug("Offset estimated", logging.Fields{
		"offset_ms":   offsetMs,
		"lag_frames":  res.PeakLag,
		"correlation": res.PeakCorrelation,
		"method":      res.Method,
	})

	return Alignment{
		OffsetMs:    offsetMs,
		Correlation: res.PeakCorrelation,
		LagFrames:   res.PeakLag,
		Valid:       true,
	}
}

// EstimateOffsetMs returns the user's latency in milliseconds, 0 when
// nothing could be compared.
func (a *Aligner) EstimateOffsetMs(reference, user []float64, sampleRate int) float64 {
	return a.Estimate(reference, user, sampleRate).OffsetMs
}

// EstimateOffsetMs runs a default aligner.
func EstimateOffsetMs(reference, user []float64, sampleRate int) float64 {
	return NewAligner(DefaultAlignerConfig()).EstimateOffsetMs(reference, user, sampleRate)
}
