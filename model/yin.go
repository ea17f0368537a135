package model

import (
	"context"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/algorithms/filters"
	"github.com/RyanBlaney/sonido-vocal/algorithms/spectral"
	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// YinParams configures the YIN estimator
type YinParams struct {
	MinFreq      float64 `json:"min_freq"`
	MaxFreq      float64 `json:"max_freq"`
	YinThreshold float64 `json:"yin_threshold"`
	HopSeconds   float64 `json:"hop_seconds"`

	// Posterior layout
	BaseMIDI       int     `json:"base_midi"`
	Bins           int     `json:"bins"`
	SigmaSemitones float64 `json:"sigma_semitones"`

	// Frames quieter than this RMS produce an all-zero row
	SilenceRMS float64 `json:"silence_rms"`

	// DCCutoffHz high-passes the input before analysis, 0 to skip
	DCCutoffHz float64 `json:"dc_cutoff_hz"`
}

// DefaultYinParams covers a singing range of C2 to C#6.
func DefaultYinParams() YinParams {
	return YinParams{
		MinFreq:        65,
		MaxFreq:        1100,
		YinThreshold:   0.15,
		HopSeconds:     0.01,
		BaseMIDI:       24,
		Bins:           72,
		SigmaSemitones: 0.5,
		SilenceRMS:     0.01,
		DCCutoffHz:     20,
	}
}

// YinModel estimates one pitch per hop with YIN and spreads the estimate
// into a Gaussian posterior over semitone bins, weighted by periodicity.
//
// Reference: de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental
// frequency estimator for speech and music"
type YinModel struct {
	params YinParams
	fft    *spectral.FFT
	logger logging.Logger
}

// NewYinModel creates a YIN-backed probability model
func NewYinModel(params YinParams) *YinModel {
	return &YinModel{
		params: params,
		fft:    spectral.NewFFT(),
		logger: logging.WithFields(logging.Fields{
			"component": "yin_model",
		}),
	}
}

// Predict implements ProbabilityModel.
func (m *YinModel) Predict(ctx context.Context, samples []float64, sampleRate int) (*Posteriorgram, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrModelUnavailable, sampleRate)
	}
	if m.params.MinFreq <= 0 || m.params.MaxFreq <= m.params.MinFreq || m.params.Bins <= 0 {
		return nil, fmt.Errorf("%w: invalid YIN parameters", ErrModelUnavailable)
	}

	if m.params.DCCutoffHz > 0 {
		samples = filters.NewDCBlocker(sampleRate, m.params.DCCutoffHz).Apply(samples)
	}

	hop := max(1, int(math.Round(m.params.HopSeconds*float64(sampleRate))))
	maxTau := int(math.Ceil(float64(sampleRate) / m.params.MinFreq))
	minTau := max(2, int(math.Floor(float64(sampleRate)/m.params.MaxFreq)))
	window := common.NextPowerOfTwo(maxTau + 1)
	frameSize := 2 * window

	post := &Posteriorgram{
		Rows:       [][]float64{},
		HopSeconds: float64(hop) / float64(sampleRate),
		BaseMIDI:   m.params.BaseMIDI,
	}

	voiced := 0
	for start := 0; start+frameSize <= len(samples); start += hop {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := samples[start : start+frameSize]
		row := make([]float64, m.params.Bins)

		if common.RMS(frame) >= m.params.SilenceRMS {
			if hz, clarity, ok := m.estimate(frame, window, minTau, maxTau, sampleRate); ok {
				m.fillRow(row, hz, clarity)
				voiced++
			}
		}
		post.Rows = append(post.Rows, row)
	}

	m.logger.Debug("YIN posteriorgram computed", logging.Fields{
		"rows":        len(post.Rows),
		"voiced_rows": voiced,
		"hop_seconds": post.HopSeconds,
		"frame_size":  frameSize,
	})

	return post, nil
}

// estimate runs YIN on one frame of 2*window samples. The difference
// function d(τ) = e0 + eτ - 2r(τ) takes r from an FFT cross-correlation and
// the energies from prefix sums.
func (m *YinModel) estimate(frame []float64, window, minTau, maxTau, sampleRate int) (float64, float64, bool) {
	maxTau = min(maxTau, window-1)

	corr := m.fft.CrossCorrelate(frame[:window], frame)

	energy := make([]float64, len(frame)+1)
	for i, v := range frame {
		energy[i+1] = energy[i] + v*v
	}
	e0 := energy[window]

	cmndf := make([]float64, maxTau+2)
	cmndf[0] = 1
	runningSum := 0.0
	for tau := 1; tau < len(cmndf); tau++ {
		et := energy[tau+window] - energy[tau]
		d := max(0, e0+et-2*corr[tau+window-1])
		runningSum += d
		if runningSum > 0 {
			cmndf[tau] = d * float64(tau) / runningSum
		} else {
			cmndf[tau] = 1
		}
	}

	best := -1
	for tau := minTau; tau <= maxTau; tau++ {
		if cmndf[tau] < m.params.YinThreshold && cmndf[tau] <= cmndf[tau+1] {
			best = tau
			break
		}
	}
	if best < 0 {
		return 0, 0, false
	}

	period := parabolicInterpolation(cmndf, best)
	if period <= 0 {
		return 0, 0, false
	}
	hz := float64(sampleRate) / period
	if hz < m.params.MinFreq || hz > m.params.MaxFreq {
		return 0, 0, false
	}

	return hz, common.Clamp(1-cmndf[best], 0, 1), true
}

// fillRow spreads a pitch estimate over the semitone bins.
func (m *YinModel) fillRow(row []float64, hz, clarity float64) {
	midi := contour.HzToMIDI(hz)
	sigma := max(m.params.SigmaSemitones, 1e-3)
	for i := range row {
		d := (float64(m.params.BaseMIDI+i) - midi) / sigma
		row[i] = clarity * math.Exp(-0.5*d*d)
	}
}

// parabolicInterpolation refines a minimum location using its neighbors
func parabolicInterpolation(data []float64, idx int) float64 {
	if idx <= 0 || idx >= len(data)-1 {
		return float64(idx)
	}

	y1, y2, y3 := data[idx-1], data[idx], data[idx+1]
	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2
	if a == 0 {
		return float64(idx)
	}
	return float64(idx) - b/(2*a)
}
