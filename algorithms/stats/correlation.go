package stats

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/algorithms/spectral"
)

// CorrelationMethod represents different computational approaches
type CorrelationMethod int

const (
	// Direct time-domain calculation
	TimeDomain CorrelationMethod = iota

	// FFT numerator with prefix-sum normalization (faster for long signals)
	FrequencyDomain

	// Auto picks FrequencyDomain above fftThreshold samples
	Auto
)

// CorrelationResult contains the per-lag normalized correlation and its peak
type CorrelationResult struct {
	Correlations []float64 `json:"correlations"` // NaN where the lag was skipped
	Lags         []int     `json:"lags"`

	PeakCorrelation float64 `json:"peak_correlation"`
	PeakLag         int     `json:"peak_lag"`

	// Valid is false when no lag had a positive-power overlap
	Valid bool `json:"valid"`

	Method CorrelationMethod `json:"method"`
}

// CrossCorrelation computes zero-mean normalized cross-correlation between two
// signals over the lag range [-maxLag, +maxLag]. Lag k compares a[i] with
// b[i+k], so a positive peak lag means b is delayed relative to a.
//
// References:
// - Lewis, J.P. (1995). "Fast Normalized Cross-Correlation"
// - Oppenheim, A.V., Schafer, R.W. (2010). "Discrete-Time Signal Processing"
type CrossCorrelation struct {
	maxLag     int
	method     CorrelationMethod
	minOverlap int
	minPower   float64

	fftThreshold int
	fft          *spectral.FFT
}

// NewCrossCorrelation creates a calculator that picks its method automatically
func NewCrossCorrelation(maxLag int) *CrossCorrelation {
	return NewCrossCorrelationWithParams(maxLag, Auto, 1)
}

// NewCrossCorrelationWithParams creates a calculator with an explicit method
// and minimum overlap (in samples) required for a lag to count.
func NewCrossCorrelationWithParams(maxLag int, method CorrelationMethod, minOverlap int) *CrossCorrelation {
	return &CrossCorrelation{
		maxLag:       max(0, maxLag),
		method:       method,
		minOverlap:   max(1, minOverlap),
		minPower:     1e-12,
		fftThreshold: 1024,
		fft:          spectral.NewFFT(),
	}
}

// Compute calculates the normalized cross-correlation for every lag in range.
func (cc *CrossCorrelation) Compute(a, b []float64) (*CorrelationResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("empty signals provided")
	}

	method := cc.method
	if method == Auto {
		method = TimeDomain
		if len(a)+len(b) > cc.fftThreshold {
			method = FrequencyDomain
		}
	}

	za := zeroMean(a)
	zb := zeroMean(b)

	var numerator func(lag int) float64
	switch method {
	case TimeDomain:
		numerator = func(lag int) float64 {
			lo, hi := overlap(len(za), len(zb), lag)
			sum := 0.0
			for i := lo; i < hi; i++ {
				sum += za[i] * zb[i+lag]
			}
			return sum
		}
	case FrequencyDomain:
		full := cc.fft.CrossCorrelate(za, zb)
		numerator = func(lag int) float64 {
			return full[lag+len(za)-1]
		}
	default:
		return nil, fmt.Errorf("unsupported correlation method: %d", method)
	}

	powA := prefixSquares(za)
	powB := prefixSquares(zb)

	result := &CorrelationResult{
		Correlations:    make([]float64, 0, 2*cc.maxLag+1),
		Lags:            make([]int, 0, 2*cc.maxLag+1),
		PeakCorrelation: math.Inf(-1),
		Method:          method,
	}

	for lag := -cc.maxLag; lag <= cc.maxLag; lag++ {
		result.Lags = append(result.Lags, lag)

		lo, hi := overlap(len(za), len(zb), lag)
		if hi-lo < cc.minOverlap {
			result.Correlations = append(result.Correlations, math.NaN())
			continue
		}

		pa := powA[hi] - powA[lo]
		pb := powB[hi+lag] - powB[lo+lag]
		if pa <= cc.minPower || pb <= cc.minPower {
			result.Correlations = append(result.Correlations, math.NaN())
			continue
		}

		corr := common.Finite(numerator(lag) / math.Sqrt(pa*pb))
		result.Correlations = append(result.Correlations, corr)

		if !result.Valid || betterPeak(corr, lag, result.PeakCorrelation, result.PeakLag) {
			result.PeakCorrelation = corr
			result.PeakLag = lag
			result.Valid = true
		}
	}

	if !result.Valid {
		result.PeakCorrelation = 0
		result.PeakLag = 0
	}

	return result, nil
}

// betterPeak prefers higher correlation, then the smaller absolute lag.
func betterPeak(corr float64, lag int, bestCorr float64, bestLag int) bool {
	const eps = 1e-12
	if corr > bestCorr+eps {
		return true
	}
	if corr < bestCorr-eps {
		return false
	}
	return abs(lag) < abs(bestLag)
}

// overlap returns the index range of a that has a partner in b at lag.
func overlap(lenA, lenB, lag int) (int, int) {
	lo := max(0, -lag)
	hi := min(lenA, lenB-lag)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func prefixSquares(x []float64) []float64 {
	out := make([]float64, len(x)+1)
	for i, v := range x {
		out[i+1] = out[i] + v*v
	}
	return out
}

func zeroMean(x []float64) []float64 {
	mean := common.Mean(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
