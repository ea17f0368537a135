package spectral

import (
	"github.com/mjibson/go-dsp/fft"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the Fast Fourier Transform of a real signal using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))
	for i, val := range result {
		realResult[i] = real(val)
	}
	return realResult
}

// CrossCorrelate returns the linear (non-circular) cross-correlation
// r[k] = Σ a[i]·b[i+k] for k in [-(len(a)-1), len(b)-1]. Index 0 of the
// result holds lag -(len(a)-1); lag k lives at k+len(a)-1.
func (f *FFT) CrossCorrelate(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return []float64{}
	}

	n := common.NextPowerOfTwo(len(a) + len(b) - 1)
	pa := make([]float64, n)
	pb := make([]float64, n)
	copy(pa, a)
	copy(pb, b)

	fa := f.Compute(pa)
	fb := f.Compute(pb)

	// conj(A)·B gives Σ a[i]·b[i+k] at circular index k
	prod := make([]complex128, n)
	for i := range prod {
		re, im := real(fa[i]), -imag(fa[i])
		prod[i] = complex(re, im) * fb[i]
	}
	circular := f.ComputeInverseReal(prod)

	out := make([]float64, len(a)+len(b)-1)
	for k := -(len(a) - 1); k <= len(b)-1; k++ {
		idx := k
		if idx < 0 {
			idx += n
		}
		out[k+len(a)-1] = circular[idx]
	}
	return out
}
