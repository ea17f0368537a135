package common

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions used across algorithms using gonum for robustness

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// Median returns the median of data, averaging the two middle values for
// even lengths. The input is not modified.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)

	n := float64(len(sorted))
	if len(sorted)%2 == 1 {
		return stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	// Empirical picks x[i] once (i+1)/n reaches p, so these land on the
	// lower and upper middle elements
	lower := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	upper := stat.Quantile((n/2+0.5)/n, stat.Empirical, sorted, nil)
	return (lower + upper) / 2.0
}

// Max returns the largest value, 0 for empty input.
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// Sum returns the sum of data.
func Sum(data []float64) float64 {
	return floats.Sum(data)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// Finite coerces NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}

// NaNMedianFilter applies a centered median filter that only looks at
// non-NaN neighbors. NaN positions stay NaN.
func NaNMedianFilter(data []float64, windowSize int) []float64 {
	result := slices.Clone(data)
	if len(data) == 0 || windowSize <= 1 {
		return result
	}

	halfWindow := windowSize / 2
	window := make([]float64, 0, windowSize)

	for i, v := range data {
		if math.IsNaN(v) {
			continue
		}
		window = window[:0]
		for j := max(0, i-halfWindow); j <= min(len(data)-1, i+halfWindow); j++ {
			if !math.IsNaN(data[j]) {
				window = append(window, data[j])
			}
		}
		result[i] = Median(window)
	}

	return result
}

// NaNMovingAverage applies a centered moving average over non-NaN neighbors.
// NaN positions stay NaN.
func NaNMovingAverage(data []float64, windowSize int) []float64 {
	result := slices.Clone(data)
	if len(data) == 0 || windowSize <= 1 {
		return result
	}

	halfWindow := windowSize / 2
	for i, v := range data {
		if math.IsNaN(v) {
			continue
		}
		sum := 0.0
		count := 0
		for j := max(0, i-halfWindow); j <= min(len(data)-1, i+halfWindow); j++ {
			if !math.IsNaN(data[j]) {
				sum += data[j]
				count++
			}
		}
		result[i] = sum / float64(count)
	}

	return result
}

// Clamp constrains a value to a range
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Lerp performs linear interpolation between two values
func Lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// NextPowerOfTwo finds the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
