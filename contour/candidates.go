package contour

import (
	"cmp"
	"math"
	"slices"
)

// CandidateConfig controls how a probability row becomes a candidate list.
type CandidateConfig struct {
	// BaseMIDI is the MIDI note of row index 0
	BaseMIDI int `json:"base_midi"`

	// TopK caps the number of voiced candidates kept per frame
	TopK int `json:"top_k"`

	// MinProbability drops weaker voiced entries and floors the silence option
	MinProbability float64 `json:"min_probability"`

	// SilenceBaseline is the silence probability when no pitch is heard
	SilenceBaseline float64 `json:"silence_baseline"`
}

// DefaultCandidateConfig returns the candidate settings used by the decoder
func DefaultCandidateConfig() CandidateConfig {
	return CandidateConfig{
		BaseMIDI:        24,
		TopK:            10,
		MinProbability:  0.01,
		SilenceBaseline: 0.6,
	}
}

// BuildCandidates ranks one frame's probability row. The silence candidate is
// always first, followed by at most TopK voiced candidates in descending
// probability (ties go to the lower row index).
func BuildCandidates(row []float64, cfg CandidateConfig) []Candidate {
	voiced := make([]Candidate, 0, len(row))
	for i, p := range row {
		if p < cfg.MinProbability || math.IsNaN(p) {
			continue
		}
		voiced = append(voiced, Candidate{PitchClass: cfg.BaseMIDI + i, Probability: p})
	}

	slices.SortStableFunc(voiced, func(a, b Candidate) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return cmp.Compare(a.PitchClass, b.PitchClass)
	})
	if cfg.TopK > 0 && len(voiced) > cfg.TopK {
		voiced = voiced[:cfg.TopK]
	}

	best := 0.0
	if len(voiced) > 0 {
		best = voiced[0].Probability
	}
	silence := Candidate{Silent: true, Probability: max(cfg.MinProbability, cfg.SilenceBaseline-best)}

	return append([]Candidate{silence}, voiced...)
}

// BuildAllCandidates applies BuildCandidates to every row.
func BuildAllCandidates(rows [][]float64, cfg CandidateConfig) [][]Candidate {
	out := make([][]Candidate, len(rows))
	for i, row := range rows {
		out[i] = BuildCandidates(row, cfg)
	}
	return out
}
