package contour

import (
	"math"
	"slices"
)

// OctavePolicy decides, frame by frame, whether a pitch should be shifted by
// whole octaves toward a smoothed anchor or dropped as an implausible jump.
type OctavePolicy struct {
	// AnchorRetain is the weight kept by the old anchor on each update
	AnchorRetain float64 `json:"anchor_retain"`

	// MaxJumpSemitones is the largest accepted distance to the anchor after shifting
	MaxJumpSemitones float64 `json:"max_jump_semitones"`

	// ReanchorAfter consecutive rejections restart the anchor on the current
	// pitch. Zero disables re-anchoring.
	ReanchorAfter int `json:"reanchor_after"`
}

// DefaultOctavePolicy returns the decoder's octave policy.
func DefaultOctavePolicy() OctavePolicy {
	return OctavePolicy{AnchorRetain: 0.78, MaxJumpSemitones: 9, ReanchorAfter: 6}
}

// AnchorState is the value threaded through the octave fold.
type AnchorState struct {
	Anchor   float64
	Set      bool
	Rejected int
}

var octaveShifts = [...]float64{0, -12, 12, -24, 24}

// Step folds one voiced pitch (in semitones) into the state. It returns the
// new state, the corrected pitch and whether the pitch was accepted.
func (p OctavePolicy) Step(s AnchorState, pitch float64) (AnchorState, float64, bool) {
	if !s.Set {
		return AnchorState{Anchor: pitch, Set: true}, pitch, true
	}

	best := pitch
	bestDist := math.Inf(1)
	for _, shift := range octaveShifts {
		if d := math.Abs(pitch + shift - s.Anchor); d < bestDist {
			bestDist = d
			best = pitch + shift
		}
	}

	if bestDist > p.MaxJumpSemitones {
		if p.ReanchorAfter > 0 && s.Rejected+1 >= p.ReanchorAfter {
			return AnchorState{Anchor: pitch, Set: true}, pitch, true
		}
		s.Rejected++
		return s, math.NaN(), false
	}

	s.Anchor = p.AnchorRetain*s.Anchor + (1-p.AnchorRetain)*best
	s.Rejected = 0
	return s, best, true
}

// Apply runs the fold over a semitone contour. NaN entries are unvoiced and
// pass through untouched; rejected pitches become NaN.
func (p OctavePolicy) Apply(semis []float64) []float64 {
	out := slices.Clone(semis)
	var state AnchorState
	for i, v := range semis {
		if math.IsNaN(v) {
			continue
		}
		var corrected float64
		state, corrected, _ = p.Step(state, v)
		out[i] = corrected
	}
	return out
}

// StabilizerConfig configures the post-decode passes.
type StabilizerConfig struct {
	MaxGapFrames          int          `json:"max_gap_frames"`
	GapToleranceSemitones int          `json:"gap_tolerance_semitones"`
	GapConfidenceDiscount float64      `json:"gap_confidence_discount"`
	Octave                OctavePolicy `json:"octave"`
}

// DefaultStabilizerConfig returns the default stabilizer settings.
func DefaultStabilizerConfig() StabilizerConfig {
	return StabilizerConfig{
		MaxGapFrames:          2,
		GapToleranceSemitones: 2,
		GapConfidenceDiscount: 0.7,
		Octave:                DefaultOctavePolicy(),
	}
}

// Stabilize closes short decoder gaps and then applies octave continuity.
// The input path is not modified.
func Stabilize(path DecodePath, cfg StabilizerConfig) DecodePath {
	return CorrectOctaves(FillShortGaps(path, cfg), cfg.Octave)
}

// FillShortGaps fills silence runs of at most MaxGapFrames that sit between
// two voiced picks no more than GapToleranceSemitones apart.
func FillShortGaps(path DecodePath, cfg StabilizerConfig) DecodePath {
	out := slices.Clone(path)

	for i := 0; i < len(out); {
		if !out[i].Silent {
			i++
			continue
		}
		start := i
		for i < len(out) && out[i].Silent {
			i++
		}
		end := i // exclusive

		if start == 0 || end == len(out) || end-start > cfg.MaxGapFrames {
			continue
		}
		left, right := out[start-1], out[end]
		if abs(left.PitchClass-right.PitchClass) > cfg.GapToleranceSemitones {
			continue
		}

		fill := Candidate{
			PitchClass:  int(math.Round(float64(left.PitchClass+right.PitchClass) / 2)),
			Probability: min(left.Probability, right.Probability) * cfg.GapConfidenceDiscount,
		}
		for k := start; k < end; k++ {
			out[k] = fill
		}
	}

	return out
}

// CorrectOctaves shifts voiced picks toward the running anchor and demotes
// picks that stay too far from it.
func CorrectOctaves(path DecodePath, policy OctavePolicy) DecodePath {
	out := slices.Clone(path)
	var state AnchorState
	for i, c := range out {
		if c.Silent {
			continue
		}
		var corrected float64
		var ok bool
		state, corrected, ok = policy.Step(state, float64(c.PitchClass))
		if !ok {
			out[i] = Candidate{Silent: true, Probability: c.Probability}
			continue
		}
		out[i].PitchClass = int(corrected)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
