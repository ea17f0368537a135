package contour

import (
	"math"
)

// DecoderConfig holds the hand-tuned emission and transition costs.
type DecoderConfig struct {
	// Emission
	Epsilon              float64 `json:"epsilon"`
	SilencePenalty       float64 `json:"silence_penalty"`
	LowConfidencePenalty float64 `json:"low_confidence_penalty"`
	ClarityThreshold     float64 `json:"clarity_threshold"`

	// Transition, by semitone distance d between voiced picks
	SmallStepSlope    float64 `json:"small_step_slope"`    // d <= 2
	OctaveJumpBase    float64 `json:"octave_jump_base"`    // 2 < d <= 12
	OctaveJumpSlope   float64 `json:"octave_jump_slope"`   // 2 < d <= 12
	LargeJumpPenalty  float64 `json:"large_jump_penalty"`  // d > 12
	LargeJumpSlope    float64 `json:"large_jump_slope"`    // d > 12
	VoicingSwitchCost float64 `json:"voicing_switch_cost"` // voiced <-> silence
}

// DefaultDecoderConfig returns the default Viterbi costs.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Epsilon:              1e-6,
		SilencePenalty:       0.35,
		LowConfidencePenalty: 0.8,
		ClarityThreshold:     0.3,
		SmallStepSlope:       0.05,
		OctaveJumpBase:       0.1,
		OctaveJumpSlope:      0.25,
		LargeJumpPenalty:     4.0,
		LargeJumpSlope:       0.08,
		VoicingSwitchCost:    0.9,
	}
}

// EmissionCost is the cost of picking c regardless of its neighbors.
func (cfg DecoderConfig) EmissionCost(c Candidate) float64 {
	cost := -math.Log(max(cfg.Epsilon, c.Probability))
	if c.Silent {
		return cost + cfg.SilencePenalty
	}
	if c.Probability < cfg.ClarityThreshold {
		cost += cfg.LowConfidencePenalty
	}
	return cost
}

// TransitionCost is the cost of moving from one pick to the next.
func (cfg DecoderConfig) TransitionCost(from, to Candidate) float64 {
	switch {
	case from.Silent && to.Silent:
		return 0
	case from.Silent || to.Silent:
		return cfg.VoicingSwitchCost
	}

	d := math.Abs(float64(to.PitchClass - from.PitchClass))
	switch {
	case d <= 2:
		return cfg.SmallStepSlope * d
	case d <= 12:
		return cfg.OctaveJumpBase + cfg.OctaveJumpSlope*(d-2)
	default:
		return cfg.LargeJumpPenalty + cfg.LargeJumpSlope*(d-12)
	}
}

// Decode runs a Viterbi search over per-frame candidate lists and returns the
// minimum-cost path, one candidate per frame. Frames with no candidates
// decode as silence. Ties go to the lowest candidate index.
func Decode(frames [][]Candidate, cfg DecoderConfig) DecodePath {
	if len(frames) == 0 {
		return DecodePath{}
	}

	silence := Candidate{Silent: true, Probability: cfg.Epsilon}
	cands := make([][]Candidate, len(frames))
	offsets := make([]int, len(frames)+1)
	for t, fc := range frames {
		if len(fc) == 0 {
			fc = []Candidate{silence}
		}
		cands[t] = fc
		offsets[t+1] = offsets[t] + len(fc)
	}

	// flat [frame][candidate] tables addressed through offsets
	cost := make([]float64, offsets[len(frames)])
	back := make([]int32, offsets[len(frames)])

	for i, c := range cands[0] {
		cost[i] = cfg.EmissionCost(c)
		back[i] = -1
	}

	for t := 1; t < len(cands); t++ {
		prev := cands[t-1]
		prevBase := offsets[t-1]
		base := offsets[t]

		for i, c := range cands[t] {
			bestCost := math.Inf(1)
			bestPrev := int32(0)
			for j, p := range prev {
				total := cost[prevBase+j] + cfg.TransitionCost(p, c)
				if total < bestCost {
					bestCost = total
					bestPrev = int32(j)
				}
			}
			cost[base+i] = bestCost + cfg.EmissionCost(c)
			back[base+i] = bestPrev
		}
	}

	last := len(cands) - 1
	bestIdx := 0
	for i := range cands[last] {
		if cost[offsets[last]+i] < cost[offsets[last]+bestIdx] {
			bestIdx = i
		}
	}

	path := make(DecodePath, len(cands))
	idx := bestIdx
	for t := last; t >= 0; t-- {
		path[t] = cands[t][idx]
		idx = int(back[offsets[t]+idx])
	}

	return path
}
