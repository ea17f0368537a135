package contour

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voiced(pc int, p float64) Candidate { return Candidate{PitchClass: pc, Probability: p} }

func silent() Candidate { return Candidate{Silent: true, Probability: 0.5} }

func TestBuildCandidatesRanksAndCaps(t *testing.T) {
	cfg := DefaultCandidateConfig()
	cfg.TopK = 2
	row := []float64{0.005, 0.2, 0.7, 0.2, 0.05}

	got := BuildCandidates(row, cfg)

	require.Len(t, got, 3)
	assert.True(t, got[0].Silent)
	assert.InDelta(t, 0.01, got[0].Probability, 1e-12, "baseline-best is below the floor")
	assert.Equal(t, Candidate{PitchClass: 26, Probability: 0.7}, got[1])
	assert.Equal(t, Candidate{PitchClass: 25, Probability: 0.2}, got[2], "ties go to the lower index")
}

func TestBuildCandidatesSilenceOnly(t *testing.T) {
	got := BuildCandidates([]float64{0, 0.001, math.NaN()}, DefaultCandidateConfig())
	require.Len(t, got, 1)
	assert.True(t, got[0].Silent)
	assert.InDelta(t, 0.6, got[0].Probability, 1e-12)

	assert.Len(t, BuildCandidates(nil, DefaultCandidateConfig()), 1)
}

func TestDecodeEmpty(t *testing.T) {
	assert.Empty(t, Decode(nil, DefaultDecoderConfig()))
}

func TestDecodePrefersContinuityOverOctaveSlip(t *testing.T) {
	frames := [][]Candidate{
		{silent(), voiced(60, 0.8)},
		{silent(), voiced(60, 0.8)},
		{silent(), voiced(72, 0.5), voiced(60, 0.45)},
		{silent(), voiced(60, 0.8)},
	}

	path := Decode(frames, DefaultDecoderConfig())

	require.Len(t, path, 4)
	for _, c := range path {
		assert.False(t, c.Silent)
		assert.Equal(t, 60, c.PitchClass)
	}
}

func TestDecodeTieBreaksOnLowestIndex(t *testing.T) {
	frames := [][]Candidate{{voiced(50, 0.5), voiced(62, 0.5)}}
	path := Decode(frames, DefaultDecoderConfig())
	assert.Equal(t, 50, path[0].PitchClass)
}

func TestDecodeChoosesSilenceForWeakEvidence(t *testing.T) {
	rows := [][]float64{{0.9}, {0}, {0}, {0}, {0.9}}
	cands := BuildAllCandidates(rows, DefaultCandidateConfig())
	path := Decode(cands, DefaultDecoderConfig())

	assert.False(t, path[0].Silent)
	assert.True(t, path[1].Silent)
	assert.True(t, path[2].Silent)
	assert.True(t, path[3].Silent)
	assert.False(t, path[4].Silent)
}

func TestDecodeOutputComesFromCandidateSets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(40)
		rows := make([][]float64, n)
		for i := range rows {
			rows[i] = make([]float64, 48)
			for j := range rows[i] {
				rows[i][j] = rng.Float64() * rng.Float64()
			}
		}
		cands := BuildAllCandidates(rows, DefaultCandidateConfig())
		path := Decode(cands, DefaultDecoderConfig())

		require.Len(t, path, n)
		for i, c := range path {
			assert.Contains(t, cands[i], c, "frame %d", i)
		}
		assert.Equal(t, path, Decode(cands, DefaultDecoderConfig()), "decode is deterministic")
	}
}

func TestTransitionCostShape(t *testing.T) {
	cfg := DefaultDecoderConfig()
	at := func(d int) float64 { return cfg.TransitionCost(voiced(60, 1), voiced(60+d, 1)) }

	assert.InDelta(t, 0.0, at(0), 1e-12)
	assert.InDelta(t, 0.1, at(2), 1e-12)
	assert.InDelta(t, 2.6, at(12), 1e-12)
	assert.Greater(t, at(13), at(12)+1, "beyond an octave is much more expensive")
	assert.Equal(t, at(-5), at(5))
	assert.Equal(t, 0.0, cfg.TransitionCost(silent(), silent()))
	assert.Equal(t, cfg.VoicingSwitchCost, cfg.TransitionCost(silent(), voiced(60, 1)))
}

func TestFillShortGaps(t *testing.T) {
	cfg := DefaultStabilizerConfig()

	tests := []struct {
		name string
		in   DecodePath
		fill []int
	}{
		{"single frame midpoint", DecodePath{voiced(60, 0.8), silent(), voiced(61, 0.6)}, []int{1}},
		{"two frames", DecodePath{voiced(60, 0.8), silent(), silent(), voiced(60, 0.6)}, []int{1, 2}},
		{"too long", DecodePath{voiced(60, 0.8), silent(), silent(), silent(), voiced(60, 0.6)}, nil},
		{"interval too wide", DecodePath{voiced(60, 0.8), silent(), voiced(65, 0.6)}, nil},
		{"leading edge", DecodePath{silent(), voiced(60, 0.6)}, nil},
		{"trailing edge", DecodePath{voiced(60, 0.6), silent()}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FillShortGaps(tt.in, cfg)
			require.Len(t, out, len(tt.in))
			for i := range out {
				if contains(tt.fill, i) {
					assert.False(t, out[i].Silent, "frame %d should be filled", i)
				} else {
					assert.Equal(t, tt.in[i], out[i], "frame %d should be untouched", i)
				}
			}
		})
	}

	out := FillShortGaps(tests[0].in, cfg)
	assert.Equal(t, 61, out[1].PitchClass)
	assert.InDelta(t, 0.6*0.7, out[1].Probability, 1e-12)
	assert.True(t, tests[0].in[1].Silent, "input is not mutated")
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func TestCorrectOctaves(t *testing.T) {
	policy := DefaultOctavePolicy()

	out := CorrectOctaves(DecodePath{voiced(60, 1), voiced(60, 1), voiced(72, 1), voiced(48, 1), voiced(70, 1)}, policy)
	assert.Equal(t, 60, out[2].PitchClass)
	assert.Equal(t, 60, out[3].PitchClass)
	assert.Equal(t, 58, out[4].PitchClass)

	far := CorrectOctaves(DecodePath{voiced(60, 1), voiced(95, 1)}, policy)
	assert.True(t, far[1].Silent, "35 semitones away cannot be folded within reach")
}

func TestOctavePolicyReanchors(t *testing.T) {
	policy := DefaultOctavePolicy()
	semis := []float64{60, 95, 95, 95, 95, 95, 95, 95}

	out := policy.Apply(semis)

	for i := 1; i < 6; i++ {
		assert.True(t, math.IsNaN(out[i]), "frame %d rejected", i)
	}
	assert.Equal(t, 95.0, out[6], "sixth consecutive rejection re-anchors")
	assert.Equal(t, 95.0, out[7])
}

func TestStabilizeNeverInventsVoicing(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := DefaultStabilizerConfig()

	for trial := 0; trial < 50; trial++ {
		path := make(DecodePath, 30)
		for i := range path {
			if rng.Float64() < 0.35 {
				path[i] = silent()
			} else {
				path[i] = voiced(55+rng.Intn(4), 0.7)
			}
		}

		out := Stabilize(path, cfg)
		for i := range out {
			if !path[i].Silent || out[i].Silent {
				continue
			}
			lo, hi := i, i
			for lo > 0 && path[lo-1].Silent {
				lo--
			}
			for hi < len(path)-1 && path[hi+1].Silent {
				hi++
			}
			assert.LessOrEqual(t, hi-lo+1, cfg.MaxGapFrames, "trial %d frame %d", trial, i)
			assert.Greater(t, lo, 0)
			assert.Less(t, hi, len(path)-1)
		}
	}
}

func TestCentsAntiSymmetric(t *testing.T) {
	for _, r := range []float64{1.01, 1.5, 2, 3.7} {
		assert.InDelta(t, -Cents(440*r, 440), Cents(440/r, 440), 1e-9)
	}
	assert.InDelta(t, 1200, Cents(880, 440), 1e-9)
	assert.Equal(t, 0.0, Cents(0, 440))
}

func TestHzMIDIRoundTrip(t *testing.T) {
	assert.InDelta(t, 69.0, HzToMIDI(440), 1e-12)
	assert.InDelta(t, 261.6256, MIDIToHz(60), 1e-3)
	assert.InDelta(t, 57.3, HzToMIDI(MIDIToHz(57.3)), 1e-9)
}

func TestPitchFrameJSONNull(t *testing.T) {
	data, err := json.Marshal([]PitchFrame{{TimeSec: 0.5, Clarity: 0.2}, {TimeSec: 1, Hz: 220, Clarity: 0.9}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"timeSec":0.5,"hz":null,"clarity":0.2},{"timeSec":1,"hz":220,"clarity":0.9}]`, string(data))

	var back []PitchFrame
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back[0].Voiced())
	assert.Equal(t, 220.0, back[1].Hz)
}

func TestTrackRows(t *testing.T) {
	rows := make([][]float64, 10)
	for i := range rows {
		rows[i] = make([]float64, 60)
		rows[i][36] = 0.9 // MIDI 60 with base 24
	}
	rows[4] = make([]float64, 60)

	track := TrackRows(rows, 0.01, 0, DefaultTrackerConfig())

	require.Len(t, track.Frames, 10)
	assert.True(t, track.Raw[4].Silent)
	assert.False(t, track.Stabilized[4].Silent, "single-frame dropout is filled")
	assert.InDelta(t, MIDIToHz(60), track.Frames[4].Hz, 1e-9)
	assert.InDelta(t, 0.09, track.Frames[9].TimeSec, 1e-12)
	assert.Equal(t, 10, VoicedCount(track.Frames))
}

func TestFrameStep(t *testing.T) {
	frames := PathToFrames(make(DecodePath, 5), 0.02)
	assert.InDelta(t, 0.02, FrameStep(frames, 1), 1e-12)
	assert.Equal(t, 1.0, FrameStep(nil, 1))
}

func TestNearest(t *testing.T) {
	frames := []PitchFrame{{TimeSec: 0}, {TimeSec: 0.1}, {TimeSec: 0.2}}

	_, ok := Nearest(nil, 1)
	assert.False(t, ok)

	tests := []struct {
		t    float64
		want int
	}{
		{-1, 0},
		{0.04, 0},
		{0.05, 0},
		{0.06, 1},
		{0.2, 2},
		{5, 2},
	}
	for _, tt := range tests {
		idx, ok := Nearest(frames, tt.t)
		assert.True(t, ok)
		assert.Equal(t, tt.want, idx, "t=%v", tt.t)
	}
}

func TestCheckOrdered(t *testing.T) {
	tests := []struct {
		name    string
		frames  []PitchFrame
		wantErr bool
	}{
		{"empty", nil, false},
		{"increasing", []PitchFrame{{TimeSec: 0}, {TimeSec: 0.01}, {TimeSec: 0.02}}, false},
		{"repeated timestamp", []PitchFrame{{TimeSec: 0}, {TimeSec: 0}}, false},
		{"backwards", []PitchFrame{{TimeSec: 0.02}, {TimeSec: 0.01}}, true},
		{"nan", []PitchFrame{{TimeSec: math.NaN()}}, true},
		{"inf", []PitchFrame{{TimeSec: 0}, {TimeSec: math.Inf(1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOrdered(tt.frames)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnordered)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
