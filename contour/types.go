// Package contour turns per-frame pitch probabilities into a stabilized
// monophonic pitch contour.
package contour

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
)

// PitchFrame is one point of a pitch contour. Hz == 0 marks an unvoiced
// frame and is encoded as null in JSON.
type PitchFrame struct {
	TimeSec float64 `json:"timeSec"`
	Hz      float64 `json:"hz"`
	Clarity float64 `json:"clarity"`
}

// Voiced reports whether the frame carries a pitch.
func (f PitchFrame) Voiced() bool {
	return f.Hz > 0 && !math.IsInf(f.Hz, 0)
}

// MIDI returns the fractional MIDI note number, NaN when unvoiced.
func (f PitchFrame) MIDI() float64 {
	if !f.Voiced() {
		return math.NaN()
	}
	return HzToMIDI(f.Hz)
}

type pitchFrameJSON struct {
	TimeSec float64  `json:"timeSec"`
	Hz      *float64 `json:"hz"`
	Clarity float64  `json:"clarity"`
}

func (f PitchFrame) MarshalJSON() ([]byte, error) {
	out := pitchFrameJSON{TimeSec: f.TimeSec, Clarity: f.Clarity}
	if f.Voiced() {
		hz := f.Hz
		out.Hz = &hz
	}
	return json.Marshal(out)
}

func (f *PitchFrame) UnmarshalJSON(data []byte) error {
	var in pitchFrameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.TimeSec = in.TimeSec
	f.Clarity = in.Clarity
	f.Hz = 0
	if in.Hz != nil && *in.Hz > 0 {
		f.Hz = *in.Hz
	}
	return nil
}

// Candidate is one pitch hypothesis for a single frame. Silent candidates
// ignore PitchClass.
type Candidate struct {
	PitchClass  int     `json:"pitchClass"`
	Silent      bool    `json:"silent"`
	Probability float64 `json:"probability"`
}

// DecodePath holds one chosen candidate per input frame.
type DecodePath []Candidate

// Times returns evenly spaced timestamps for n frames at hopSec.
func Times(n int, hopSec float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * hopSec
	}
	return out
}

// PathToFrames converts a decoded path to pitch frames spaced hopSec apart.
func PathToFrames(path DecodePath, hopSec float64) []PitchFrame {
	frames := make([]PitchFrame, len(path))
	for i, c := range path {
		frames[i] = PitchFrame{TimeSec: float64(i) * hopSec}
		if !c.Silent {
			frames[i].Hz = MIDIToHz(float64(c.PitchClass))
			frames[i].Clarity = c.Probability
		}
	}
	return frames
}

// Semitones returns the MIDI value of every frame, NaN for unvoiced ones.
func Semitones(frames []PitchFrame) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = f.MIDI()
	}
	return out
}

// VoicedCount returns the number of voiced frames.
func VoicedCount(frames []PitchFrame) int {
	n := 0
	for _, f := range frames {
		if f.Voiced() {
			n++
		}
	}
	return n
}

// FrameStep estimates the spacing between frames as the median of positive
// timestamp differences. Returns fallback when it cannot be estimated.
func FrameStep(frames []PitchFrame, fallback float64) float64 {
	diffs := make([]float64, 0, len(frames))
	for i := 1; i < len(frames); i++ {
		if d := frames[i].TimeSec - frames[i-1].TimeSec; d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return fallback
	}
	return common.Median(diffs)
}

// ErrUnordered is returned for contours whose timestamps are not finite or
// go backwards.
var ErrUnordered = errors.New("pitch frames out of time order")

// CompareTime orders frames by timestamp.
func CompareTime(a, b PitchFrame) int {
	return cmp.Compare(a.TimeSec, b.TimeSec)
}

// CheckOrdered verifies that every timestamp is finite and non-decreasing.
func CheckOrdered(frames []PitchFrame) error {
	for i, f := range frames {
		if math.IsNaN(f.TimeSec) || math.IsInf(f.TimeSec, 0) {
			return fmt.Errorf("%w: frame %d has time %v", ErrUnordered, i, f.TimeSec)
		}
		if i > 0 && f.TimeSec < frames[i-1].TimeSec {
			return fmt.Errorf("%w: frame %d at %vs follows %vs", ErrUnordered, i, f.TimeSec, frames[i-1].TimeSec)
		}
	}
	return nil
}

// Nearest returns the index of the frame whose timestamp is closest to t.
// Equal distances resolve to the earlier frame. ok is false for empty input.
func Nearest(frames []PitchFrame, t float64) (idx int, ok bool) {
	if len(frames) == 0 {
		return 0, false
	}
	i := sort.Search(len(frames), func(i int) bool { return frames[i].TimeSec >= t })
	switch {
	case i == 0:
		return 0, true
	case i == len(frames):
		return len(frames) - 1, true
	}
	if t-frames[i-1].TimeSec <= frames[i].TimeSec-t {
		return i - 1, true
	}
	return i, true
}
