// Package notes turns pitch contours into discrete note events and searches
// segmentation settings for the most plausible result.
package notes

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
)

// Velocity bounds for NoteEvent.
const (
	MinVelocity = 30
	MaxVelocity = 120
)

// NoteEvent is one segmented note. EndSec is always greater than StartSec.
type NoteEvent struct {
	PitchClass int     `json:"pitchClass"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
	Velocity   int     `json:"velocity"`
}

// Duration returns the note length in seconds.
func (n NoteEvent) Duration() float64 {
	return n.EndSec - n.StartSec
}

// velocityFromClarity scales a mean clarity in [0,1] onto the velocity range.
func velocityFromClarity(meanClarity float64) int {
	v := math.Round(MinVelocity + (MaxVelocity-MinVelocity)*common.Finite(meanClarity))
	return int(common.Clamp(v, MinVelocity, MaxVelocity))
}

// SegmentationOptions are the tunable thresholds shared by both strategies.
type SegmentationOptions struct {
	MinNoteSec        float64 `json:"minNoteSec"`
	MedianWindow      int     `json:"medianWindow"`
	SmoothWindow      int     `json:"smoothWindow"`
	GapFillSemitones  float64 `json:"gapFillSemitones"`
	OctaveJumpLimit   float64 `json:"octaveJumpLimit"`
	SameNoteTolerance float64 `json:"sameNoteTolerance"`
	MaxNoteRange      float64 `json:"maxNoteRange"`

	// GridMergeCap limits how many cells one grid note may span, 0 for no limit
	GridMergeCap int `json:"gridMergeCap"`

	// MaxGapFrames is the longest unvoiced run bridged by gap fill
	MaxGapFrames int `json:"maxGapFrames"`
}

// DefaultSegmentationOptions returns settings that work for most takes
// without running the optimizer.
func DefaultSegmentationOptions() SegmentationOptions {
	return SegmentationOptions{
		MinNoteSec:        0.09,
		MedianWindow:      5,
		SmoothWindow:      3,
		GapFillSemitones:  2,
		OctaveJumpLimit:   9,
		SameNoteTolerance: 0.5,
		MaxNoteRange:      1,
		GridMergeCap:      8,
		MaxGapFrames:      2,
	}
}

// SegmentationDebugScore explains how a segmentation was ranked.
type SegmentationDebugScore struct {
	Score                   float64 `json:"score"`
	Coverage                float64 `json:"coverage"`
	MeanAbsCentsWithinNotes float64 `json:"meanAbsCentsWithinNotes"`
	NoteCount               int     `json:"noteCount"`
	JumpRatio               float64 `json:"jumpRatio"`
	ShortNoteRatio          float64 `json:"shortNoteRatio"`
}
