package notes

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
)

// Objective weighs the terms of the segmentation score.
type Objective struct {
	CoverageWeight  float64 `json:"coverage_weight"`
	CentsWeight     float64 `json:"cents_weight"`
	JumpWeight      float64 `json:"jump_weight"`
	ShortWeight     float64 `json:"short_weight"`
	LowCountWeight  float64 `json:"low_count_weight"`
	NoteCountWeight float64 `json:"note_count_weight"`

	// Target note count is voiced duration over TargetNoteSec, clamped
	TargetNoteSec  float64 `json:"target_note_sec"`
	MinTargetNotes float64 `json:"min_target_notes"`
	MaxTargetNotes float64 `json:"max_target_notes"`

	JumpSemitones int     `json:"jump_semitones"`
	ShortNoteSec  float64 `json:"short_note_sec"`
}

// DefaultObjective returns the standard weights.
func DefaultObjective() Objective {
	return Objective{
		CoverageWeight:  100,
		CentsWeight:     0.6,
		JumpWeight:      40,
		ShortWeight:     30,
		LowCountWeight:  25,
		NoteCountWeight: 12,
		TargetNoteSec:   0.12,
		MinTargetNotes:  24,
		MaxTargetNotes:  320,
		JumpSemitones:   8,
		ShortNoteSec:    0.1,
	}
}

// contourStats caches what the objective needs from the source frames.
type contourStats struct {
	frames    []contour.PitchFrame
	semis     []float64
	voicedSec float64
}

func newContourStats(frames []contour.PitchFrame) contourStats {
	step := contour.FrameStep(frames, 0)
	return contourStats{
		frames:    frames,
		semis:     contour.Semitones(frames),
		voicedSec: float64(contour.VoicedCount(frames)) * step,
	}
}

// TargetNoteCount derives the expected number of notes from voiced duration.
func (o Objective) TargetNoteCount(voicedSec float64) float64 {
	return common.Clamp(voicedSec/o.TargetNoteSec, o.MinTargetNotes, o.MaxTargetNotes)
}

// Evaluate scores notes against the frames they were segmented from.
func (o Objective) Evaluate(frames []contour.PitchFrame, notes []NoteEvent) SegmentationDebugScore {
	return o.evaluate(newContourStats(frames), notes)
}

func (o Objective) evaluate(cs contourStats, notes []NoteEvent) SegmentationDebugScore {
	debug := SegmentationDebugScore{NoteCount: len(notes)}

	covered := 0.0
	short := 0
	for _, n := range notes {
		covered += n.Duration()
		if n.Duration() < o.ShortNoteSec {
			short++
		}
	}
	if cs.voicedSec > 0 {
		debug.Coverage = min(1, covered/cs.voicedSec)
	}
	if len(notes) > 0 {
		debug.ShortNoteRatio = float64(short) / float64(len(notes))
	}

	jumps := 0
	for i := 1; i < len(notes); i++ {
		if abs(notes[i].PitchClass-notes[i-1].PitchClass) >= o.JumpSemitones {
			jumps++
		}
	}
	if len(notes) > 1 {
		debug.JumpRatio = float64(jumps) / float64(len(notes)-1)
	}

	debug.MeanAbsCentsWithinNotes = o.centsWithinNotes(cs, notes)

	target := o.TargetNoteCount(cs.voicedSec)
	count := float64(len(notes))
	noteCountScore := -o.NoteCountWeight * math.Abs(math.Log(max(count, 1)/target))
	lowCountPenalty := 0.0
	if half := target / 2; count < half {
		lowCountPenalty = o.LowCountWeight * (half - count) / half
	}

	debug.Score = common.Finite(debug.Coverage*o.CoverageWeight -
		debug.MeanAbsCentsWithinNotes*o.CentsWeight -
		debug.JumpRatio*o.JumpWeight -
		debug.ShortNoteRatio*o.ShortWeight -
		lowCountPenalty +
		noteCountScore)
	return debug
}

// centsWithinNotes is the mean absolute deviation of voiced source frames
// from the pitch of the note they fall in.
func (o Objective) centsWithinNotes(cs contourStats, notes []NoteEvent) float64 {
	sum, count := 0.0, 0
	j := 0
	for i, f := range cs.frames {
		if math.IsNaN(cs.semis[i]) {
			continue
		}
		for j < len(notes) && notes[j].EndSec <= f.TimeSec {
			j++
		}
		if j == len(notes) {
			break
		}
		if f.TimeSec < notes[j].StartSec {
			continue
		}
		sum += math.Abs(100 * (cs.semis[i] - float64(notes[j].PitchClass)))
		count++
	}
	if count == 0 {
		return 0
	}
	return common.Finite(sum / float64(count))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
