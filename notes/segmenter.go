package notes

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
)

// Strategy selects how a contour is cut into notes.
type Strategy int

const (
	// ContinuityGreedy smooths a free-running contour and grows notes while
	// the pitch stays put
	ContinuityGreedy Strategy = iota

	// GridMerge joins identical neighboring grid cells and trusts the grid's
	// own aggregation
	GridMerge
)

func (s Strategy) String() string {
	switch s {
	case ContinuityGreedy:
		return "continuity_greedy"
	case GridMerge:
		return "grid_merge"
	default:
		return "unknown"
	}
}

// StrategyFor picks GridMerge when a usable rhythm grid is present.
func StrategyFor(grid *rhythm.Config) Strategy {
	if grid != nil && grid.Validate() == nil {
		return GridMerge
	}
	return ContinuityGreedy
}

// Segment cuts frames into notes with the given strategy. GridMerge expects
// frames produced by rhythm.Quantize and infers the cell width from their
// spacing.
func Segment(frames []contour.PitchFrame, strategy Strategy, opts SegmentationOptions) []NoteEvent {
	switch strategy {
	case GridMerge:
		return SegmentGrid(frames, contour.FrameStep(frames, 0), opts)
	default:
		return SegmentContinuity(frames, opts)
	}
}

// prepareContour runs the smoothing chain of the continuity strategy and
// returns whole-semitone pitches (NaN when unvoiced) plus per-frame clarity.
func prepareContour(frames []contour.PitchFrame, opts SegmentationOptions) ([]float64, []float64) {
	semis := contour.Semitones(frames)
	semis = common.NaNMedianFilter(semis, opts.MedianWindow)
	semis = common.NaNMovingAverage(semis, opts.SmoothWindow)
	for i, v := range semis {
		if !math.IsNaN(v) {
			semis[i] = math.Round(v)
		}
	}

	clarity := make([]float64, len(frames))
	for i, f := range frames {
		clarity[i] = f.Clarity
	}
	fillTinyGaps(semis, clarity, opts)

	policy := contour.DefaultOctavePolicy()
	policy.MaxJumpSemitones = opts.OctaveJumpLimit
	return policy.Apply(semis), clarity
}

// fillTinyGaps bridges NaN runs of at most MaxGapFrames between two close
// pitches with their rounded midpoint.
func fillTinyGaps(semis, clarity []float64, opts SegmentationOptions) {
	for i := 0; i < len(semis); {
		if !math.IsNaN(semis[i]) {
			i++
			continue
		}
		start := i
		for i < len(semis) && math.IsNaN(semis[i]) {
			i++
		}
		end := i

		if start == 0 || end == len(semis) || end-start > opts.MaxGapFrames {
			continue
		}
		left, right := semis[start-1], semis[end]
		if math.Abs(left-right) > opts.GapFillSemitones {
			continue
		}
		fill := math.Round((left + right) / 2)
		c := min(clarity[start-1], clarity[end])
		for k := start; k < end; k++ {
			semis[k] = fill
			clarity[k] = c
		}
	}
}

// SegmentContinuity implements the ContinuityGreedy strategy.
func SegmentContinuity(frames []contour.PitchFrame, opts SegmentationOptions) []NoteEvent {
	notes := []NoteEvent{}
	if len(frames) == 0 {
		return notes
	}

	semis, clarity := prepareContour(frames, opts)

	start := -1
	var first, lo, hi float64
	flush := func(last int) {
		if start < 0 {
			return
		}
		end := frames[len(frames)-1].TimeSec
		if last+1 < len(frames) {
			end = frames[last+1].TimeSec
		}
		pitch := common.Median(semis[start : last+1])
		if note, ok := newNote(pitch, clarity[start:last+1], frames[start].TimeSec, end, opts.MinNoteSec); ok {
			notes = append(notes, note)
		}
		start = -1
	}

	for i, p := range semis {
		if math.IsNaN(p) {
			flush(i - 1)
			continue
		}
		if start >= 0 {
			nlo, nhi := min(lo, p), max(hi, p)
			if math.Abs(p-first) <= opts.SameNoteTolerance && nhi-nlo <= opts.MaxNoteRange {
				lo, hi = nlo, nhi
				continue
			}
			flush(i - 1)
		}
		start, first, lo, hi = i, p, p, p
	}
	flush(len(semis) - 1)

	return notes
}

// SegmentGrid implements the GridMerge strategy over cells of width cellWidth.
func SegmentGrid(cells []contour.PitchFrame, cellWidth float64, opts SegmentationOptions) []NoteEvent {
	notes := []NoteEvent{}
	if len(cells) == 0 || cellWidth <= 0 {
		return notes
	}

	half := cellWidth / 2
	maxSpacing := cellWidth * 1.25

	start := -1
	var pitch float64
	flush := func(last int) {
		if start < 0 {
			return
		}
		clarity := make([]float64, 0, last-start+1)
		for _, c := range cells[start : last+1] {
			clarity = append(clarity, c.Clarity)
		}
		if note, ok := newNote(pitch, clarity, cells[start].TimeSec-half, cells[last].TimeSec+half, opts.MinNoteSec); ok {
			notes = append(notes, note)
		}
		start = -1
	}

	for i, c := range cells {
		if !c.Voiced() {
			flush(i - 1)
			continue
		}
		p := math.Round(c.MIDI())
		if start >= 0 {
			fits := p == pitch &&
				c.TimeSec-cells[i-1].TimeSec <= maxSpacing &&
				(opts.GridMergeCap <= 0 || i-start < opts.GridMergeCap)
			if fits {
				continue
			}
			flush(i - 1)
		}
		start, pitch = i, p
	}
	flush(len(cells) - 1)

	return notes
}

// newNote builds a note from its pitch and member clarities, or reports
// false when it is too short to keep.
func newNote(pitch float64, clarity []float64, start, end, minNoteSec float64) (NoteEvent, bool) {
	if end <= start || end-start < minNoteSec {
		return NoteEvent{}, false
	}
	return NoteEvent{
		PitchClass: int(math.Round(pitch)),
		StartSec:   start,
		EndSec:     end,
		Velocity:   velocityFromClarity(common.Mean(clarity)),
	}, true
}
