// Package rhythm maps pitch contours onto a metronome grid and optionally
// imputes short gaps in the gridded user take.
package rhythm

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
)

// Config defines the metronome grid a take was sung against.
type Config struct {
	BPM                 float64 `json:"bpm"`
	SubdivisionsPerBeat int     `json:"subdivisionsPerBeat"`
	ClickOffsetMs       float64 `json:"clickOffsetMs"`
}

// Validate checks that the grid is usable.
func (c Config) Validate() error {
	if !(c.BPM > 0) || math.IsInf(c.BPM, 0) {
		return fmt.Errorf("bpm must be positive, got %v", c.BPM)
	}
	if c.SubdivisionsPerBeat < 1 {
		return fmt.Errorf("subdivisions per beat must be at least 1, got %d", c.SubdivisionsPerBeat)
	}
	return nil
}

// CellWidth returns the duration of one grid cell in seconds.
func (c Config) CellWidth() float64 {
	return 60.0 / c.BPM / float64(c.SubdivisionsPerBeat)
}

// OffsetSec returns the click offset in seconds.
func (c Config) OffsetSec() float64 {
	return c.ClickOffsetMs / 1000.0
}

// CellPadding is the number of extra cells emitted on each side of the
// range covered by the input.
const CellPadding = 1

// MaxCells bounds the grid a single contour may span.
const MaxCells = 1 << 20

// ErrGridTooLarge is returned by CheckSpan when a contour covers more than
// MaxCells cells.
var ErrGridTooLarge = errors.New("contour spans too many grid cells")

// cellRange returns the first and last cell index to emit and the cell
// count as a float, so absurd spans are detected before any int conversion.
// Cells ending at or before time zero are excluded from the range.
func cellRange(frames []contour.PitchFrame, cfg Config) (first, last int, count float64) {
	w := cfg.CellWidth()
	off := cfg.OffsetSec()

	tmin, tmax := frames[0].TimeSec, frames[0].TimeSec
	for _, f := range frames[1:] {
		tmin = min(tmin, f.TimeSec)
		tmax = max(tmax, f.TimeSec)
	}
	if math.IsNaN(tmin) || math.IsNaN(tmax) || math.IsInf(tmin, 0) || math.IsInf(tmax, 0) {
		return 0, -1, math.Inf(1)
	}

	lo := max(math.Floor((tmin-off)/w)-CellPadding, math.Floor(-off/w))
	hi := math.Floor((tmax-off)/w) + CellPadding
	count = hi - lo + 1
	if count <= 0 || count > MaxCells {
		return 0, -1, count
	}
	return int(lo), int(hi), count
}

// CheckSpan reports ErrGridTooLarge when quantizing frames would produce
// more than MaxCells cells.
func CheckSpan(frames []contour.PitchFrame, cfg Config) error {
	if len(frames) == 0 || cfg.Validate() != nil {
		return nil
	}
	if _, _, n := cellRange(frames, cfg); n > MaxCells {
		return fmt.Errorf("%w: %v cells of %vs, limit %d", ErrGridTooLarge, n, cfg.CellWidth(), MaxCells)
	}
	return nil
}

// Quantize bins frames onto the grid. Each output frame sits at a cell
// midpoint and carries the median Hz of the voiced frames inside the cell
// (unvoiced when there are none). Clarity is the summed voiced clarity over
// the number of frames in the cell. Cells ending at or before time zero are
// not emitted. An invalid grid, empty input or a span beyond MaxCells
// yields no frames. Unordered input is binned from a time-sorted copy.
func Quantize(frames []contour.PitchFrame, cfg Config) []contour.PitchFrame {
	if len(frames) == 0 || cfg.Validate() != nil {
		return []contour.PitchFrame{}
	}
	first, last, cells := cellRange(frames, cfg)
	if !(cells > 0 && cells <= MaxCells) {
		return []contour.PitchFrame{}
	}
	if !slices.IsSortedFunc(frames, contour.CompareTime) {
		frames = slices.Clone(frames)
		slices.SortStableFunc(frames, contour.CompareTime)
	}

	w := cfg.CellWidth()
	off := cfg.OffsetSec()

	out := make([]contour.PitchFrame, 0, last-first+1)
	voiced := make([]float64, 0, 16)

	for k := first; k <= last; k++ {
		start := off + float64(k)*w
		end := start + w
		if end <= 0 {
			continue
		}

		lo := sort.Search(len(frames), func(i int) bool { return frames[i].TimeSec >= start })
		hi := sort.Search(len(frames), func(i int) bool { return frames[i].TimeSec >= end })

		voiced = voiced[:0]
		claritySum := 0.0
		for _, f := range frames[lo:hi] {
			if f.Voiced() {
				voiced = append(voiced, f.Hz)
				claritySum += f.Clarity
			}
		}

		cell := contour.PitchFrame{TimeSec: start + w/2}
		if n := hi - lo; n > 0 {
			cell.Clarity = common.Finite(claritySum / float64(n))
		}
		if len(voiced) > 0 {
			cell.Hz = common.Median(voiced)
		}
		out = append(out, cell)
	}

	return out
}
