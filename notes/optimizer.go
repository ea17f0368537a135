package notes

import (
	"context"
	"iter"
	"math"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// ParameterGrid lists the values tried for each continuity option.
type ParameterGrid struct {
	MinNoteSec        []float64 `json:"minNoteSec"`
	MedianWindow      []int     `json:"medianWindow"`
	SmoothWindow      []int     `json:"smoothWindow"`
	GapFillSemitones  []float64 `json:"gapFillSemitones"`
	OctaveJumpLimit   []float64 `json:"octaveJumpLimit"`
	SameNoteTolerance []float64 `json:"sameNoteTolerance"`
	MaxNoteRange      []float64 `json:"maxNoteRange"`
}

// DefaultParameterGrid returns the 192-combination search grid.
func DefaultParameterGrid() ParameterGrid {
	return ParameterGrid{
		MinNoteSec:        []float64{0.06, 0.09, 0.12},
		MedianWindow:      []int{3, 5},
		SmoothWindow:      []int{1, 3},
		GapFillSemitones:  []float64{1, 2},
		OctaveJumpLimit:   []float64{7, 9},
		SameNoteTolerance: []float64{0.5, 1.0},
		MaxNoteRange:      []float64{1, 2},
	}
}

// Size returns the number of combinations.
func (g ParameterGrid) Size() int {
	return len(g.MinNoteSec) * len(g.MedianWindow) * len(g.SmoothWindow) *
		len(g.GapFillSemitones) * len(g.OctaveJumpLimit) *
		len(g.SameNoteTolerance) * len(g.MaxNoteRange)
}

// All yields every combination applied on top of base, indexed in a fixed
// order with the last dimension varying fastest.
func (g ParameterGrid) All(base SegmentationOptions) iter.Seq2[int, SegmentationOptions] {
	return func(yield func(int, SegmentationOptions) bool) {
		idx := 0
		for _, minNote := range g.MinNoteSec {
			for _, median := range g.MedianWindow {
				for _, smooth := range g.SmoothWindow {
					for _, gapFill := range g.GapFillSemitones {
						for _, octave := range g.OctaveJumpLimit {
							for _, same := range g.SameNoteTolerance {
								for _, noteRange := range g.MaxNoteRange {
									opts := base
									opts.MinNoteSec = minNote
									opts.MedianWindow = median
									opts.SmoothWindow = smooth
									opts.GapFillSemitones = gapFill
									opts.OctaveJumpLimit = octave
									opts.SameNoteTolerance = same
									opts.MaxNoteRange = noteRange
									if !yield(idx, opts) {
										return
									}
									idx++
								}
							}
						}
					}
				}
			}
		}
	}
}

// Pass names the stage that produced the chosen segmentation.
type Pass string

const (
	PassGrid       Pass = "grid"
	PassAggressive Pass = "aggressive"
	PassDensify    Pass = "densify"
)

// OptimizerConfig configures Optimize.
type OptimizerConfig struct {
	Grid      ParameterGrid       `json:"grid"`
	Base      SegmentationOptions `json:"base"`
	Objective Objective           `json:"objective"`

	// Workers evaluating combinations; <= 0 uses GOMAXPROCS
	Workers int `json:"workers"`

	// UnderSegmentedRatio of the target note count triggers the fallback passes
	UnderSegmentedRatio float64 `json:"under_segmented_ratio"`

	Aggressive         SegmentationOptions `json:"aggressive"`
	AggressiveMinGain  float64             `json:"aggressive_min_gain"`
	AggressiveMinNotes int                 `json:"aggressive_min_notes"`
	AggressiveMaxDrop  float64             `json:"aggressive_max_drop"`

	DensifyMinChunkSec float64 `json:"densify_min_chunk_sec"`
	DensifyMaxDrop     float64 `json:"densify_max_drop"`
}

// DefaultOptimizerConfig returns the standard search.
func DefaultOptimizerConfig() OptimizerConfig {
	base := DefaultSegmentationOptions()

	aggressive := base
	aggressive.MinNoteSec = 0.04
	aggressive.MedianWindow = 3
	aggressive.SmoothWindow = 1
	aggressive.GapFillSemitones = 1
	aggressive.OctaveJumpLimit = 9
	aggressive.SameNoteTolerance = 0.5
	aggressive.MaxNoteRange = 1

	return OptimizerConfig{
		Grid:                DefaultParameterGrid(),
		Base:                base,
		Objective:           DefaultObjective(),
		Workers:             0,
		UnderSegmentedRatio: 0.6,
		Aggressive:          aggressive,
		AggressiveMinGain:   0.2,
		AggressiveMinNotes:  2,
		AggressiveMaxDrop:   10,
		DensifyMinChunkSec:  0.08,
		DensifyMaxDrop:      15,
	}
}

// OptimizeResult is the winning segmentation.
type OptimizeResult struct {
	Notes   []NoteEvent            `json:"notes"`
	Options SegmentationOptions    `json:"options"`
	Debug   SegmentationDebugScore `json:"debug"`
	Tried   int                    `json:"tried"`
	Pass    Pass                   `json:"pass"`
}

type candidate struct {
	idx   int
	opts  SegmentationOptions
	notes []NoteEvent
	debug SegmentationDebugScore
}

// better reports whether c beats best; equal scores go to the lower index.
func (c candidate) better(best *candidate) bool {
	if best == nil {
		return true
	}
	if c.debug.Score != best.debug.Score {
		return c.debug.Score > best.debug.Score
	}
	return c.idx < best.idx
}

// Optimize searches the grid for the best continuity segmentation of frames,
// then tries the aggressive and densify passes when the result is
// under-segmented. The result only depends on frames and cfg.
func Optimize(ctx context.Context, frames []contour.PitchFrame, cfg OptimizerConfig) (OptimizeResult, error) {
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "note_optimizer",
	})

	cs := newContourStats(frames)

	best, tried, err := searchGrid(ctx, cs, cfg)
	if err != nil {
		return OptimizeResult{}, err
	}
	if best == nil {
		return OptimizeResult{Notes: []NoteEvent{}, Options: cfg.Base, Pass: PassGrid}, nil
	}

	result := OptimizeResult{
		Notes:   best.notes,
		Options: best.opts,
		Debug:   best.debug,
		Tried:   tried,
		Pass:    PassGrid,
	}

	target := cfg.Objective.TargetNoteCount(cs.voicedSec)
	underSegmented := func() bool {
		return float64(result.Debug.NoteCount) < cfg.UnderSegmentedRatio*target
	}

	if underSegmented() {
		notes := SegmentContinuity(frames, cfg.Aggressive)
		debug := cfg.Objective.evaluate(cs, notes)
		result.Tried++

		prev := result.Debug
		gain := float64(debug.NoteCount-prev.NoteCount) / float64(max(prev.NoteCount, 1))
		if gain >= cfg.AggressiveMinGain &&
			debug.NoteCount-prev.NoteCount >= cfg.AggressiveMinNotes &&
			debug.Score >= prev.Score-cfg.AggressiveMaxDrop {
			result.Notes, result.Options, result.Debug, result.Pass = notes, cfg.Aggressive, debug, PassAggressive
		}
	}

	if underSegmented() && cs.voicedSec > 0 {
		chunk := max(cfg.DensifyMinChunkSec, cs.voicedSec/target)
		notes := densify(cs, result.Notes, chunk)
		debug := cfg.Objective.evaluate(cs, notes)
		result.Tried++

		if debug.NoteCount > result.Debug.NoteCount && debug.Score >= result.Debug.Score-cfg.DensifyMaxDrop {
			result.Notes, result.Debug, result.Pass = notes, debug, PassDensify
		}
	}

	logger.Debug("Segmentation optimized", logging.Fields{
		"tried":      result.Tried,
		"pass":       result.Pass,
		"notes":      result.Debug.NoteCount,
		"target":     target,
		"score":      result.Debug.Score,
		"voiced_sec": cs.voicedSec,
	})

	return result, nil
}

// searchGrid evaluates every grid combination on a worker pool. Only this
// goroutine touches best.
func searchGrid(ctx context.Context, cs contourStats, cfg OptimizerConfig) (*candidate, int, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type job struct {
		idx  int
		opts SegmentationOptions
	}
	jobs := make(chan job)
	results := make(chan candidate, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				notes := SegmentContinuity(cs.frames, j.opts)
				results <- candidate{
					idx:   j.idx,
					opts:  j.opts,
					notes: notes,
					debug: cfg.Objective.evaluate(cs, notes),
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for idx, opts := range cfg.Grid.All(cfg.Base) {
			select {
			case jobs <- job{idx: idx, opts: opts}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var best *candidate
	tried := 0
	for c := range results {
		tried++
		if c.better(best) {
			best = &c
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, tried, err
	}
	return best, tried, nil
}

// densify splits notes longer than two chunks into equal parts and re-derives
// each part's pitch from the source contour.
func densify(cs contourStats, notes []NoteEvent, chunk float64) []NoteEvent {
	out := make([]NoteEvent, 0, len(notes))
	values := make([]float64, 0, 32)

	for _, n := range notes {
		if n.Duration() <= 2*chunk {
			out = append(out, n)
			continue
		}
		parts := int(math.Floor(n.Duration() / chunk))
		width := n.Duration() / float64(parts)
		for k := range parts {
			sub := NoteEvent{
				PitchClass: n.PitchClass,
				StartSec:   n.StartSec + float64(k)*width,
				EndSec:     n.StartSec + float64(k+1)*width,
				Velocity:   n.Velocity,
			}
			if k == parts-1 {
				sub.EndSec = n.EndSec
			}

			values = values[:0]
			for i, f := range cs.frames {
				if f.TimeSec >= sub.StartSec && f.TimeSec < sub.EndSec && !math.IsNaN(cs.semis[i]) {
					values = append(values, cs.semis[i])
				}
			}
			if len(values) > 0 {
				sub.PitchClass = int(math.Round(common.Median(values)))
			}
			out = append(out, sub)
		}
	}
	return out
}
