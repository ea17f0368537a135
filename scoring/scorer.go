package scoring

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
)

// ScoreConfig holds the scoring thresholds.
type ScoreConfig struct {
	ToleranceCents float64 `json:"tolerance_cents"`
	MinSegmentSec  float64 `json:"min_segment_sec"`
	TopSegments    int     `json:"top_segments"`

	// MaxMatchGapSec rejects user matches further than this from the shifted
	// reference time, widened to half the user frame step for coarse grids.
	// Zero disables the check.
	MaxMatchGapSec float64 `json:"max_match_gap_sec"`
}

// DefaultScoreConfig returns a 50 cent tolerance and the top 3 segments.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		ToleranceCents: 50,
		MinSegmentSec:  0.15,
		TopSegments:    3,
		MaxMatchGapSec: 0.25,
	}
}

// ErrorFrame is the pitch deviation at one voiced reference frame. Valid is
// false when no voiced user pitch could be matched; Cents is then null in JSON.
type ErrorFrame struct {
	TimeSec float64
	Cents   float64
	Valid   bool
}

type errorFrameJSON struct {
	TimeSec float64  `json:"timeSec"`
	Cents   *float64 `json:"cents"`
}

func (e ErrorFrame) MarshalJSON() ([]byte, error) {
	out := errorFrameJSON{TimeSec: e.TimeSec}
	if e.Valid {
		c := e.Cents
		out.Cents = &c
	}
	return json.Marshal(out)
}

func (e *ErrorFrame) UnmarshalJSON(data []byte) error {
	var in errorFrameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = ErrorFrame{TimeSec: in.TimeSec}
	if in.Cents != nil {
		e.Cents = *in.Cents
		e.Valid = true
	}
	return nil
}

// AnalysisStats summarizes a set of error frames.
type AnalysisStats struct {
	MeanAbsCents    float64 `json:"meanAbsCents"`
	MedianAbsCents  float64 `json:"medianAbsCents"`
	MaxAbsCents     float64 `json:"maxAbsCents"`
	PassRatio       float64 `json:"passRatio"`
	UndetectedRatio float64 `json:"undetectedRatio"`
	Count           int     `json:"count"`
}

// ErrorSegment is a stretch where the user stayed outside tolerance.
type ErrorSegment struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	AvgCents float64 `json:"avgCents"`
}

// Report bundles everything produced by one Score call.
type Report struct {
	Frames   []ErrorFrame   `json:"frames"`
	Stats    AnalysisStats  `json:"stats"`
	Segments []ErrorSegment `json:"segments"`
}

// Cents returns the deviation of userHz from refHz, 0 if either is unvoiced.
func Cents(userHz, refHz float64) float64 {
	return contour.Cents(userHz, refHz)
}

// Score compares user against reference after shifting reference time by
// totalOffsetSec. Only voiced reference frames produce error frames.
func Score(reference, user []contour.PitchFrame, totalOffsetSec float64, cfg ScoreConfig) Report {
	frames := ErrorFrames(reference, user, totalOffsetSec, cfg.MaxMatchGapSec)
	step := contour.FrameStep(reference, 0)

	return Report{
		Frames:   frames,
		Stats:    Summarize(frames, cfg.ToleranceCents),
		Segments: TopSegments(frames, step, cfg),
	}
}

// ErrorFrames matches every voiced reference frame with the user frame
// nearest to its shifted time. The gap limit never drops below half the
// user's frame step, so coarse grid cells always reach their nearest match.
func ErrorFrames(reference, user []contour.PitchFrame, totalOffsetSec, maxGapSec float64) []ErrorFrame {
	if maxGapSec > 0 {
		maxGapSec = max(maxGapSec, contour.FrameStep(user, 0)/2+1e-9)
	}

	out := make([]ErrorFrame, 0, len(reference))
	for _, ref := range reference {
		if !ref.Voiced() {
			continue
		}
		ef := ErrorFrame{TimeSec: ref.TimeSec}

		t := ref.TimeSec + totalOffsetSec
		if idx, ok := contour.Nearest(user, t); ok {
			match := user[idx]
			near := maxGapSec <= 0 || math.Abs(match.TimeSec-t) <= maxGapSec
			if near && match.Voiced() {
				ef.Cents = Cents(match.Hz, ref.Hz)
				ef.Valid = true
			}
		}
		out = append(out, ef)
	}
	return out
}

// Summarize aggregates error frames. Magnitude statistics cover valid frames,
// ratios cover all of them.
func Summarize(frames []ErrorFrame, toleranceCents float64) AnalysisStats {
	stats := AnalysisStats{Count: len(frames)}
	if len(frames) == 0 {
		return stats
	}

	abs := make([]float64, 0, len(frames))
	pass := 0
	for _, f := range frames {
		if !f.Valid {
			continue
		}
		c := math.Abs(f.Cents)
		abs = append(abs, c)
		if c <= toleranceCents {
			pass++
		}
	}

	total := float64(len(frames))
	stats.MeanAbsCents = common.Finite(common.Mean(abs))
	stats.MedianAbsCents = common.Finite(common.Median(abs))
	stats.MaxAbsCents = common.Finite(common.Max(abs))
	stats.PassRatio = common.Finite(float64(pass) / total)
	stats.UndetectedRatio = common.Finite(float64(len(frames)-len(abs)) / total)
	return stats
}

// TopSegments extracts runs of out-of-tolerance frames. A run breaks on an
// invalid frame or on a time gap above 1.5 steps and ends one step after its
// last frame. Runs shorter than MinSegmentSec are dropped; the rest are
// ranked by |AvgCents| and capped at TopSegments.
func TopSegments(frames []ErrorFrame, step float64, cfg ScoreConfig) []ErrorSegment {
	segments := []ErrorSegment{}

	var run []ErrorFrame
	flush := func() {
		if len(run) == 0 {
			return
		}
		seg := ErrorSegment{
			StartSec: run[0].TimeSec,
			EndSec:   run[len(run)-1].TimeSec + step,
		}
		sum := 0.0
		for _, f := range run {
			sum += f.Cents
		}
		seg.AvgCents = common.Finite(sum / float64(len(run)))
		if seg.EndSec-seg.StartSec >= cfg.MinSegmentSec {
			segments = append(segments, seg)
		}
		run = run[:0]
	}

	for _, f := range frames {
		bad := f.Valid && math.Abs(f.Cents) > cfg.ToleranceCents
		if !bad {
			flush()
			continue
		}
		if len(run) > 0 && step > 0 && f.TimeSec-run[len(run)-1].TimeSec > 1.5*step {
			flush()
		}
		run = append(run, f)
	}
	flush()

	slices.SortStableFunc(segments, func(a, b ErrorSegment) int {
		ma, mb := math.Abs(a.AvgCents), math.Abs(b.AvgCents)
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})

	if cfg.TopSegments >= 0 && len(segments) > cfg.TopSegments {
		segments = segments[:cfg.TopSegments]
	}
	return segments
}
