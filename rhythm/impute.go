package rhythm

import (
	"fmt"
	"math"
	"slices"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
	"github.com/RyanBlaney/sonido-vocal/contour"
)

// ImputationKind labels where an imputed cell's pitch came from.
type ImputationKind int

const (
	// KindObserved cells are unchanged from the observed sequence
	KindObserved ImputationKind = iota

	// KindGapFilled cells were interpolated between two voiced neighbors
	KindGapFilled

	// KindHeld cells carry the previous user pitch because the reference
	// was voiced at the same time
	KindHeld
)

func (k ImputationKind) String() string {
	switch k {
	case KindObserved:
		return "observed"
	case KindGapFilled:
		return "gap_filled"
	case KindHeld:
		return "held"
	default:
		return "unknown"
	}
}

func (k ImputationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ImputationKind) UnmarshalText(text []byte) error {
	for _, c := range []ImputationKind{KindObserved, KindGapFilled, KindHeld} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown imputation kind %q", text)
}

// ImputationConfig toggles the imputation passes. With both passes off the
// imputed sequence equals the observed one.
type ImputationConfig struct {
	FillShortGaps         bool    `json:"fill_short_gaps"`
	MaxGapCells           int     `json:"max_gap_cells"`
	GapToleranceSemitones float64 `json:"gap_tolerance_semitones"`

	// ReferenceGuidedHold raises detected coverage without new evidence from
	// the singer. Results produced with it set report CoverageInflated.
	ReferenceGuidedHold bool `json:"reference_guided_hold"`
	HoldBudget          int  `json:"hold_budget"`

	ConfidenceDiscount float64 `json:"confidence_discount"`
}

// DefaultImputationConfig fills short gaps and leaves reference-guided hold off.
func DefaultImputationConfig() ImputationConfig {
	return ImputationConfig{
		FillShortGaps:         true,
		MaxGapCells:           2,
		GapToleranceSemitones: 2,
		ReferenceGuidedHold:   false,
		HoldBudget:            1,
		ConfidenceDiscount:    0.6,
	}
}

// ImputedSequence keeps the observed user cells next to the imputed ones so
// callers can report statistics for both.
type ImputedSequence struct {
	Observed    []contour.PitchFrame `json:"observed"`
	Imputed     []contour.PitchFrame `json:"imputed"`
	Kinds       []ImputationKind     `json:"kinds"`
	FilledCells int                  `json:"filledCells"`
	HeldCells   int                  `json:"heldCells"`
}

// CoverageInflated reports whether any cell was voiced from reference timing
// rather than from the singer's own pitch evidence.
func (s ImputedSequence) CoverageInflated() bool {
	return s.HeldCells > 0
}

// Impute applies the configured passes to the gridded user sequence.
// reference is the gridded reference and offsetSec the user lateness, so the
// reference cell co-temporal with user time t is looked up at t - offsetSec.
// Neither input is modified.
func Impute(user, reference []contour.PitchFrame, offsetSec float64, cfg ImputationConfig) ImputedSequence {
	seq := ImputedSequence{
		Observed: slices.Clone(user),
		Imputed:  slices.Clone(user),
		Kinds:    make([]ImputationKind, len(user)),
	}
	if len(user) == 0 {
		return seq
	}

	if cfg.FillShortGaps {
		seq.FilledCells = fillGaps(seq.Imputed, seq.Kinds, cfg)
	}
	if cfg.ReferenceGuidedHold {
		seq.HeldCells = holdAlongReference(seq.Imputed, seq.Kinds, reference, offsetSec, cfg)
	}

	return seq
}

// fillGaps interpolates in semitone space across unvoiced runs of at most
// MaxGapCells whose voiced neighbors are close enough in pitch.
func fillGaps(cells []contour.PitchFrame, kinds []ImputationKind, cfg ImputationConfig) int {
	filled := 0
	for i := 0; i < len(cells); {
		if cells[i].Voiced() {
			i++
			continue
		}
		start := i
		for i < len(cells) && !cells[i].Voiced() {
			i++
		}
		end := i

		runLen := end - start
		if start == 0 || end == len(cells) || runLen > cfg.MaxGapCells {
			continue
		}
		left, right := cells[start-1], cells[end]
		lm, rm := left.MIDI(), right.MIDI()
		if math.Abs(lm-rm) > cfg.GapToleranceSemitones {
			continue
		}

		clarity := min(left.Clarity, right.Clarity) * cfg.ConfidenceDiscount
		for k := start; k < end; k++ {
			frac := float64(k-start+1) / float64(runLen+1)
			cells[k].Hz = contour.MIDIToHz(common.Lerp(lm, rm, frac))
			cells[k].Clarity = clarity
			kinds[k] = KindGapFilled
			filled++
		}
	}
	return filled
}

// holdAlongReference carries the previous user pitch into unvoiced cells
// while the reference is voiced, for at most HoldBudget consecutive cells.
func holdAlongReference(cells []contour.PitchFrame, kinds []ImputationKind, reference []contour.PitchFrame, offsetSec float64, cfg ImputationConfig) int {
	tolerance := contour.FrameStep(cells, 0) / 2
	held, run := 0, 0

	for i := range cells {
		if cells[i].Voiced() {
			run = 0
			continue
		}
		if i == 0 || !cells[i-1].Voiced() || run >= cfg.HoldBudget {
			continue
		}
		if !referenceVoicedAt(reference, cells[i].TimeSec-offsetSec, tolerance) {
			run = 0
			continue
		}

		cells[i].Hz = cells[i-1].Hz
		cells[i].Clarity = cells[i-1].Clarity * cfg.ConfidenceDiscount
		kinds[i] = KindHeld
		held++
		run++
	}
	return held
}

func referenceVoicedAt(reference []contour.PitchFrame, t, tolerance float64) bool {
	idx, ok := contour.Nearest(reference, t)
	if !ok {
		return false
	}
	ref := reference[idx]
	return ref.Voiced() && math.Abs(ref.TimeSec-t) <= tolerance+1e-9
}
