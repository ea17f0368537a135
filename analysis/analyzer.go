// Package analysis runs the full reference-versus-user pipeline: contour
// tracking, alignment, optional grid quantization and imputation, scoring
// and note segmentation.
package analysis

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-vocal/config"
	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/export"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/model"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
	"github.com/RyanBlaney/sonido-vocal/scoring"
)

// Session carries the per-take settings owned by the caller's project.
// Zero ToleranceCents and ClarityThreshold keep the configured values.
type Session struct {
	Rhythm           *rhythm.Config `json:"rhythm,omitempty"`
	ToleranceCents   float64        `json:"toleranceCents"`
	ClarityThreshold float64        `json:"clarityThreshold"`
	ManualOffsetMs   float64        `json:"manualOffsetMs"`
}

// Signal is one mono recording. Model, when set, replaces the analyzer's
// model for this signal only.
type Signal struct {
	Samples    []float64
	SampleRate int
	Model      model.ProbabilityModel
}

// Result is everything one analysis produces. Reference and User are grid
// cells when the session has a rhythm grid, raw contours otherwise.
type Result struct {
	ID      string  `json:"id"`
	Session Session `json:"session"`

	Reference  []contour.PitchFrame    `json:"reference"`
	User       []contour.PitchFrame    `json:"user"`
	Imputation *rhythm.ImputedSequence `json:"imputation,omitempty"`

	Alignment     scoring.Alignment `json:"alignment"`
	TotalOffsetMs float64           `json:"totalOffsetMs"`

	// Observed scores the user as sung. Imputed is only set in grid mode.
	Observed scoring.Report  `json:"observed"`
	Imputed  *scoring.Report `json:"imputed,omitempty"`

	// CoverageInflated is set when reference-guided hold changed any cell, so
	// Imputed coverage partly reflects the reference rather than the singer.
	CoverageInflated bool `json:"coverageInflated"`

	Strategy       string                       `json:"strategy"`
	Notes          []notes.NoteEvent            `json:"notes"`
	NoteOptions    notes.SegmentationOptions    `json:"noteOptions"`
	NoteDebug      notes.SegmentationDebugScore `json:"noteDebug"`
	NotePass       notes.Pass                   `json:"notePass,omitempty"`
	ReferenceNotes []notes.NoteEvent            `json:"referenceNotes"`

	Elapsed time.Duration `json:"elapsed"`
}

// Analyzer wires the pipeline stages together. It is safe for concurrent use
// once built.
type Analyzer struct {
	config    *config.Config
	model     model.ProbabilityModel
	aligner   *scoring.Aligner
	snapshots *export.SnapshotWriter
	logger    logging.Logger
}

// NewAnalyzer builds an analyzer. A nil cfg uses config.Default and a nil m
// uses a YIN model built from cfg.Yin.
func NewAnalyzer(cfg *config.Config, m model.ProbabilityModel) *Analyzer {
	if cfg == nil {
		cfg = config.Default()
	}
	if m == nil {
		m = model.NewYinModel(cfg.Yin)
	}
	return &Analyzer{
		config:  cfg,
		model:   m,
		aligner: scoring.NewAligner(cfg.Aligner),
		logger: logging.WithFields(logging.Fields{
			"component": "analyzer",
		}),
	}
}

// WithSnapshots enables debug snapshots written by w.
func (a *Analyzer) WithSnapshots(w *export.SnapshotWriter) *Analyzer {
	a.snapshots = w
	return a
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() *config.Config {
	return a.config
}

// Track runs the probability model on sig and decodes a stabilized contour.
func (a *Analyzer) Track(ctx context.Context, sig Signal, tracker contour.TrackerConfig) ([]contour.PitchFrame, error) {
	m := sig.Model
	if m == nil {
		m = a.model
	}

	post, err := m.Predict(ctx, sig.Samples, sig.SampleRate)
	if err != nil {
		return nil, err
	}
	if len(post.Rows) == 0 {
		return []contour.PitchFrame{}, nil
	}

	return contour.TrackRows(post.Rows, post.HopSeconds, post.BaseMIDI, tracker).Frames, nil
}

// Analyze scores user against reference. Degenerate input produces empty
// statistics; errors come only from the model or a cancelled ctx.
func (a *Analyzer) Analyze(ctx context.Context, reference, user Signal, session Session) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	ctx = logging.ContextWithFields(ctx, logging.Fields{"run_id": id})
	logger := a.logger.WithContext(ctx)

	if session.Rhythm != nil {
		if err := session.Rhythm.Validate(); err != nil {
			return nil, fmt.Errorf("%w: rhythm: %v", config.ErrInvalidConfig, err)
		}
	}

	tracker := a.config.Tracker
	if session.ClarityThreshold > 0 {
		tracker.Decoder.ClarityThreshold = session.ClarityThreshold
	}
	scoreCfg := a.config.Score
	if session.ToleranceCents > 0 {
		scoreCfg.ToleranceCents = session.ToleranceCents
	}

	refFrames, err := a.Track(ctx, reference, tracker)
	if err != nil {
		return nil, fmt.Errorf("reference contour: %w", err)
	}
	userFrames, err := a.Track(ctx, user, tracker)
	if err != nil {
		return nil, fmt.Errorf("user contour: %w", err)
	}

	result := &Result{
		ID:      id,
		Session: session,
	}

	if reference.SampleRate == user.SampleRate {
		result.Alignment = a.aligner.Estimate(reference.Samples, user.Samples, reference.SampleRate)
	} else {
		logger.Warn("Sample rates differ, skipping automatic alignment", logging.Fields{
			"reference_rate": reference.SampleRate,
			"user_rate":      user.SampleRate,
		})
	}
	result.TotalOffsetMs = result.Alignment.OffsetMs + session.ManualOffsetMs
	offsetSec := result.TotalOffsetMs / 1000

	strategy := notes.StrategyFor(session.Rhythm)
	result.Strategy = strategy.String()

	if strategy == notes.GridMerge {
		refCells := rhythm.Quantize(refFrames, *session.Rhythm)
		userCells := rhythm.Quantize(userFrames, *session.Rhythm)
		seq := rhythm.Impute(userCells, refCells, offsetSec, a.config.Imputation)

		imputed := scoring.Score(refCells, seq.Imputed, offsetSec, scoreCfg)
		result.Reference, result.User = refCells, seq.Observed
		result.Imputation = &seq
		result.Observed = scoring.Score(refCells, seq.Observed, offsetSec, scoreCfg)
		result.Imputed = &imputed
		result.CoverageInflated = seq.CoverageInflated()
	} else {
		result.Reference, result.User = refFrames, userFrames
		result.Observed = scoring.Score(refFrames, userFrames, offsetSec, scoreCfg)
	}

	if err := a.segment(ctx, result, strategy); err != nil {
		return nil, err
	}
	result.ReferenceNotes = notes.Segment(result.Reference, strategy, a.config.Segmentation)
	result.Elapsed = time.Since(start)

	logger.Info("Analysis completed", logging.Fields{
		"strategy":          result.Strategy,
		"offset_ms":         result.TotalOffsetMs,
		"alignment_valid":   result.Alignment.Valid,
		"mean_abs_cents":    result.Observed.Stats.MeanAbsCents,
		"pass_ratio":        result.Observed.Stats.PassRatio,
		"undetected_ratio":  result.Observed.Stats.UndetectedRatio,
		"coverage_inflated": result.CoverageInflated,
		"notes":             len(result.Notes),
		"elapsed_ms":        result.Elapsed.Milliseconds(),
	})

	a.snapshot(logger, result)
	return result, nil
}

// segment derives preview notes from the observed user sequence. Imputed
// cells are never segmented.
func (a *Analyzer) segment(ctx context.Context, result *Result, strategy notes.Strategy) error {
	if strategy == notes.ContinuityGreedy && a.config.Optimize {
		opt, err := notes.Optimize(ctx, result.User, a.config.Optimizer)
		if err != nil {
			return fmt.Errorf("note optimization: %w", err)
		}
		result.Notes, result.NoteOptions, result.NoteDebug, result.NotePass = opt.Notes, opt.Options, opt.Debug, opt.Pass
		return nil
	}

	result.NoteOptions = a.config.Segmentation
	result.Notes = notes.Segment(result.User, strategy, result.NoteOptions)
	result.NoteDebug = a.config.Optimizer.Objective.Evaluate(result.User, result.Notes)
	return nil
}

// snapshot hands the run to the snapshot writer without waiting for it.
func (a *Analyzer) snapshot(logger logging.Logger, result *Result) {
	if a.snapshots == nil {
		return
	}

	snap := &export.Snapshot{
		ID:           result.ID,
		Reference:    slices.Clone(result.Reference),
		UserObserved: slices.Clone(result.User),
		OffsetMs:     result.TotalOffsetMs,
		Options:      result.NoteOptions,
		Debug:        result.NoteDebug,
		Notes:        slices.Clone(result.Notes),
	}
	if result.Imputation != nil {
		snap.UserImputed = slices.Clone(result.Imputation.Imputed)
		snap.Kinds = slices.Clone(result.Imputation.Kinds)
	}

	a.snapshots.Go(snap, func(path string, err error) {
		if err != nil {
			logger.Warn("Snapshot write failed", logging.Fields{"error": err.Error()})
			return
		}
		logger.Debug("Snapshot written", logging.Fields{"path": path})
	})
}
