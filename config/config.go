// Package config aggregates the settings of every pipeline stage and loads
// overrides from JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/export"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/model"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
	"github.com/RyanBlaney/sonido-vocal/scoring"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// LogFormat selects the logging backend
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LoggingConfig controls the global logger
type LoggingConfig struct {
	Level  string    `json:"level"`
	Format LogFormat `json:"format"`
	Colors bool      `json:"colors"`
}

// Config holds every tunable of an analysis run.
type Config struct {
	Decoder      transcode.DecoderConfig   `json:"decoder"`
	Yin          model.YinParams           `json:"yin"`
	Tracker      contour.TrackerConfig     `json:"tracker"`
	Aligner      scoring.AlignerConfig     `json:"aligner"`
	Score        scoring.ScoreConfig       `json:"score"`
	Imputation   rhythm.ImputationConfig   `json:"imputation"`
	Segmentation notes.SegmentationOptions `json:"segmentation"`

	// Optimize runs the parameter search instead of using Segmentation as is
	Optimize  bool                  `json:"optimize"`
	Optimizer notes.OptimizerConfig `json:"optimizer"`

	MIDI    export.MIDIOptions `json:"midi"`
	Logging LoggingConfig      `json:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Decoder:      *transcode.DefaultDecoderConfig(),
		Yin:          model.DefaultYinParams(),
		Tracker:      contour.DefaultTrackerConfig(),
		Aligner:      scoring.DefaultAlignerConfig(),
		Score:        scoring.DefaultScoreConfig(),
		Imputation:   rhythm.DefaultImputationConfig(),
		Segmentation: notes.DefaultSegmentationOptions(),
		Optimize:     true,
		Optimizer:    notes.DefaultOptimizerConfig(),
		MIDI:         export.DefaultMIDIOptions(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Load overlays JSON from r onto the defaults and validates the result.
// Unknown keys are rejected so typos do not silently fall back.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a JSON configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints the stages rely on.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if err := transcode.NewDecoder(&c.Decoder).ValidateConfig(); err != nil {
		errs = append(errs, fmt.Errorf("decoder: %w", err))
	}

	check(c.Yin.MinFreq > 0 && c.Yin.MaxFreq > c.Yin.MinFreq, "yin: frequency range [%v, %v] is empty", c.Yin.MinFreq, c.Yin.MaxFreq)
	check(c.Yin.HopSeconds > 0, "yin: hop_seconds must be positive")
	check(c.Yin.Bins > 0, "yin: bins must be positive")
	check(c.Yin.DCCutoffHz >= 0, "yin: dc_cutoff_hz must not be negative")

	check(c.Tracker.Candidates.TopK > 0, "tracker: top_k must be positive")
	check(c.Tracker.Stabilizer.MaxGapFrames >= 0, "tracker: max_gap_frames must not be negative")

	check(c.Aligner.WindowSize > 0 && c.Aligner.HopSize > 0, "aligner: window and hop must be positive")
	check(c.Aligner.MaxLagSec >= 0, "aligner: max_lag_sec must not be negative")

	check(c.Score.ToleranceCents > 0, "score: tolerance_cents must be positive")
	check(c.Score.TopSegments >= 0, "score: top_segments must not be negative")
	check(c.Score.MaxMatchGapSec >= 0, "score: max_match_gap_sec must not be negative")

	check(c.Imputation.MaxGapCells >= 0, "imputation: max_gap_cells must not be negative")
	check(c.Imputation.HoldBudget >= 0, "imputation: hold_budget must not be negative")
	check(c.Imputation.ConfidenceDiscount >= 0 && c.Imputation.ConfidenceDiscount <= 1,
		"imputation: confidence_discount must be in [0, 1]")

	check(c.Segmentation.MinNoteSec >= 0, "segmentation: minNoteSec must not be negative")
	check(c.Segmentation.MedianWindow >= 1 && c.Segmentation.SmoothWindow >= 1, "segmentation: windows must be at least 1")

	if c.Optimize {
		check(c.Optimizer.Grid.Size() > 0, "optimizer: grid has no combinations")
	}

	check(c.MIDI.Channel <= 15, "midi: channel must be in [0, 15]")

	check(c.Logging.Format == LogFormatText || c.Logging.Format == LogFormatJSON,
		"logging: unknown format %q", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the logger described by c.Logging. Text output goes to
// w so command output on stdout stays clean.
func (c *Config) NewLogger(w io.Writer) (logging.Logger, error) {
	var logger logging.Logger
	switch c.Logging.Format {
	case LogFormatJSON:
		z, err := logging.NewZapLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to build zap logger: %w", err)
		}
		logger = z
	default:
		d := logging.NewDefaultLoggerWithWriters(w, w)
		d.SetColors(c.Logging.Colors)
		logger = d
	}
	logger.SetLevel(logging.ParseLevel(c.Logging.Level))
	return logger, nil
}
