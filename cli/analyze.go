package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-vocal/analysis"
	"github.com/RyanBlaney/sonido-vocal/export"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/model"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

type analyzeOptions struct {
	reference string
	user      string

	bpm           float64
	subdivisions  int
	clickOffsetMs float64

	manualOffsetMs   float64
	toleranceCents   float64
	clarityThreshold float64

	referenceProbs string
	userProbs      string
	hold           bool

	output      string
	midiOut     string
	snapshotDir string
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a sung take against a reference recording",
		Example: `  vocalscore analyze --reference ref.wav --user take.wav
  vocalscore analyze --reference ref.wav --user take.wav --bpm 96 --subdivisions 4 --midi-out take.mid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.reference, "reference", "", "reference recording (required)")
	f.StringVar(&opts.user, "user", "", "sung take (required)")
	f.Float64Var(&opts.bpm, "bpm", 0, "tempo of the rhythm grid; 0 disables the grid")
	f.IntVar(&opts.subdivisions, "subdivisions", 4, "grid cells per beat")
	f.Float64Var(&opts.clickOffsetMs, "click-offset-ms", 0, "time of the first click")
	f.Float64Var(&opts.manualOffsetMs, "manual-offset-ms", 0, "added to the estimated user latency")
	f.Float64Var(&opts.toleranceCents, "tolerance-cents", 0, "pass tolerance; 0 keeps the configured value")
	f.Float64Var(&opts.clarityThreshold, "clarity-threshold", 0, "decoder clarity threshold; 0 keeps the configured value")
	f.StringVar(&opts.referenceProbs, "reference-probs", "", "precomputed posteriorgram JSON for the reference")
	f.StringVar(&opts.userProbs, "user-probs", "", "precomputed posteriorgram JSON for the take")
	f.BoolVar(&opts.hold, "hold", false, "enable reference-guided hold (inflates coverage)")
	f.StringVarP(&opts.output, "output", "o", "-", "result JSON path")
	f.StringVar(&opts.midiOut, "midi-out", "", "write the take's notes as a MIDI file")
	f.StringVar(&opts.snapshotDir, "snapshot-dir", "", "write a debug snapshot into this directory")
	cmd.MarkFlagRequired("reference")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := root.config
	if cmd.Flags().Changed("hold") {
		cfg.Imputation.ReferenceGuidedHold = opts.hold
	}

	decoder := transcode.NewDecoder(&cfg.Decoder)
	reference, err := loadSignal(ctx, decoder, opts.reference, opts.referenceProbs)
	if err != nil {
		return err
	}
	user, err := loadSignal(ctx, decoder, opts.user, opts.userProbs)
	if err != nil {
		return err
	}

	session := analysis.Session{
		ToleranceCents:   opts.toleranceCents,
		ClarityThreshold: opts.clarityThreshold,
		ManualOffsetMs:   opts.manualOffsetMs,
	}
	if opts.bpm > 0 {
		session.Rhythm = &rhythm.Config{
			BPM:                 opts.bpm,
			SubdivisionsPerBeat: opts.subdivisions,
			ClickOffsetMs:       opts.clickOffsetMs,
		}
	}

	analyzer := analysis.NewAnalyzer(cfg, nil)
	var snapshots *export.SnapshotWriter
	if opts.snapshotDir != "" {
		snapshots = export.NewSnapshotWriter(opts.snapshotDir)
		analyzer.WithSnapshots(snapshots)
		defer snapshots.Wait()
	}

	result, err := analyzer.Analyze(ctx, reference, user, session)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if result.CoverageInflated {
		logging.Warn("Reference-guided hold filled cells; imputed coverage is not the singer's own", logging.Fields{
			"held_cells": result.Imputation.HeldCells,
		})
	}

	if opts.midiOut != "" {
		midiOpts := cfg.MIDI
		if session.Rhythm != nil {
			midiOpts.BPM = session.Rhythm.BPM
		}
		if err := export.WriteMIDIFile(opts.midiOut, result.Notes, midiOpts); err != nil {
			return err
		}
	}

	return writeOutput(cmd.OutOrStdout(), opts.output, result)
}

// loadSignal decodes path to mono. probsPath, when set, replaces the model
// for this signal.
func loadSignal(ctx context.Context, decoder *transcode.Decoder, path, probsPath string) (analysis.Signal, error) {
	audio, err := decoder.DecodeFile(ctx, path)
	if err != nil {
		return analysis.Signal{}, fmt.Errorf("failed to load %s: %w", path, err)
	}

	sig := analysis.Signal{
		Samples:    audio.Mono(),
		SampleRate: audio.SampleRate,
	}
	if probsPath != "" {
		sig.Model = model.NewFileModel(probsPath)
	}
	return sig, nil
}
