package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/export"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
)

type segmentOptions struct {
	frames        string
	bpm           float64
	subdivisions  int
	clickOffsetMs float64
	noOptimize    bool
	output        string
	midiOut       string
}

type segmentOutput struct {
	Strategy string                       `json:"strategy"`
	Notes    []notes.NoteEvent            `json:"notes"`
	Options  notes.SegmentationOptions    `json:"options"`
	Debug    notes.SegmentationDebugScore `json:"debug"`
	Pass     notes.Pass                   `json:"pass,omitempty"`
}

func newSegmentCommand(root *rootOptions) *cobra.Command {
	opts := &segmentOptions{}

	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Cut a pitch contour into notes",
		Long: `segment reads pitch frames as JSON, either a bare array or an object with
a "frames" field, and prints the note events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.frames, "frames", "", "pitch frame JSON (required)")
	f.Float64Var(&opts.bpm, "bpm", 0, "quantize to this tempo and merge cells")
	f.IntVar(&opts.subdivisions, "subdivisions", 4, "grid cells per beat")
	f.Float64Var(&opts.clickOffsetMs, "click-offset-ms", 0, "time of the first click")
	f.BoolVar(&opts.noOptimize, "no-optimize", false, "use the configured options instead of searching")
	f.StringVarP(&opts.output, "output", "o", "-", "result JSON path")
	f.StringVar(&opts.midiOut, "midi-out", "", "write the notes as a MIDI file")
	cmd.MarkFlagRequired("frames")

	return cmd
}

func runSegment(cmd *cobra.Command, root *rootOptions, opts *segmentOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := root.config

	frames, err := readFrames(opts.frames)
	if err != nil {
		return err
	}

	var grid *rhythm.Config
	if opts.bpm > 0 {
		grid = &rhythm.Config{BPM: opts.bpm, SubdivisionsPerBeat: opts.subdivisions, ClickOffsetMs: opts.clickOffsetMs}
		if err := grid.Validate(); err != nil {
			return err
		}
		if err := rhythm.CheckSpan(frames, *grid); err != nil {
			return err
		}
		frames = rhythm.Quantize(frames, *grid)
	}

	strategy := notes.StrategyFor(grid)
	out := segmentOutput{Strategy: strategy.String(), Options: cfg.Segmentation}

	if strategy == notes.ContinuityGreedy && cfg.Optimize && !opts.noOptimize {
		res, err := notes.Optimize(ctx, frames, cfg.Optimizer)
		if err != nil {
			return err
		}
		out.Notes, out.Options, out.Debug, out.Pass = res.Notes, res.Options, res.Debug, res.Pass
	} else {
		out.Notes = notes.Segment(frames, strategy, out.Options)
		out.Debug = cfg.Optimizer.Objective.Evaluate(frames, out.Notes)
	}

	if opts.midiOut != "" {
		midiOpts := cfg.MIDI
		if grid != nil {
			midiOpts.BPM = grid.BPM
		}
		if err := export.WriteMIDIFile(opts.midiOut, out.Notes, midiOpts); err != nil {
			return err
		}
	}

	return writeOutput(cmd.OutOrStdout(), opts.output, out)
}

// readFrames accepts a JSON array of frames or an object with a frames key,
// such as a snapshot or an analyze result's user track.
func readFrames(path string) ([]contour.PitchFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}

	var frames []contour.PitchFrame
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &frames)
	} else {
		var wrapped struct {
			Frames []contour.PitchFrame `json:"frames"`
		}
		err = json.Unmarshal(data, &wrapped)
		frames = wrapped.Frames
	}
	if err != nil {
		return nil, fmt.Errorf("%s: malformed frames: %w", path, err)
	}
	if err := contour.CheckOrdered(frames); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frames, nil
}
