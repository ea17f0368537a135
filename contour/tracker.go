package contour

// TrackerConfig bundles the three stages that turn probability rows into a
// pitch contour.
type TrackerConfig struct {
	Candidates CandidateConfig  `json:"candidates"`
	Decoder    DecoderConfig    `json:"decoder"`
	Stabilizer StabilizerConfig `json:"stabilizer"`
}

// DefaultTrackerConfig returns defaults for every stage.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Candidates: DefaultCandidateConfig(),
		Decoder:    DefaultDecoderConfig(),
		Stabilizer: DefaultStabilizerConfig(),
	}
}

// Track is the result of running the full contour pipeline on one signal.
type Track struct {
	Raw        DecodePath   `json:"-"`
	Stabilized DecodePath   `json:"-"`
	Frames     []PitchFrame `json:"frames"`
}

// TrackRows decodes and stabilizes probability rows spaced hopSec apart.
// baseMIDI overrides the configured base note when positive.
func TrackRows(rows [][]float64, hopSec float64, baseMIDI int, cfg TrackerConfig) Track {
	candCfg := cfg.Candidates
	if baseMIDI > 0 {
		candCfg.BaseMIDI = baseMIDI
	}

	raw := Decode(BuildAllCandidates(rows, candCfg), cfg.Decoder)
	stable := Stabilize(raw, cfg.Stabilizer)

	return Track{
		Raw:        raw,
		Stabilized: stable,
		Frames:     PathToFrames(stable, hopSec),
	}
}
