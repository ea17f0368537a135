package server

import (
	"errors"
	"net/http"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
	"github.com/RyanBlaney/sonido-vocal/scoring"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

// checkFrames rejects contours that are out of time order or that would
// spread over more grid cells than rhythm.MaxCells.
func checkFrames(grid *rhythm.Config, seqs ...[]contour.PitchFrame) error {
	for _, frames := range seqs {
		if err := contour.CheckOrdered(frames); err != nil {
			return err
		}
		if grid != nil {
			if err := rhythm.CheckSpan(frames, *grid); err != nil {
				return err
			}
		}
	}
	return nil
}

type segmentRequest struct {
	Frames []contour.PitchFrame `json:"frames"`
	Rhythm *rhythm.Config       `json:"rhythm,omitempty"`

	// Optimize defaults to the server configuration
	Optimize *bool                      `json:"optimize,omitempty"`
	Options  *notes.SegmentationOptions `json:"options,omitempty"`
}

type segmentResponse struct {
	Strategy string                       `json:"strategy"`
	Notes    []notes.NoteEvent            `json:"notes"`
	Options  notes.SegmentationOptions    `json:"options"`
	Debug    notes.SegmentationDebugScore `json:"debug"`
	Pass     notes.Pass                   `json:"pass,omitempty"`
	Tried    int                          `json:"tried"`
}

// handleSegment cuts a contour into notes. With a rhythm grid the frames
// are quantized first and merged cell by cell.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rhythm != nil {
		if err := req.Rhythm.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := checkFrames(req.Rhythm, req.Frames); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := s.config.Segmentation
	if req.Options != nil {
		opts = *req.Options
	}
	optimize := s.config.Optimize
	if req.Optimize != nil {
		optimize = *req.Optimize
	}

	strategy := notes.StrategyFor(req.Rhythm)
	resp := segmentResponse{Strategy: strategy.String(), Options: opts, Tried: 1}

	switch {
	case strategy == notes.GridMerge:
		cells := rhythm.Quantize(req.Frames, *req.Rhythm)
		resp.Notes = notes.Segment(cells, strategy, opts)
		resp.Debug = s.config.Optimizer.Objective.Evaluate(cells, resp.Notes)

	case optimize:
		cfg := s.config.Optimizer
		if req.Options != nil {
			cfg.Base = opts
		}
		res, err := notes.Optimize(r.Context(), req.Frames, cfg)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, r.Context().Err()) {
				status = http.StatusServiceUnavailable
			}
			logging.WithContext(r.Context()).Error(err, "Segmentation search failed")
			writeError(w, status, err)
			return
		}
		resp.Notes, resp.Options, resp.Debug, resp.Pass, resp.Tried = res.Notes, res.Options, res.Debug, res.Pass, res.Tried

	default:
		resp.Notes = notes.Segment(req.Frames, strategy, opts)
		resp.Debug = s.config.Optimizer.Objective.Evaluate(req.Frames, resp.Notes)
	}

	if resp.Notes == nil {
		resp.Notes = []notes.NoteEvent{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type scoreRequest struct {
	Reference      []contour.PitchFrame `json:"reference"`
	User           []contour.PitchFrame `json:"user"`
	OffsetMs       float64              `json:"offsetMs"`
	ToleranceCents float64              `json:"toleranceCents,omitempty"`
	Rhythm         *rhythm.Config       `json:"rhythm,omitempty"`
}

type scoreResponse struct {
	Observed         scoring.Report          `json:"observed"`
	Imputed          *scoring.Report         `json:"imputed,omitempty"`
	Imputation       *rhythm.ImputedSequence `json:"imputation,omitempty"`
	CoverageInflated bool                    `json:"coverageInflated"`
}

// handleScore compares two contours at a known offset.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rhythm != nil {
		if err := req.Rhythm.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := checkFrames(req.Rhythm, req.Reference, req.User); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := s.config.Score
	if req.ToleranceCents > 0 {
		cfg.ToleranceCents = req.ToleranceCents
	}
	offsetSec := req.OffsetMs / 1000

	var resp scoreResponse
	if req.Rhythm != nil {
		refCells := rhythm.Quantize(req.Reference, *req.Rhythm)
		seq := rhythm.Impute(rhythm.Quantize(req.User, *req.Rhythm), refCells, offsetSec, s.config.Imputation)
		imputed := scoring.Score(refCells, seq.Imputed, offsetSec, cfg)

		resp.Observed = scoring.Score(refCells, seq.Observed, offsetSec, cfg)
		resp.Imputed = &imputed
		resp.Imputation = &seq
		resp.CoverageInflated = seq.CoverageInflated()
	} else {
		resp.Observed = scoring.Score(req.Reference, req.User, offsetSec, cfg)
	}

	writeJSON(w, http.StatusOK, resp)
}

type quantizeRequest struct {
	Frames []contour.PitchFrame `json:"frames"`
	Rhythm rhythm.Config        `json:"rhythm"`
}

type quantizeResponse struct {
	CellWidthSec float64              `json:"cellWidthSec"`
	Cells        []contour.PitchFrame `json:"cells"`
}

func (s *Server) handleQuantize(w http.ResponseWriter, r *http.Request) {
	var req quantizeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Rhythm.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := checkFrames(&req.Rhythm, req.Frames); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, quantizeResponse{
		CellWidthSec: req.Rhythm.CellWidth(),
		Cells:        rhythm.Quantize(req.Frames, req.Rhythm),
	})
}

type alignRequest struct {
	Reference  []float64 `json:"reference"`
	User       []float64 `json:"user"`
	SampleRate int       `json:"sampleRate"`
}

// handleAlign estimates the user's latency from two mono signals.
func (s *Server) handleAlign(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SampleRate <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("sampleRate must be positive"))
		return
	}

	writeJSON(w, http.StatusOK, scoring.NewAligner(s.config.Aligner).Estimate(req.Reference, req.User, req.SampleRate))
}
