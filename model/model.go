// Package model defines the pitch probability model contract and two
// implementations: a YIN posteriorgram estimator and a reader for rows
// produced offline.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrModelUnavailable is returned when a model cannot produce rows at all.
var ErrModelUnavailable = errors.New("probability model unavailable")

// Posteriorgram holds one probability row per hop. Row index i maps to MIDI
// note BaseMIDI + i.
type Posteriorgram struct {
	Rows       [][]float64 `json:"rows"`
	HopSeconds float64     `json:"hopSeconds"`
	BaseMIDI   int         `json:"baseMIDI"`
}

// Validate checks the row layout and value ranges.
func (p *Posteriorgram) Validate() error {
	if p == nil {
		return errors.New("nil posteriorgram")
	}
	if !(p.HopSeconds > 0) {
		return fmt.Errorf("hop must be positive, got %v", p.HopSeconds)
	}
	if p.BaseMIDI < 0 {
		return fmt.Errorf("base MIDI note must not be negative, got %d", p.BaseMIDI)
	}
	width := -1
	for i, row := range p.Rows {
		if width >= 0 && len(row) != width {
			return fmt.Errorf("row %d has %d bins, expected %d", i, len(row), width)
		}
		width = len(row)
		for j, v := range row {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return fmt.Errorf("row %d bin %d out of range: %v", i, j, v)
			}
		}
	}
	return nil
}

// Duration returns the time covered by the rows.
func (p *Posteriorgram) Duration() float64 {
	return float64(len(p.Rows)) * p.HopSeconds
}

// ProbabilityModel turns a mono signal into a posteriorgram.
type ProbabilityModel interface {
	Predict(ctx context.Context, samples []float64, sampleRate int) (*Posteriorgram, error)
}
