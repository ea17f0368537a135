package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/RyanBlaney/sonido-vocal/logging"
)

// FileModel replays a posteriorgram computed elsewhere, e.g. by a neural
// pitch network run out of process. The input signal is ignored.
type FileModel struct {
	path   string
	logger logging.Logger
}

// NewFileModel returns a model that reads rows from path on every Predict.
func NewFileModel(path string) *FileModel {
	return &FileModel{
		path: path,
		logger: logging.WithFields(logging.Fields{
			"component": "file_model",
			"path":      path,
		}),
	}
}

// Predict implements ProbabilityModel.
func (m *FileModel) Predict(ctx context.Context, _ []float64, _ int) (*Posteriorgram, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return nil, fmt.Errorf("failed to open posteriorgram: %w", err)
	}
	defer f.Close()

	post, err := ReadPosteriorgram(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}

	m.logger.Debug("Loaded posteriorgram", logging.Fields{
		"rows":        len(post.Rows),
		"hop_seconds": post.HopSeconds,
	})
	return post, nil
}

// ReadPosteriorgram decodes and validates a JSON posteriorgram.
func ReadPosteriorgram(r io.Reader) (*Posteriorgram, error) {
	var post Posteriorgram
	if err := json.NewDecoder(r).Decode(&post); err != nil {
		return nil, fmt.Errorf("%w: malformed posteriorgram: %v", ErrModelUnavailable, err)
	}
	if err := post.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &post, nil
}
