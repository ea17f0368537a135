package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Imputation.ReferenceGuidedHold, "hold must be opt-in")
	assert.True(t, cfg.Optimize)
}

func TestLoadOverlay(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{
		"score": {"tolerance_cents": 25},
		"imputation": {"reference_guided_hold": true},
		"logging": {"level": "debug", "format": "json"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Score.ToleranceCents)
	assert.Equal(t, Default().Score.TopSegments, cfg.Score.TopSegments, "unset fields keep defaults")
	assert.True(t, cfg.Imputation.ReferenceGuidedHold)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown key", `{"scroe": {}}`},
		{"malformed", `{"score": `},
		{"zero tolerance", `{"score": {"tolerance_cents": 0}}`},
		{"bad discount", `{"imputation": {"confidence_discount": 1.5}}`},
		{"bad log format", `{"logging": {"format": "xml"}}`},
		{"empty yin range", `{"yin": {"min_freq": 500, "max_freq": 100}}`},
		{"empty grid", `{"optimizer": {"grid": {"minNoteSec": []}}}`},
		{"bad decoder", `{"decoder": {"target_sample_rate": 0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.json))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Score.ToleranceCents = 0
	cfg.MIDI.Channel = 20

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "tolerance_cents")
	assert.Contains(t, err.Error(), "channel")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocal.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"optimize": false}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Optimize)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", logging.Fields{"k": 1})
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	cfg.Logging.Format = LogFormatJSON
	logger, err = cfg.NewLogger(&buf)
	require.NoError(t, err)
	assert.IsType(t, &logging.ZapLogger{}, logger)
}
