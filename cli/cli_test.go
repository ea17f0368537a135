package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/model"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func writeSilentWAV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 8000),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func writeProbs(t *testing.T, path string, midi, frames int) {
	t.Helper()
	post := model.Posteriorgram{HopSeconds: 0.01, BaseMIDI: 24}
	for range frames {
		row := make([]float64, 72)
		row[midi-24] = 0.9
		post.Rows = append(post.Rows, row)
	}
	data, err := json.Marshal(post)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vocalscore dev\n", out)
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	ref, user := filepath.Join(dir, "ref.wav"), filepath.Join(dir, "user.wav")
	writeSilentWAV(t, ref)
	writeSilentWAV(t, user)
	writeProbs(t, filepath.Join(dir, "ref.json"), 60, 100)
	writeProbs(t, filepath.Join(dir, "user.json"), 61, 100)
	midiPath := filepath.Join(dir, "take.mid")

	out, err := run(t, "analyze",
		"--reference", ref, "--user", user,
		"--reference-probs", filepath.Join(dir, "ref.json"),
		"--user-probs", filepath.Join(dir, "user.json"),
		"--midi-out", midiPath,
		"--snapshot-dir", filepath.Join(dir, "snapshots"),
	)
	require.NoError(t, err)

	var result struct {
		ID       string `json:"id"`
		Observed struct {
			Stats struct {
				MeanAbsCents float64 `json:"meanAbsCents"`
				PassRatio    float64 `json:"passRatio"`
			} `json:"stats"`
		} `json:"observed"`
		Notes []struct {
			PitchClass int `json:"pitchClass"`
		} `json:"notes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.InDelta(t, 100, result.Observed.Stats.MeanAbsCents, 1e-6)
	assert.Zero(t, result.Observed.Stats.PassRatio)
	require.NotEmpty(t, result.Notes)
	assert.Equal(t, 61, result.Notes[0].PitchClass)

	assert.FileExists(t, midiPath)
	assert.FileExists(t, filepath.Join(dir, "snapshots", result.ID+".json"))
}

func TestAnalyzeRequiresInputs(t *testing.T) {
	_, err := run(t, "analyze", "--reference", "ref.wav")
	assert.Error(t, err)
}

func TestAnalyzeMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "analyze", "--reference", filepath.Join(dir, "nope.wav"), "--user", filepath.Join(dir, "nope.wav"))
	assert.Error(t, err)
}

func TestSegmentCommand(t *testing.T) {
	var frames []contour.PitchFrame
	for i := range 60 {
		midi := 60.0
		if i >= 30 {
			midi = 64
		}
		frames = append(frames, contour.PitchFrame{TimeSec: float64(i) * 0.01, Hz: contour.MIDIToHz(midi), Clarity: 1})
	}
	data, err := json.Marshal(map[string]any{"frames": frames})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frames.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := run(t, "segment", "--frames", path)
	require.NoError(t, err)

	var got segmentOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "continuity_greedy", got.Strategy)
	require.NotEmpty(t, got.Notes)
	assert.Equal(t, 60, got.Notes[0].PitchClass)
	assert.Equal(t, 64, got.Notes[len(got.Notes)-1].PitchClass)
}

func TestSegmentCommandGrid(t *testing.T) {
	var frames []contour.PitchFrame
	for i := range 100 {
		frames = append(frames, contour.PitchFrame{TimeSec: float64(i) * 0.01, Hz: 440, Clarity: 1})
	}
	data, err := json.Marshal(frames)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frames.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := run(t, "segment", "--frames", path, "--bpm", "60", "--subdivisions", "4")
	require.NoError(t, err)

	var got segmentOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "grid_merge", got.Strategy)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, 69, got.Notes[0].PitchClass)
	assert.InDelta(t, 1.0, got.Notes[0].EndSec, 1e-9)
}

func TestSegmentCommandRejectsUnorderedFrames(t *testing.T) {
	frames := []contour.PitchFrame{{TimeSec: 0.2, Hz: 440, Clarity: 1}, {TimeSec: 0.1, Hz: 440, Clarity: 1}}
	data, err := json.Marshal(frames)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frames.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = run(t, "segment", "--frames", path)
	assert.ErrorIs(t, err, contour.ErrUnordered)
}

func TestSegmentCommandRejectsHugeGrid(t *testing.T) {
	frames := []contour.PitchFrame{{TimeSec: 0, Hz: 440, Clarity: 1}, {TimeSec: 1e13, Hz: 440, Clarity: 1}}
	data, err := json.Marshal(frames)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frames.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = run(t, "segment", "--frames", path, "--bpm", "120")
	assert.ErrorIs(t, err, rhythm.ErrGridTooLarge)
}

func TestBadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"score": {"tolerance_cents": -1}}`), 0o644))

	_, err := run(t, "version", "--config", path)
	assert.Error(t, err)
}
