package transcode

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestDecodeWAVStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	writeWAV(t, path, 8000, 2, []int{16384, 0, -16384, -16384, 8192, 24576, 0, 0})

	data, err := NewDecoder(nil).DecodeFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 8000, data.SampleRate)
	assert.Equal(t, 2, data.Channels)
	require.Len(t, data.PCM, 8)
	assert.InDelta(t, 0.5, data.PCM[0], 1e-9)
	assert.InDelta(t, -0.5, data.PCM[2], 1e-9)

	mono := data.Mono()
	require.Len(t, mono, 4)
	assert.InDelta(t, 0.25, mono[0], 1e-9)
	assert.InDelta(t, -0.5, mono[1], 1e-9)
	assert.InDelta(t, 0.5, mono[2], 1e-9)
	assert.Equal(t, path, data.Source)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0o644))

	_, err := NewDecoder(nil).DecodeFile(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecodeWithoutFFmpeg(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.FFmpegPath = filepath.Join(t.TempDir(), "no-such-ffmpeg")

	_, err := NewDecoder(cfg).DecodeFile(context.Background(), "take.mp3")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Downmix([]float64{1, 2, 3}, 1))
	assert.Equal(t, []float64{1.5, 3.5}, Downmix([]float64{1, 2, 3, 4}, 2))
	assert.Equal(t, []float64{2}, Downmix([]float64{1, 2, 3, 9}, 3), "partial frames are dropped")
	assert.Empty(t, Downmix(nil, 2))
}

func TestBytesToFloat64(t *testing.T) {
	raw := make([]byte, 17)
	binary.LittleEndian.PutUint64(raw[0:], math.Float64bits(0.25))
	binary.LittleEndian.PutUint64(raw[8:], math.Float64bits(-1))

	assert.Equal(t, []float64{0.25, -1}, bytesToFloat64(raw))
	assert.Empty(t, bytesToFloat64(nil))
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, NewDecoder(nil).ValidateConfig())
	assert.Error(t, NewDecoder(&DecoderConfig{TargetSampleRate: 0, TargetChannels: 1}).ValidateConfig())
}
