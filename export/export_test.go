package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
)

type noteOn struct {
	tick uint64
	key  uint8
	vel  uint8
}

func readNotes(t *testing.T, data []byte) (ons []noteOn, offs []uint64) {
	t.Helper()
	file, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, file.Tracks, 1)

	var abs uint64
	for _, ev := range file.Tracks[0] {
		abs += uint64(ev.Delta)
		var ch, key, vel uint8
		msg := midi.Message(ev.Message)
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			ons = append(ons, noteOn{tick: abs, key: key, vel: vel})
		case msg.GetNoteEnd(&ch, &key):
			offs = append(offs, abs)
		}
	}
	return ons, offs
}

func TestWriteMIDI(t *testing.T) {
	events := []notes.NoteEvent{
		{PitchClass: 60, StartSec: 0, EndSec: 0.5, Velocity: 100},
		{PitchClass: 62, StartSec: 0.5, EndSec: 1.0, Velocity: 80},
		{PitchClass: 200, StartSec: 1.0, EndSec: 1.5, Velocity: 80},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMIDI(&buf, events, DefaultMIDIOptions()))

	ons, offs := readNotes(t, buf.Bytes())
	// 120 BPM at 960 PPQ is 1920 ticks per second
	assert.Equal(t, []noteOn{{0, 60, 100}, {960, 62, 80}}, ons)
	assert.Equal(t, []uint64{960, 1920}, offs)
}

func TestWriteMIDIRejectsBadChannel(t *testing.T) {
	opts := DefaultMIDIOptions()
	opts.Channel = 16
	assert.Error(t, WriteMIDI(&bytes.Buffer{}, nil, opts))
}

func TestWriteMIDIFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.mid")
	require.NoError(t, WriteMIDIFile(path, []notes.NoteEvent{{PitchClass: 57, StartSec: 0.25, EndSec: 0.75, Velocity: 64}}, MIDIOptions{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	ons, _ := readNotes(t, data)
	assert.Equal(t, []noteOn{{480, 57, 64}}, ons)
}

func TestSnapshotWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	w := NewSnapshotWriter(dir)
	w.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	snap := &Snapshot{
		Reference:    []contour.PitchFrame{{TimeSec: 0, Hz: 440, Clarity: 1}},
		UserObserved: []contour.PitchFrame{{TimeSec: 0}},
		UserImputed:  []contour.PitchFrame{{TimeSec: 0, Hz: 440, Clarity: 0.6}},
		Kinds:        []rhythm.ImputationKind{rhythm.KindHeld},
		OffsetMs:     -12.5,
		Options:      notes.DefaultSegmentationOptions(),
		Notes:        []notes.NoteEvent{{PitchClass: 69, StartSec: 0, EndSec: 0.5, Velocity: 90}},
	}

	type outcome struct {
		path string
		err  error
	}
	done := make(chan outcome, 1)
	w.Go(snap, func(path string, err error) { done <- outcome{path, err} })
	w.Wait()

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, filepath.Join(dir, snap.ID+".json"), got.path)
	assert.NotEmpty(t, snap.ID)

	loaded, err := ReadSnapshot(got.path)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, w.now(), loaded.CreatedAt)
	assert.Equal(t, []rhythm.ImputationKind{rhythm.KindHeld}, loaded.Kinds)
	assert.False(t, loaded.UserObserved[0].Voiced())
	assert.Equal(t, snap.Notes, loaded.Notes)
	assert.Equal(t, snap.Options, loaded.Options)
}

func TestSnapshotWriterFailureIsReported(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w := NewSnapshotWriter(filepath.Join(blocker, "sub"))
	var got error
	w.Go(&Snapshot{}, func(_ string, err error) { got = err })
	w.Wait()

	assert.Error(t, got)
}
