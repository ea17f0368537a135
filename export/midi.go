// Package export writes analysis output for offline inspection: JSON debug
// snapshots and Standard MIDI Files.
package export

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/RyanBlaney/sonido-vocal/notes"
)

// MIDIOptions controls Standard MIDI File output.
type MIDIOptions struct {
	BPM        float64 `json:"bpm"`
	Resolution uint16  `json:"resolution"`
	Channel    uint8   `json:"channel"`
	TrackName  string  `json:"track_name"`
}

// DefaultMIDIOptions returns 120 BPM at 960 ticks per quarter on channel 1.
func DefaultMIDIOptions() MIDIOptions {
	return MIDIOptions{
		BPM:        120,
		Resolution: 960,
		Channel:    0,
		TrackName:  "vocal",
	}
}

type midiEvent struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// WriteMIDI writes a single-track SMF holding one note per event. Notes
// outside the MIDI key range are skipped.
func WriteMIDI(w io.Writer, events []notes.NoteEvent, opts MIDIOptions) error {
	if opts.BPM <= 0 {
		opts.BPM = DefaultMIDIOptions().BPM
	}
	if opts.Resolution == 0 {
		opts.Resolution = DefaultMIDIOptions().Resolution
	}
	if opts.Channel > 15 {
		return fmt.Errorf("MIDI channel out of range: %d", opts.Channel)
	}

	ticksPerSec := opts.BPM / 60 * float64(opts.Resolution)
	toTick := func(sec float64) uint32 {
		return uint32(math.Round(max(0, sec) * ticksPerSec))
	}

	var timeline []midiEvent
	for _, n := range events {
		if n.PitchClass < 0 || n.PitchClass > 127 || n.EndSec <= n.StartSec {
			continue
		}
		start, end := toTick(n.StartSec), toTick(n.EndSec)
		if end <= start {
			end = start + 1
		}
		vel := uint8(min(127, max(1, n.Velocity)))
		timeline = append(timeline,
			midiEvent{tick: start, on: true, key: uint8(n.PitchClass), vel: vel},
			midiEvent{tick: end, on: false, key: uint8(n.PitchClass)},
		)
	}

	// note-offs sort ahead of note-ons on the same tick
	sort.SliceStable(timeline, func(i, j int) bool {
		if timeline[i].tick != timeline[j].tick {
			return timeline[i].tick < timeline[j].tick
		}
		return !timeline[i].on && timeline[j].on
	})

	var track smf.Track
	if opts.TrackName != "" {
		track.Add(0, smf.MetaTrackSequenceName(opts.TrackName))
	}
	track.Add(0, smf.MetaTempo(opts.BPM))

	var last uint32
	for _, ev := range timeline {
		msg := midi.NoteOff(opts.Channel, ev.key)
		if ev.on {
			msg = midi.NoteOn(opts.Channel, ev.key, ev.vel)
		}
		track.Add(ev.tick-last, msg)
		last = ev.tick
	}
	track.Close(0)

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(opts.Resolution)
	if err := file.Add(track); err != nil {
		return fmt.Errorf("failed to add MIDI track: %w", err)
	}
	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write MIDI file: %w", err)
	}
	return nil
}

// WriteMIDIFile writes events to path, replacing any existing file.
func WriteMIDIFile(path string, events []notes.NoteEvent, opts MIDIOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create MIDI file: %w", err)
	}
	if err := WriteMIDI(f, events, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
