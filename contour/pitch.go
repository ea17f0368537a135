package contour

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/algorithms/common"
)

// A4 reference used for every Hz <-> MIDI conversion.
const (
	A4Hz   = 440.0
	A4MIDI = 69.0
)

// HzToMIDI converts a frequency to a fractional MIDI note number.
func HzToMIDI(hz float64) float64 {
	return A4MIDI + 12*math.Log2(hz/A4Hz)
}

// MIDIToHz converts a (fractional) MIDI note number to Hz.
func MIDIToHz(midi float64) float64 {
	return A4Hz * math.Pow(2, (midi-A4MIDI)/12)
}

// Cents returns 1200·log2(hz/refHz), 0 when either input is not positive.
func Cents(hz, refHz float64) float64 {
	if hz <= 0 || refHz <= 0 {
		return 0
	}
	return common.Finite(1200 * math.Log2(hz/refHz))
}
