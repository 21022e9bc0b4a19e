//go:build rtmidi

package main

// Registers the RtMidi driver so play can open hardware and virtual ports.
// Building with it needs cgo and the platform's MIDI headers.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
