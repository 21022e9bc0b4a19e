package score

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/Sumatoshi-tech/beatgrid/pkg/smfexport"
	"github.com/Sumatoshi-tech/beatgrid/pkg/tempo"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
)

// Test constants.
const (
	testStep  = 0.0107
	testDelta = 1e-6
	testPath  = "/scores/groove.yaml"
)

const testScore = `
name: groove
bpm: 120
ppq: 192
time_signature: {numerator: 3, denominator: 4}
midi_clock: true
tempo:
  - {time: 1, bpm: 240}
notes:
  - {at: 1, key: 60}
repeats:
  - {every: 1, key: 36, velocity: 110, channel: 9, duration: 2}
`

// TestParse verifies a valid document decodes with defaults filled in.
func TestParse(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte(testScore))
	require.NoError(t, err)

	assert.Equal(t, "groove", s.Name)
	assert.InDelta(t, 120.0, s.BPM, 0)
	require.Len(t, s.Notes, 1)
	assert.Equal(t, DefaultVelocity, s.Notes[0].Velocity)
	assert.InDelta(t, DefaultLength, s.Notes[0].Length, 0)
	require.Len(t, s.Tempo, 1)
	assert.Equal(t, RampSet, s.Tempo[0].Ramp)
	assert.Equal(t, 110, s.Repeats[0].Velocity)

	opts := s.Options()
	assert.InDelta(t, 3.0, opts.TimeSignature, 0)
	assert.Equal(t, 192, opts.PPQ)
	assert.Nil(t, opts.SwingSubdivision)
}

// TestValidate_Invalid verifies schema and rule violations are reported.
func TestValidate_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing bpm", "ppq: 96\n", "bpm"},
		{"key out of range", "bpm: 120\nnotes:\n  - {at: 0, key: 200}\n", "key"},
		{"unknown field", "bpm: 120\ntempo_map: []\n", "tempo_map"},
		{"bad denominator", "bpm: 120\ntime_signature: {numerator: 4, denominator: 3}\n", "denominator"},
		{"bad ramp", "bpm: 120\ntempo:\n  - {time: 1, bpm: 90, ramp: cubic}\n", "ramp"},
		{"loop backwards", "bpm: 120\nloop: {start: 4, end: 2}\n", "loop"},
		{"tempo out of order", "bpm: 120\ntempo:\n  - {time: 2, bpm: 90}\n  - {time: 1, bpm: 100}\n", "tempo.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidScore)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

// TestValidate_Malformed verifies YAML syntax errors are wrapped.
func TestValidate_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("bpm: [120"))
	require.ErrorIs(t, err, ErrInvalidScore)

	_, err = Parse(nil)
	require.ErrorIs(t, err, ErrInvalidScore)
}

// TestSchema verifies the embedded schema is exposed.
func TestSchema(t *testing.T) {
	t.Parallel()

	assert.True(t, bytes.Contains(Schema(), []byte(`"time_signature"`)))
}

// TestLoad verifies reading through a filesystem.
func TestLoad(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(testScore), 0o644))

	s, err := Load(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, "groove", s.Name)

	_, err = Load(fs, "/missing.yaml")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("bpm: -1\n"), 0o644))
	_, err = Load(fs, "/bad.yaml")
	require.ErrorIs(t, err, ErrInvalidScore)
}

// TestNewTransport verifies the score drives notes, repeats, clock and tempo.
func TestNewTransport(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte(testScore))
	require.NoError(t, err)

	tb, src := timebase.NewManual()
	capture := smfexport.NewCapture()

	tr, arr, err := s.NewTransport(tb, capture, nil)
	require.NoError(t, err)
	require.NotNil(t, arr.Clock)
	assert.Len(t, arr.Notes, 1)
	assert.Len(t, arr.Repeats, 1)
	assert.InDelta(t, 3.0, tr.TimeSignature(), 0)
	assert.InDelta(t, 240.0, tr.BPM().ValueAtTime(1), testDelta)

	require.NoError(t, tr.Start())

	for src.Now() < 1 {
		src.Set(min(src.Now()+testStep, 1))
		require.NoError(t, tr.Process(context.Background()))
	}

	var notes, drums, starts []float64

	for _, ev := range capture.Events() {
		switch {
		case bytes.Equal(ev.Message, midi.NoteOn(0, 60, DefaultVelocity)):
			notes = append(notes, ev.Time)
		case bytes.Equal(ev.Message, midi.NoteOn(9, 36, 110)):
			drums = append(drums, ev.Time)
		case bytes.Equal(ev.Message, midi.Start()):
			starts = append(starts, ev.Time)
		}
	}

	assert.InDeltaSlice(t, []float64{0.5}, notes, testDelta)
	assert.InDeltaSlice(t, []float64{0, 0.5}, drums, testDelta)
	assert.Equal(t, []float64{0}, starts)
	assert.InDelta(t, 1.0625, s.PlayLength(tr), testDelta)
}

// TestPlayLength verifies the explicit and fallback lengths.
func TestPlayLength(t *testing.T) {
	t.Parallel()

	tb, _ := timebase.NewManual()

	s, err := Parse([]byte("bpm: 120\nduration: 3\n"))
	require.NoError(t, err)

	tr, _, err := s.NewTransport(tb, smfexport.NewCapture(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, s.PlayLength(tr), 0)

	s.Duration = 0
	assert.InDelta(t, DefaultDuration, s.PlayLength(tr), 0)

	s.Repeats = []Repeat{{Every: 1, Key: 1, Velocity: 1, Length: 1}}
	assert.InDelta(t, DefaultDuration, s.PlayLength(tr), 0)

	s.Repeats = nil
	s.Loop = &Loop{End: 4, Enabled: true}
	assert.InDelta(t, DefaultDuration, s.PlayLength(tr), 0)
}

// TestApply_InvalidTempo verifies automation errors name the failing point.
func TestApply_InvalidTempo(t *testing.T) {
	t.Parallel()

	tb, _ := timebase.NewManual()

	s := &Score{BPM: 120, Tempo: []TempoPoint{{Time: -1, BPM: 100, Ramp: RampLinear}}}

	_, _, err := s.NewTransport(tb, smfexport.NewCapture(), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, tempo.ErrNegativeTime)
	assert.Contains(t, err.Error(), "tempo.0")
}
