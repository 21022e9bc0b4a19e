// Package score loads YAML scores: tempo automation, loop, swing and the
// notes to play, checked against an embedded JSON schema and applied to a
// transport.
package score

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Note defaults.
const (
	DefaultVelocity = 100
	// DefaultLength is a sixteenth note, in beats.
	DefaultLength = 0.25
)

// Tempo ramp kinds.
const (
	RampSet         = "set"
	RampLinear      = "linear"
	RampExponential = "exponential"
)

// ErrInvalidScore is returned for documents that fail to parse or validate.
var ErrInvalidScore = errors.New("invalid score")

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema scores are validated against.
func Schema() []byte {
	return schemaJSON
}

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidScore, strings.Join(e.Problems, "; "))
}

// Unwrap makes errors.Is(err, ErrInvalidScore) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidScore
}

// TimeSignature is a meter such as 3/4 or 6/8.
type TimeSignature struct {
	Numerator   int `yaml:"numerator"   json:"numerator"`
	Denominator int `yaml:"denominator" json:"denominator"`
}

// Loop is a loop region in beats.
type Loop struct {
	Start   float64 `yaml:"start"   json:"start"`
	End     float64 `yaml:"end"     json:"end"`
	Enabled bool    `yaml:"enabled" json:"enabled"`
}

// TempoPoint is one tempo automation point. Time is in seconds.
type TempoPoint struct {
	Time float64 `yaml:"time" json:"time"`
	BPM  float64 `yaml:"bpm"  json:"bpm"`
	Ramp string  `yaml:"ramp" json:"ramp,omitempty"`
}

// Note is a single note. At and Length are in beats.
type Note struct {
	At       float64 `yaml:"at"       json:"at"`
	Key      int     `yaml:"key"      json:"key"`
	Velocity int     `yaml:"velocity" json:"velocity"`
	Channel  int     `yaml:"channel"  json:"channel"`
	Length   float64 `yaml:"length"   json:"length"`
}

// Repeat is a note played every interval. A zero Duration repeats forever.
type Repeat struct {
	Every    float64 `yaml:"every"    json:"every"`
	Start    float64 `yaml:"start"    json:"start"`
	Duration float64 `yaml:"duration" json:"duration,omitempty"`
	Key      int     `yaml:"key"      json:"key"`
	Velocity int     `yaml:"velocity" json:"velocity"`
	Channel  int     `yaml:"channel"  json:"channel"`
	Length   float64 `yaml:"length"   json:"length"`
}

// Score is a parsed score document.
type Score struct {
	Name             string         `yaml:"name"              json:"name,omitempty"`
	BPM              float64        `yaml:"bpm"               json:"bpm"`
	PPQ              int            `yaml:"ppq"               json:"ppq,omitempty"`
	TimeSignature    *TimeSignature `yaml:"time_signature"    json:"time_signature,omitempty"`
	Swing            float64        `yaml:"swing"             json:"swing,omitempty"`
	SwingSubdivision float64        `yaml:"swing_subdivision" json:"swing_subdivision,omitempty"`
	Loop             *Loop          `yaml:"loop"              json:"loop,omitempty"`
	// Duration is how long the score plays, in seconds.
	Duration  float64      `yaml:"duration"   json:"duration,omitempty"`
	MIDIClock bool         `yaml:"midi_clock" json:"midi_clock,omitempty"`
	Tempo     []TempoPoint `yaml:"tempo"      json:"tempo,omitempty"`
	Notes     []Note       `yaml:"notes"      json:"notes,omitempty"`
	Repeats   []Repeat     `yaml:"repeats"    json:"repeats,omitempty"`
}

// Load reads and parses the score at path on fs.
func Load(fs afero.Fs, path string) (*Score, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read score %s: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// Parse validates data and decodes it into a Score with defaults applied.
func Parse(data []byte) (*Score, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var s Score

	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScore, err)
	}

	s.applyDefaults()

	return &s, nil
}

// Validate checks data against the schema and the rules the schema cannot
// express. Schema problems are reported together in a *ValidationError.
func Validate(data []byte) error {
	var doc any

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
		}

		return &ValidationError{Problems: problems}
	}

	var s Score

	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	}

	return s.check()
}

func (s *Score) check() error {
	var problems []string

	if s.Loop != nil && s.Loop.End <= s.Loop.Start {
		problems = append(problems, fmt.Sprintf("loop: end %g must be after start %g", s.Loop.End, s.Loop.Start))
	}

	for i := 1; i < len(s.Tempo); i++ {
		if s.Tempo[i].Time < s.Tempo[i-1].Time {
			problems = append(problems, fmt.Sprintf("tempo.%d: time %g is before the previous point", i, s.Tempo[i].Time))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

func (s *Score) applyDefaults() {
	for i := range s.Notes {
		n := &s.Notes[i]
		n.Velocity = defaultInt(n.Velocity, DefaultVelocity)
		n.Length = defaultFloat(n.Length, DefaultLength)
	}

	for i := range s.Repeats {
		r := &s.Repeats[i]
		r.Velocity = defaultInt(r.Velocity, DefaultVelocity)
		r.Length = defaultFloat(r.Length, DefaultLength)
	}

	for i := range s.Tempo {
		if s.Tempo[i].Ramp == "" {
			s.Tempo[i].Ramp = RampSet
		}
	}
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}

	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}

	return v
}
