// Package commands implements the beatgrid CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/beatgrid/pkg/config"
	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/score"
	"github.com/Sumatoshi-tech/beatgrid/pkg/version"
)

// Metronome voice. Keys are General MIDI high and low wood block.
const (
	metronomeName   = "metronome"
	metronomeLabel  = "metronome (from config)"
	metronomeAccent = 76
	metronomeBeat   = 77
	metronomeLength = 0.125
	accentVelocity  = 127
)

const quartersPerWhole = 4

// App carries the state shared by every command: the filesystem scores and
// outputs live on and the persistent flags.
type App struct {
	fs         afero.Fs
	configPath string
	verbose    bool
	quiet      bool
}

// NewRootCommand builds the beatgrid command tree over fs.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	app := &App{fs: fs}

	root := &cobra.Command{
		Use:   "beatgrid",
		Short: "Musical-time scheduling engine",
		Long: `beatgrid schedules events against a musical timeline: tempo automation,
loops, swing, repeats, and MIDI clock, driven by a look-ahead pulse.

Commands that take a score play a metronome built from the configuration
when no score is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "config file (default: ./beatgrid.yaml)")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVarP(&app.quiet, "quiet", "q", false, "log errors only")

	root.AddCommand(
		app.newRenderCommand(),
		app.newExportCommand(),
		app.newPlotCommand(),
		app.newValidateCommand(),
		app.newPlayCommand(),
		newVersionCommand(),
	)

	return root
}

// session is the configured environment of one command run.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
}

// start loads the configuration and initializes observability for mode.
// Log output goes to the command's stderr.
func (a *App) start(cmd *cobra.Command, mode observability.AppMode) (*session, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := cfg.Observability(version.Version, mode)
	obsCfg.LogOutput = cmd.ErrOrStderr()

	switch {
	case a.verbose:
		obsCfg.LogLevel = slog.LevelDebug
	case a.quiet:
		obsCfg.LogLevel = slog.LevelError
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return &session{cfg: cfg, providers: providers, logger: providers.Logger}, nil
}

// close flushes telemetry. Failures are logged, not returned.
func (s *session) close(ctx context.Context) {
	if err := s.providers.Shutdown(ctx); err != nil {
		s.logger.WarnContext(ctx, "observability shutdown failed", "error", err)
	}
}

// loadScore reads the score named in args, or builds the metronome when
// args is empty. Fields the score leaves out take the configured defaults.
func (a *App) loadScore(cfg *config.Config, args []string) (*score.Score, string, error) {
	if len(args) == 0 {
		return metronome(cfg), metronomeLabel, nil
	}

	s, err := score.Load(a.fs, args[0])
	if err != nil {
		return nil, "", err
	}

	inheritDefaults(s, cfg)

	return s, args[0], nil
}

func inheritDefaults(s *score.Score, cfg *config.Config) {
	tc := cfg.Transport

	if s.PPQ == 0 {
		s.PPQ = tc.PPQ
	}

	if s.TimeSignature == nil {
		s.TimeSignature = &score.TimeSignature{
			Numerator:   tc.TimeSignature.Numerator,
			Denominator: tc.TimeSignature.Denominator,
		}
	}

	if s.Swing == 0 {
		s.Swing = tc.Swing
	}

	if s.SwingSubdivision == 0 {
		s.SwingSubdivision = tc.SwingSubdivision
	}

	s.MIDIClock = s.MIDIClock || cfg.MIDI.Clock
}

// metronome clicks every beat on the configured channel, accenting each
// downbeat.
func metronome(cfg *config.Config) *score.Score {
	tc := cfg.Transport
	beatsPerBar := float64(tc.TimeSignature.Numerator) / float64(tc.TimeSignature.Denominator) * quartersPerWhole

	s := &score.Score{
		Name: metronomeName,
		BPM:  tc.BPM,
		Repeats: []score.Repeat{
			{Every: beatsPerBar, Key: metronomeAccent, Velocity: accentVelocity, Channel: cfg.MIDI.Channel, Length: metronomeLength},
			{Every: 1, Key: metronomeBeat, Velocity: score.DefaultVelocity, Channel: cfg.MIDI.Channel, Length: metronomeLength},
		},
	}

	inheritDefaults(s, cfg)

	return s
}

// ignoreStop reports whether err only says the run was stopped on purpose.
func ignoreStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
