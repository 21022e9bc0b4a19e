package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/render"
	"github.com/Sumatoshi-tech/beatgrid/pkg/score"
	"github.com/Sumatoshi-tech/beatgrid/pkg/smfexport"
)

// Render output formats.
const (
	FormatTable   = "table"
	FormatJSON    = "json"
	FormatSummary = "summary"
)

// Sentinel errors for the offline commands.
var (
	ErrUnknownFormat = errors.New("unknown output format")
	ErrNoOutput      = errors.New("output path is required (use --output)")
)

// renderFlags are shared by render, export and plot.
type renderFlags struct {
	step     time.Duration
	duration float64
}

func (f *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.step, "step", 0, "simulated pulse interval (default: clock.update_interval)")
	cmd.Flags().Float64Var(&f.duration, "duration", 0, "seconds to render (default: the score's length)")
}

// renderRun is a finished render still inside its command span.
type renderRun struct {
	*session

	ctx   context.Context //nolint:containedctx // scoped to one command run.
	span  trace.Span
	score *score.Score
	res   *render.Result
}

// fail marks the span failed and returns err.
func (r *renderRun) fail(err error) error {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())

	return err
}

// end closes the span and flushes telemetry.
func (r *renderRun) end() {
	r.span.End()
	r.close(r.ctx)
}

// renderScore loads and renders the score in args under a span named op.
// The caller must call end on the returned run.
func (a *App) renderScore(cmd *cobra.Command, args []string, flags renderFlags, op string) (*renderRun, error) {
	sess, err := a.start(cmd, observability.ModeRender)
	if err != nil {
		return nil, err
	}

	s, label, err := a.loadScore(sess.cfg, args)
	if err != nil {
		sess.close(cmd.Context())

		return nil, err
	}

	ctx, span := sess.providers.Tracer.Start(cmd.Context(), op,
		trace.WithAttributes(attribute.String("score.name", s.Name)))
	run := &renderRun{session: sess, ctx: ctx, span: span, score: s}

	step := flags.step
	if step == 0 {
		step = sess.cfg.Clock.UpdateInterval
	}

	sess.logger.DebugContext(ctx, "render: start", "score", label, "step", step)

	run.res, err = render.Render(ctx, s, render.Options{
		Step:     step,
		Duration: flags.duration,
		Logger:   sess.logger,
	})
	if err != nil {
		err = run.fail(err)
		run.end()

		return nil, err
	}

	span.SetAttributes(
		attribute.Int("render.events", len(run.res.Events)),
		attribute.Int("render.pulses", run.res.Totals.Pulses),
		attribute.Float64("render.duration", run.res.Duration),
	)

	return run, nil
}

func (a *App) newRenderCommand() *cobra.Command {
	var (
		flags  renderFlags
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "render [score.yaml]",
		Short: "Render a score offline and print what it schedules",
		Long: `Render a score against a simulated clock and print every MIDI message
with its time and musical position.

Formats:
  table    one row per message (default)
  json     the full result, including per-pulse tempo samples
  summary  totals only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != FormatTable && format != FormatJSON && format != FormatSummary {
				return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
			}

			run, err := a.renderScore(cmd, args, flags, "beatgrid.render")
			if err != nil {
				return err
			}

			defer run.end()

			if err := writeResult(cmd.OutOrStdout(), run.res, format, limit); err != nil {
				return run.fail(err)
			}

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "output format: table, json, summary")
	cmd.Flags().IntVar(&limit, "limit", 0, "table rows to print (0 = all)")

	return cmd
}

func writeResult(w io.Writer, res *render.Result, format string, limit int) error {
	switch format {
	case FormatJSON:
		return res.WriteJSON(w)
	case FormatSummary:
		return res.WriteSummary(w)
	default:
		res.WriteTable(w, limit)

		return nil
	}
}

func (a *App) newExportCommand() *cobra.Command {
	var (
		flags      renderFlags
		output     string
		resolution uint16
	)

	cmd := &cobra.Command{
		Use:   "export [score.yaml] -o out.mid",
		Short: "Render a score and write it as a Standard MIDI File",
		Long: `Render a score offline and write the captured channel messages as a
single-track Standard MIDI File. The file is written at the score's base
tempo; tempo automation is baked into the tick positions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return ErrNoOutput
			}

			run, err := a.renderScore(cmd, args, flags, "beatgrid.export")
			if err != nil {
				return err
			}

			defer run.end()

			s := run.score
			opts := smfexport.Options{
				BPM:        s.BPM,
				Resolution: resolution,
				Name:       s.Name,
			}

			if ts := s.TimeSignature; ts != nil {
				opts.Numerator = uint8(ts.Numerator)     //nolint:gosec // schema bounds the meter.
				opts.Denominator = uint8(ts.Denominator) //nolint:gosec // schema bounds the meter.
			}

			capture := run.res.Capture()

			if err := capture.WriteFile(a.fs, output, opts); err != nil {
				return run.fail(err)
			}

			run.logger.InfoContext(run.ctx, "export: wrote midi file", "messages", capture.Len())
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d messages)\n", output, capture.Len())

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "path of the .mid file to write")
	cmd.Flags().Uint16Var(&resolution, "resolution", smfexport.DefaultResolution, "ticks per quarter note in the file")

	return cmd
}

func (a *App) newPlotCommand() *cobra.Command {
	var (
		flags  renderFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "plot [score.yaml] -o out.html",
		Short: "Render a score and chart tempo and position over time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return ErrNoOutput
			}

			run, err := a.renderScore(cmd, args, flags, "beatgrid.plot")
			if err != nil {
				return err
			}

			defer run.end()

			if err := run.res.WritePlot(a.fs, output); err != nil {
				return run.fail(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "path of the .html file to write")

	return cmd
}
