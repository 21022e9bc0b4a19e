package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalobs "github.com/Sumatoshi-tech/beatgrid/internal/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/midiout"
	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/pulse"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
)

const diagnosticsShutdown = 5 * time.Second

// ErrNotPlaying is reported by the readiness check until the pulse runs.
var ErrNotPlaying = errors.New("transport is not playing")

type playFlags struct {
	port      string
	listPorts bool
	duration  float64
	forever   bool
	metrics   string
}

func (a *App) newPlayCommand() *cobra.Command {
	var flags playFlags

	cmd := &cobra.Command{
		Use:   "play [score.yaml]",
		Short: "Play a score in real time",
		Long: `Play a score against the wall clock, pulsing every clock.update_interval
and scheduling clock.look_ahead in advance.

Without a MIDI port the messages are printed instead of sent. Opening ports
needs a binary built with -tags rtmidi.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.listPorts {
				for _, name := range midiout.Ports() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}

				return nil
			}

			return a.runPlay(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.port, "port", "", "MIDI output port (default: midi.port)")
	cmd.Flags().BoolVar(&flags.listPorts, "list-ports", false, "list MIDI output ports and exit")
	cmd.Flags().Float64Var(&flags.duration, "duration", 0, "seconds to play (default: the score's length)")
	cmd.Flags().BoolVar(&flags.forever, "forever", false, "play until interrupted")
	cmd.Flags().StringVar(&flags.metrics, "metrics-listen", "", "serve /metrics, /healthz and /readyz here (default: metrics.listen when enabled)")

	return cmd
}

func (a *App) runPlay(cmd *cobra.Command, args []string, flags playFlags) error {
	sess, err := a.start(cmd, observability.ModePlay)
	if err != nil {
		return err
	}

	defer sess.close(cmd.Context())

	s, label, err := a.loadScore(sess.cfg, args)
	if err != nil {
		return err
	}

	ctx, span := sess.providers.Tracer.Start(cmd.Context(), "beatgrid.play",
		trace.WithAttributes(attribute.String("score.name", s.Name)))
	defer span.End()

	tb := timebase.New(timebase.NewWallSource(), sess.cfg.TimebaseOptions(sess.logger)...)

	sink, closeSink, err := openSink(tb, cmd.OutOrStdout(), flags.port, sess)
	if err != nil {
		span.RecordError(err)

		return err
	}

	defer closeSink()

	var running atomic.Pointer[pulse.Ticker]

	meter, closeDiag, err := startDiagnostics(flags.metrics, sess, &running)
	if err != nil {
		return err
	}

	defer closeDiag()

	metrics, err := observability.NewTransportMetrics(meter)
	if err != nil {
		return err
	}

	tr, arr, err := s.NewTransport(tb, sink, metrics)
	if err != nil {
		return err
	}

	ticker := pulse.New(observability.TracePulses(sess.providers.Tracer, tr), sess.cfg.Clock.UpdateInterval,
		pulse.WithLogger(sess.logger))
	running.Store(ticker)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	length := flags.duration
	if length <= 0 {
		length = s.PlayLength(tr)
	}

	if !flags.forever {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(length*float64(time.Second)))
		defer cancel()
	}

	if err := tr.Start(); err != nil {
		return err
	}

	sess.logger.InfoContext(ctx, "play: start", "score", label, "bpm", s.BPM, "length", length, "forever", flags.forever)

	runErr := ticker.Run(runCtx)
	running.Store(nil)

	// The pulse goroutine is gone; the transport is ours again.
	errs := []error{tr.Stop(), tr.Process(ctx), midiout.AllNotesOff(sink, tb.Immediate())}
	if arr.Clock != nil {
		errs = append(errs, arr.Clock.Err(), arr.Clock.Close())
	}

	if runErr != nil && !ignoreStop(runErr) {
		errs = append(errs, runErr)
	}

	sess.logger.InfoContext(ctx, "play: done", "pulses", ticker.Pulses())

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "play failed")

		return err
	}

	return nil
}

// openSink opens the MIDI port, or prints messages to w when no port is
// configured.
func openSink(tb *timebase.Timebase, w io.Writer, port string, sess *session) (midiout.Sink, func(), error) {
	if port == "" {
		port = sess.cfg.MIDI.Port
	}

	if port == "" {
		var mu sync.Mutex

		printer := midiout.SinkFunc(func(t float64, msg midi.Message) error {
			mu.Lock()
			defer mu.Unlock()

			_, err := fmt.Fprintf(w, "%10.3f  %s\n", t, msg.String())

			return err
		})

		return printer, func() {}, nil
	}

	send, err := midiout.OpenPort(port)
	if err != nil {
		return nil, nil, err
	}

	live := midiout.NewLive(tb, send)
	sess.logger.Info("play: midi port open", "port", port)

	return live, func() { _ = live.Close() }, nil
}

// startDiagnostics serves the diagnostics endpoints when requested and
// returns the meter transport metrics should use.
func startDiagnostics(
	listen string, sess *session, running *atomic.Pointer[pulse.Ticker],
) (metric.Meter, func(), error) {
	if listen == "" && sess.cfg.Metrics.Enabled {
		listen = sess.cfg.Metrics.Listen
	}

	if listen == "" {
		return sess.providers.Meter, func() {}, nil
	}

	ready := func(ctx context.Context) error {
		ticker := running.Load()
		if ticker == nil {
			return ErrNotPlaying
		}

		return ticker.Do(ctx, func() error { return nil })
	}

	diag, err := internalobs.NewDiagnosticsServer(listen, sess.providers.Tracer, ready)
	if err != nil {
		return nil, nil, err
	}

	sess.logger.Info("play: diagnostics listening", "addr", diag.Addr())

	closeDiag := func() {
		ctx, cancel := context.WithTimeout(context.Background(), diagnosticsShutdown)
		defer cancel()

		if err := diag.Close(ctx); err != nil {
			sess.logger.Warn("play: diagnostics shutdown failed", "error", err)
		}
	}

	return diag.Meter(), closeDiag, nil
}
