package observability

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/beatgrid/pkg/pulse"
)

// TracePulses wraps proc so every pulse runs under a SpanPulse span.
func TracePulses(tracer trace.Tracer, proc pulse.Processor) pulse.Processor {
	return pulse.ProcessorFunc(func(ctx context.Context) error {
		ctx, span := tracer.Start(ctx, SpanPulse)
		defer span.End()

		err := proc.Process(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pulse failed")
		}

		return err
	})
}
