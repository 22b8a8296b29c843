// Package tracing sets up distributed tracing and carries span context
// across the listener -> forwarder channel hop, mirroring the teacher's
// internal/tracing usage in backend/semtechudp/backend.go and
// forwarder/forwarder.go.
package tracing

import (
	"bytes"
	"context"
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Tracer is the process-wide tracer. It defaults to opentracing's no-op
// tracer until Setup is called.
var Tracer opentracing.Tracer = opentracing.NoopTracer{}

var closer io.Closer

// Setup installs a Jaeger tracer when enabled is true, reporting to
// endpoint (empty uses the agent's default UDP reporter). It is a no-op
// (leaving the no-op tracer installed) when enabled is false, so tracing
// can be disabled without touching any call site.
func Setup(serviceName string, enabled bool, endpoint string) error {
	if !enabled {
		log.Info("tracing: tracing is disabled")
		return nil
	}

	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: endpoint,
		},
	}

	tracer, c, err := cfg.NewTracer()
	if err != nil {
		return err
	}

	Tracer = tracer
	closer = c
	opentracing.SetGlobalTracer(tracer)

	log.WithField("endpoint", endpoint).Info("tracing: tracer configured")
	return nil
}

// Close flushes and closes the tracer, if one was configured.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

// StartSpanFromContext starts a child span named operationName from any
// span found in ctx, returning the new span and a context carrying it.
func StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContextWithTracer(ctx, Tracer, operationName)
}

// InjectSpanContextIntoBinaryCarrier serializes the span context of span so
// it can travel across the uplink/downlink channels, which carry plain
// byte slices rather than contexts.
func InjectSpanContextIntoBinaryCarrier(tracer opentracing.Tracer, span opentracing.Span) ([]byte, error) {
	var buf bytes.Buffer
	if err := tracer.Inject(span.Context(), opentracing.Binary, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractSpanContextFromBinaryCarrier deserializes a span context produced
// by InjectSpanContextIntoBinaryCarrier.
func ExtractSpanContextFromBinaryCarrier(tracer opentracing.Tracer, carrier []byte) (opentracing.SpanContext, error) {
	return tracer.Extract(opentracing.Binary, bytes.NewReader(carrier))
}
