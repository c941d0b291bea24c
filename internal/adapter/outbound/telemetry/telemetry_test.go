package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(Config{})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}
}

func TestSetup_ExportsSpansAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(Config{Tracing: true, Metrics: true, Version: "test", Writer: &buf})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	ctx := context.Background()
	_, span := otel.Tracer("telemetry_test").Start(ctx, "toolcall.execute")
	span.End()
	counter, err := otel.Meter("telemetry_test").Int64Counter("aigate.chat.model_steps")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(ctx, 1)

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"toolcall.execute", "aigate.chat.model_steps", ServiceName} {
		if !strings.Contains(out, want) {
			t.Errorf("exported output missing %q", want)
		}
	}
}
