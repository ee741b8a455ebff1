package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "doc-approval/backend/internal/workflow"

type instruments struct {
	operations metric.Int64Counter
	history    metric.Int64Counter
}

func newInstruments(meter metric.Meter) *instruments {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	ops, _ := meter.Int64Counter("workflow.operations",
		metric.WithDescription("Workflow operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	hist, _ := meter.Int64Counter("workflow.history.appends",
		metric.WithDescription("History entries appended"),
		metric.WithUnit("{entry}"),
	)
	return &instruments{operations: ops, history: hist}
}

// outcome is "ok", the workflow error kind, or "error" for anything else.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func (i *instruments) operation(ctx context.Context, op string, err error) {
	if i == nil || i.operations == nil {
		return
	}
	i.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	))
}

func (i *instruments) appended(ctx context.Context, action string) {
	if i == nil || i.history == nil {
		return
	}
	i.history.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
