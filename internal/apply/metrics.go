package apply

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/applyd/internal/apply"

// Metrics for the apply pipeline
var (
	applyCounter        metric.Int64Counter
	applyFailureCounter metric.Int64Counter
	applyDuration       metric.Float64Histogram
	applyFileCount      metric.Int64Histogram
)

// initMetrics initializes OpenTelemetry metrics for the apply pipeline.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	applyCounter, err = meter.Int64Counter(
		"applyd.apply.total",
		metric.WithDescription("Total number of apply invocations"),
		metric.WithUnit("{apply}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create apply counter: %v", err))
	}

	applyFailureCounter, err = meter.Int64Counter(
		"applyd.apply.failures",
		metric.WithDescription("Number of failed applies by failure reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create apply failure counter: %v", err))
	}

	applyDuration, err = meter.Float64Histogram(
		"applyd.apply.duration",
		metric.WithDescription("Duration of apply pipeline runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create apply duration histogram: %v", err))
	}

	applyFileCount, err = meter.Int64Histogram(
		"applyd.apply.files",
		metric.WithDescription("Number of files in successfully applied batches"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create apply file count histogram: %v", err))
	}
}

func init() {
	initMetrics()
}
