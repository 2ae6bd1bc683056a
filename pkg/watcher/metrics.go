package watcher

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments for the watcher package.
// When no MeterProvider is configured (noop), all recording is zero-cost.
var (
	meter = otel.Meter("tollwatchd.watcher")

	metricRoundDurMs    metric.Float64Histogram
	metricRoundErrors   metric.Int64Counter
	metricDebtEmittedTotal metric.Float64Counter
)

func init() {
	var err error

	metricRoundDurMs, err = meter.Float64Histogram("tollwatchd.watcher.round.duration_ms",
		metric.WithDescription("Time spent in each watcher round"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("otel meter: " + err.Error())
	}

	metricRoundErrors, err = meter.Int64Counter("tollwatchd.watcher.round.errors",
		metric.WithDescription("Watcher rounds that returned an error"),
		metric.WithUnit("{rounds}"),
	)
	if err != nil {
		panic("otel meter: " + err.Error())
	}

	metricDebtEmittedTotal, err = meter.Float64Counter("tollwatchd.watcher.debt.emitted_total",
		metric.WithDescription("Running total of the absolute debt amount emitted in TrafficUpdate messages"),
		metric.WithUnit("{units}"),
	)
	if err != nil {
		panic("otel meter: " + err.Error())
	}
}
