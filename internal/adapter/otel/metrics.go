package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "docsync"

// Metrics holds the sync metric instruments.
type Metrics struct {
	Pushes         metric.Int64Counter
	Pulls          metric.Int64Counter
	Conflicts      metric.Int64Counter
	StaleRetries   metric.Int64Counter
	CommitDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Pushes, err = meter.Int64Counter("docsync.pushes",
		metric.WithDescription("Number of push attempts by outcome"))
	if err != nil {
		return nil, err
	}

	m.Pulls, err = meter.Int64Counter("docsync.pulls",
		metric.WithDescription("Number of pulls by outcome"))
	if err != nil {
		return nil, err
	}

	m.Conflicts, err = meter.Int64Counter("docsync.conflicts",
		metric.WithDescription("Number of pushes or pulls that ended in conflict"))
	if err != nil {
		return nil, err
	}

	m.StaleRetries, err = meter.Int64Counter("docsync.stale_retries",
		metric.WithDescription("Number of commits retried after a stale base"))
	if err != nil {
		return nil, err
	}

	m.CommitDuration, err = meter.Float64Histogram("docsync.commit.duration_seconds",
		metric.WithDescription("Duration of a push from snapshot to applied commit"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
