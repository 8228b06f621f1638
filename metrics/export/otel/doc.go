// Package otel binds engine counters to OpenTelemetry observable
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per histogram bucket, all fed by one callback.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
