// Package prometheus exposes engine counters as a prometheus.Collector.
//
// [NewExporter] wraps an [authgate.Engine]; register it with a registry or
// mount [Exporter.Handler]. Counter names are prefixed authgate_ and end in
// _total; the single histogram is authgate_hash_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
