// Package metrics exposes Prometheus counters for redmine-bridge.
// A nil *Metrics is valid and records nothing.
package metrics
