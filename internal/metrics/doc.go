// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics
