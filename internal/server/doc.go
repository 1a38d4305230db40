// Package server exposes the monitoring HTTP API: health, statistics,
// sanitized configuration and Prometheus metrics.
package server
