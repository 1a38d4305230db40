// Package events mirrors emitted captions to a Kafka topic so other services
// can consume them. Without brokers it runs in log-only mode.
package events
