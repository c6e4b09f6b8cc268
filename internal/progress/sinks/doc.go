// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and Postgres session tables. Each sink satisfies
// progress.Sink and tolerates repeated Consume and Close calls.
package sinks
