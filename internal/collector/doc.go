// Package collector implements the measurement cycle for DOCSIS downstream channels.
//
// The Scheduler walks the configured frequencies one after another on a single
// tuner session, turns each byte count into a utilization figure, aggregates the
// cycle and hands the results to a sink emitter. MeterCollector exposes the last
// completed cycle and the scheduler's failure counters as Prometheus metrics.
package collector
