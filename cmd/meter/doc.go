// Package main implements the DOCSIS downstream utilization meter.
//
// The meter tunes a single DVB-C frontend across the configured downstream
// frequencies in turn, counts the bytes carried on the DOCSIS PID during a
// short dwell on each, and sends per-channel utilization and bitrate plus an
// aggregate to a Carbon (Graphite plaintext) endpoint once per interval.
// The last cycle is also exposed to Prometheus on :9624 (configurable).
package main
