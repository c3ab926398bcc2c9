// Package sink delivers measurement results to a metrics backend.
//
// An Emitter maps each cycle's results onto dotted metric paths and hands
// them to a Sink one point at a time. Carbon implements the carbon plaintext
// protocol. Delivery is at most once: failures are logged and counted, never
// queued for a later cycle.
package sink
