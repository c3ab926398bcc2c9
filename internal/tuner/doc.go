// Package tuner provides exclusive access to a DVB-C tuner.
//
// The Session interface models one adapter/tuner pair as a resource that is
// acquired, tuned, sampled and released. DVB talks to the Linux DVB API
// (frontend, demux and dvr character devices) through ioctls; the fake
// subpackage provides an in-memory Session for tests.
package tuner
