// Package config validates the meter's settings.
//
// Raw values come from flags or the environment; Resolve turns them into an
// immutable Config or fails with an *Error before any device is opened.
package config
