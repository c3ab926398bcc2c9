// Package docsis holds the downstream channel model: modulation codes, the
// theoretical capacity table and the utilization arithmetic applied to raw
// byte counts sampled from a tuner.
package docsis
