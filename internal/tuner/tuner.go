package tuner

import (
	"context"
	"errors"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
)

var (
	// ErrDeviceAcquisition means the adapter/tuner pair could not be opened
	// exclusively, usually because another process holds it.
	ErrDeviceAcquisition = errors.New("device acquisition failed")

	// ErrTuneLock means the frontend did not report a signal lock in time.
	ErrTuneLock = errors.New("no signal lock")

	// ErrNotAcquired is returned by Tune and Sample outside Acquire/Release.
	ErrNotAcquired = errors.New("tuner not acquired")

	// ErrUnsupported is returned on platforms without a DVB subsystem.
	ErrUnsupported = errors.New("dvb tuning not supported on this platform")
)

// Session is exclusive access to one physical adapter/tuner pair.
type Session interface {
	// Acquire takes exclusive ownership of the pair.
	Acquire(ctx context.Context, adapter, tuner int) error
	// Tune blocks until the frontend locks on t or the lock timeout elapses.
	Tune(ctx context.Context, t docsis.Target) error
	// Sample counts bytes seen on the DOCSIS PID for d.
	Sample(ctx context.Context, d time.Duration) (int64, error)
	// Release gives the pair back. It is safe to call at any time, repeatedly.
	Release() error
}
