//go:build !linux

package tuner

import (
	"context"
	"log/slog"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
)

// DVB is unavailable outside Linux; Acquire always fails.
type DVB struct{}

func NewDVB(root string, lockTimeout time.Duration, logger *slog.Logger) *DVB {
	return &DVB{}
}

func (d *DVB) Acquire(ctx context.Context, adapter, tuner int) error {
	return ErrUnsupported
}

func (d *DVB) Tune(ctx context.Context, t docsis.Target) error {
	return ErrNotAcquired
}

func (d *DVB) Sample(ctx context.Context, dur time.Duration) (int64, error) {
	return 0, ErrNotAcquired
}

func (d *DVB) Release() error {
	return nil
}
