package sink

import (
	"context"
	"errors"
	"time"
)

// ErrDelivery wraps every failed emission. Delivery is best effort: a point
// that fails is dropped.
var ErrDelivery = errors.New("metric delivery failed")

// Sink accepts one data point at a time.
type Sink interface {
	Emit(ctx context.Context, path string, value float64, ts time.Time) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, path string, value float64, ts time.Time) error

func (f Func) Emit(ctx context.Context, path string, value float64, ts time.Time) error {
	return f(ctx, path, value, ts)
}
