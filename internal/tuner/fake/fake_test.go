package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
	"github.com/R167/docsis_meter/internal/tuner"
)

var target114 = docsis.Target{Label: "114", FrequencyKHz: 114000, Modulation: docsis.QAM256}

func TestSession_Exclusive(t *testing.T) {
	s := NewSession()
	ctx := context.Background()

	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Fatalf("Unexpected acquire error: %v", err)
	}
	if err := s.Acquire(ctx, 0, 0); !errors.Is(err, tuner.ErrDeviceAcquisition) {
		t.Errorf("Expected ErrDeviceAcquisition on second acquire, got %v", err)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Unexpected release error: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Errorf("Release should be idempotent, got %v", err)
	}
	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Errorf("Expected acquire after release to succeed, got %v", err)
	}

	acquires, releases := s.Counts()
	if acquires != 2 || releases != 1 {
		t.Errorf("Expected 2 acquires and 1 release, got %d and %d", acquires, releases)
	}
}

func TestSession_NotAcquired(t *testing.T) {
	s := NewSession()
	if err := s.Tune(context.Background(), target114); !errors.Is(err, tuner.ErrNotAcquired) {
		t.Errorf("Expected ErrNotAcquired, got %v", err)
	}
	if _, err := s.Sample(context.Background(), time.Millisecond); !errors.Is(err, tuner.ErrNotAcquired) {
		t.Errorf("Expected ErrNotAcquired, got %v", err)
	}
}

func TestSession_FailLock(t *testing.T) {
	s := NewSession()
	s.FailLock(114000, true)
	ctx := context.Background()

	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Fatalf("Unexpected acquire error: %v", err)
	}
	if err := s.Tune(ctx, target114); !errors.Is(err, tuner.ErrTuneLock) {
		t.Errorf("Expected ErrTuneLock, got %v", err)
	}
	if _, err := s.Sample(ctx, time.Millisecond); err == nil {
		t.Error("Expected sample without lock to fail")
	}
	if visits := s.Visits(); len(visits) != 1 || visits[0] != "114" {
		t.Errorf("Expected one visit to 114, got %v", visits)
	}
}

func TestSession_FailAcquire(t *testing.T) {
	s := NewSession()
	s.FailAcquire(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Acquire(ctx, 0, 0); !errors.Is(err, tuner.ErrDeviceAcquisition) {
			t.Errorf("Attempt %d: expected ErrDeviceAcquisition, got %v", i, err)
		}
	}
	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Errorf("Expected third acquire to succeed, got %v", err)
	}
}

func TestSession_SampleRate(t *testing.T) {
	s := NewSession()
	s.SetRate(114000, 1_000_000)
	ctx := context.Background()

	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Fatalf("Unexpected acquire error: %v", err)
	}
	if err := s.Tune(ctx, target114); err != nil {
		t.Fatalf("Unexpected tune error: %v", err)
	}

	n, err := s.Sample(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Unexpected sample error: %v", err)
	}
	// roughly 20ms worth at 1 MB/s
	if n < 19_000 {
		t.Errorf("Expected about 20000 bytes, got %d", n)
	}
}

func TestSession_SampleCancelled(t *testing.T) {
	s := NewSession()
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Acquire(ctx, 0, 0); err != nil {
		t.Fatalf("Unexpected acquire error: %v", err)
	}
	if err := s.Tune(ctx, target114); err != nil {
		t.Fatalf("Unexpected tune error: %v", err)
	}

	cancel()
	start := time.Now()
	if _, err := s.Sample(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sample did not return promptly after cancellation")
	}
}
