// Package fake provides an in-memory tuner session for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
	"github.com/R167/docsis_meter/internal/tuner"
)

// Session implements tuner.Session without hardware. Each frequency has a
// configurable byte rate; lock and acquisition failures can be injected.
type Session struct {
	mu sync.Mutex

	rates       map[int]float64
	noLock      map[int]bool
	sampleErrs  map[int]error
	failAcquire int
	onTune      func(docsis.Target)

	held    bool
	current *docsis.Target

	visits   []string
	acquires int
	releases int
}

var _ tuner.Session = (*Session)(nil)

// NewSession returns a session where every frequency locks and carries no data.
func NewSession() *Session {
	return &Session{
		rates:      make(map[int]float64),
		noLock:     make(map[int]bool),
		sampleErrs: make(map[int]error),
	}
}

// SetRate sets the bytes per second observed on frequencyKHz.
func (s *Session) SetRate(frequencyKHz int, bytesPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[frequencyKHz] = bytesPerSecond
}

// FailLock makes Tune on frequencyKHz time out.
func (s *Session) FailLock(frequencyKHz int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noLock[frequencyKHz] = fail
}

// FailSample makes Sample on frequencyKHz return err.
func (s *Session) FailSample(frequencyKHz int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleErrs[frequencyKHz] = err
}

// FailAcquire makes the next n Acquire calls fail as if the device were busy.
func (s *Session) FailAcquire(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAcquire = n
}

// OnTune registers a hook called at the start of every Tune.
func (s *Session) OnTune(fn func(docsis.Target)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTune = fn
}

func (s *Session) Acquire(ctx context.Context, adapter, tunerIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		return fmt.Errorf("fake adapter%d/frontend%d already held: %w", adapter, tunerIndex, tuner.ErrDeviceAcquisition)
	}
	if s.failAcquire > 0 {
		s.failAcquire--
		return fmt.Errorf("fake adapter%d/frontend%d busy: %w", adapter, tunerIndex, tuner.ErrDeviceAcquisition)
	}

	s.held = true
	s.acquires++
	return nil
}

func (s *Session) Tune(ctx context.Context, t docsis.Target) error {
	s.mu.Lock()
	hook := s.onTune
	s.mu.Unlock()
	if hook != nil {
		hook(t)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held {
		return tuner.ErrNotAcquired
	}
	s.visits = append(s.visits, t.Label)
	if s.noLock[t.FrequencyKHz] {
		s.current = nil
		return fmt.Errorf("fake %s: %w", t.Label, tuner.ErrTuneLock)
	}
	s.current = &t
	return nil
}

// Sample waits for d (or until ctx is done) and reports rate*elapsed bytes.
func (s *Session) Sample(ctx context.Context, d time.Duration) (int64, error) {
	s.mu.Lock()
	if !s.held {
		s.mu.Unlock()
		return 0, tuner.ErrNotAcquired
	}
	if s.current == nil {
		s.mu.Unlock()
		return 0, errors.New("fake sample without lock")
	}
	khz := s.current.FrequencyKHz
	rate := s.rates[khz]
	sampleErr := s.sampleErrs[khz]
	s.mu.Unlock()

	if sampleErr != nil {
		return 0, sampleErr
	}

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
	}
	return int64(rate * time.Since(start).Seconds()), err
}

func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		s.releases++
	}
	s.held = false
	s.current = nil
	return nil
}

// Visits returns the labels passed to Tune, in call order.
func (s *Session) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Counts returns the number of successful acquisitions and releases.
func (s *Session) Counts() (acquires, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires, s.releases
}

// Held reports whether the session is currently acquired.
func (s *Session) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
