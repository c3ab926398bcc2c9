package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/R167/docsis_meter/internal/config"
	"github.com/R167/docsis_meter/internal/docsis"
	"github.com/R167/docsis_meter/internal/sink"
	"github.com/R167/docsis_meter/internal/tuner"
)

const (
	defaultAcquireAttempts = 4
	defaultAcquireBackoff  = 100 * time.Millisecond
)

// Stats are cumulative scheduler counters.
type Stats struct {
	Cycles            uint64
	Overruns          uint64
	LockFailures      uint64
	AcquireFailures   uint64
	SampleFailures    uint64
	SinkFailures      uint64
	LastCycleDuration time.Duration
	LastCycle         time.Time
}

// Scheduler runs measurement cycles over the configured targets, one target
// at a time on a single tuner session.
type Scheduler struct {
	mu      sync.RWMutex
	cfg     *config.Config
	session tuner.Session
	emitter *sink.Emitter
	logger  *slog.Logger

	acquireAttempts int
	acquireBackoff  time.Duration

	stats         Stats
	lastResults   []docsis.Result
	lastAggregate docsis.Result

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewScheduler creates a scheduler. The session is owned by the scheduler
// for its whole lifetime.
func NewScheduler(cfg *config.Config, session tuner.Session, emitter *sink.Emitter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:             cfg,
		session:         session,
		emitter:         emitter,
		logger:          logger,
		acquireAttempts: defaultAcquireAttempts,
		acquireBackoff:  defaultAcquireBackoff,
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
	}
}

// CheckDevice acquires and releases the tuner once, without retries.
func (s *Scheduler) CheckDevice(ctx context.Context) error {
	if err := s.session.Acquire(ctx, s.cfg.Adapter, s.cfg.Tuner); err != nil {
		return err
	}
	return s.session.Release()
}

// Start runs cycles until ctx is cancelled or Stop is called. A new cycle
// starts every interval; a cycle that overruns is followed immediately by
// the next one.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stoppedCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("Scheduler started",
		"frequencies", len(s.cfg.Targets),
		"interval", s.cfg.Interval,
		"dwell", s.cfg.Dwell)

	for {
		start := time.Now()
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Info("Scheduler stopping", "reason", err)
			return
		}

		wait := s.cfg.Interval - time.Since(start)
		if wait <= 0 {
			s.mu.Lock()
			s.stats.Overruns++
			s.mu.Unlock()
			s.logger.Warn("Cycle overran interval, starting next cycle immediately",
				"interval", s.cfg.Interval,
				"overrun", -wait)
			continue
		}

		s.logger.Debug("Next cycle scheduled", "at", start.Add(s.cfg.Interval), "sleep", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopping", "reason", ctx.Err())
			return
		case <-timer.C:
		}
	}
}

// Stop stops the scheduler and waits for the running cycle to wind down
// (safe to call multiple times)
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.stoppedCh
}

// RunCycle measures every target once, in configured order, then emits the
// results. It only fails when ctx is cancelled, in which case nothing is
// emitted.
func (s *Scheduler) RunCycle(ctx context.Context) ([]docsis.Result, error) {
	start := time.Now()
	n := len(s.cfg.Targets)
	s.logger.Info("Starting scan cycle", "frequencies", n)

	results := make([]docsis.Result, 0, n)
	for i, t := range s.cfg.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.measure(ctx, i, t)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aggregate := docsis.Aggregate(results, time.Now())
	failed := s.emitter.Publish(ctx, results, aggregate)
	duration := time.Since(start)

	var sampled int
	for _, r := range results {
		if r.OK() {
			sampled++
		}
	}

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.SinkFailures += uint64(failed)
	s.stats.LastCycleDuration = duration
	s.stats.LastCycle = aggregate.Timestamp
	s.lastResults = append(s.lastResults[:0], results...)
	s.lastAggregate = aggregate
	s.mu.Unlock()

	s.logger.Info("Scan completed",
		"duration", duration,
		"sampled", sampled,
		"frequencies", n,
		"total_mbps", aggregate.BitsPerSecond/1e6,
		"utilization_pct", aggregate.UtilizationPct,
		"emit_failures", failed)

	return results, nil
}

// measure runs ACQUIRE, TUNE, SAMPLE and RELEASE for one target. Per-target
// failures become null results; only cancellation is returned as an error.
func (s *Scheduler) measure(ctx context.Context, i int, t docsis.Target) (docsis.Result, error) {
	log := s.logger.With("frequency", t.Label, "modulation", t.Modulation.String())
	log.Debug("Tuning", "index", i+1, "of", len(s.cfg.Targets), "frequency_khz", t.FrequencyKHz)

	if err := s.acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return docsis.Result{}, ctx.Err()
		}
		s.count(func(st *Stats) { st.AcquireFailures++ })
		log.Error("Tuner unavailable, skipping frequency", "error", err)
		return docsis.Failed(t, docsis.StatusUnavailable, time.Now()), nil
	}
	defer func() {
		if err := s.session.Release(); err != nil {
			log.Warn("Failed to release tuner", "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return docsis.Result{}, err
	}
	if err := s.session.Tune(ctx, t); err != nil {
		if ctx.Err() != nil {
			return docsis.Result{}, ctx.Err()
		}
		if errors.Is(err, tuner.ErrTuneLock) {
			s.count(func(st *Stats) { st.LockFailures++ })
			log.Warn("No signal lock, skipping frequency", "error", err)
			return docsis.Failed(t, docsis.StatusNoLock, time.Now()), nil
		}
		s.count(func(st *Stats) { st.SampleFailures++ })
		log.Error("Tuning failed, skipping frequency", "error", err)
		return docsis.Failed(t, docsis.StatusError, time.Now()), nil
	}

	if err := ctx.Err(); err != nil {
		return docsis.Result{}, err
	}
	start := time.Now()
	bytes, err := s.session.Sample(ctx, s.cfg.Dwell)
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return docsis.Result{}, ctx.Err()
	}
	if err != nil {
		s.count(func(st *Stats) { st.SampleFailures++ })
		log.Error("Sampling failed, skipping frequency", "error", err)
		return docsis.Failed(t, docsis.StatusError, time.Now()), nil
	}

	r := docsis.Measure(docsis.Sample{
		Target:    t,
		Bytes:     bytes,
		Elapsed:   elapsed,
		Timestamp: time.Now(),
	})
	log.Debug("Frequency done",
		"elapsed", elapsed,
		"bytes", bytes,
		"packets", bytes/188,
		"mbps", r.BitsPerSecond/1e6,
		"utilization_pct", r.UtilizationPct)
	return r, nil
}

// acquire retries busy devices with exponential backoff (100ms, 200ms, 400ms...).
func (s *Scheduler) acquire(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= s.acquireAttempts; attempt++ {
		err = s.session.Acquire(ctx, s.cfg.Adapter, s.cfg.Tuner)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("Tuner acquired after retry", "attempt", attempt)
			}
			return nil
		}
		if !errors.Is(err, tuner.ErrDeviceAcquisition) {
			return err
		}
		if attempt == s.acquireAttempts {
			break
		}

		backoff := s.acquireBackoff << (attempt - 1)
		s.logger.Warn("Tuner busy, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("acquire adapter%d/tuner%d after %d attempts: %w", s.cfg.Adapter, s.cfg.Tuner, s.acquireAttempts, err)
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

// Stats returns a snapshot of the counters (thread-safe for Prometheus scrapes)
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// LastResults returns a copy of the most recent completed cycle.
func (s *Scheduler) LastResults() ([]docsis.Result, docsis.Result) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]docsis.Result(nil), s.lastResults...), s.lastAggregate
}
