package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
)

const (
	DefaultPrefix   = "docsis"
	DefaultCarbon   = "localhost:2003"
	DefaultStep     = 60 * time.Second
	DefaultLockTime = time.Second
	DefaultListen   = ":9624"

	// MinDwell is the shortest sample window the scheduler will use.
	MinDwell = time.Second

	// A derived dwell leaves 1/headroomDivisor of the step unused.
	headroomDivisor = 20

	// Values below mhzThreshold are read as MHz, everything else as kHz.
	mhzThreshold = 10000
	minBandKHz   = 47000
	maxBandKHz   = 1218000
)

// ErrInvalid matches every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Error is a configuration validation failure.
type Error struct {
	Field  string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, value, format string, args ...any) *Error {
	return &Error{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// Raw holds settings as supplied on the command line or in the environment.
type Raw struct {
	Frequencies string
	Adapter     int
	Tuner       int
	Carbon      string
	Prefix      string
	Step        time.Duration
	LockTime    time.Duration
	Dwell       time.Duration
	Listen      string
	Debug       bool
}

// Config is the validated, immutable runtime configuration.
type Config struct {
	Targets  []docsis.Target
	Adapter  int
	Tuner    int
	Carbon   string
	Prefix   string
	Interval time.Duration
	LockTime time.Duration
	Dwell    time.Duration
	Listen   string
	Debug    bool

	// Warnings are non-fatal findings worth logging at startup.
	Warnings []string
}

// Resolve validates raw and derives defaults. It never touches hardware.
func Resolve(raw Raw) (*Config, error) {
	targets, err := ParseTargets(raw.Frequencies)
	if err != nil {
		return nil, err
	}

	if raw.Step <= 0 {
		return nil, invalid("step", raw.Step.String(), "interval must be positive")
	}
	if raw.Adapter < 0 {
		return nil, invalid("adapter", strconv.Itoa(raw.Adapter), "must not be negative")
	}
	if raw.Tuner < 0 {
		return nil, invalid("tuner", strconv.Itoa(raw.Tuner), "must not be negative")
	}

	lockTime := raw.LockTime
	if lockTime == 0 {
		lockTime = DefaultLockTime
	}
	if lockTime < 0 {
		return nil, invalid("locktime", raw.LockTime.String(), "must be positive")
	}
	if raw.Dwell < 0 {
		return nil, invalid("dwell", raw.Dwell.String(), "must not be negative")
	}

	prefix := raw.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, " \t\r\n") || strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return nil, invalid("prefix", prefix, "must be a dotted metric path without whitespace")
	}

	carbon := raw.Carbon
	if carbon == "" {
		carbon = DefaultCarbon
	}
	if host, port, err := net.SplitHostPort(carbon); err != nil || host == "" || port == "" {
		return nil, invalid("carbon", carbon, "expected host:port")
	}

	cfg := &Config{
		Targets:  targets,
		Adapter:  raw.Adapter,
		Tuner:    raw.Tuner,
		Carbon:   carbon,
		Prefix:   prefix,
		Interval: raw.Step,
		LockTime: lockTime,
		Dwell:    raw.Dwell,
		Listen:   raw.Listen,
		Debug:    raw.Debug,
	}

	n := time.Duration(len(targets))
	if cfg.Dwell == 0 {
		// leave part of each cycle for slow locks and emission
		usable := raw.Step - raw.Step/headroomDivisor
		cfg.Dwell = usable/n - lockTime
		if cfg.Dwell < MinDwell {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
				"a step of %s over %d frequencies leaves less than %s of sample time per frequency; cycles will overrun",
				raw.Step, len(targets), MinDwell))
			cfg.Dwell = MinDwell
		}
	} else if n*(cfg.Dwell+lockTime) >= raw.Step {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"%d frequencies at %s dwell plus %s lock time do not fit in a step of %s; cycles will overrun",
			len(targets), cfg.Dwell, lockTime, raw.Step))
	}

	return cfg, nil
}

// ParseTargets parses a comma separated list of "freq" or "freq:modulation"
// items. A missing modulation means 256-QAM.
func ParseTargets(s string) ([]docsis.Target, error) {
	if strings.TrimSpace(s) == "" {
		return nil, invalid("frequencies", "", "at least one frequency is required")
	}

	var targets []docsis.Target
	seen := make(map[int]string)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, invalid("frequencies", s, "empty item")
		}

		freq, mod, found := strings.Cut(item, ":")
		modulation := docsis.QAM256
		if found {
			m, err := docsis.ParseModulation(mod)
			if err != nil {
				return nil, invalid("frequencies", item, "%v", err)
			}
			modulation = m
		}

		value, err := strconv.Atoi(strings.TrimSpace(freq))
		if err != nil {
			return nil, invalid("frequencies", item, "frequency is not an integer")
		}
		if value <= 0 {
			return nil, invalid("frequencies", item, "frequency must be positive")
		}

		khz := value
		if value < mhzThreshold {
			khz = value * 1000
		}
		if khz < minBandKHz || khz > maxBandKHz {
			return nil, invalid("frequencies", item, "frequency outside the cable band (%d-%d kHz)", minBandKHz, maxBandKHz)
		}

		// canonical form, so "+114" and "0114" both land on docsis.114.*
		label := strconv.Itoa(value)
		if prev, dup := seen[khz]; dup {
			return nil, invalid("frequencies", item, "duplicates %s", prev)
		}
		seen[khz] = label

		targets = append(targets, docsis.Target{
			Label:        label,
			FrequencyKHz: khz,
			Modulation:   modulation,
		})
	}
	return targets, nil
}
