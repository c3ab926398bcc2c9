package docsis

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// SymbolRate is the EuroDOCSIS (DVB-C Annex A) downstream symbol rate in baud.
	SymbolRate = 6952000

	// PID is the MPEG-TS packet identifier carrying DOCSIS downstream data.
	PID = 8190

	// rsEfficiency is the Reed-Solomon (204,188) net/gross ratio.
	rsEfficiency = 188.0 / 204.0
)

// Modulation is a downstream QAM constellation.
type Modulation int

const (
	QAM64 Modulation = iota + 1
	QAM256
)

type profile struct {
	bitsPerSymbol float64
	efficiency    float64
}

// Net throughput after FEC. The 64-QAM efficiency is fixed so its capacity
// equals the nominal 34 Mbit/s downstream figure, two thirds of 256-QAM.
var profiles = map[Modulation]profile{
	QAM256: {bitsPerSymbol: 8, efficiency: rsEfficiency},
	QAM64:  {bitsPerSymbol: 6, efficiency: rsEfficiency * 8 / 9},
}

// ParseModulation accepts "64", "256", "qam64", "QAM_256" and similar spellings.
func ParseModulation(s string) (Modulation, error) {
	code := strings.ToLower(strings.TrimSpace(s))
	code = strings.TrimPrefix(code, "qam")
	code = strings.TrimPrefix(code, "_")
	code = strings.TrimPrefix(code, "-")
	switch code {
	case "64":
		return QAM64, nil
	case "256":
		return QAM256, nil
	}
	return 0, fmt.Errorf("unknown modulation %q", s)
}

// Valid reports whether m has an entry in the capacity table.
func (m Modulation) Valid() bool {
	_, ok := profiles[m]
	return ok
}

func (m Modulation) String() string {
	switch m {
	case QAM64:
		return "qam64"
	case QAM256:
		return "qam256"
	}
	return fmt.Sprintf("modulation(%d)", int(m))
}

// Capacity returns the theoretical net downstream rate in bits per second for m,
// or 0 when m is unknown.
func Capacity(m Modulation) float64 {
	p, ok := profiles[m]
	if !ok {
		return 0
	}
	return SymbolRate * p.bitsPerSymbol * p.efficiency
}

// Target is one channel to measure.
type Target struct {
	// Label is the frequency as configured; it names the channel in metric paths.
	Label        string
	FrequencyKHz int
	Modulation   Modulation
}

// FrequencyHz returns the centre frequency in Hz.
func (t Target) FrequencyHz() uint32 {
	return uint32(t.FrequencyKHz) * 1000
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%d kHz, %s)", t.Label, t.FrequencyKHz, t.Modulation)
}

// Sample is the raw byte count observed on one target.
type Sample struct {
	Target    Target
	Bytes     int64
	Elapsed   time.Duration
	Timestamp time.Time
}

// Status tags how a result came about.
type Status int

const (
	StatusOK Status = iota
	StatusNoLock
	StatusUnavailable
	StatusError
	StatusNoData
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoLock:
		return "nolock"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	case StatusNoData:
		return "nodata"
	}
	return "unknown"
}

// Result is the utilization derived from one sample, or the aggregate over a cycle.
// Values of failed results are NaN.
type Result struct {
	Target                Target
	BitsPerSecond         float64
	CapacityBitsPerSecond float64
	UtilizationPct        float64
	Aggregate             bool
	Status                Status
	Timestamp             time.Time
}

// OK reports whether the result carries a real measurement.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// BitsPerSecond converts a byte count over elapsed into a bit rate.
func BitsPerSecond(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds()
}

// UtilizationPct is bps relative to the capacity of m. It is not clamped.
func UtilizationPct(bps float64, m Modulation) float64 {
	c := Capacity(m)
	if c == 0 {
		return math.NaN()
	}
	return bps / c * 100
}

// Measure derives the utilization result for a sample.
func Measure(s Sample) Result {
	bps := BitsPerSecond(s.Bytes, s.Elapsed)
	return Result{
		Target:                s.Target,
		BitsPerSecond:         bps,
		CapacityBitsPerSecond: Capacity(s.Target.Modulation),
		UtilizationPct:        UtilizationPct(bps, s.Target.Modulation),
		Status:                StatusOK,
		Timestamp:             s.Timestamp,
	}
}

// Failed builds the null result for a target that produced no sample.
func Failed(t Target, status Status, ts time.Time) Result {
	return Result{
		Target:                t,
		BitsPerSecond:         math.NaN(),
		CapacityBitsPerSecond: Capacity(t.Modulation),
		UtilizationPct:        math.NaN(),
		Status:                status,
		Timestamp:             ts,
	}
}

// Aggregate combines per-target results. Only successful results contribute to
// both the measured rate and the capacity; with none, the aggregate is NaN.
func Aggregate(results []Result, ts time.Time) Result {
	agg := Result{Aggregate: true, Timestamp: ts, Status: StatusNoData}
	var n int
	for _, r := range results {
		if !r.OK() || r.Aggregate {
			continue
		}
		agg.BitsPerSecond += r.BitsPerSecond
		agg.CapacityBitsPerSecond += r.CapacityBitsPerSecond
		n++
	}
	if n == 0 || agg.CapacityBitsPerSecond == 0 {
		agg.BitsPerSecond = math.NaN()
		agg.UtilizationPct = math.NaN()
		return agg
	}
	agg.Status = StatusOK
	agg.UtilizationPct = agg.BitsPerSecond / agg.CapacityBitsPerSecond * 100
	return agg
}
