package docsis

import (
	"math"
	"testing"
	"time"
)

func within(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= want*tolerance
}

func TestCapacity_Table(t *testing.T) {
	if Capacity(QAM256) <= Capacity(QAM64) {
		t.Fatalf("Expected 256-QAM capacity above 64-QAM, got %f <= %f", Capacity(QAM256), Capacity(QAM64))
	}

	// 6.952 MBd * 8 bit * 188/204
	if !within(Capacity(QAM256), 51.25e6, 0.01) {
		t.Errorf("256-QAM capacity %f not within 1%% of 51.25 Mbit/s", Capacity(QAM256))
	}
	if !within(Capacity(QAM256), 51e6, 0.01) {
		t.Errorf("256-QAM capacity %f not within 1%% of 51 Mbit/s", Capacity(QAM256))
	}
	if !within(Capacity(QAM64), 34e6, 0.01) {
		t.Errorf("64-QAM capacity %f not within 1%% of 34 Mbit/s", Capacity(QAM64))
	}
	if Capacity(Modulation(42)) != 0 {
		t.Errorf("Expected zero capacity for unknown modulation")
	}
}

func TestParseModulation(t *testing.T) {
	cases := map[string]Modulation{
		"256":     QAM256,
		"64":      QAM64,
		"qam256":  QAM256,
		"QAM_64":  QAM64,
		" 256 ":   QAM256,
		"QAM-256": QAM256,
	}
	for in, want := range cases {
		got, err := ParseModulation(in)
		if err != nil {
			t.Errorf("ParseModulation(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseModulation(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"", "128", "qam", "16"} {
		if _, err := ParseModulation(in); err == nil {
			t.Errorf("ParseModulation(%q) expected error", in)
		}
	}
}

func TestUtilization_ZeroBytes(t *testing.T) {
	for _, m := range []Modulation{QAM64, QAM256} {
		r := Measure(Sample{Target: Target{Label: "114", FrequencyKHz: 114000, Modulation: m}, Bytes: 0, Elapsed: 5 * time.Second})
		if r.UtilizationPct != 0 {
			t.Errorf("Expected 0%% utilization for %v with no bytes, got %f", m, r.UtilizationPct)
		}
		if r.BitsPerSecond != 0 {
			t.Errorf("Expected 0 bps for %v with no bytes, got %f", m, r.BitsPerSecond)
		}
	}
}

func TestUtilization_Linear(t *testing.T) {
	target := Target{Label: "602", FrequencyKHz: 602000, Modulation: QAM256}
	elapsed := 4 * time.Second

	base := Measure(Sample{Target: target, Bytes: 10_000_000, Elapsed: elapsed})
	double := Measure(Sample{Target: target, Bytes: 20_000_000, Elapsed: elapsed})

	if double.UtilizationPct != 2*base.UtilizationPct {
		t.Errorf("Expected doubling bytes to double utilization: %f vs %f", double.UtilizationPct, base.UtilizationPct)
	}
}

func TestUtilization_NotClamped(t *testing.T) {
	target := Target{Label: "114", FrequencyKHz: 114000, Modulation: QAM64}
	// 1.5x capacity for one second
	bytes := int64(Capacity(QAM64) * 1.5 / 8)

	r := Measure(Sample{Target: target, Bytes: bytes, Elapsed: time.Second})
	if r.UtilizationPct <= 100 {
		t.Errorf("Expected overshoot above 100%%, got %f", r.UtilizationPct)
	}
	if !within(r.UtilizationPct, 150, 0.001) {
		t.Errorf("Expected ~150%%, got %f", r.UtilizationPct)
	}
}

func TestBitsPerSecond(t *testing.T) {
	if got := BitsPerSecond(1000, 2*time.Second); got != 4000 {
		t.Errorf("Expected 4000 bps, got %f", got)
	}
	if got := BitsPerSecond(1000, 0); got != 0 {
		t.Errorf("Expected 0 bps for zero elapsed, got %f", got)
	}
}

func TestFailed_IsNull(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	r := Failed(Target{Label: "602", FrequencyKHz: 602000, Modulation: QAM256}, StatusNoLock, ts)

	if !math.IsNaN(r.UtilizationPct) || !math.IsNaN(r.BitsPerSecond) {
		t.Errorf("Expected NaN values for failed result, got %f / %f", r.UtilizationPct, r.BitsPerSecond)
	}
	if r.OK() {
		t.Error("Failed result must not report OK")
	}
	if r.Status.String() != "nolock" {
		t.Errorf("Expected nolock status, got %s", r.Status)
	}
}

func TestAggregate_ExcludesFailedTargets(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := Target{Label: "114", FrequencyKHz: 114000, Modulation: QAM256}
	b := Target{Label: "602", FrequencyKHz: 602000, Modulation: QAM256}

	ok := Measure(Sample{Target: a, Bytes: 6_400_000, Elapsed: 2 * time.Second, Timestamp: ts})
	failed := Failed(b, StatusNoLock, ts)

	agg := Aggregate([]Result{ok, failed}, ts)
	if !agg.Aggregate {
		t.Error("Expected aggregate flag")
	}
	if agg.UtilizationPct != ok.UtilizationPct {
		t.Errorf("Expected aggregate %f to equal the only successful target %f", agg.UtilizationPct, ok.UtilizationPct)
	}
	if agg.CapacityBitsPerSecond != Capacity(QAM256) {
		t.Errorf("Expected capacity of one channel, got %f", agg.CapacityBitsPerSecond)
	}
}

func TestAggregate_MixedModulation(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	r1 := Measure(Sample{Target: Target{Label: "114", FrequencyKHz: 114000, Modulation: QAM256}, Bytes: 1_000_000, Elapsed: time.Second})
	r2 := Measure(Sample{Target: Target{Label: "122", FrequencyKHz: 122000, Modulation: QAM64}, Bytes: 3_000_000, Elapsed: time.Second})

	agg := Aggregate([]Result{r1, r2}, ts)
	want := (r1.BitsPerSecond + r2.BitsPerSecond) / (Capacity(QAM256) + Capacity(QAM64)) * 100
	if !within(agg.UtilizationPct, want, 1e-9) {
		t.Errorf("Expected aggregate %f, got %f", want, agg.UtilizationPct)
	}
}

func TestAggregate_NoData(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	agg := Aggregate([]Result{Failed(Target{Label: "114", FrequencyKHz: 114000, Modulation: QAM256}, StatusNoLock, ts)}, ts)
	if agg.Status != StatusNoData {
		t.Errorf("Expected nodata status, got %s", agg.Status)
	}
	if !math.IsNaN(agg.UtilizationPct) {
		t.Errorf("Expected NaN aggregate, got %f", agg.UtilizationPct)
	}
}
