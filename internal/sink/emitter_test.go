package sink

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/R167/docsis_meter/internal/docsis"
)

type point struct {
	path  string
	value float64
}

func recorder(points *[]point, failOn string) Sink {
	return Func(func(ctx context.Context, path string, value float64, ts time.Time) error {
		*points = append(*points, point{path, value})
		if failOn != "" && strings.Contains(path, failOn) {
			return ErrDelivery
		}
		return nil
	})
}

func cycle() ([]docsis.Result, docsis.Result) {
	ts := time.Unix(1700000000, 0)
	ok := docsis.Measure(docsis.Sample{
		Target:    docsis.Target{Label: "114", FrequencyKHz: 114000, Modulation: docsis.QAM256},
		Bytes:     0,
		Elapsed:   time.Second,
		Timestamp: ts,
	})
	failed := docsis.Failed(docsis.Target{Label: "602", FrequencyKHz: 602000, Modulation: docsis.QAM256}, docsis.StatusNoLock, ts)
	results := []docsis.Result{ok, failed}
	return results, docsis.Aggregate(results, ts)
}

func TestEmitter_PublishPaths(t *testing.T) {
	var points []point
	e := NewEmitter(recorder(&points, ""), "docsis", testLogger())

	results, agg := cycle()
	if failed := e.Publish(context.Background(), results, agg); failed != 0 {
		t.Errorf("Expected no failures, got %d", failed)
	}

	want := []string{
		"docsis.114.utilization",
		"docsis.114.bitrate",
		"docsis.602.utilization",
		"docsis.602.bitrate",
		"docsis.total.utilization",
	}
	if len(points) != len(want) {
		t.Fatalf("Expected %d points (2 per target + aggregate), got %d", len(want), len(points))
	}
	for i, p := range want {
		if points[i].path != p {
			t.Errorf("Point %d: expected path %s, got %s", i, p, points[i].path)
		}
	}
}

func TestEmitter_FailedTargetIsNotZero(t *testing.T) {
	var points []point
	e := NewEmitter(recorder(&points, ""), "docsis", testLogger())

	results, agg := cycle()
	e.Publish(context.Background(), results, agg)

	// 114 locked and carried nothing: a true zero
	if points[0].value != 0 {
		t.Errorf("Expected true zero for 114, got %f", points[0].value)
	}
	// 602 failed to lock: a null, distinct from zero
	if !math.IsNaN(points[2].value) || !math.IsNaN(points[3].value) {
		t.Errorf("Expected NaN for failed target, got %f / %f", points[2].value, points[3].value)
	}
	// aggregate only reflects 114
	if points[4].value != 0 {
		t.Errorf("Expected aggregate 0, got %f", points[4].value)
	}
}

func TestEmitter_SinkFailureDoesNotAbort(t *testing.T) {
	var points []point
	e := NewEmitter(recorder(&points, "114"), "docsis", testLogger())

	results, agg := cycle()
	failed := e.Publish(context.Background(), results, agg)
	if failed != 2 {
		t.Errorf("Expected 2 failed emissions, got %d", failed)
	}
	if len(points) != 5 {
		t.Errorf("Expected all 5 emissions attempted, got %d", len(points))
	}
}

func TestPath(t *testing.T) {
	if got := Path("cable.docsis", "114", MetricBitrate); got != "cable.docsis.114.bitrate" {
		t.Errorf("Unexpected path %s", got)
	}
}

func TestFunc_Error(t *testing.T) {
	f := Func(func(ctx context.Context, path string, value float64, ts time.Time) error {
		return ErrDelivery
	})
	if err := f.Emit(context.Background(), "x", 1, time.Now()); !errors.Is(err, ErrDelivery) {
		t.Errorf("Expected ErrDelivery, got %v", err)
	}
}
